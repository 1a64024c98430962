package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	legoacme "github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/stretchr/testify/require"
)

const (
	testDirectory = "https://ca.test/directory"
	testOrderURL  = "https://ca.test/order/1"
	testFinalize  = "https://ca.test/order/1/finalize"
	testCertURL   = "https://ca.test/cert/1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock records every requested sleep without waiting.
type fakeClock struct {
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	return nil
}

// fakeAuthority is an in-memory authority. GetOrder walks statuses, repeating
// the last one once exhausted.
type fakeAuthority struct {
	orderStatus    string
	authorizations []legoacme.Authorization
	statuses       []string
	certificate    []byte

	newOrderErr error
	acceptErr   error
	finalizeErr error
	certErr     error

	newOrders     [][]string
	getOrderCalls int
	accepted      []string
	csr           []byte
	certFetches   int
}

func (a *fakeAuthority) NewOrder(hosts []string) (legoacme.ExtendedOrder, error) {
	a.newOrders = append(a.newOrders, append([]string(nil), hosts...))
	if a.newOrderErr != nil {
		return legoacme.ExtendedOrder{}, a.newOrderErr
	}
	status := a.orderStatus
	if status == "" {
		status = legoacme.StatusPending
	}
	urls := make([]string, len(a.authorizations))
	for i := range a.authorizations {
		urls[i] = authzURL(i)
	}
	return a.order(status, urls), nil
}

func (a *fakeAuthority) GetOrder(orderURL string) (legoacme.ExtendedOrder, error) {
	status := legoacme.StatusPending
	if len(a.statuses) > 0 {
		idx := a.getOrderCalls
		if idx >= len(a.statuses) {
			idx = len(a.statuses) - 1
		}
		status = a.statuses[idx]
	}
	a.getOrderCalls++
	o := a.order(status, nil)
	o.Location = "" // the authority only returns the location on creation
	return o, nil
}

func (a *fakeAuthority) GetAuthorization(url string) (legoacme.Authorization, error) {
	for i, authz := range a.authorizations {
		if authzURL(i) == url {
			return authz, nil
		}
	}
	return legoacme.Authorization{}, errors.New("no such authorization")
}

func (a *fakeAuthority) AcceptChallenge(url string) error {
	a.accepted = append(a.accepted, url)
	return a.acceptErr
}

func (a *fakeAuthority) FinalizeOrder(finalizeURL string, csr []byte) (legoacme.ExtendedOrder, error) {
	a.csr = csr
	if a.finalizeErr != nil {
		return legoacme.ExtendedOrder{}, a.finalizeErr
	}
	return a.order(legoacme.StatusProcessing, nil), nil
}

func (a *fakeAuthority) GetCertificate(url string) ([]byte, error) {
	a.certFetches++
	return a.certificate, a.certErr
}

func (a *fakeAuthority) KeyAuthorization(token string) (string, error) {
	return token + ".thumbprint", nil
}

func (a *fakeAuthority) order(status string, authzs []string) legoacme.ExtendedOrder {
	o := legoacme.ExtendedOrder{
		Location: testOrderURL,
		Order: legoacme.Order{
			Status:         status,
			Authorizations: authzs,
			Finalize:       testFinalize,
		},
	}
	if status == legoacme.StatusValid {
		o.Certificate = testCertURL
	}
	return o
}

func authzURL(i int) string {
	return "https://ca.test/authz/" + string(rune('a'+i))
}

func authorization(host, status string) legoacme.Authorization {
	return legoacme.Authorization{
		Status:     status,
		Identifier: legoacme.Identifier{Type: "dns", Value: host},
		Challenges: []legoacme.Challenge{
			{Type: "dns-01", URL: "https://ca.test/chal/dns/" + host, Token: "dns-" + host},
			{Type: string(challenge.HTTP01), URL: "https://ca.test/chal/http/" + host, Token: "tok-" + host},
		},
	}
}

// fakeConnector hands out one authority and counts registrations.
type fakeConnector struct {
	authority   *fakeAuthority
	registerErr error
	accountURL  string

	registers []string
	connects  []string
}

func (c *fakeConnector) Register(directoryURL string, key crypto.Signer, contact string) (string, error) {
	c.registers = append(c.registers, contact)
	if c.registerErr != nil {
		return "", c.registerErr
	}
	if c.accountURL == "" {
		return "https://ca.test/acct/1", nil
	}
	return c.accountURL, nil
}

func (c *fakeConnector) Connect(directoryURL, accountURL string, key crypto.Signer) (Authority, error) {
	c.connects = append(c.connects, accountURL)
	return c.authority, nil
}

// selfSignedPEM returns a PEM certificate for hosts expiring at notAfter.
func selfSignedPEM(t *testing.T, hosts []string, notAfter time.Time) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: hosts[0]},
		DNSNames:     hosts,
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func testConfig(root string, hosts ...string) *Config {
	cfg := DefaultConfig()
	cfg.Hosts = hosts
	cfg.Contact = "admin@example.com"
	cfg.DirectoryURL = testDirectory
	cfg.DataDir = root
	return &cfg
}
