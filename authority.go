package acme

import (
	"crypto"
	"fmt"
	"net/http"
	"time"

	legoacme "github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/acme/api"
)

// Authority is an authenticated session against an ACME directory. It is the
// only surface the lifecycle stages use to reach the certificate authority.
type Authority interface {
	NewOrder(hosts []string) (legoacme.ExtendedOrder, error)
	GetOrder(orderURL string) (legoacme.ExtendedOrder, error)
	GetAuthorization(authzURL string) (legoacme.Authorization, error)
	// AcceptChallenge tells the authority the response has been published.
	AcceptChallenge(challengeURL string) error
	FinalizeOrder(finalizeURL string, csr []byte) (legoacme.ExtendedOrder, error)
	GetCertificate(certURL string) ([]byte, error)
	// KeyAuthorization binds the account key thumbprint to a challenge token.
	KeyAuthorization(token string) (string, error)
}

// Connector opens Authority sessions and registers new accounts.
type Connector interface {
	Register(directoryURL string, key crypto.Signer, contact string) (accountURL string, err error)
	Connect(directoryURL, accountURL string, key crypto.Signer) (Authority, error)
}

// LegoConnector talks to the authority through lego's low-level API client.
type LegoConnector struct {
	HTTPClient *http.Client
	UserAgent  string
}

func NewLegoConnector(userAgent string) *LegoConnector {
	return &LegoConnector{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		UserAgent:  userAgent,
	}
}

func (c *LegoConnector) Register(directoryURL string, key crypto.Signer, contact string) (string, error) {
	core, err := api.New(c.HTTPClient, c.UserAgent, directoryURL, "", key)
	if err != nil {
		return "", fmt.Errorf("open directory %s: %w", directoryURL, err)
	}
	account, err := core.Accounts.New(legoacme.Account{
		Contact:              []string{"mailto:" + contact},
		TermsOfServiceAgreed: true,
	})
	if err != nil {
		return "", err
	}
	return account.Location, nil
}

func (c *LegoConnector) Connect(directoryURL, accountURL string, key crypto.Signer) (Authority, error) {
	core, err := api.New(c.HTTPClient, c.UserAgent, directoryURL, accountURL, key)
	if err != nil {
		return nil, fmt.Errorf("open directory %s: %w", directoryURL, err)
	}
	return &legoAuthority{core: core}, nil
}

type legoAuthority struct {
	core *api.Core
}

func (a *legoAuthority) NewOrder(hosts []string) (legoacme.ExtendedOrder, error) {
	return a.core.Orders.New(hosts)
}

func (a *legoAuthority) GetOrder(orderURL string) (legoacme.ExtendedOrder, error) {
	return a.core.Orders.Get(orderURL)
}

func (a *legoAuthority) GetAuthorization(authzURL string) (legoacme.Authorization, error) {
	return a.core.Authorizations.Get(authzURL)
}

func (a *legoAuthority) AcceptChallenge(challengeURL string) error {
	_, err := a.core.Challenges.New(challengeURL)
	return err
}

func (a *legoAuthority) FinalizeOrder(finalizeURL string, csr []byte) (legoacme.ExtendedOrder, error) {
	return a.core.Orders.UpdateForCSR(finalizeURL, csr)
}

func (a *legoAuthority) GetCertificate(certURL string) ([]byte, error) {
	chain, _, err := a.core.Certificates.Get(certURL, true)
	return chain, err
}

func (a *legoAuthority) KeyAuthorization(token string) (string, error) {
	return a.core.GetKeyAuthorization(token)
}
