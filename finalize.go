package acme

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	legoacme "github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/certcrypto"
)

// CertificateFinalizer submits the CSR for a ready order and writes the issued
// chain for every host of the batch.
type CertificateFinalizer struct {
	authority    Authority
	store        *Storage
	clock        Clock
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

func NewCertificateFinalizer(authority Authority, store *Storage, clock Clock, pollInterval time.Duration, logger *slog.Logger) *CertificateFinalizer {
	return &CertificateFinalizer{
		authority:    authority,
		store:        store,
		clock:        clock,
		pollInterval: pollInterval,
		now:          time.Now,
		logger:       logger.With("component", "finalize"),
	}
}

// Finalize generates a fresh key pair, finalizes order with a CSR naming
// exactly hosts, polls until the chain can be downloaded and then writes one
// HostCertificate per host. All copies share the same key and chain. Nothing
// is written if finalization or download fails.
func (f *CertificateFinalizer) Finalize(ctx context.Context, order legoacme.ExtendedOrder, hosts []string) ([]HostCertificate, error) {
	if len(hosts) == 0 {
		return nil, ErrNoHostsRemaining
	}
	f.logger.Info("Generating certificates", "hosts", hosts)

	privateKey, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, fmt.Errorf("generate certificate key: %w", err)
	}
	csr, err := certcrypto.GenerateCSR(privateKey, hosts[0], hosts, false)
	if err != nil {
		return nil, fmt.Errorf("generate csr: %w", err)
	}

	finalized, err := f.authority.FinalizeOrder(order.Finalize, csr)
	if err != nil {
		f.logger.Error("Failed to finalize order", "order_url", order.Location, "error", err)
		return nil, protocolError("finalize order "+order.Location, err)
	}
	if finalized.Location == "" {
		finalized.Location = order.Location
	}

	chain, err := f.awaitCertificate(ctx, finalized)
	if err != nil {
		return nil, err
	}

	issuedAt := f.now().UTC()
	var expiresAt time.Time
	if leaf, err := certcrypto.ParsePEMCertificate(chain); err == nil {
		expiresAt = leaf.NotAfter.UTC()
	} else {
		f.logger.Warn("Could not parse certificate to get expiry", "error", err)
	}

	keyPEM := certcrypto.PEMEncode(privateKey)
	certs := make([]HostCertificate, 0, len(hosts))
	for _, host := range hosts {
		cert := HostCertificate{
			Host:             host,
			Domains:          append([]string(nil), hosts...),
			CertificateChain: chain,
			PrivateKey:       keyPEM,
			IssuedAt:         issuedAt,
			ExpiresAt:        expiresAt,
		}
		if err := f.store.WriteHostCertificate(cert); err != nil {
			f.logger.Error("Failed to write certificate", "host", host, "error", err)
			return nil, err
		}
		f.logger.Info("Certificate written to disk", "host", host, "expires_at", expiresAt)
		certs = append(certs, cert)
	}
	return certs, nil
}

// awaitCertificate polls on a fixed interval, without an attempt limit, until
// the order is valid and its chain downloads, or a hard error occurs.
func (f *CertificateFinalizer) awaitCertificate(ctx context.Context, order legoacme.ExtendedOrder) ([]byte, error) {
	schedule := backoff.NewConstantBackOff(f.pollInterval)
	for {
		switch order.Status {
		case legoacme.StatusInvalid:
			f.logger.Error("Order became invalid", "order_url", order.Location, "problem", order.Error)
			return nil, orderInvalid(order)
		case legoacme.StatusValid:
			if order.Certificate != "" {
				chain, err := f.authority.GetCertificate(order.Certificate)
				if err != nil {
					f.logger.Error("Error downloading cert", "url", order.Certificate, "error", err)
					return nil, protocolError("download certificate", err)
				}
				if len(chain) > 0 {
					f.logger.Info("Cert ready", "url", order.Certificate)
					return chain, nil
				}
			}
		}

		delay := schedule.NextBackOff()
		f.logger.Info("Cert not ready yet, waiting", "status", order.Status, "delay", delay)
		if err := f.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}

		refreshed, err := refreshOrder(f.authority, order)
		if err != nil {
			f.logger.Error("Failed to refresh order", "order_url", order.Location, "error", err)
			return nil, err
		}
		order = refreshed
	}
}
