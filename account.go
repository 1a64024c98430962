package acme

import (
	"crypto"
	"fmt"
	"log/slog"

	"github.com/go-acme/lego/v4/certcrypto"
)

// AccountManager keeps one reusable ACME account per deployment.
type AccountManager struct {
	store     *Storage
	connector Connector
	logger    *slog.Logger
}

func NewAccountManager(store *Storage, connector Connector, logger *slog.Logger) *AccountManager {
	return &AccountManager{
		store:     store,
		connector: connector,
		logger:    logger.With("component", "account"),
	}
}

// EnsureAccount rehydrates the persisted account when a credential file
// exists, without any registration call. Otherwise it registers a new account
// for contact, persists its credentials and returns the session.
func (m *AccountManager) EnsureAccount(contact, directoryURL string) (Authority, *Credentials, error) {
	creds, err := m.store.ReadAccountCredentials()
	if err != nil {
		m.logger.Error("Failed to read account credentials", "error", err)
		return nil, nil, err
	}
	if creds != nil {
		return m.rehydrate(creds, directoryURL)
	}

	// --- Register new account ---
	privateKey, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, nil, fmt.Errorf("generate account key: %w", err)
	}
	signer := privateKey.(crypto.Signer)

	accountURL, err := m.connector.Register(directoryURL, signer, contact)
	if err != nil {
		m.logger.Error("ACME account registration failed", "contact", contact, "error", err)
		return nil, nil, protocolError("register account for "+contact, err)
	}

	creds = &Credentials{
		Contact:      contact,
		DirectoryURL: directoryURL,
		AccountURL:   accountURL,
		PrivateKey:   string(certcrypto.PEMEncode(privateKey)),
	}
	if err := m.store.WriteAccountCredentials(*creds); err != nil {
		m.logger.Error("Failed to persist account credentials", "error", err)
		return nil, nil, err
	}
	m.logger.Info("ACME account registered", "contact", contact, "account_url", accountURL)

	session, err := m.connector.Connect(directoryURL, accountURL, signer)
	if err != nil {
		m.logger.Error("Failed to open ACME session", "directory_url", directoryURL, "error", err)
		return nil, nil, protocolError("open session", err)
	}
	return session, creds, nil
}

func (m *AccountManager) rehydrate(creds *Credentials, directoryURL string) (Authority, *Credentials, error) {
	privateKey, err := certcrypto.ParsePEMPrivateKey([]byte(creds.PrivateKey))
	if err != nil {
		m.logger.Error("Failed to parse stored account private key", "error", err)
		return nil, nil, persistenceError("parse account private key", err)
	}
	signer, ok := privateKey.(crypto.Signer)
	if !ok {
		return nil, nil, persistenceError("parse account private key", fmt.Errorf("unsupported key type %T", privateKey))
	}

	// The account lives at the directory it was registered with.
	dir := creds.DirectoryURL
	if dir == "" {
		dir = directoryURL
	} else if dir != directoryURL {
		m.logger.Warn("Stored account belongs to a different directory, using stored one",
			"stored", dir, "configured", directoryURL)
	}

	session, err := m.connector.Connect(dir, creds.AccountURL, signer)
	if err != nil {
		m.logger.Error("Failed to open ACME session", "directory_url", dir, "error", err)
		return nil, nil, protocolError("open session", err)
	}
	m.logger.Info("Fetched existing account", "account_url", creds.AccountURL)
	return session, creds, nil
}
