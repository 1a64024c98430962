package acme

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/renameio/v2"
	"github.com/pelletier/go-toml/v2"
)

const (
	accountDir      = "account"
	ordersDir       = "orders"
	challengesDir   = "challenges"
	certificatesDir = "certificates"

	credentialsFile = "credentials.json"
	orderRefFile    = "meta.txt"
	challengeFile   = "meta.csv"
	certFile        = "cert.pem"
	keyFile         = "key.pem"
	certMetaFile    = "meta.toml"
)

// Storage owns the on-disk layout under one deployment root. It assumes a
// single writer; readers see each file either complete or absent.
type Storage struct {
	root string
}

func NewStorage(root string) *Storage {
	return &Storage{root: root}
}

// EnsureDirs creates the scoped directories. Safe to call repeatedly.
func (s *Storage) EnsureDirs() error {
	for _, dir := range []string{accountDir, ordersDir, challengesDir, certificatesDir} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return persistenceError("create "+dir+" directory", err)
		}
	}
	return nil
}

// ReadAccountCredentials returns nil, nil when no credential file exists.
func (s *Storage) ReadAccountCredentials() (*Credentials, error) {
	data, err := os.ReadFile(s.credentialsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("read account credentials", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, persistenceError("decode account credentials", err)
	}
	return &creds, nil
}

func (s *Storage) WriteAccountCredentials(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return persistenceError("encode account credentials", err)
	}
	if err := renameio.WriteFile(s.credentialsPath(), data, 0o600); err != nil {
		return persistenceError("write account credentials", err)
	}
	return nil
}

// HasChallengeRecord only checks for existence; the content is not validated.
func (s *Storage) HasChallengeRecord(host string) (bool, error) {
	if !validHostSegment(host) {
		return false, invalidHost(host)
	}
	return exists(s.challengePath(host))
}

// ReadChallengeRecord returns an error wrapping fs.ErrNotExist when the host
// has no record.
func (s *Storage) ReadChallengeRecord(host string) (ChallengeRecord, error) {
	if !validHostSegment(host) {
		return ChallengeRecord{}, fmt.Errorf("challenge record for %q: %w", host, fs.ErrNotExist)
	}
	data, err := os.ReadFile(s.challengePath(host))
	if err != nil {
		return ChallengeRecord{}, err
	}
	return parseChallengeRecord(host, data)
}

func (s *Storage) WriteChallengeRecord(record ChallengeRecord) error {
	if !validHostSegment(record.Host) {
		return invalidHost(record.Host)
	}
	dir := filepath.Join(s.root, challengesDir, record.Host)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return persistenceError("create challenge directory for "+record.Host, err)
	}
	if err := renameio.WriteFile(s.challengePath(record.Host), []byte(record.String()), 0o644); err != nil {
		return persistenceError("write challenge record for "+record.Host, err)
	}
	return nil
}

func (s *Storage) HasCertificate(host string) (bool, error) {
	if !validHostSegment(host) {
		return false, invalidHost(host)
	}
	return exists(filepath.Join(s.root, certificatesDir, host, certFile))
}

// WriteHostCertificate writes cert.pem, key.pem and meta.toml for one host.
func (s *Storage) WriteHostCertificate(cert HostCertificate) error {
	if !validHostSegment(cert.Host) {
		return invalidHost(cert.Host)
	}
	dir := filepath.Join(s.root, certificatesDir, cert.Host)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return persistenceError("create certificate directory for "+cert.Host, err)
	}

	meta, err := toml.Marshal(CertificateMeta{
		Host:      cert.Host,
		Domains:   cert.Domains,
		IssuedAt:  cert.IssuedAt.UTC(),
		ExpiresAt: cert.ExpiresAt.UTC(),
	})
	if err != nil {
		return persistenceError("encode certificate metadata for "+cert.Host, err)
	}

	if err := renameio.WriteFile(filepath.Join(dir, keyFile), cert.PrivateKey, 0o600); err != nil {
		return persistenceError("write private key for "+cert.Host, err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, certFile), cert.CertificateChain, 0o644); err != nil {
		return persistenceError("write certificate for "+cert.Host, err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, certMetaFile), meta, 0o644); err != nil {
		return persistenceError("write certificate metadata for "+cert.Host, err)
	}
	return nil
}

// ReadCertificateMeta returns nil, nil when the host has no metadata file.
func (s *Storage) ReadCertificateMeta(host string) (*CertificateMeta, error) {
	if !validHostSegment(host) {
		return nil, invalidHost(host)
	}
	data, err := os.ReadFile(filepath.Join(s.root, certificatesDir, host, certMetaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("read certificate metadata for "+host, err)
	}
	var meta CertificateMeta
	if err := toml.Unmarshal(data, &meta); err != nil {
		return nil, persistenceError("decode certificate metadata for "+host, err)
	}
	return &meta, nil
}

// WriteOrderReference overwrites the last submitted order's URL.
func (s *Storage) WriteOrderReference(orderURL string) error {
	if err := renameio.WriteFile(filepath.Join(s.root, ordersDir, orderRefFile), []byte(orderURL), 0o644); err != nil {
		return persistenceError("write order reference", err)
	}
	return nil
}

func (s *Storage) credentialsPath() string {
	return filepath.Join(s.root, accountDir, credentialsFile)
}

func (s *Storage) challengePath(host string) string {
	return filepath.Join(s.root, challengesDir, host, challengeFile)
}

// validHostSegment rejects names that would escape their directory.
func validHostSegment(host string) bool {
	return host != "" && host != "." && !strings.Contains(host, "..") && !strings.ContainsAny(host, `/\`)
}

func invalidHost(host string) error {
	return fmt.Errorf("%w: invalid host %q", ErrPersistence, host)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, persistenceError("stat "+path, err)
	}
}
