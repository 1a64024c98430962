package acme

import (
	"fmt"
	"strings"
	"time"
)

// Credentials is the locally held half of an ACME account. It is what
// account/credentials.json contains.
type Credentials struct {
	Contact      string `json:"contact"`
	DirectoryURL string `json:"directory_url"`
	AccountURL   string `json:"account_url"`
	PrivateKey   string `json:"private_key"` // PEM format
}

// ChallengeRecord is the persisted HTTP-01 material for one host. Its presence
// on disk marks the host as processed.
type ChallengeRecord struct {
	Host  string
	URL   string
	Proof string
	Token string
}

// String renders the record in the meta.csv format: url;proof;token.
func (r ChallengeRecord) String() string {
	return r.URL + ";" + r.Proof + ";" + r.Token
}

func parseChallengeRecord(host string, data []byte) (ChallengeRecord, error) {
	fields := strings.Split(strings.TrimSpace(string(data)), ";")
	if len(fields) != 3 {
		return ChallengeRecord{}, fmt.Errorf("challenge record for %q: expected 3 fields, got %d", host, len(fields))
	}
	return ChallengeRecord{
		Host:  host,
		URL:   fields[0],
		Proof: fields[1],
		Token: fields[2],
	}, nil
}

// HostCertificate is one host's copy of an issued batch. All hosts of the same
// order carry identical chain and key bytes.
type HostCertificate struct {
	Host             string
	Domains          []string
	CertificateChain []byte // PEM
	PrivateKey       []byte // PEM
	IssuedAt         time.Time
	ExpiresAt        time.Time
}

// CertificateMeta is the TOML document stored next to cert.pem.
type CertificateMeta struct {
	Host      string    `toml:"host"`
	Domains   []string  `toml:"domains"`
	IssuedAt  time.Time `toml:"issued_at"`
	ExpiresAt time.Time `toml:"expires_at"`
}

// Cert represents a certificate history record
type Cert struct {
	ID               int64     // Primary Key (Populated on insert)
	Identifier       string    // Host the copy was written for
	Domains          string    // JSON array of all domains covered
	CertificateChain string    // PEM encoded certificate chain
	OrderURL         string    // Order the batch was issued from
	IssuedAt         time.Time // UTC timestamp of issuance
	ExpiresAt        time.Time // UTC timestamp of expiry
}

func TimeFormat(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
