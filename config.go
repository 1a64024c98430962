package acme

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-acme/lego/v4/lego"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultDataDir                 = "./data"
	DefaultHTTPAddr                = ":80"
	DefaultReadyMaxAttempts        = 10
	DefaultCertificatePollInterval = 5
)

// DefaultDirectoryURL points at the staging environment. Production use must
// override it.
var DefaultDirectoryURL = lego.LEDirectoryStaging

// Duration lets TOML and environment values be written as "1s", "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds the issuance configuration.
type Config struct {
	Hosts        []string `toml:"hosts" env:"HTTP01_HOSTS" envSeparator:"," comment:"Hostnames to certify"`
	Contact      string   `toml:"contact" env:"HTTP01_CONTACT" comment:"ACME account email"`
	DirectoryURL string   `toml:"directory_url" env:"HTTP01_DIRECTORY_URL" comment:"ACME directory URL (staging by default)"`
	DataDir      string   `toml:"data_dir" env:"HTTP01_DATA_DIR" comment:"Root of account, orders, challenges and certificates"`
	HTTPAddr     string   `toml:"http_addr" env:"HTTP01_HTTP_ADDR" comment:"Plaintext listener serving challenges and redirects"`
	MetricsAddr  string   `toml:"metrics_addr" env:"HTTP01_METRICS_ADDR" comment:"Prometheus listener, empty disables"`
	HistoryDB    string   `toml:"history_db" env:"HTTP01_HISTORY_DB" comment:"SQLite issuance history, empty disables"`
	UserAgent    string   `toml:"user_agent" env:"HTTP01_USER_AGENT" comment:"User agent sent to the authority"`

	PollUnit                     Duration `toml:"poll_unit" env:"HTTP01_POLL_UNIT" comment:"Time unit for readiness backoff and certificate polling"`
	ReadyMaxAttempts             int      `toml:"ready_max_attempts" env:"HTTP01_READY_MAX_ATTEMPTS" comment:"Readiness polls before giving up"`
	CertificatePollInterval      int      `toml:"certificate_poll_interval" env:"HTTP01_CERTIFICATE_POLL_INTERVAL" comment:"Certificate download poll interval, in poll units"`
	ProcessPendingAuthorizations bool     `toml:"process_pending_authorizations" env:"HTTP01_PROCESS_PENDING_AUTHORIZATIONS" comment:"Publish challenges for pending authorizations instead of valid ones"`
}

// DefaultConfig returns a Config with every optional field populated.
func DefaultConfig() Config {
	return Config{
		DirectoryURL:            DefaultDirectoryURL,
		DataDir:                 DefaultDataDir,
		HTTPAddr:                DefaultHTTPAddr,
		UserAgent:               "restinpieces-http01",
		PollUnit:                Duration{time.Second},
		ReadyMaxAttempts:        DefaultReadyMaxAttempts,
		CertificatePollInterval: DefaultCertificatePollInterval,
	}
}

// LoadConfig decodes the TOML file at path over the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %w", ErrInvalidConfig, path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes the host list and checks required fields.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	hosts, err := normalizeHosts(c.Hosts)
	if err != nil {
		return err
	}
	c.Hosts = hosts

	c.Contact = strings.TrimSpace(strings.TrimPrefix(c.Contact, "mailto:"))
	if c.Contact == "" {
		return errors.New("config: contact cannot be empty")
	}
	if !strings.Contains(c.Contact, "@") {
		return fmt.Errorf("config: contact %q is not an email address", c.Contact)
	}
	if c.DirectoryURL == "" {
		return errors.New("config: directory_url cannot be empty")
	}
	if c.DataDir == "" {
		return errors.New("config: data_dir cannot be empty")
	}
	if c.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			return fmt.Errorf("config: invalid http_addr %q: %w", c.HTTPAddr, err)
		}
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return fmt.Errorf("config: invalid metrics_addr %q: %w", c.MetricsAddr, err)
		}
	}
	if c.PollUnit.Duration <= 0 {
		return errors.New("config: poll_unit must be positive")
	}
	if c.ReadyMaxAttempts <= 0 {
		return errors.New("config: ready_max_attempts must be positive")
	}
	if c.CertificatePollInterval <= 0 {
		return errors.New("config: certificate_poll_interval must be positive")
	}
	return nil
}

// normalizeHosts trims, lowercases and de-duplicates, keeping first-seen order.
func normalizeHosts(hosts []string) ([]string, error) {
	if len(hosts) == 0 {
		return nil, errors.New("config: hosts cannot be empty")
	}
	seen := make(map[string]struct{}, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			return nil, errors.New("config: host entries cannot be empty")
		}
		if strings.ContainsAny(h, "/\\;: ") || strings.HasPrefix(h, ".") {
			return nil, fmt.Errorf("config: invalid host %q", h)
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out, nil
}
