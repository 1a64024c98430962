package acme

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
)

// Outcome names how a run ended.
type Outcome string

const (
	OutcomeNothingToDo      Outcome = "nothing_to_do"
	OutcomeNoHostsRemaining Outcome = "no_hosts_remaining"
	OutcomeNoChallenges     Outcome = "no_challenges"
	OutcomeNotReady         Outcome = "not_ready"
	OutcomeIssued           Outcome = "issued"
	OutcomeFailed           Outcome = "failed"
)

// Report summarizes one run. Values produced by the run are discarded with it;
// only what was written to disk survives.
type Report struct {
	Outcome      Outcome
	OrderURL     string
	Hosts        []string
	Challenges   []ChallengeRecord
	Certificates []HostCertificate
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock replaces the clock used by both poll loops.
func WithClock(clock Clock) Option {
	return func(d *Driver) { d.clock = clock }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithHistory records every written certificate copy.
func WithHistory(w Writer) Option {
	return func(d *Driver) { d.history = w }
}

// Driver sequences one issuance run: account, order, challenges, readiness,
// finalization. It holds no state between runs.
type Driver struct {
	config    *Config
	store     *Storage
	connector Connector
	clock     Clock
	metrics   *Metrics
	history   Writer
	logger    *slog.Logger
}

// NewDriver creates a new driver instance.
// It requires the configuration, the storage, an ACME connector and a logger.
func NewDriver(cfg *Config, store *Storage, connector Connector, logger *slog.Logger, opts ...Option) *Driver {
	if cfg == nil || store == nil || connector == nil || logger == nil {
		panic("NewDriver: received nil config, store, connector, or logger")
	}
	d := &Driver{
		config:    cfg,
		store:     store,
		connector: connector,
		clock:     SystemClock{},
		history:   NopWriter{},
		logger:    logger.With("service", "http01"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the lifecycle once in the background. Failures are only logged.
func (d *Driver) Start(ctx context.Context) <-chan Report {
	done := make(chan Report, 1)
	go func() {
		d.logger.Info("Background service started")
		report, _ := d.Run(ctx)
		done <- report
		close(done)
	}()
	return done
}

// Run executes one issuance run. Short-circuit outcomes return a nil error;
// failures are logged, counted and returned with OutcomeFailed.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	report, err := d.run(ctx)
	if err != nil {
		report.Outcome = OutcomeFailed
		d.logger.Error("Issuance run failed", "error", err)
	}
	d.metrics.observeRun(report.Outcome)
	return report, err
}

func (d *Driver) run(ctx context.Context) (Report, error) {
	cfg := d.config
	var report Report

	if err := d.store.EnsureDirs(); err != nil {
		return report, err
	}

	registry, err := LoadRegistry(d.store, cfg.Hosts)
	if err != nil {
		return report, err
	}
	excluded := registry.Excluded()
	for _, host := range excluded {
		d.logger.Info("Already found host in the list of challenges", "host", host, "state", registry.State(host))
	}
	if len(registry.Remaining()) == 0 {
		d.logger.Info("All hosts have a challenge file")
		report.Outcome = OutcomeNothingToDo
		return report, nil
	}

	// --- Account ---
	authority, _, err := NewAccountManager(d.store, d.connector, d.logger).EnsureAccount(cfg.Contact, cfg.DirectoryURL)
	if err != nil {
		return report, err
	}

	// --- Order ---
	order, hosts, err := NewOrderOrchestrator(authority, d.logger).CreateOrder(cfg.Hosts, excluded)
	if errors.Is(err, ErrNoHostsRemaining) {
		d.logger.Info("No order to check")
		report.Outcome = OutcomeNoHostsRemaining
		return report, nil
	}
	if err != nil {
		return report, err
	}
	report.OrderURL = order.Location
	report.Hosts = hosts

	// --- Challenges ---
	coordinator := NewChallengeCoordinator(authority, d.store, cfg.ProcessPendingAuthorizations, d.logger)
	records, err := coordinator.DeriveChallenges(order, hosts)
	if err != nil {
		return report, err
	}
	report.Challenges = records
	if len(records) == 0 {
		d.logger.Info("No challenges to check", "order_url", order.Location)
		report.Outcome = OutcomeNoChallenges
		return report, nil
	}
	for _, record := range records {
		registry.MarkChallengePending(record.Host)
	}

	if err := d.store.WriteOrderReference(order.Location); err != nil {
		return report, err
	}

	// --- Readiness ---
	poller := NewReadinessPoller(authority, d.clock, cfg.PollUnit.Duration, cfg.ReadyMaxAttempts, d.logger)
	if err := poller.SignalReady(records); err != nil {
		return report, err
	}
	order, err = poller.AwaitReady(ctx, order)
	if errors.Is(err, ErrOrderNotReady) {
		d.logger.Info("Order did not become ready, no certificate issued", "order_url", order.Location)
		report.Outcome = OutcomeNotReady
		return report, nil
	}
	if err != nil {
		return report, err
	}

	// --- Finalize ---
	interval := cfg.PollUnit.Duration * time.Duration(cfg.CertificatePollInterval)
	finalizer := NewCertificateFinalizer(authority, d.store, d.clock, interval, d.logger)
	certs, err := finalizer.Finalize(ctx, order, hosts)
	if err != nil {
		return report, err
	}
	report.Certificates = certs
	report.Outcome = OutcomeIssued

	for _, cert := range certs {
		registry.MarkIssued(cert.Host)
	}
	d.metrics.observeCertificates(len(certs))
	d.recordHistory(order.Location, certs)

	d.logger.Info("Successfully issued certificates", "hosts", hosts, "order_url", order.Location)
	return report, nil
}

// recordHistory is best effort; a failing history store never fails the run.
func (d *Driver) recordHistory(orderURL string, certs []HostCertificate) {
	for _, cert := range certs {
		domains, _ := json.Marshal(cert.Domains)
		err := d.history.AddCert(Cert{
			Identifier:       cert.Host,
			Domains:          string(domains),
			CertificateChain: string(cert.CertificateChain),
			OrderURL:         orderURL,
			IssuedAt:         cert.IssuedAt,
			ExpiresAt:        cert.ExpiresAt,
		})
		if err != nil {
			d.logger.Warn("Failed to record certificate history", "host", cert.Host, "error", err)
		}
	}
}
