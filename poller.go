package acme

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	legoacme "github.com/go-acme/lego/v4/acme"
)

// Clock performs the waits between polls. Tests substitute a recording fake.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock sleeps on a real timer and returns early on ctx cancellation.
type SystemClock struct{}

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// readinessBackOff yields unit, 2*unit, 4*unit, ... for attempts delays, then
// backoff.Stop.
func readinessBackOff(unit time.Duration, attempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = unit
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(attempts))
}

// ReadinessPoller signals published challenges and waits for the order to
// become ready for finalization.
type ReadinessPoller struct {
	authority   Authority
	clock       Clock
	unit        time.Duration
	maxAttempts int
	logger      *slog.Logger
}

func NewReadinessPoller(authority Authority, clock Clock, unit time.Duration, maxAttempts int, logger *slog.Logger) *ReadinessPoller {
	return &ReadinessPoller{
		authority:   authority,
		clock:       clock,
		unit:        unit,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "readiness"),
	}
}

// SignalReady tells the authority, one record at a time, that the response
// for each challenge is being served.
func (p *ReadinessPoller) SignalReady(records []ChallengeRecord) error {
	for _, record := range records {
		p.logger.Info("Setting challenge ready", "host", record.Host)
		if err := p.authority.AcceptChallenge(record.URL); err != nil {
			p.logger.Error("Failed to set challenge ready", "host", record.Host, "error", err)
			return protocolError("set challenge ready for "+record.Host, err)
		}
	}
	return nil
}

// AwaitReady refreshes order until its status is Ready. Before refresh n it
// waits 2^(n-1) units. After maxAttempts refreshes it returns
// ErrOrderNotReady. An Invalid order fails immediately with ErrProtocol.
func (p *ReadinessPoller) AwaitReady(ctx context.Context, order legoacme.ExtendedOrder) (legoacme.ExtendedOrder, error) {
	if order.Status == legoacme.StatusReady {
		return order, nil
	}

	schedule := readinessBackOff(p.unit, p.maxAttempts)
	for attempt := 1; ; attempt++ {
		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			p.logger.Info("Max retries reached", "attempts", attempt-1, "status", order.Status)
			return order, ErrOrderNotReady
		}

		p.logger.Info("Waiting for order to be ready", "attempt", attempt, "delay", delay)
		if err := p.clock.Sleep(ctx, delay); err != nil {
			return order, err
		}

		refreshed, err := refreshOrder(p.authority, order)
		if err != nil {
			p.logger.Error("Failed to refresh order", "order_url", order.Location, "error", err)
			return order, err
		}
		order = refreshed

		switch order.Status {
		case legoacme.StatusReady:
			p.logger.Info("Order ready", "order_url", order.Location, "attempts", attempt)
			return order, nil
		case legoacme.StatusInvalid:
			p.logger.Error("Order became invalid", "order_url", order.Location, "problem", order.Error)
			return order, orderInvalid(order)
		}
	}
}

// refreshOrder re-reads order and keeps its location, which the authority
// only returns on creation.
func refreshOrder(authority Authority, order legoacme.ExtendedOrder) (legoacme.ExtendedOrder, error) {
	refreshed, err := authority.GetOrder(order.Location)
	if err != nil {
		return order, protocolError("refresh order "+order.Location, err)
	}
	if refreshed.Location == "" {
		refreshed.Location = order.Location
	}
	return refreshed, nil
}

func orderInvalid(order legoacme.ExtendedOrder) error {
	if order.Error != nil {
		return protocolError("order "+order.Location, order.Error)
	}
	return fmt.Errorf("%w: order %s is invalid", ErrProtocol, order.Location)
}
