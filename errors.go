package acme

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence reports a filesystem failure. Fatal to the run.
	ErrPersistence = errors.New("persistence error")
	// ErrProtocol reports a request the authority rejected. Fatal to the run.
	ErrProtocol = errors.New("protocol error")
	// ErrAuthorization reports an authorization in an unexpected status.
	ErrAuthorization = errors.New("authorization error")
	// ErrNoHostsRemaining short-circuits a run when every host is excluded.
	ErrNoHostsRemaining = errors.New("no hosts remaining")
	// ErrOrderNotReady is returned when readiness polling exhausts its budget.
	ErrOrderNotReady = errors.New("order not ready")
	ErrInvalidConfig = errors.New("invalid config")
)

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

func protocolError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProtocol, op, err)
}
