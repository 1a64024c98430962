package acme

import (
	"log/slog"

	legoacme "github.com/go-acme/lego/v4/acme"
)

// OrderOrchestrator submits one order covering every host not yet excluded.
type OrderOrchestrator struct {
	authority Authority
	logger    *slog.Logger
}

func NewOrderOrchestrator(authority Authority, logger *slog.Logger) *OrderOrchestrator {
	return &OrderOrchestrator{
		authority: authority,
		logger:    logger.With("component", "order"),
	}
}

// CreateOrder submits hosts minus excludedHosts as a single batch. When that
// difference is empty it returns ErrNoHostsRemaining without calling the
// authority.
func (o *OrderOrchestrator) CreateOrder(hosts, excludedHosts []string) (legoacme.ExtendedOrder, []string, error) {
	identifiers := difference(hosts, excludedHosts)
	if len(identifiers) == 0 {
		return legoacme.ExtendedOrder{}, nil, ErrNoHostsRemaining
	}

	// TODO: split into batches once hosts exceed the authority's per-order identifier limit.
	order, err := o.authority.NewOrder(identifiers)
	if err != nil {
		o.logger.Error("Failed to create order", "identifiers", identifiers, "error", err)
		return legoacme.ExtendedOrder{}, nil, protocolError("create order", err)
	}

	o.logger.Info("Order created", "identifiers", identifiers, "order_url", order.Location, "status", order.Status)
	return order, identifiers, nil
}

// difference keeps the order of hosts and drops duplicates.
func difference(hosts, excluded []string) []string {
	skip := make(map[string]struct{}, len(excluded)+len(hosts))
	for _, h := range excluded {
		skip[h] = struct{}{}
	}
	var out []string
	for _, h := range hosts {
		if _, ok := skip[h]; ok {
			continue
		}
		skip[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
