package acme

import (
	"fmt"
	"log/slog"

	legoacme "github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/challenge"
)

// ChallengeCoordinator turns an order's authorizations into persisted HTTP-01
// challenge records that the responder can serve.
type ChallengeCoordinator struct {
	authority      Authority
	store          *Storage
	processPending bool
	logger         *slog.Logger
}

func NewChallengeCoordinator(authority Authority, store *Storage, processPending bool, logger *slog.Logger) *ChallengeCoordinator {
	return &ChallengeCoordinator{
		authority:      authority,
		store:          store,
		processPending: processPending,
		logger:         logger.With("component", "challenge"),
	}
}

// DeriveChallenges fetches every authorization of order and builds one record
// per actionable authorization, in authorization order. Nothing is persisted
// unless every authorization was accepted or skipped. An authorization for a
// host outside identifiers aborts with ErrAuthorization.
//
// By default Pending authorizations are skipped and Valid ones processed.
// With processPending the rule is the conventional one: Pending is processed
// and Valid skipped. Any other status aborts with ErrAuthorization.
func (c *ChallengeCoordinator) DeriveChallenges(order legoacme.ExtendedOrder, identifiers []string) ([]ChallengeRecord, error) {
	ordered := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		ordered[id] = struct{}{}
	}
	records := make([]ChallengeRecord, 0, len(order.Authorizations))

	for _, authzURL := range order.Authorizations {
		authz, err := c.authority.GetAuthorization(authzURL)
		if err != nil {
			c.logger.Error("Failed to fetch authorization", "url", authzURL, "error", err)
			return nil, protocolError("fetch authorization "+authzURL, err)
		}
		host := authz.Identifier.Value
		if _, ok := ordered[host]; !ok {
			c.logger.Error("Authorization for a host that was not ordered", "host", host, "url", authzURL)
			return nil, fmt.Errorf("%w: %q was not ordered", ErrAuthorization, host)
		}

		process, err := c.actionable(authz.Status)
		if err != nil {
			c.logger.Error("Authorization in unexpected status", "host", host, "status", authz.Status)
			return nil, fmt.Errorf("%w: %s: %w", ErrAuthorization, host, err)
		}
		if !process {
			c.logger.Info("Skipping authorization", "host", host, "status", authz.Status)
			continue
		}

		chlg, ok := findHTTP01(authz.Challenges)
		if !ok {
			c.logger.Error("No http-01 challenge offered", "host", host)
			return nil, fmt.Errorf("%w: %s: no %s challenge found", ErrAuthorization, host, challenge.HTTP01)
		}

		proof, err := c.authority.KeyAuthorization(chlg.Token)
		if err != nil {
			return nil, protocolError("key authorization for "+host, err)
		}

		c.logger.Debug("Creating challenge", "host", host, "url", chlg.URL)
		records = append(records, ChallengeRecord{
			Host:  host,
			URL:   chlg.URL,
			Proof: proof,
			Token: chlg.Token,
		})
	}

	for _, record := range records {
		if err := c.store.WriteChallengeRecord(record); err != nil {
			c.logger.Error("Failed to persist challenge record", "host", record.Host, "error", err)
			return nil, err
		}
	}

	return records, nil
}

func (c *ChallengeCoordinator) actionable(status string) (bool, error) {
	switch status {
	case legoacme.StatusPending:
		return c.processPending, nil
	case legoacme.StatusValid:
		return !c.processPending, nil
	default:
		return false, fmt.Errorf("status %q", status)
	}
}

func findHTTP01(challenges []legoacme.Challenge) (legoacme.Challenge, bool) {
	for _, chlg := range challenges {
		if chlg.Type == string(challenge.HTTP01) {
			return chlg, true
		}
	}
	return legoacme.Challenge{}, false
}
