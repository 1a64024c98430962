package acme

// HostState is a host's position in the issuance lifecycle.
type HostState int

const (
	NotStarted HostState = iota
	ChallengePending
	Issued
)

func (s HostState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case ChallengePending:
		return "challenge_pending"
	case Issued:
		return "issued"
	default:
		return "unknown"
	}
}

// Registry is the in-memory view of every configured host's state, loaded
// once per run. A host with a challenge record never returns to NotStarted,
// whatever the age of the record or the validity of its certificate.
type Registry struct {
	hosts  []string
	states map[string]HostState
}

// LoadRegistry probes the store once for every host.
func LoadRegistry(store *Storage, hosts []string) (*Registry, error) {
	r := &Registry{
		hosts:  append([]string(nil), hosts...),
		states: make(map[string]HostState, len(hosts)),
	}
	for _, host := range hosts {
		hasChallenge, err := store.HasChallengeRecord(host)
		if err != nil {
			return nil, err
		}
		if !hasChallenge {
			r.states[host] = NotStarted
			continue
		}
		hasCert, err := store.HasCertificate(host)
		if err != nil {
			return nil, err
		}
		if hasCert {
			r.states[host] = Issued
		} else {
			r.states[host] = ChallengePending
		}
	}
	return r, nil
}

func (r *Registry) Hosts() []string {
	return append([]string(nil), r.hosts...)
}

func (r *Registry) State(host string) HostState {
	return r.states[host]
}

// Excluded returns, in configured order, the hosts that must not be ordered.
func (r *Registry) Excluded() []string {
	return r.filter(func(s HostState) bool { return s != NotStarted })
}

// Remaining returns, in configured order, the hosts still to be ordered.
func (r *Registry) Remaining() []string {
	return r.filter(func(s HostState) bool { return s == NotStarted })
}

func (r *Registry) MarkChallengePending(host string) {
	if r.states[host] == NotStarted {
		r.states[host] = ChallengePending
	}
}

func (r *Registry) MarkIssued(host string) {
	r.states[host] = Issued
}

func (r *Registry) filter(keep func(HostState) bool) []string {
	var out []string
	for _, host := range r.hosts {
		if keep(r.states[host]) {
			out = append(out, host)
		}
	}
	return out
}
