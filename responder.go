package acme

import (
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const challengePathPrefix = "/.well-known/acme-challenge"

// ChallengeReader looks up the persisted challenge record for a host.
type ChallengeReader interface {
	ReadChallengeRecord(host string) (ChallengeRecord, error)
}

type responder struct {
	store   ChallengeReader
	metrics *Metrics
	logger  *slog.Logger
}

// NewResponder returns the plaintext handler of the proxy: liveness on /ping,
// HTTP-01 responses under /.well-known/acme-challenge/ and a permanent
// redirect to HTTPS for everything else. Records are read from store on every
// request so freshly written challenges are served without a restart.
func NewResponder(store ChallengeReader, metrics *Metrics, logger *slog.Logger) http.Handler {
	h := &responder{
		store:   store,
		metrics: metrics,
		logger:  logger.With("component", "responder"),
	}

	r := chi.NewRouter()
	r.Use(h.requireHost)
	r.HandleFunc("/ping", h.ping)
	r.Handle(challengePathPrefix, http.HandlerFunc(h.challenge))
	r.Handle(challengePathPrefix+"/*", http.HandlerFunc(h.challenge))
	r.NotFound(h.redirect)
	r.MethodNotAllowed(h.redirect)
	return r
}

func (h *responder) requireHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestHost(r) == "" {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *responder) ping(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Ping request received")
	writePlain(w, http.StatusOK, "pong")
}

func (h *responder) challenge(w http.ResponseWriter, r *http.Request) {
	host := requestHost(r)
	token := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	record, err := h.store.ReadChallengeRecord(host)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.logger.Warn("Failed to read challenge record", "host", host, "error", err)
		}
		h.metrics.observeChallenge("unknown_host")
		http.NotFound(w, r)
		return
	}
	if token == "" || record.Token != token {
		h.metrics.observeChallenge("token_mismatch")
		http.NotFound(w, r)
		return
	}

	h.logger.Info("Serving challenge", "host", host, "token", token)
	h.metrics.observeChallenge("served")
	writePlain(w, http.StatusOK, record.Proof)
}

func (h *responder) redirect(w http.ResponseWriter, r *http.Request) {
	target := "https://" + requestHost(r) + r.URL.RequestURI()
	h.logger.Debug("Redirecting to https", "location", target)
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusPermanentRedirect)
}

// requestHost returns the lowercased Host header without its port. IPv6
// literals keep their brackets.
func requestHost(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return host
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
