// Package httpapi exposes the proposal-management API over HTTP and the
// readiness state over gRPC health.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"saltapi/internal/auth"
	"saltapi/internal/authz"
	"saltapi/internal/identity"
	"saltapi/internal/obs"
	"saltapi/internal/proposal"
	"saltapi/internal/status"
	"saltapi/internal/submission"
)

const serviceName = "salt-api"

// Dependency is a named readiness check, typically a database ping.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

// ReadyProbe checks every dependency in order.
type ReadyProbe struct {
	Dependencies []Dependency
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for _, d := range rp.Dependencies {
		if d.Ping == nil {
			continue
		}
		if err := d.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
	}
	return nil
}

// Submitter forwards proposal files to the submission service.
type Submitter interface {
	Submit(ctx context.Context, username string, code *proposal.Code, filename string, file io.Reader) (string, error)
}

// StatusEvents delivers stored status records until ctx ends.
type StatusEvents interface {
	Subscribe(ctx context.Context) <-chan status.Record
}

// Services are the domain services behind the HTTP surface.
type Services struct {
	Auth        *auth.Service
	Authz       *authz.Service
	Identity    identity.Store
	Status      *status.Service
	Submissions Submitter
	Events      StatusEvents
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	auth        *auth.Service
	authz       *authz.Service
	identity    identity.Store
	status      *status.Service
	submissions Submitter
	events      StatusEvents

	rateBurst      int
	ratePerSec     float64
	maxBodyBytes   int64
	trustForwarded bool
}

// Option adjusts API settings.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithTrustForwardedFor makes the first X-Forwarded-For entry the client address.
// Enable only behind a proxy that overwrites the header.
func WithTrustForwardedFor(trust bool) Option {
	return func(a *API) { a.trustForwarded = trust }
}

func New(rp ReadyProbe, version string, svc Services, opts ...Option) (*API, error) {
	switch {
	case svc.Auth == nil:
		return nil, errors.New("auth service is required")
	case svc.Authz == nil:
		return nil, errors.New("authorization service is required")
	case svc.Identity == nil:
		return nil, errors.New("identity store is required")
	case svc.Status == nil:
		return nil, errors.New("status service is required")
	}

	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		auth:         svc.Auth,
		authz:        svc.Authz,
		identity:     svc.Identity,
		status:       svc.Status,
		submissions:  svc.Submissions,
		events:       svc.Events,
		rateBurst:    20,
		ratePerSec:   10,
		maxBodyBytes: 32 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/token", a.handleToken)
	a.mux.HandleFunc("/user", a.handleUser)
	a.mux.HandleFunc("/user/roles", a.handleUserRoles)
	a.mux.HandleFunc("/status", a.handleStatus)
	a.mux.HandleFunc("/status/events", a.handleStatusEvents)
	a.mux.HandleFunc("/proposals/", a.handleProposal)
	a.mux.HandleFunc("/submissions", a.handleSubmissions)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a, nil
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = ClientAddr(h, a.trustForwarded)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleError maps domain errors onto HTTP responses.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *status.ValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		code := http.StatusBadRequest
		if verr.Missing || verr.Field == "subsystem" || verr.Field == "status" {
			code = http.StatusUnprocessableEntity
		}
		writeError(w, r, code, verr.Error())
	case errors.As(err, &maxErr):
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid username or password")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, authz.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, proposal.ErrInvalidCode):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, status.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, status.ErrConflict):
		writeError(w, r, http.StatusConflict, "concurrent update, retry")
	case errors.Is(err, submission.ErrRejected):
		writeError(w, r, http.StatusBadGateway, "submission rejected")
	case errors.Is(err, submission.ErrTransport):
		writeError(w, r, http.StatusServiceUnavailable, "submission service unavailable")
	default:
		obs.Error("request failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
