package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ediportal.org/internal/auth"
	"ediportal.org/internal/obs"
	"ediportal.org/internal/portal"
)

// Pinger is anything the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks every dependency the API needs to serve traffic.
type ReadyProbe struct {
	Checks []Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for _, c := range rp.Checks {
		if c == nil {
			continue
		}
		if err := c.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Options configures the HTTP layer.
type Options struct {
	Auth   *auth.Service
	Portal *portal.Service
	Ready  ReadyProbe

	Version     string
	RequireAuth bool
	CORSOrigins []string

	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

// API is the HTTP surface of the portal.
type API struct {
	router      *mux.Router
	auth        *auth.Service
	portal      *portal.Service
	readyProbe  ReadyProbe
	version     string
	requireAuth bool

	corsOrigins []string
	rateRPS     float64
	rateBurst   int
	maxBody     int64
}

func New(opts Options) (*API, error) {
	if opts.Auth == nil {
		return nil, errors.New("httpapi: auth service is required")
	}
	if opts.Portal == nil {
		return nil, errors.New("httpapi: portal service is required")
	}
	a := &API{
		router:      mux.NewRouter(),
		auth:        opts.Auth,
		portal:      opts.Portal,
		readyProbe:  opts.Ready,
		version:     opts.Version,
		requireAuth: opts.RequireAuth,
		corsOrigins: opts.CORSOrigins,
		rateRPS:     opts.RateLimitRPS,
		rateBurst:   opts.RateLimitBurst,
		maxBody:     opts.MaxBodyBytes,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, kindNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		methodNotAllowed(w, req)
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	// account lifecycle
	api.HandleFunc("/auth/register", a.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", a.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", a.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", a.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/auth/reset-password", a.handleResetRequest).Methods(http.MethodPost)
	api.HandleFunc("/auth/reset-password", a.handleResetConfirm).Methods(http.MethodPut)

	account := api.NewRoute().Subrouter()
	account.Use(a.withAuth(true))
	account.HandleFunc("/auth/me", a.handleMe).Methods(http.MethodGet)
	account.HandleFunc("/auth/profile", a.handleUpdateProfile).Methods(http.MethodPut)

	res := api.NewRoute().Subrouter()
	res.Use(a.withAuth(a.requireAuth))

	res.HandleFunc("/dashboard", a.handleDashboard).Methods(http.MethodGet)

	res.HandleFunc("/apps", a.handleListApps).Methods(http.MethodGet)
	res.HandleFunc("/apps", a.handleCreateApp).Methods(http.MethodPost)
	res.HandleFunc("/apps/{id}", a.handleGetApp).Methods(http.MethodGet)
	res.HandleFunc("/apps/{id}", a.handleUpdateApp).Methods(http.MethodPut)
	res.HandleFunc("/apps/{id}", a.handleDeleteApp).Methods(http.MethodDelete)
	res.HandleFunc("/apps/{id}/certificates", a.handleAttachCertificate).Methods(http.MethodPost)

	res.HandleFunc("/certificates", a.handleListCertificates).Methods(http.MethodGet)
	res.HandleFunc("/certificates", a.handleUploadCertificate).Methods(http.MethodPost)
	res.HandleFunc("/certificates/{id}", a.handleGetCertificate).Methods(http.MethodGet)
	res.HandleFunc("/certificates/{id}/content", a.handleCertificateContent).Methods(http.MethodGet)
	res.HandleFunc("/certificates/{id}", a.handleDeleteCertificate).Methods(http.MethodDelete)

	res.HandleFunc("/testing", a.handleTestResults).Methods(http.MethodGet)
	res.HandleFunc("/testing", a.handleRunTest).Methods(http.MethodPost)
	res.HandleFunc("/testing/{appId}", a.handleTestResults).Methods(http.MethodGet)

	res.HandleFunc("/deployments", a.handleListDeployments).Methods(http.MethodGet)
	res.HandleFunc("/deployments", a.handleSubmitDeployment).Methods(http.MethodPost)
	res.HandleFunc("/deployments/{id}", a.handleGetDeployment).Methods(http.MethodGet)

	res.HandleFunc("/docs", a.handleListDocs).Methods(http.MethodGet)
	res.HandleFunc("/docs/{id}", a.handleGetDoc).Methods(http.MethodGet)
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.rateRPS)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = Recover(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "ediportal-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  fmt.Sprintf("dependency unavailable: %v", err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
