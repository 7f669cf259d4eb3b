package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"eostre.org/internal/audit"
	"eostre.org/internal/auth"
	"eostre.org/internal/obs"
)

// Pinger is implemented by the stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks readiness by pinging the store.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

type probes struct {
	ready   ReadyProbe
	service string
	version string
}

func (p probes) mount(r chi.Router) {
	r.Get("/healthz", p.healthz)
	r.Get("/readyz", p.readyz)
	r.Get("/v1/info", p.info)
	r.Handle("/metrics", obs.Handler())
}

func (p probes) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": p.service,
		"version": p.version,
	})
}

func (p probes) readyz(w http.ResponseWriter, r *http.Request) {
	if err := p.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (p probes) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    p.service,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": p.version,
	})
}

// newRouter returns a chi router with the middleware both services share.
func newRouter(corsOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logging)
	r.Use(Recover)
	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	r.Use(CORS(corsOrigins))
	r.Use(MaxBodyBytes(maxBodyBytes))
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)
	return r
}

// RateLimitConfig enables the per-IP limiter on the auth endpoints.
type RateLimitConfig struct {
	Enabled        bool
	Burst          int
	PerSecond      float64
	TrustedProxies TrustedProxies
}

// AdminDeps holds the dependencies of the admin API.
type AdminDeps struct {
	Sessions  *auth.Service
	Codec     TokenDecoder
	Admin     *auth.AdminService
	Emails    *auth.EmailValidator
	Audit     *audit.Recorder
	Ready     ReadyProbe
	Version   string
	Cookies   CookieConfig
	CORS      []string
	RateLimit RateLimitConfig
}

// AdminAPI serves the auth endpoints and the account administration API.
type AdminAPI struct {
	sessions  *auth.Service
	codec     TokenDecoder
	admin     *auth.AdminService
	emails    *auth.EmailValidator
	audit     *audit.Recorder
	cookies   CookieConfig
	cors      []string
	rateLimit RateLimitConfig
	probes    probes
}

func NewAdmin(deps AdminDeps) (*AdminAPI, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session service is required")
	}
	if deps.Codec == nil {
		return nil, errors.New("token codec is required")
	}
	if deps.Admin == nil {
		return nil, errors.New("admin service is required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewRecorder(nil)
	}
	if deps.Cookies.Name == "" {
		deps.Cookies.Name = "access_token"
	}
	return &AdminAPI{
		sessions:  deps.Sessions,
		codec:     deps.Codec,
		admin:     deps.Admin,
		emails:    deps.Emails,
		audit:     deps.Audit,
		cookies:   deps.Cookies,
		cors:      deps.CORS,
		rateLimit: deps.RateLimit,
		probes:    probes{ready: deps.Ready, service: "eostre-adminserver", version: deps.Version},
	}, nil
}

// Handler builds the admin router.
func (a *AdminAPI) Handler() http.Handler {
	r := newRouter(a.cors)
	a.probes.mount(r)

	authn := Authenticate(a.codec, a.cookies.Name)
	read := RequirePermissions(auth.PermAccountRead)
	write := RequirePermissions(auth.PermAccountWrite)

	r.Route("/auth", func(r chi.Router) {
		if a.rateLimit.Enabled {
			r.Use(RateLimit(a.rateLimit.Burst, a.rateLimit.PerSecond, a.rateLimit.TrustedProxies))
		}
		r.Post("/login", a.handleLogin)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/logout", a.handleLogout)
		r.With(authn).Post("/switch_account", a.handleSwitchAccount)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authn)

		r.Route("/account", func(r chi.Router) {
			r.With(read).Get("/", a.handleGetAccount)
			r.With(write).Post("/", a.handleCreateAccount)
			r.With(write).Put("/", a.handleUpdateAccount)
			r.With(read).Get("/users", a.handleAccountUsers)
		})

		r.Route("/user", func(r chi.Router) {
			r.With(read).Get("/", a.handleListUsers)
			r.With(write).Post("/", a.handleCreateUser)
			r.Get("/me", a.handleMe)
			r.Get("/authorized_accounts", a.handleAuthorizedAccounts)
		})

		r.Route("/role", func(r chi.Router) {
			r.Get("/", a.handleListRoles)
			r.With(write).Post("/", a.handleCreateRole)
		})
		r.Get("/permission", a.handleListPermissions)

		r.Route("/grant", func(r chi.Router) {
			r.Use(write)
			r.Post("/", a.handleGrant)
			r.Delete("/{id}", a.handleRevokeGrant)
		})

		r.Route("/email", func(r chi.Router) {
			r.Post("/send_validate", a.handleSendValidation)
			r.Get("/validate", a.handleValidateEmail)
			r.Post("/validate", a.handleValidateEmail)
		})
	})

	return r
}
