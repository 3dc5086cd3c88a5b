// Package api exposes the session subsystem over HTTP: the identity
// exchange, session inspection and maintenance, the profile endpoints and
// a small administrative surface.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/escritoresnogueira/backend/auth"
	"github.com/escritoresnogueira/backend/session"
	"github.com/escritoresnogueira/backend/user"
)

const (
	// DefaultTouchInterval is how stale LastAccessedAt may get before an
	// authenticated request refreshes it.
	DefaultTouchInterval = 5 * time.Minute
	// DefaultExtendHours applies when POST /session/extend has no hours.
	DefaultExtendHours = 168
	// DefaultMaxExtendHours caps a single extension request.
	DefaultMaxExtendHours = 720
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	sessions *session.Manager
	accounts *auth.Service
	users    user.Store

	logger         *slog.Logger
	audit          *auditLogger
	loginLimiter   *backoffLimiter
	globalLimiter  *globalRateLimiter
	adminLimiter   *backoffLimiter
	trustedProxies []netip.Prefix

	adminKey       string
	firebaseConfig FirebaseWebConfig
	touchInterval  time.Duration
	maxExtendHours int
	docsBase       string
	alertFn        AlertFunc
	webhookURL     string
	webhookHeader  string
	now            func() time.Time
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request errors and audit
// events. If not set, a JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTrustedProxies sets the peers whose forwarding headers are honored
// when deriving the client IP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithAdminKey enables the /admin routes for callers presenting key.
func WithAdminKey(key string) Option {
	return func(a *API) { a.adminKey = key }
}

// WithFirebaseConfig sets the public web configuration served from
// GET /auth/firebase-config.
func WithFirebaseConfig(cfg FirebaseWebConfig) Option {
	return func(a *API) { a.firebaseConfig = cfg }
}

// WithTouchInterval sets how stale a session's last access may be before
// it is refreshed.
func WithTouchInterval(d time.Duration) Option {
	return func(a *API) {
		if d >= 0 {
			a.touchInterval = d
		}
	}
}

// WithMaxExtendHours caps the hours accepted by POST /session/extend.
func WithMaxExtendHours(hours int) Option {
	return func(a *API) {
		if hours > 0 {
			a.maxExtendHours = hours
		}
	}
}

// WithDocsBase sets the path prefix the router is mounted under so the
// docs pages can locate openapi.yaml. Defaults to "/api".
func WithDocsBase(prefix string) Option {
	return func(a *API) { a.docsBase = prefix }
}

// WithAlertFunc registers a callback for anomaly alerts derived from the
// audit stream.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// WithAuditWebhook forwards audit events to url. authHeader, when set, is
// a "Header: Value" pair added to every request.
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookHeader = authHeader
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates a new API instance. Call Close to flush the audit webhook.
func New(sessions *session.Manager, accounts *auth.Service, users user.Store, opts ...Option) *API {
	a := &API{
		sessions:       sessions,
		accounts:       accounts,
		users:          users,
		loginLimiter:   newBackoffLimiter(loginIPPolicy),
		globalLimiter:  newGlobalRateLimiter(),
		adminLimiter:   newBackoffLimiter(adminIPPolicy),
		touchInterval:  DefaultTouchInterval,
		maxExtendHours: DefaultMaxExtendHours,
		docsBase:       "/api",
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	a.audit.now = a.now
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
		a.audit.metrics.now = a.now
	}
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookHeader, a.logger)
	}
	return a
}

// Close drains pending audit webhook deliveries.
func (a *API) Close() {
	if a.audit != nil && a.audit.webhook != nil {
		a.audit.webhook.close()
	}
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: a.docsBase + "/openapi.yaml",
		Path:    trimSlash(a.docsBase + "/docs"),
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: a.docsBase + "/openapi.yaml",
		Path:    trimSlash(a.docsBase + "/redoc"),
	}, nil))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/session", a.CreateSession)
		r.Get("/firebase-config", a.FirebaseConfig)
		r.Delete("/user", a.DeleteAccount)
		r.Get("/health", a.AuthHealth)
	})

	r.Route("/session", func(r chi.Router) {
		r.Get("/me", a.CurrentSession)
		r.Get("/validate", a.ValidateSession)
		r.Post("/logout", a.Logout)
		r.Post("/logout-all", a.LogoutAll)
		r.Post("/extend", a.ExtendSession)
		r.With(a.SessionMiddleware).Get("/list", a.ListSessions)
	})

	r.Route("/user", func(r chi.Router) {
		r.Use(a.SessionMiddleware)
		r.Get("/profile", a.GetProfile)
		r.Put("/profile", a.UpdateProfile)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(a.AdminMiddleware)
		r.Post("/sessions/sweep", a.AdminSweep)
		r.Post("/sessions/revoke", a.AdminRevoke)
		r.Post("/users/promote", a.AdminPromote)
	})

	return r
}

func trimSlash(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}
