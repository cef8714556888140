package web

import (
	"context"
	"crypto/rand"
	"embed"
	"log/slog"
	"net/http"
	"time"

	"waitlist/internal/adapters/http/middleware"
	"waitlist/internal/adapters/http/perf"
	accountStore "waitlist/internal/adapters/storage/account"
	entryStore "waitlist/internal/adapters/storage/entry"
	"waitlist/internal/adapters/storage/kv"
	"waitlist/internal/application/orchestrators"
	"waitlist/internal/application/projections"
	"waitlist/internal/domain/entry"
)

//go:embed templates/*.html
var templateFS embed.FS

// RequestsPerSecond is the per-IP request budget.
const RequestsPerSecond = 20

// Stores holds all storage dependencies.
type Stores struct {
	AccountStore accountStore.Store
	EntryStore   entryStore.Store
	Markers      kv.Store
}

// Settings carries the site configuration handlers need.
type Settings struct {
	CoachName       string
	Location        *time.Location
	RateLimitWindow time.Duration
	SlowRequest     time.Duration
	CSRFKey         []byte
	TrustedOrigins  []string
	Production      bool
	StoreMode       string
	// Notify runs after a signup is stored. It must not block the response.
	Notify func(ctx context.Context, e entry.Entry)
}

var (
	stores        *Stores
	view          *projections.AdminView
	settings      Settings
	sessions      *middleware.SessionStore
	perfCollector *perf.Collector
	submitGuard   *orchestrators.SubmitGuard

	// timeNow is a variable for testability.
	timeNow = time.Now
)

// NewMux wires the routes and middleware.
// PRE: s and v are non-nil; v has been started
// POST: the per-IP limiter's cleanup runs until ctx ends
func NewMux(ctx context.Context, s *Stores, v *projections.AdminView, cfg Settings, collector *perf.Collector) http.Handler {
	stores = s
	view = v
	settings = cfg
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	perfCollector = collector
	sessions = middleware.NewSessionStore()
	submitGuard = orchestrators.NewSubmitGuard()
	middleware.SecureCookies = cfg.Production

	mux := http.NewServeMux()
	registerRoutes(mux)

	limiter := middleware.NewRateLimiter(RequestsPerSecond, time.Second)
	go limiter.Run(ctx)

	// Timing -> RateLimit -> Auth -> ClientID -> CSRF -> SecurityHeaders -> Mux
	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.CSRF(csrfKey(cfg.CSRFKey), cfg.Production, cfg.TrustedOrigins),
		middleware.ClientID,
		middleware.Auth(sessions),
		middleware.RateLimit(limiter),
		middleware.Timing(collector, cfg.SlowRequest),
	)
}

func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", handleSignupForm)
	mux.HandleFunc("POST /{$}", handleSubmitSignup)
	mux.HandleFunc("GET /age-fields", handleAgeFields)
	mux.HandleFunc("GET /healthz", handleHealthz)

	mux.HandleFunc("GET /login", handleLoginForm)
	mux.HandleFunc("POST /login", handleLogin)
	mux.HandleFunc("POST /logout", handleLogout)

	admin := func(h http.HandlerFunc) http.Handler { return middleware.RequireAdmin(h) }
	mux.Handle("GET /admin", admin(handleAdmin))
	mux.Handle("POST /admin/entries/{id}/contacted", admin(handleMarkContacted))
	mux.Handle("POST /admin/entries/{id}/waiting", admin(handleMarkWaiting))
	mux.Handle("GET /admin/entries/{id}/delete", admin(handleConfirmRemove))
	mux.Handle("POST /admin/entries/{id}/delete", admin(handleRemove))
	mux.Handle("GET /admin/export.csv", admin(handleExport))
	mux.Handle("GET /admin/events", admin(handleEvents))
	mux.Handle("GET /admin/perf", admin(handlePerf))
}

// csrfKey returns the configured key, or a random per-process key.
// A random key invalidates open forms on restart.
func csrfKey(configured []byte) []byte {
	if len(configured) == 32 {
		return configured
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("csrf key: " + err.Error())
	}
	slog.Warn("csrf_key_generated", "reason", "http.csrf_key not set or not 32 bytes")
	return key
}
