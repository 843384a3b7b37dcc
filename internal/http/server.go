// Package http exposes the budget API over JSON.
package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"budget/internal/apperr"
	"budget/internal/auth"
	applog "budget/internal/log"
	"budget/internal/metrics"
	"budget/internal/middleware/ratelimit"
	"budget/internal/middleware/security"
	"budget/internal/middleware/trace"
	"budget/internal/services"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Options tune the server.
type Options struct {
	Port           int
	CookieSecure   bool
	RateLimit      ratelimit.Config
	TrustedProxies []string
}

// Deps are the collaborators handlers call into.
type Deps struct {
	Users            *services.UserService
	Auth             *services.AuthService
	Cards            *services.CardService
	Transactions     *services.TransactionService
	Reports          *services.ReportService
	CardTransactions *services.CardTransactionService

	Tokens  *auth.TokenProvider
	Revoked *auth.TokenStore
	Metrics *metrics.Metrics
	Logger  *applog.Logger

	// Readiness maps a dependency name to its probe.
	Readiness map[string]ReadinessCheck
}

type Server struct {
	http.Server
	deps         Deps
	cookieSecure bool
	limiter      *ratelimit.Limiter
	detector     *security.Detector
	shutdownOnce sync.Once
}

// NewServer wires the router and its middleware chain.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}
	deps.Logger = deps.Logger.WithComponent(applog.ComponentHTTP)

	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}

	limit := opts.RateLimit
	if limit.RequestsPerMinute <= 0 {
		limit = ratelimit.DefaultConfig()
	}

	s := &Server{
		deps:         deps,
		cookieSecure: opts.CookieSecure,
		limiter:      ratelimit.NewLimiter(limit),
		detector:     detector,
	}
	s.Server = http.Server{
		Addr:              ":" + strconv.Itoa(opts.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	var observe trace.Observer
	if s.deps.Metrics != nil {
		observe = s.deps.Metrics.ObserveHTTP
	}

	r := chi.NewRouter()
	r.Use(trace.NewMiddleware(s.deps.Logger, s.detector.ExtractClientIP, observe).Handler)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)
	r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, apperr.New(apperr.TooMany))
	}))
	r.Use(auth.NewAuthenticator(s.deps.Tokens, s.deps.Revoked, auth.DefaultPermits(), WriteError).Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "no such route"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Status: http.StatusMethodNotAllowed, Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.handleRegister)
			r.Get("/me", s.handleMe)
			r.Patch("/me/password", s.handleChangePassword)
			r.Delete("/me", s.handleDeleteUser)
			r.Delete("/me/deletion", s.handleCancelDeletion)
		})
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
		})
		r.Route("/cards", func(r chi.Router) {
			r.Post("/", s.handleRegisterCard)
			r.Get("/", s.handleListCards)
			r.Delete("/{cardID}", s.handleDeleteCard)
		})
		r.Route("/transaction", func(r chi.Router) {
			r.Post("/sync", s.handleSync)
			r.Get("/", s.handleQueryTransactions)
			r.Get("/summary", s.handleSummary)
			r.Get("/saving-recommendation", s.handleSavingRecommendation)
		})
		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.handleNotifications)
			r.Get("/{reportID}", s.handleReport)
			r.Post("/run-report-batch", s.handleRunReportBatch)
			r.Post("/run-dead-letter-batch", s.handleRunDeadLetterBatch)
		})
	})

	r.Route("/outer/transaction", func(r chi.Router) {
		r.Post("/", s.handleAddCardTransaction)
		r.Get("/", s.handleListCardTransactions)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().Data(map[string]string{"status": "ok"}).Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Readiness))
	ready := true
	for name, check := range s.deps.Readiness {
		if err := check(ctx); err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Readiness check failed", "dependency", name, applog.FieldError, err)
			checks[name] = "down"
			ready = false
			continue
		}
		checks[name] = "up"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	NewResponse().Status(status).Data(checks).Write(w)
}

// Shutdown stops accepting requests and releases the limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func principal(r *http.Request) (auth.Principal, error) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return auth.Principal{}, apperr.New(apperr.InvalidToken)
	}
	return p, nil
}
