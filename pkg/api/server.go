package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/meter/pkg/access"
	"github.com/platinummonkey/meter/pkg/accounts"
	"github.com/platinummonkey/meter/pkg/billing"
	"github.com/platinummonkey/meter/pkg/httputil"
	"github.com/platinummonkey/meter/pkg/middleware"
	"github.com/platinummonkey/meter/pkg/observability"
)

// AccountService creates accounts and resolves credentials
type AccountService interface {
	CreateAccount(ctx context.Context, userID, email, displayName string) (*accounts.Account, bool, error)
	ResolveCredential(ctx context.Context, credential string) (*accounts.Account, error)
}

// Authorizer decides whether a credential may run one execution
type Authorizer interface {
	AuthorizeExecution(ctx context.Context, credential string) (access.Result, error)
}

// Sweeper resets every ledger whose period has ended
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// StripeHandler processes signed Stripe deliveries
type StripeHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) (billing.Outcome, error)
}

// Config wires a Server. Stripe and CreateLimiter are optional.
type Config struct {
	Accounts      AccountService
	Authorizer    Authorizer
	Subscriptions billing.Applier
	Sweeper       Sweeper
	Stripe        StripeHandler

	InternalToken string
	CreateLimiter middleware.Limiter
	MaxBodyBytes  int64
	CORSOrigins   []string

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the metering HTTP API
type Server struct {
	cfg     Config
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
	now     func() time.Time
}

// NewServer creates the API server and registers its routes
func NewServer(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		logger: cfg.Logger,
		now:    time.Now,
	}
	s.setupRoutes()

	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(cfg.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
	}
	if len(cfg.CORSOrigins) > 0 {
		chain = append(chain, httputil.CORSMiddleware(cfg.CORSOrigins))
	}
	s.handler = otelhttp.NewHandler(httputil.Chain(chain...)(s.router), "meter-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + s.routeTemplate(r)
		}))

	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.cfg.Metrics))
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, httputil.CodeMethodNotAllowed, "method not allowed")
	})

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	internal := middleware.InternalToken(s.cfg.InternalToken)

	// account creation hands out credentials, so only the identity flow may call it
	create := http.Handler(http.HandlerFunc(s.createUser))
	if s.cfg.CreateLimiter != nil {
		create = middleware.RateLimit(s.cfg.CreateLimiter, s.logger)(create)
	}
	v1.Handle("/users/create", internal(create)).Methods(http.MethodPost)
	v1.Handle("/users/me", middleware.AccountAuth(s.cfg.Accounts)(http.HandlerFunc(s.getMe))).Methods(http.MethodGet)

	v1.HandleFunc("/executions/validate", s.validateExecution).Methods(http.MethodPost)

	v1.Handle("/subscriptions/update", internal(http.HandlerFunc(s.updateSubscription))).Methods(http.MethodPost)
	v1.Handle("/usage/reset", internal(http.HandlerFunc(s.resetUsage))).Methods(http.MethodPost)

	v1.HandleFunc("/billing/stripe", s.stripeWebhook).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the route table, mainly for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// routeTemplate names spans after the route pattern rather than the raw path
func (s *Server) routeTemplate(r *http.Request) string {
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.Route != nil {
		if tmpl, err := match.Route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}
