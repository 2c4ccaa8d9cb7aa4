package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"routeopt/internal/config"
	"routeopt/internal/decision"
	"routeopt/internal/events"
	"routeopt/internal/logging"
	"routeopt/internal/metrics"
	"routeopt/internal/optimizer"
	"routeopt/internal/session"
	"routeopt/internal/store"
	"routeopt/internal/webhooks"
)

type Server struct {
	Config    *config.Config
	Store     store.Store
	Sessions  *session.Service
	Optimizer *optimizer.Client
	Decisions *decision.Recorder
	Broker    events.Broker
	Pub       *webhooks.Publisher
	Redis     *redis.Client
	Log       *zap.Logger

	limiter *tenantLimiter
}

// Deps are the collaborators a Server is built from. Redis is optional.
type Deps struct {
	Config    *config.Config
	Store     store.Store
	Sessions  *session.Service
	Optimizer *optimizer.Client
	Decisions *decision.Recorder
	Broker    events.Broker
	Pub       *webhooks.Publisher
	Redis     *redis.Client
	Log       *zap.Logger
}

func NewServer(d Deps) *Server {
	metrics.RegisterDefault()
	rps, burst := 1.0, 5
	if d.Config != nil {
		rps, burst = d.Config.RateLimit.RPS, d.Config.RateLimit.Burst
	}
	return &Server{
		Config:    d.Config,
		Store:     d.Store,
		Sessions:  d.Sessions,
		Optimizer: d.Optimizer,
		Decisions: d.Decisions,
		Broker:    d.Broker,
		Pub:       d.Pub,
		Redis:     d.Redis,
		Log:       logging.OrNop(d.Log),
		limiter:   newTenantLimiter(rps, burst),
	}
}

// Router wires every endpoint behind the recover, metrics and logging middleware.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.ReadyHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/debug/vars", s.DebugJSON).Methods(http.MethodGet)
	r.HandleFunc("/openapi.yaml", s.OpenAPIHandler).Methods(http.MethodGet)
	r.HandleFunc("/openapi.json", s.OpenAPIJSONHandler).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.DocsHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/optimizer/status", s.OptimizerStatusHandler).Methods(http.MethodGet)
	v1.HandleFunc("/optimizer/health-check", s.OptimizerHealthCheckHandler).Methods(http.MethodPost)
	v1.HandleFunc("/optimizer/events/stream", s.OptimizerStreamHandler).Methods(http.MethodGet)

	v1.HandleFunc("/routes/{routeId}/optimize", s.OptimizeRouteHandler).Methods(http.MethodPost)

	v1.HandleFunc("/sessions/{id}", s.SessionHandler).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/retry", s.SessionRetryHandler).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/reset", s.SessionResetHandler).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/decision", s.SessionDecisionHandler).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/snapshot", s.SessionSnapshotHandler).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/events/stream", s.SessionStreamHandler).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/ws", s.SessionWSHandler).Methods(http.MethodGet)

	v1.HandleFunc("/audit", s.AuditHandler).Methods(http.MethodGet)
	v1.HandleFunc("/decisions", s.DecisionsHandler).Methods(http.MethodGet)

	v1.HandleFunc("/campaigns/{campaignId}/zones/contains", s.ZonesContainsHandler).Methods(http.MethodPost)

	v1.HandleFunc("/subscriptions", s.SubscriptionsHandler).Methods(http.MethodGet, http.MethodPost)
	v1.HandleFunc("/subscriptions/{id}", s.SubscriptionByIDHandler).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported here", r.URL.Path)
	})
	r.Use(s.recoverMiddleware, s.metricsMiddleware, s.logMiddleware)
	return r
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	var cfg config.WebhookConfig
	if s.Config != nil {
		cfg = s.Config.Webhooks
	}
	return webhooks.NewWorker(s.Store, cfg.MaxAttempts, cfg.PollEvery, s.Log.Named("webhooks"))
}
