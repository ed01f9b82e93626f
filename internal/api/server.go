// Package api exposes the discovery service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/job"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/monitoring"
	"github.com/sells-group/lead-pipeline/internal/resilience"
)

const defaultLookbackHours = 24

// Submitter accepts discovery requests.
type Submitter interface {
	Submit(ctx context.Context, req job.Request) (*job.Accepted, error)
}

// JobReader is the read side of the job store.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*model.DiscoveryJob, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.DiscoveryJob, error)
	ListLeads(ctx context.Context, campaignID string) ([]model.ScoredLead, error)
	Ping(ctx context.Context) error
}

// BreakerSource reports circuit breaker state.
type BreakerSource interface {
	Snapshot() []resilience.BreakerSnapshot
}

// Server holds the handler dependencies.
type Server struct {
	submitter Submitter
	jobs      JobReader
	breakers  BreakerSource

	collector     *monitoring.Collector
	lookbackHours int
	reader        sdkmetric.Reader
	origins       []string
}

// Option configures a Server.
type Option func(*Server)

// WithCollector enables the job snapshot on GET /v1/metrics.
func WithCollector(c *monitoring.Collector, lookbackHours int) Option {
	return func(s *Server) {
		s.collector = c
		if lookbackHours > 0 {
			s.lookbackHours = lookbackHours
		}
	}
}

// WithMetricsReader includes OpenTelemetry points on GET /v1/metrics.
func WithMetricsReader(r sdkmetric.Reader) Option {
	return func(s *Server) { s.reader = r }
}

// WithCORSOrigins sets the allowed browser origins. Without it every origin is allowed.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// New creates a Server.
func New(submitter Submitter, jobs JobReader, breakers BreakerSource, opts ...Option) *Server {
	s := &Server{
		submitter:     submitter,
		jobs:          jobs,
		breakers:      breakers,
		lookbackHours: defaultLookbackHours,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/discovery", s.submitDiscovery)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{id}", s.getJob)
		r.Get("/breakers", s.listBreakers)
		r.Get("/metrics", s.metrics)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
