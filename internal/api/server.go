// Package api serves the potentials engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/potentials/internal/config"
	"github.com/sells-group/potentials/internal/engine"
	"github.com/sells-group/potentials/internal/metrics"
	"github.com/sells-group/potentials/internal/request"
	"github.com/sells-group/potentials/internal/spatial"
	"github.com/sells-group/potentials/internal/store"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	engine   *engine.Engine
	resolver *request.Resolver
	runs     store.Store
	metrics  *metrics.Metrics
	cfg      config.ServerConfig
	limiter  *rate.Limiter
	log      *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithStore records every request in the run log.
func WithStore(st store.Store) Option {
	return func(s *Server) { s.runs = st }
}

// WithMetrics exposes m at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server. The resolver should reject file inputs.
func New(eng *engine.Engine, resolver *request.Resolver, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		engine:   eng,
		resolver: resolver,
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "api")),
	}
	if cfg.RateLimit > 0 {
		burst := max(cfg.RateBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Run-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.rateLimit)
		v1.Post("/potentials", s.potentials)
		v1.Post("/isopleths", s.isopleths)
		if s.runs != nil {
			v1.Get("/runs", s.listRuns)
			v1.Get("/runs/{runID}", s.getRun)
		}
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rateLimit rejects requests over the configured rate with 429.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// decode reads a JSON request document, bounded by MaxBodyBytes.
func (s *Server) decode(w http.ResponseWriter, r *http.Request) (*request.File, error) {
	body := r.Body
	if s.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	var f request.File
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, eris.Wrapf(spatial.ErrResourceLimitExceeded, "api: body over %d bytes", tooLarge.Limit)
		}
		return nil, eris.Wrapf(spatial.ErrInvalidParameter, "api: invalid request body: %v", err)
	}
	return &f, nil
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case eris.Is(err, spatial.ErrResourceLimitExceeded):
		return http.StatusUnprocessableEntity
	case spatial.IsCallerError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
