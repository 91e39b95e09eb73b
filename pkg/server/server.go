// Package server exposes a resolver over an HTTP JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apereo/persondir/internal/build"
	"github.com/apereo/persondir/pkg/logger"
	"github.com/apereo/persondir/pkg/middleware/logging"
	"github.com/apereo/persondir/pkg/middleware/recovery"
	"github.com/apereo/persondir/pkg/middleware/requestid"
	"github.com/apereo/persondir/pkg/persondir"
)

var (
	resolutionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "resolution_count",
		Help:      "The total number of resolution requests served.",
	}, []string{"operation", "outcome"})

	requestDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "request_duration_ms",
		Help:                            "Time spent serving resolution requests.",
		Buckets:                         []float64{1, 3, 5, 10, 25, 50, 100, 1000, 5000}, // Milliseconds.
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	}, []string{"operation"})
)

// Config defines the configuration parameters for the HTTP server.
type Config struct {
	Addr string

	CORSAllowedOrigins []string
	CORSAllowedHeaders []string

	EnableMetrics bool
	EnableTracing bool

	Logger logger.Logger
}

// ServerOption defines a function type used for configuring a Config object.
type ServerOption func(*Config)

// WithAddr returns a ServerOption that sets the listen address in the
// Config.
func WithAddr(addr string) ServerOption {
	return func(cfg *Config) {
		cfg.Addr = addr
	}
}

// WithCORSAllowedOrigins returns a ServerOption that sets the CORS allowed
// origins in the Config.
func WithCORSAllowedOrigins(origins []string) ServerOption {
	return func(cfg *Config) {
		cfg.CORSAllowedOrigins = origins
	}
}

// WithCORSAllowedHeaders returns a ServerOption that sets the CORS allowed
// headers in the Config.
func WithCORSAllowedHeaders(headers []string) ServerOption {
	return func(cfg *Config) {
		cfg.CORSAllowedHeaders = headers
	}
}

// WithMetrics returns a ServerOption that mounts the prometheus handler on
// /metrics.
func WithMetrics() ServerOption {
	return func(cfg *Config) {
		cfg.EnableMetrics = true
	}
}

// WithTracing returns a ServerOption that wraps the handler chain in an
// otel span per request.
func WithTracing() ServerOption {
	return func(cfg *Config) {
		cfg.EnableTracing = true
	}
}

// WithLogger returns a ServerOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) ServerOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// NewConfig creates a new Config instance with default values and applies
// any provided ServerOption modifications.
func NewConfig(opts ...ServerOption) *Config {
	cfg := &Config{
		Addr:               ":8080",
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedHeaders: []string{"*"},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoopLogger()
	}

	return cfg
}

// Server serves resolution requests against one source, usually a
// Composite.
type Server struct {
	source  persondir.Source
	cfg     *Config
	logger  logger.Logger
	handler http.Handler
}

// New builds a Server around source.
func New(source persondir.Source, cfg *Config) (*Server, error) {
	if source == nil {
		return nil, persondir.ConfigurationError("server requires a source")
	}
	if cfg == nil {
		cfg = NewConfig()
	}

	s := &Server{
		source: source,
		cfg:    cfg,
		logger: cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /resolve", s.handleResolve)
	mux.HandleFunc("GET /subjects/{name}", s.handleSubject)
	mux.HandleFunc("GET /attributes", s.handleAttributes)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if cfg.EnableMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	handler := logging.Middleware(cfg.Logger, mux)
	handler = requestid.Middleware(handler)
	if cfg.EnableTracing {
		handler = otelhttp.NewHandler(handler, "persondir")
	}
	handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowCredentials: true,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodHead,
		},
	}).Handler(handler)
	s.handler = recovery.Middleware(cfg.Logger, handler)

	return s, nil
}

// Handler returns the fully wrapped handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	httpServer := &http.Server{Handler: s.handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info(fmt.Sprintf("🚀 starting HTTP server on '%s'...", listener.Addr().String()))
		if err := httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("attempting to shutdown gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("HTTP server shut down.")
	return nil
}

type resolveRequest struct {
	Attributes map[string][]any `json:"attributes"`
	Type       string           `json:"type,omitempty"`
}

type resolveResponse struct {
	People   []*persondir.Person `json:"people"`
	Failures []string            `json:"failures,omitempty"`
}

type subjectResponse struct {
	Person   *persondir.Person `json:"person"`
	Failures []string          `json:"failures,omitempty"`
}

type attributesResponse struct {
	Possible  []string `json:"possible"`
	Queryable []string `json:"queryable"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.observe("resolve", start, "invalid")
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "invalid_request",
			Message: fmt.Sprintf("decode request: %v", err),
		})
		return
	}

	queryType, err := parseQueryType(req.Type)
	if err != nil {
		s.observe("resolve", start, "invalid")
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "invalid_request",
			Message: err.Error(),
		})
		return
	}

	people, err := s.source.Resolve(r.Context(), persondir.Query{
		Attributes: req.Attributes,
		Type:       queryType,
	})
	if err != nil && len(people) == 0 {
		s.observe("resolve", start, "error")
		s.writeResolutionError(w, err)
		return
	}

	resp := resolveResponse{People: people}
	if resp.People == nil {
		resp.People = []*persondir.Person{}
	}
	outcome := "ok"
	if err != nil {
		outcome = "partial"
		resp.Failures = failureMessages(err)
	}
	s.observe("resolve", start, outcome)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubject(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	person, err := s.source.ResolveSubject(r.Context(), r.PathValue("name"))
	if person == nil {
		if errors.Is(err, persondir.ErrNotFound) {
			s.observe("resolve_subject", start, "not_found")
			writeJSON(w, http.StatusNotFound, errorResponse{
				Code:    "not_found",
				Message: fmt.Sprintf("subject %q not found", r.PathValue("name")),
			})
			return
		}
		s.observe("resolve_subject", start, "error")
		s.writeResolutionError(w, err)
		return
	}

	resp := subjectResponse{Person: person}
	outcome := "ok"
	if err != nil {
		outcome = "partial"
		resp.Failures = failureMessages(err)
	}
	s.observe("resolve_subject", start, outcome)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAttributes(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	possible, err := s.source.PossibleAttributeNames(r.Context())
	if err != nil {
		s.observe("attributes", start, "error")
		s.writeResolutionError(w, err)
		return
	}
	queryable, err := s.source.QueryableAttributeNames(r.Context())
	if err != nil {
		s.observe("attributes", start, "error")
		s.writeResolutionError(w, err)
		return
	}

	resp := attributesResponse{Possible: possible, Queryable: queryable}
	if resp.Possible == nil {
		resp.Possible = []string{}
	}
	if resp.Queryable == nil {
		resp.Queryable = []string{}
	}
	s.observe("attributes", start, "ok")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeResolutionError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeResolutionError(w http.ResponseWriter, err error) {
	var resp errorResponse
	var status int
	switch {
	case errors.Is(err, persondir.ErrNotFound):
		status = http.StatusNotFound
		resp = errorResponse{Code: "not_found", Message: err.Error()}
	case errors.Is(err, persondir.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
		resp = errorResponse{Code: "unavailable", Message: err.Error()}
	case errors.Is(err, persondir.ErrSchemaMismatch):
		status = http.StatusInternalServerError
		resp = errorResponse{Code: "schema_mismatch", Message: err.Error()}
	case errors.Is(err, persondir.ErrConfiguration):
		status = http.StatusInternalServerError
		resp = errorResponse{Code: "configuration", Message: err.Error()}
	default:
		status = http.StatusInternalServerError
		resp = errorResponse{Code: "internal", Message: err.Error()}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("resolution request failed", zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func (s *Server) observe(operation string, start time.Time, outcome string) {
	resolutionCounter.WithLabelValues(operation, outcome).Inc()
	requestDurationHistogram.WithLabelValues(operation).
		Observe(float64(time.Since(start).Milliseconds()))
}

func parseQueryType(s string) (persondir.QueryType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return persondir.QueryTypeAND, nil
	case "OR":
		return persondir.QueryTypeOR, nil
	default:
		return persondir.QueryTypeAND, fmt.Errorf("unknown query type %q", s)
	}
}

// failureMessages flattens a joined per-source failure into one line per
// source.
func failureMessages(err error) []string {
	return strings.Split(err.Error(), "\n")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
