// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package server exposes the turn engine and schema discovery over HTTP,
// with an SSE stream of turn progress and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/fabric"
	"github.com/teradata-labs/weft/pkg/observability"
	"github.com/teradata-labs/weft/pkg/orchestration"
	"github.com/teradata-labs/weft/pkg/schemagraph"
	"github.com/teradata-labs/weft/pkg/types"
)

// Engine is the part of *orchestration.Engine the server drives.
type Engine interface {
	RunTurn(ctx context.Context, req orchestration.TurnRequest, progress types.ProgressCallback) (*orchestration.TurnResult, error)
	Execute(ctx context.Context, req orchestration.ExecuteRequest) (*fabric.QueryResult, error)
	Resync(ctx context.Context, dataSourceID string) (*schemagraph.Graph, error)
	Discovery() *schemagraph.Service
}

// DataSourceLister lists configured data sources.
type DataSourceLister interface {
	List(ctx context.Context) ([]fabric.DataSource, error)
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a permissive CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Type", "Content-Disposition"},
		MaxAge:         86400,
	}
}

// Config configures the HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TurnTimeout bounds one turn request. Default 5 minutes.
	TurnTimeout time.Duration

	Engine  Engine
	Sources DataSourceLister

	// Metrics serves /metrics. Default promhttp.Handler().
	Metrics http.Handler
	CORS    CORSConfig
	Tracer  observability.Tracer
	Logger  *zap.Logger
}

// HTTPServer serves the weft API.
type HTTPServer struct {
	config     Config
	engine     Engine
	sources    DataSourceLister
	events     *EventHub
	httpServer *http.Server
	tracer     observability.Tracer
	logger     *zap.Logger
}

// NewHTTPServer creates the server. Call Start to listen, or use Handler.
func NewHTTPServer(cfg Config) (*HTTPServer, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 5 * time.Minute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &HTTPServer{
		config:  cfg,
		engine:  cfg.Engine,
		sources: cfg.Sources,
		events:  NewEventHub(),
		tracer:  cfg.Tracer,
		logger:  cfg.Logger,
	}
	h.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     h.Handler(),
		ReadTimeout: cfg.ReadTimeout,
		// SSE responses stay open; zero disables the write timeout
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return h, nil
}

// Events returns the progress event hub.
func (h *HTTPServer) Events() *EventHub { return h.events }

// Handler builds the router.
func (h *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	if h.config.CORS.Enabled {
		r.Use(h.corsMiddleware)
	}

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.config.Metrics)
	r.Get("/v1/events", h.events.ServeHTTP)

	r.Post("/v1/turns", h.handleTurn)
	r.Post("/v1/conversations/{conversationID}/turns", h.handleTurn)

	r.Get("/v1/datasources", h.handleListDataSources)
	r.Route("/v1/datasources/{id}", func(r chi.Router) {
		r.Get("/entities", h.handleEntities)
		r.Get("/tables/{table}", h.handleDescribeTable)
		r.Get("/compass", h.handleCompass)
		r.Get("/join-path", h.handleJoinPath)
		r.Get("/search", h.handleSearch)
		r.Post("/sync", h.handleSync)
		r.Post("/query", h.handleQuery)
	})
	return r
}

// Start listens until Stop is called.
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server", zap.String("addr", h.httpServer.Addr))
	if err := h.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server and closes event streams.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server")
	h.events.Close()
	return h.httpServer.Shutdown(ctx)
}

func (h *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.tracer.RecordMetric(observability.MetricHTTPRequests, 1, map[string]string{
			"route":  route,
			"method": r.Method,
			"status": fmt.Sprintf("%d", ww.Status()),
		})
		if route == "/health" || route == "/metrics" {
			return
		}
		h.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// corsMiddleware adds CORS headers to HTTP responses.
func (h *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	cors := h.config.CORS
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := h.allowedOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
		}
		if cors.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if len(cors.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(cors.AllowedMethods, ", "))
		}
		if len(cors.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(cors.AllowedHeaders, ", "))
		}
		if len(cors.ExposedHeaders) > 0 {
			w.Header().Set("Access-Control-Expose-Headers", strings.Join(cors.ExposedHeaders, ", "))
		}
		if cors.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", cors.MaxAge))
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the origin to echo, or empty when not allowed.
func (h *HTTPServer) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range h.config.CORS.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}
