// Package http provides the REST API, WebSocket progress stream and health endpoints.
package http

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/scheduler"
	"github.com/eyupikiz-lgtm/QuantAup/internal/telemetry"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Database is the subset of the connection pool the server reports on.
type Database interface {
	HealthCheck(ctx context.Context) error
	Stat() *pgxpool.Stat
}

// Server exposes the API over HTTP.
type Server struct {
	server  *http.Server
	router  *mux.Router
	handler *Handler
	hub     *Hub
	db      Database
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// NewServer creates a new HTTP server. db and metrics may be nil.
func NewServer(
	address string,
	handler *Handler,
	hub *Hub,
	db Database,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		handler: handler,
		hub:     hub,
		db:      db,
		metrics: metrics,
		logger:  logger.Named("http"),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         address,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/symbols", s.handler.HandleListSymbols).Methods(http.MethodGet)
	api.HandleFunc("/symbols/{symbol}/timeframes", s.handler.HandleListTimeframes).Methods(http.MethodGet)
	api.HandleFunc("/backtests", s.handler.HandleRunBacktest).Methods(http.MethodPost)
	api.HandleFunc("/sweeps", s.handler.HandleSubmitSweep).Methods(http.MethodPost)
	api.HandleFunc("/sweeps", s.handler.HandleListSweeps).Methods(http.MethodGet)
	api.HandleFunc("/sweeps/{id}", s.handler.HandleGetSweep).Methods(http.MethodGet)
	api.HandleFunc("/sweeps/{id}/cancel", s.handler.HandleCancelSweep).Methods(http.MethodPost)
	api.HandleFunc("/schedules", s.handler.HandleListSchedules).Methods(http.MethodGet)
	if s.hub != nil {
		api.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"), r.URL.Path)
	})
}

// ServeDashboard serves the static dashboard under "/". Call it after
// NewServer so API routes keep precedence.
func (s *Server) ServeDashboard(fsys fs.FS) {
	s.router.PathPrefix("/").Methods(http.MethodGet).Handler(http.FileServerFS(fsys))
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

// statusRecorder captures the response code. It keeps http.Hijacker working
// for WebSocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, rec.status, duration)
		}

		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
			zap.String("request_id", w.Header().Get("X-Request-ID")),
		)
	})
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   "healthy",
		Version:  Version,
		Services: make(map[string]string),
	}

	if s.db == nil {
		response.Services["postgres"] = "not configured"
	} else if err := s.db.HealthCheck(ctx); err != nil {
		response.Services["postgres"] = "unhealthy: " + err.Error()
		response.Status = "unhealthy"
	} else {
		response.Services["postgres"] = "healthy"
	}

	if s.handler.sweeps != nil {
		response.Services["scheduler"] = "healthy"
	} else {
		response.Services["scheduler"] = "not configured"
	}

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unavailable: " + err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// StatsResponse is the JSON view of scheduler and pool state.
type StatsResponse struct {
	Scheduler        *scheduler.Stats `json:"scheduler,omitempty"`
	Database         *DatabaseMetrics `json:"database,omitempty"`
	WebSocketClients int              `json:"websocket_clients"`
}

// DatabaseMetrics represents connection pool metrics.
type DatabaseMetrics struct {
	TotalConnections  int32 `json:"total_connections"`
	AcquiredConns     int32 `json:"acquired_connections"`
	IdleConns         int32 `json:"idle_connections"`
	MaxConns          int32 `json:"max_connections"`
	ConstructingConns int32 `json:"constructing_connections"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var response StatsResponse

	if s.handler.sweeps != nil {
		stats := s.handler.sweeps.Stats()
		response.Scheduler = &stats
	}
	if s.hub != nil {
		response.WebSocketClients = s.hub.ClientCount()
	}
	if s.db != nil {
		stat := s.db.Stat()
		response.Database = &DatabaseMetrics{
			TotalConnections:  stat.TotalConns(),
			AcquiredConns:     stat.AcquiredConns(),
			IdleConns:         stat.IdleConns(),
			MaxConns:          stat.MaxConns(),
			ConstructingConns: stat.ConstructingConns(),
		}
	}

	writeJSON(w, http.StatusOK, response)
}
