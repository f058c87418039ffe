package http

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/application"
	"github.com/sawpanic/nsescan/internal/config"
	"github.com/sawpanic/nsescan/internal/events"
	"github.com/sawpanic/nsescan/internal/models"
)

// requestTimeout bounds every /api request; analysis may wait on the rate governor
const requestTimeout = 30 * time.Second

// API is the part of application.Service the server exposes
type API interface {
	Analyze(ctx context.Context, symbol, timeframe string) (*models.Analysis, error)
	Fundamentals(ctx context.Context, symbol string) (*application.Fundamentals, error)
	MarketHealth(ctx context.Context) models.MarketHealth
	BullishSectors(ctx context.Context, minChange float64) ([]models.SectorMove, error)
	TrendingIndices(ctx context.Context) []models.IndexTrend
	ScanStart(mode string, full bool, symbols []string) (string, error)
	ScanStatus() models.ScanState
	ScanCancel() bool
	ScanSubscribe(h events.Handler) func()
	Opportunities(mode string, page, limit int) ([]models.Opportunity, models.Pagination, error)
	History(ctx context.Context, limit int) ([]models.ScanRun, error)
	Health() application.HealthReport
}

// Server is the JSON API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	server  *http.Server
	api     API
	metrics http.Handler
	hub     *hub
	addr    string
}

// NewServer wires routes for api. metrics may be nil, in which case /metrics is not served.
func NewServer(cfg config.HTTPConfig, api API, metrics http.Handler) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		api:     api,
		metrics: metrics,
		hub:     newHub(api),
		addr:    cfg.Addr(),
	}
	s.setupRoutes()
	// outside the router so unmatched routes and preflights get them too
	s.handler = s.requestIDMiddleware(s.requestLoggingMiddleware(s.corsMiddleware(s.router)))

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout.D(),
		WriteTimeout: cfg.WriteTimeout.D(),
		IdleTimeout:  cfg.IdleTimeout.D(),
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/ws/events", s.hub.serve).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/analyze/{symbol}", s.analyze).Methods(http.MethodGet)
	api.HandleFunc("/fundamentals/{symbol}", s.fundamentals).Methods(http.MethodGet)
	api.HandleFunc("/market/health", s.marketHealth).Methods(http.MethodGet)
	api.HandleFunc("/market/sectors", s.sectors).Methods(http.MethodGet)
	api.HandleFunc("/market/indices", s.indices).Methods(http.MethodGet)
	api.HandleFunc("/scan/status", s.scanStatus).Methods(http.MethodGet)
	api.HandleFunc("/scan/cancel", s.scanCancel).Methods(http.MethodPost)
	api.HandleFunc("/scan/history", s.history).Methods(http.MethodGet)
	api.HandleFunc("/scan/{mode}", s.scanStart).Methods(http.MethodPost)
	api.HandleFunc("/opportunities/{mode}", s.opportunities).Methods(http.MethodGet)

	for _, r := range []*mux.Router{s.router, api} {
		r.NotFoundHandler = http.HandlerFunc(s.notFound)
		r.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)
	}
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.addr
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains requests and closes websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("HTTP server shutting down")
	s.hub.closeAll()
	return s.server.Shutdown(ctx)
}

type ctxKey struct{}

// RequestID returns the id assigned to the request carrying ctx
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()[:8]
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		evt := log.Debug()
		if wrapper.statusCode >= 500 {
			evt = log.Warn()
		}
		evt.Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows local dashboards only
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// responseWrapper captures the status code for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Flush forwards to the underlying writer when it supports flushing
func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
