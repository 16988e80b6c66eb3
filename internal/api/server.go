// Package api provides the HTTP API for lifeops.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quantumlife/lifeops/internal/bridge"
	"github.com/quantumlife/lifeops/internal/commands"
	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/eventlog"
	"github.com/quantumlife/lifeops/internal/ledger"
	"github.com/quantumlife/lifeops/internal/logging"
	"github.com/quantumlife/lifeops/internal/proactive"
	"github.com/quantumlife/lifeops/internal/projection"
	"github.com/quantumlife/lifeops/internal/rules"
	"github.com/quantumlife/lifeops/internal/telemetry"
)

// DefaultRequestTimeout bounds non-streaming requests
const DefaultRequestTimeout = 30 * time.Second

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// Server is the HTTP API server
type Server struct {
	router     chi.Router
	httpServer *http.Server

	projection *projection.Store
	hub        *bridge.Hub
	events     *eventlog.Log
	ledger     *ledger.Store
	rules      *rules.Engine
	commands   *commands.Service
	nudges     *proactive.Service
	metrics    *telemetry.Metrics

	limiter   *RateLimiter
	heartbeat time.Duration
	origins   []string
	timeout   time.Duration
	version   string
	ping      func(ctx context.Context) error
	log       *logging.Logger
}

// Config for the API server
type Config struct {
	Host           string
	Port           int
	CORSOrigins    []string
	Heartbeat      time.Duration
	CommandRate    float64
	CommandBurst   int
	RequestTimeout time.Duration
	Version        string

	Projection *projection.Store
	Hub        *bridge.Hub
	Events     *eventlog.Log
	Ledger     *ledger.Store // optional; nil when running in memory
	Rules      *rules.Engine
	Commands   *commands.Service
	Nudges     *proactive.Service // optional
	Metrics    *telemetry.Metrics

	// Ping reports storage health for /health.
	Ping func(ctx context.Context) error
}

// New creates a new API server
func New(cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	s := &Server{
		projection: cfg.Projection,
		hub:        cfg.Hub,
		events:     cfg.Events,
		ledger:     cfg.Ledger,
		rules:      cfg.Rules,
		commands:   cfg.Commands,
		nudges:     cfg.Nudges,
		metrics:    cfg.Metrics,
		limiter:    NewRateLimiter(cfg.CommandRate, cfg.CommandBurst),
		heartbeat:  cfg.Heartbeat,
		origins:    cfg.CORSOrigins,
		timeout:    cfg.RequestTimeout,
		version:    cfg.Version,
		ping:       cfg.Ping,
		log:        logging.For("api"),
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Streams stay open; per-request deadlines come from the Timeout
		// middleware on the non-streaming routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// Live streams are exempt from the request timeout
		r.Get("/bridge/stream", bridge.ServeSSE(s.hub, s.heartbeat))
		r.Get("/ws", bridge.ServeWS(s.hub, bridge.WSConfig{
			Heartbeat:   s.heartbeat,
			CheckOrigin: s.checkOrigin,
		}))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.timeout))

			r.Get("/health", s.handleHealth)

			// Bridge snapshots
			r.Get("/bridge/overview", s.handleOverview)
			r.Get("/bridge/queue", s.handleQueue)
			r.Get("/bridge/context/{id}", s.handleContext)

			// Commands
			r.With(s.limiter.Middleware).Post("/commands", s.handleSubmitCommand)
			r.Post("/impact/preview", s.handlePreview)

			// Events
			r.Get("/events", s.handleListEvents)
			r.Get("/events/verify", s.handleVerifyEvents)
			r.Get("/events/summary", s.handleEventSummary)

			// Rules
			r.Get("/rules", s.handleListRules)
			r.Post("/rules/{id}/dry-run", s.handleDryRun)

			// Nudges
			r.Get("/nudges", s.handleListNudges)
			r.Post("/nudges/{id}/dismiss", s.handleDismissNudge)

			// Simulation
			r.Route("/sim", func(r chi.Router) {
				r.Post("/run", s.handleSimRun)
				r.Post("/montecarlo", s.handleMonteCarlo)
				r.Post("/sensitivity", s.handleSensitivity)
				r.Post("/apply", s.handleApply)
			})
		})
	})

	s.router = r
}

// checkOrigin applies the CORS allow list to WebSocket upgrades
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.log.Info("API server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. Open streams are closed by
// closing the hub first.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// --- Response helpers ---

type errorResponse struct {
	Error string    `json:"error"`
	Kind  core.Kind `json:"kind"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Debug("Failed to write response")
	}
}

// respondError maps the error kind to a status code
func (s *Server) respondError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("Request failed")
		msg = "internal error"
	}
	s.respondJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindInvalid:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	case core.KindUnauthorized:
		return http.StatusUnauthorized
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into v. Failures are KindInvalid.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return core.E(core.KindInvalid, "api.decode", fmt.Errorf("%w: %v", core.ErrInvalidInput, err))
	}
	return nil
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
	}
	if s.hub != nil {
		resp["clients"] = s.hub.Clients()
	}
	if s.events != nil {
		resp["events"] = s.events.Len()
	}
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["storage"] = err.Error()
			s.respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp["storage"] = "ok"
	}
	s.respondJSON(w, http.StatusOK, resp)
}
