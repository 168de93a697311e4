// Package api provides the HTTP API server for Daybreak.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quantumlife/daybreak/internal/arcs"
	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/dailyrun"
	"github.com/quantumlife/daybreak/internal/ledger"
	"github.com/quantumlife/daybreak/internal/logging"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	// Engines
	daily *dailyrun.Orchestrator
	arcs  *arcs.Engine

	// Ledger (audit trail)
	ledgerStore *ledger.Store

	caps  dailyrun.Capabilities
	clock core.Clock
	log   *logging.Logger
}

// Config for the server
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string

	Daily  *dailyrun.Orchestrator
	Arcs   *arcs.Engine
	Ledger *ledger.Store

	// Capabilities is the feature snapshot handed to every call.
	Capabilities dailyrun.Capabilities
	Clock        core.Clock
	Log          *logging.Logger
}

// New creates a new API server
func New(cfg Config) *Server {
	clock := cfg.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}
	s := &Server{
		daily:       cfg.Daily,
		arcs:        cfg.Arcs,
		ledgerStore: cfg.Ledger,
		caps:        cfg.Capabilities,
		clock:       clock,
		log:         cfg.Log.WithField("component", "api"),
	}

	s.setupRouter(cfg.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures all routes
func (s *Server) setupRouter(origins []string) {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/users/{userID}", func(r chi.Router) {
			// Daily run
			r.Get("/today", s.handleGetToday)
			r.Route("/days/{day}", func(r chi.Router) {
				r.Post("/allocation", s.handleSubmitAllocation)
				r.Post("/posture", s.handleSelectPosture)
				r.Post("/skills", s.handleAllocateSkillPoints)
				r.Post("/storylets", s.handleStoryletChoice)
				r.Post("/reflection", s.handleReflection)
				r.Post("/microtask", s.handleMicrotask)
				r.Post("/social", s.handleSocialBoost)
				r.Post("/fun-pulse", s.handleFunPulse)
				r.Post("/complete", s.handleComplete)

				// Arcs
				r.Get("/arcs", s.handleGetArcState)
				r.Post("/offers/{offerID}/accept", s.handleAcceptOffer)
				r.Post("/offers/{offerID}/dismiss", s.handleDismissOffer)
				r.Post("/instances/{instanceID}/resolve", s.handleResolveStep)
				r.Post("/instances/{instanceID}/defer", s.handleDeferStep)
			})
		})

		// Ledger API (read-only audit trail)
		if s.ledgerStore != nil {
			NewLedgerAPI(s.ledgerStore, s.clock).RegisterRoutes(r)
		}
	})

	s.router = r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("API server listening on http://%s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind core.Kind) int {
	switch kind {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindInvalidState:
		return http.StatusConflict
	case core.KindExpired:
		return http.StatusGone
	case core.KindBudgetExhausted:
		return http.StatusTooManyRequests
	case core.KindInsufficientResources:
		return http.StatusUnprocessableEntity
	case core.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondEngineError writes err with the status of its kind. Store
// failures are logged and answered without internals.
func (s *Server) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		s.log.WithFields(map[string]interface{}{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed: %v", err)
		respondError(w, status, "something went wrong, try again")
		return
	}

	body := map[string]interface{}{
		"error": err.Error(),
		"kind":  kind,
	}
	var e *core.Error
	if errors.As(err, &e) && e.Resource != "" {
		body["resource"] = e.Resource
	}
	respondJSON(w, status, body)
}

// --- Request helpers ---

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.InvalidInput("invalid request body: %v", err)
	}
	return nil
}

func userParam(r *http.Request) (core.UserID, error) {
	id := chi.URLParam(r, "userID")
	if id == "" {
		return "", core.InvalidInput("missing user ID")
	}
	return core.UserID(id), nil
}

func dayParam(r *http.Request) (int, error) {
	day, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil || day < 1 {
		return 0, core.InvalidInput("day must be a positive integer, got %q", chi.URLParam(r, "day"))
	}
	return day, nil
}

// userDay reads the {userID} and {day} path parameters.
func userDay(r *http.Request) (core.UserID, int, error) {
	userID, err := userParam(r)
	if err != nil {
		return "", 0, err
	}
	day, err := dayParam(r)
	if err != nil {
		return "", 0, err
	}
	return userID, day, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   s.clock.Now(),
	})
}
