package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/daybreak/internal/core"
)

// handleGetArcState returns the day's arc view
// GET /api/v1/users/{userID}/days/{day}/arcs?signal=money:money,work
func (s *Server) handleGetArcState(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	state, err := s.arcs.GetTodayArcState(r.Context(), userID, day, parseSignals(r.URL.Query()["signal"]))
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// POST /api/v1/users/{userID}/days/{day}/offers/{offerID}/accept
func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	offerID := core.OfferID(chi.URLParam(r, "offerID"))
	inst, err := s.arcs.AcceptOffer(r.Context(), userID, offerID, day)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, inst)
}

// POST /api/v1/users/{userID}/days/{day}/offers/{offerID}/dismiss
func (s *Server) handleDismissOffer(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	offerID := core.OfferID(chi.URLParam(r, "offerID"))
	offer, err := s.arcs.DismissOffer(r.Context(), userID, offerID, day)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, offer)
}

type resolveRequest struct {
	Option string `json:"option"`
}

// POST /api/v1/users/{userID}/days/{day}/instances/{instanceID}/resolve {"option": "pay"}
func (s *Server) handleResolveStep(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	if req.Option == "" {
		s.respondEngineError(w, r, core.InvalidInput("option is required"))
		return
	}
	instanceID := core.InstanceID(chi.URLParam(r, "instanceID"))
	res, err := s.arcs.ResolveStep(r.Context(), userID, instanceID, req.Option, day)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// POST /api/v1/users/{userID}/days/{day}/instances/{instanceID}/defer
func (s *Server) handleDeferStep(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	instanceID := core.InstanceID(chi.URLParam(r, "instanceID"))
	inst, err := s.arcs.DeferStep(r.Context(), userID, instanceID, day)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inst)
}
