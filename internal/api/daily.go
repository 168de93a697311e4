package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/quantumlife/daybreak/internal/arcs"
	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/dailyrun"
)

// handleGetToday returns the daily run for a calendar date
// GET /api/v1/users/{userID}/today?date=2026-03-14&signal=money:money,work
func (s *Server) handleGetToday(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}

	date := s.clock.Now()
	if v := r.URL.Query().Get("date"); v != "" {
		date, err = time.Parse(core.DateLayout, v)
		if err != nil {
			s.respondEngineError(w, r, core.InvalidInput("date must look like 2006-01-02, got %q", v))
			return
		}
	}

	dr, err := s.daily.GetOrCreateDailyRun(r.Context(), userID, date, dailyrun.Options{
		Capabilities: s.caps,
		Signals:      parseSignals(r.URL.Query()["signal"]),
	})
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dr)
}

// parseSignals reads "family:tag1,tag2" values.
func parseSignals(values []string) arcs.Signals {
	var sig arcs.Signals
	for _, v := range values {
		name, tags, ok := strings.Cut(v, ":")
		if !ok || name == "" || tags == "" {
			continue
		}
		sig.Families = append(sig.Families, arcs.BiasFamily{
			Name: name,
			Tags: strings.Split(tags, ","),
		})
	}
	return sig
}

// handleSubmitAllocation stores the day's time allocation
// POST /api/v1/users/{userID}/days/{day}/allocation {"study": 40, ...}
func (s *Server) handleSubmitAllocation(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	var alloc core.Allocation
	if err := decodeJSON(r, &alloc); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	res, err := s.daily.SubmitAllocation(r.Context(), userID, day, alloc)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type postureRequest struct {
	Posture string `json:"posture"`
}

// POST /api/v1/users/{userID}/days/{day}/posture {"posture": "steady"}
func (s *Server) handleSelectPosture(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	var req postureRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	if err := s.daily.SelectPosture(r.Context(), userID, day, req.Posture); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"posture": req.Posture})
}

type skillsRequest struct {
	Points int `json:"points"`
}

// POST /api/v1/users/{userID}/days/{day}/skills {"points": 2}
func (s *Server) handleAllocateSkillPoints(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	var req skillsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	bank, err := s.daily.AllocateSkillPoints(r.Context(), userID, day, req.Points)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bank)
}

// POST /api/v1/users/{userID}/days/{day}/storylets {"storylet_id": "...", "choice_key": "..."}
func (s *Server) handleStoryletChoice(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	var choice dailyrun.StoryletChoice
	if err := decodeJSON(r, &choice); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	res, err := s.daily.RecordStoryletChoice(r.Context(), userID, day, choice)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type textRequest struct {
	Text string `json:"text"`
}

// POST /api/v1/users/{userID}/days/{day}/reflection {"text": "..."}
func (s *Server) handleReflection(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	if err := s.daily.RecordReflection(r.Context(), userID, day, req.Text); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/users/{userID}/days/{day}/microtask {"text": "done"}
func (s *Server) handleMicrotask(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	var req textRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	if err := s.daily.RecordMicrotask(r.Context(), userID, day, s.caps, req.Text); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/users/{userID}/days/{day}/social
func (s *Server) handleSocialBoost(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	res, err := s.daily.RecordSocialBoost(r.Context(), userID, day, s.caps)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type funPulseRequest struct {
	Rating int `json:"rating"`
}

// POST /api/v1/users/{userID}/days/{day}/fun-pulse {"rating": 4}
func (s *Server) handleFunPulse(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	var req funPulseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	if err := s.daily.RecordFunPulse(r.Context(), userID, day, s.caps, req.Rating); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/users/{userID}/days/{day}/complete
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	userID, day, err := userDay(r)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	if err := s.daily.MarkComplete(r.Context(), userID, day); err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
