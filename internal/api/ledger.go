package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/ledger"
)

// LedgerAPI provides read-only access to the ChoiceLog
type LedgerAPI struct {
	store *ledger.Store
	clock core.Clock
}

// NewLedgerAPI creates a new ledger API
func NewLedgerAPI(store *ledger.Store, clock core.Clock) *LedgerAPI {
	return &LedgerAPI{store: store, clock: clock}
}

// RegisterRoutes registers ledger API routes (all read-only)
func (api *LedgerAPI) RegisterRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/", api.handleListEntries)                        // GET /api/v1/ledger
		r.Get("/summary", api.handleGetSummary)                  // GET /api/v1/ledger/summary
		r.Get("/verify", api.handleVerifyChain)                  // GET /api/v1/ledger/verify
		r.Get("/entry/{id}", api.handleGetEntry)                 // GET /api/v1/ledger/entry/{id}
		r.Get("/entity/{type}/{id}", api.handleGetEntityHistory) // GET /api/v1/ledger/entity/{type}/{id}
	})
}

// handleListEntries returns ledger entries with optional filtering
// GET /api/v1/ledger?action=&actor=&user_id=&day=&entity_type=&entity_id=&limit=&offset=
func (api *LedgerAPI) handleListEntries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opts := ledger.QueryOptions{
		Action:     query.Get("action"),
		Actor:      query.Get("actor"),
		UserID:     core.UserID(query.Get("user_id")),
		EntityType: query.Get("entity_type"),
		EntityID:   query.Get("entity_id"),
		Limit:      100,
	}

	if day := query.Get("day"); day != "" {
		if d, err := strconv.Atoi(day); err == nil && d > 0 {
			opts.DayIndex = d
		}
	}
	if limit := query.Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			opts.Limit = l
		}
	}
	if offset := query.Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			opts.Offset = o
		}
	}

	entries, err := api.store.Query(r.Context(), opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	count, _ := api.store.Count(r.Context())

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries":       entries,
		"count":         len(entries),
		"total_entries": count,
		"limit":         opts.Limit,
		"offset":        opts.Offset,
	})
}

// handleGetSummary returns ledger statistics
// GET /api/v1/ledger/summary
func (api *LedgerAPI) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := api.store.GetSummary(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// handleVerifyChain verifies the integrity of the ledger chain
// GET /api/v1/ledger/verify
func (api *LedgerAPI) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	err := api.store.VerifyChain(r.Context())

	result := map[string]interface{}{
		"chain_valid": err == nil,
		"verified_at": api.clock.Now(),
	}

	if err != nil {
		result["error"] = err.Error()
		var chainErr *ledger.ChainError
		if errors.As(err, &chainErr) {
			result["error_type"] = chainErr.Type
			result["entry_num"] = chainErr.EntryNum
			result["entry_id"] = chainErr.EntryID
		}
	}

	count, _ := api.store.Count(r.Context())
	result["total_entries"] = count

	respondJSON(w, http.StatusOK, result)
}

// handleGetEntry returns a single ledger entry by ID
// GET /api/v1/ledger/entry/{id}
func (api *LedgerAPI) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing entry ID")
		return
	}

	entry, err := api.store.GetByID(r.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		respondError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// handleGetEntityHistory returns all ledger entries for a specific entity
// GET /api/v1/ledger/entity/{type}/{id}
func (api *LedgerAPI) handleGetEntityHistory(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "type")
	entityID := chi.URLParam(r, "id")

	if entityType == "" || entityID == "" {
		respondError(w, http.StatusBadRequest, "missing entity type or ID")
		return
	}

	entries, err := api.store.GetEntityHistory(r.Context(), entityType, entityID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   entityID,
		"entries":     entries,
		"count":       len(entries),
	})
}
