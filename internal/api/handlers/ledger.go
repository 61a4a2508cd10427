package handlers

import (
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/accountbook/internal/api/middleware"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/gorilla/mux"
)

// LedgerHandler serves the per-user ledger view.
type LedgerHandler struct {
	sessions Sessions
	now      func() time.Time
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(sessions Sessions) *LedgerHandler {
	return &LedgerHandler{sessions: sessions, now: time.Now}
}

// GetLedger handles GET /api/ledger?month=YYYY-MM. It activates the user's
// book for the month, which first migrates staged drafts, and returns its entries.
func (h *LedgerHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	month := domain.MonthOf(civil.DateOf(h.now()))
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := domain.ParseMonth(raw)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		month = parsed
	}

	book := h.sessions.Session(userID).Book
	report, err := book.Activate(ctx, month)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("month", month.String()).Msg("Failed to load ledger")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to load ledger")
		return
	}

	entries := book.Entries()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"month":     month.String(),
		"entries":   entries,
		"count":     len(entries),
		"migration": report,
	})
}

// Deactivate handles POST /api/ledger/deactivate.
func (h *LedgerHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.sessions.Session(userID).Book.Deactivate()
	w.WriteHeader(http.StatusNoContent)
}

// UpdateEntry handles PUT /api/ledger/entries/{id}.
func (h *LedgerHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var entry domain.LedgerEntry
	if !decodeJSON(w, r, &entry) {
		return
	}
	entry.ID = mux.Vars(r)["id"]
	if entry.Category == "" || entry.Amount < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "category and a non-negative amount are required")
		return
	}
	if _, err := civil.ParseDate(entry.Date); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	ctx := r.Context()
	if err := h.sessions.Session(userID).Book.Update(ctx, entry); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to update entry")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to update entry")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, entry)
}

// DeleteEntry handles DELETE /api/ledger/entries/{id}.
func (h *LedgerHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if err := h.sessions.Session(userID).Book.Delete(ctx, id); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("entry_id", id).Msg("Failed to delete entry")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to delete entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
