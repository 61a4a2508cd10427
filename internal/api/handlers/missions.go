package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/accountbook/internal/api/middleware"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/ledger"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/missions"
)

// MissionService is the subset of *missions.Service used by the handlers.
// This interface enables mocking.
type MissionService interface {
	Complete(ctx context.Context, userID string, m missions.Mission) (missions.Outcome, error)
	SetBudget(ctx context.Context, userID string, budget domain.Budget) (missions.Outcome, error)
	ClaimDailyDraw(ctx context.Context, userID string, day civil.Date) (missions.DrawResult, error)
	Redeem(ctx context.Context, userID string, r missions.Redemption) error
}

// MissionsHandler handles mission, daily draw and budget endpoints.
type MissionsHandler struct {
	service MissionService
	now     func() time.Time
}

// NewMissionsHandler creates a new missions handler.
func NewMissionsHandler(service MissionService) *MissionsHandler {
	return &MissionsHandler{service: service, now: time.Now}
}

// Complete handles POST /api/missions/complete.
func (h *MissionsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var m missions.Mission
	if !decodeJSON(w, r, &m) {
		return
	}

	ctx := r.Context()
	out, err := h.service.Complete(ctx, userID, m)
	if err != nil {
		h.fail(ctx, w, err, missions.ErrInvalidMission, "Failed to complete mission")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

// DailyDraw handles POST /api/missions/daily-draw for the server's current day.
func (h *MissionsHandler) DailyDraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	res, err := h.service.ClaimDailyDraw(ctx, userID, civil.DateOf(h.now()))
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Daily draw failed")
		middleware.WriteError(w, http.StatusBadGateway, "Daily draw failed")
		return
	}
	status := http.StatusOK
	if !res.Claimed {
		status = http.StatusConflict
	}
	middleware.WriteJSON(w, status, res)
}

// SetBudget handles POST /api/budgets.
func (h *MissionsHandler) SetBudget(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var budget domain.Budget
	if !decodeJSON(w, r, &budget) {
		return
	}

	ctx := r.Context()
	out, err := h.service.SetBudget(ctx, userID, budget)
	if err != nil {
		h.fail(ctx, w, err, missions.ErrInvalidBudget, "Failed to save budget")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

// Redeem handles POST /api/points/redeem. A balance rejected by the points
// service is reported as 409.
func (h *MissionsHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var red missions.Redemption
	if !decodeJSON(w, r, &red) {
		return
	}

	ctx := r.Context()
	err := h.service.Redeem(ctx, userID, red)
	var status *ledger.StatusError
	if errors.As(err, &status) && status.Code == http.StatusConflict {
		middleware.WriteError(w, http.StatusConflict, "Not enough points")
		return
	}
	if err != nil {
		h.fail(ctx, w, err, missions.ErrInvalidRedemption, "Failed to redeem points")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"redeemed": red.Points})
}

// fail writes 400 for validation errors and 502 for everything else.
func (h *MissionsHandler) fail(ctx context.Context, w http.ResponseWriter, err, invalid error, message string) {
	if errors.Is(err, invalid) {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	log := logger.FromContext(ctx)
	log.Error().Err(err).Msg(message)
	middleware.WriteError(w, http.StatusBadGateway, message)
}
