// Package missions awards points for completed missions and hands the
// resulting expenses and budgets to the ledger.
package missions

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/accountbook/internal/dailyflag"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/events"
	"github.com/dvloznov/accountbook/internal/ledger"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/outbox"
)

// DailyDrawAction is the daily flag consumed by ClaimDailyDraw.
const DailyDrawAction = "daily-draw"

// ErrInvalidMission is returned for missions without points or with an
// incomplete expense.
var ErrInvalidMission = errors.New("invalid mission")

// ErrInvalidBudget is returned for budgets with a bad month, no category or
// a negative amount.
var ErrInvalidBudget = errors.New("invalid budget")

// ErrInvalidRedemption is returned for redemptions without a positive
// point count or without a reason.
var ErrInvalidRedemption = errors.New("invalid redemption")

var drawTable = []int{10, 20, 30, 50, 100}

// Mission is a completed task. Expense, when set, is recorded in the ledger.
type Mission struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Points  int           `json:"points"`
	Expense *domain.Draft `json:"expense,omitempty"`
}

// Delivery tells how a draft or budget reached the ledger side.
type Delivery string

const (
	DeliveryNone      Delivery = "none"
	DeliveryPublished Delivery = "published"
	DeliveryStaged    Delivery = "staged"
)

// Outcome is the result of Complete or SetBudget.
type Outcome struct {
	Awarded  int      `json:"awarded"`
	Delivery Delivery `json:"delivery"`
}

// Redemption spends points on a reward.
type Redemption struct {
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

// DrawResult is the result of ClaimDailyDraw.
type DrawResult struct {
	Claimed bool `json:"claimed"`
	Points  int  `json:"points"`
}

// Service coordinates points, events and the outbox.
type Service struct {
	points ledger.PointsClient
	bus    *events.Bus
	outbox outbox.Store
	flags  dailyflag.Store
	draw   func() int
}

// NewService creates a service. bus may be nil, in which case every
// delivery goes through the outbox.
func NewService(points ledger.PointsClient, bus *events.Bus, store outbox.Store, flags dailyflag.Store) *Service {
	return &Service{
		points: points,
		bus:    bus,
		outbox: store,
		flags:  flags,
		draw:   func() int { return drawTable[rand.Intn(len(drawTable))] },
	}
}

// Complete awards the mission's points, then announces its expense to an
// active ledger view or stages it when none is listening.
func (s *Service) Complete(ctx context.Context, userID string, m Mission) (Outcome, error) {
	if m.Points < 0 {
		return Outcome{}, fmt.Errorf("%w: negative points", ErrInvalidMission)
	}
	var expense domain.Draft
	if m.Expense != nil {
		expense = *m.Expense
		if expense.Category == "" || expense.Date == "" || expense.Amount < 0 {
			return Outcome{}, fmt.Errorf("%w: incomplete expense", ErrInvalidMission)
		}
		if expense.Note == "" {
			expense.Note = m.Title
		}
	}
	log := logger.ForUser(logger.FromContext(ctx), userID).With().Str("mission_id", m.ID).Logger()

	out := Outcome{Delivery: DeliveryNone}
	if m.Points > 0 {
		if err := s.points.Award(ctx, userID, m.Points, "mission:"+m.ID); err != nil {
			return out, fmt.Errorf("Complete: awarding points: %w", err)
		}
		out.Awarded = m.Points
	}

	if m.Expense == nil {
		return out, nil
	}

	if s.bus != nil && s.bus.Publish(events.TopicEntrySaved.For(userID), events.EntrySaved{UserID: userID, Item: expense}) > 0 {
		out.Delivery = DeliveryPublished
		return out, nil
	}

	if _, err := s.outbox.Stage(ctx, userID, outbox.KindMission, []domain.Draft{expense}); err != nil {
		return out, fmt.Errorf("Complete: staging expense: %w", err)
	}
	log.Info().Msg("Staged mission expense for the ledger")
	out.Delivery = DeliveryStaged
	return out, nil
}

// SetBudget announces a budget or stages it when no ledger view listens.
func (s *Service) SetBudget(ctx context.Context, userID string, budget domain.Budget) (Outcome, error) {
	if _, err := domain.ParseMonth(budget.Month); err != nil {
		return Outcome{}, fmt.Errorf("SetBudget: %w: %v", ErrInvalidBudget, err)
	}
	if budget.Category == "" || budget.Amount < 0 {
		return Outcome{}, fmt.Errorf("SetBudget: %w: category %q amount %d", ErrInvalidBudget, budget.Category, budget.Amount)
	}

	if s.bus != nil && s.bus.Publish(events.TopicBudgetSaved.For(userID), events.BudgetSaved{UserID: userID, Budget: budget}) > 0 {
		return Outcome{Delivery: DeliveryPublished}, nil
	}
	if _, err := s.outbox.StageBudget(ctx, userID, budget); err != nil {
		return Outcome{}, fmt.Errorf("SetBudget: staging budget: %w", err)
	}
	return Outcome{Delivery: DeliveryStaged}, nil
}

// Redeem debits points for a reward. The points service decides whether the
// balance covers it.
func (s *Service) Redeem(ctx context.Context, userID string, r Redemption) error {
	if r.Points <= 0 {
		return fmt.Errorf("%w: points must be positive", ErrInvalidRedemption)
	}
	if r.Reason == "" {
		return fmt.Errorf("%w: missing reason", ErrInvalidRedemption)
	}
	if err := s.points.Redeem(ctx, userID, r.Points, "redeem:"+r.Reason); err != nil {
		return fmt.Errorf("Redeem: %w", err)
	}
	log := logger.ForUser(logger.FromContext(ctx), userID)
	log.Info().Int("points", r.Points).Str("reason", r.Reason).Msg("Redeemed points")
	return nil
}

// ClaimDailyDraw awards a random prize at most once per user and day. The
// flag is set before the award, so a failed award is not retried that day.
func (s *Service) ClaimDailyDraw(ctx context.Context, userID string, day civil.Date) (DrawResult, error) {
	first, err := s.flags.MarkOnce(ctx, userID, DailyDrawAction, day)
	if err != nil {
		return DrawResult{}, fmt.Errorf("ClaimDailyDraw: %w", err)
	}
	if !first {
		return DrawResult{Claimed: false}, nil
	}

	points := s.draw()
	if err := s.points.Award(ctx, userID, points, "daily-draw:"+day.String()); err != nil {
		return DrawResult{}, fmt.Errorf("ClaimDailyDraw: awarding points: %w", err)
	}
	return DrawResult{Claimed: true, Points: points}, nil
}
