// Package milestone grants one-time rewards when an account's balance
// crosses a curated threshold.
//
// A claim is checked against the live balance under the account lock, and
// the claim record plus the reward credit commit in one atomic store
// write, so a reward can never be granted twice.
package milestone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/events"
	"github.com/upspin-bets/wager-engine/internal/httpx"
	"github.com/upspin-bets/wager-engine/internal/keylock"
	"github.com/upspin-bets/wager-engine/internal/metrics"
	"github.com/upspin-bets/wager-engine/internal/model"
	"github.com/upspin-bets/wager-engine/internal/store"
)

var (
	// ErrThresholdNotMet is returned when the account balance is below the
	// milestone's required coins.
	ErrThresholdNotMet = errors.New("milestone: balance below required threshold")

	// ErrAlreadyClaimed is re-exported from the store; at most one claim
	// exists per (account, milestone) pair, ever.
	ErrAlreadyClaimed = store.ErrAlreadyClaimed
)

// Service handles milestone listing and claims.
type Service struct {
	store   store.Store
	locks   *keylock.Registry
	emitter events.Emitter
}

// NewService creates the milestone service.
func NewService(st store.Store, locks *keylock.Registry, emitter events.Emitter) *Service {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Service{store: st, locks: locks, emitter: emitter}
}

// Seed upserts the curated milestone set at startup.
func (s *Service) Seed(ctx context.Context, milestones []model.Milestone) error {
	for i := range milestones {
		if err := s.store.UpsertMilestone(ctx, &milestones[i]); err != nil {
			return fmt.Errorf("seed milestone %s: %w", milestones[i].ID, err)
		}
	}
	slog.Info("milestones seeded", "count", len(milestones))
	return nil
}

// Claim grants a milestone reward once.
//
// Under the account lock: verifies the balance threshold, then inserts the
// claim record and credits the reward in one atomic store write.
func (s *Service) Claim(ctx context.Context, accountID, milestoneID string) (decimal.Decimal, error) {
	ms, err := s.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return decimal.Zero, err
	}

	release, err := s.locks.Acquire(ctx, keylock.AccountKey(accountID))
	if err != nil {
		metrics.ContentionErrors.Inc()
		return decimal.Zero, err
	}
	defer release()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if account.Balance.LessThan(ms.RequiredCoins) {
		return decimal.Zero, ErrThresholdNotMet
	}

	now := time.Now().UTC()
	claim := &model.Claim{
		AccountID:   accountID,
		MilestoneID: milestoneID,
		ClaimedAt:   now,
	}
	reward := &model.LedgerEntry{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Kind:      model.EntryMilestoneReward,
		Amount:    ms.RewardCoins,
		RefID:     milestoneID,
		CreatedAt: now,
	}
	balance, err := s.store.InsertClaimWithReward(ctx, claim, reward)
	if err != nil {
		return decimal.Zero, err
	}

	metrics.MilestoneClaims.Inc()
	s.emitter.Emit(events.Event{
		Type:        events.TypeMilestoneClaimed,
		AccountID:   accountID,
		MilestoneID: milestoneID,
		Amount:      ms.RewardCoins.String(),
		Balance:     balance.String(),
		At:          now,
	})
	s.emitter.Emit(events.Event{
		Type:      events.TypeBalanceChanged,
		AccountID: accountID,
		Amount:    ms.RewardCoins.String(),
		Balance:   balance.String(),
		At:        now,
	})
	slog.Info("milestone claimed",
		"account", accountID,
		"milestone", milestoneID,
		"reward", ms.RewardCoins.String(),
	)
	return ms.RewardCoins, nil
}

// --- HTTP Handlers ---

// ClaimRequest is the JSON body for POST /api/v1/milestones/{milestoneID}/claim.
type ClaimRequest struct {
	AccountID string `json:"account_id"`
}

// ClaimResponse is the JSON body returned from a successful claim.
type ClaimResponse struct {
	MilestoneID string          `json:"milestone_id"`
	Reward      decimal.Decimal `json:"reward"`
}

// ListMilestones handles GET /api/v1/milestones
func (s *Service) ListMilestones(w http.ResponseWriter, r *http.Request) {
	milestones, err := s.store.ListMilestones(r.Context())
	if err != nil {
		httpx.WriteError(w, "failed to list milestones", http.StatusInternalServerError)
		return
	}
	if milestones == nil {
		milestones = []model.Milestone{}
	}
	httpx.WriteJSON(w, http.StatusOK, milestones)
}

// GetAccountClaims handles GET /api/v1/accounts/{accountID}/claims
func (s *Service) GetAccountClaims(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := r.Context()

	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		httpx.WriteError(w, "account not found", http.StatusNotFound)
		return
	}

	claims, err := s.store.ClaimsByAccount(ctx, accountID)
	if err != nil {
		httpx.WriteError(w, "failed to load claims", http.StatusInternalServerError)
		return
	}
	if claims == nil {
		claims = []model.Claim{}
	}
	httpx.WriteJSON(w, http.StatusOK, claims)
}

// ClaimMilestone handles POST /api/v1/milestones/{milestoneID}/claim
func (s *Service) ClaimMilestone(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		httpx.WriteError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	milestoneID := chi.URLParam(r, "milestoneID")
	reward, err := s.Claim(r.Context(), req.AccountID, milestoneID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			httpx.WriteError(w, "not found", http.StatusNotFound)
		case errors.Is(err, ErrThresholdNotMet):
			httpx.WriteError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, ErrAlreadyClaimed):
			httpx.WriteError(w, "milestone already claimed", http.StatusConflict)
		case errors.Is(err, keylock.ErrContention):
			httpx.WriteContention(w)
		default:
			httpx.WriteError(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, ClaimResponse{MilestoneID: milestoneID, Reward: reward})
}
