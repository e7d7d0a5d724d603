// Package wager implements the wager engine: opening positions against a
// market and the ledger, closing them at current odds, and settling them
// at market resolution.
//
// The stake moves exactly once in each direction over a wager's lifetime:
// debited at open, credited back at close or settlement — never both,
// never neither. Every mutation runs under the account and market entity
// locks, acquired in the fixed global order.
//
// All monetary values use shopspring/decimal — never float64 for money.
package wager

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
	"github.com/upspin-bets/wager-engine/internal/ledger"
	"github.com/upspin-bets/wager-engine/internal/limits"
	"github.com/upspin-bets/wager-engine/internal/market"
	"github.com/upspin-bets/wager-engine/internal/metrics"
	"github.com/upspin-bets/wager-engine/internal/model"
	"github.com/upspin-bets/wager-engine/internal/store"
)

var (
	// ErrInvalidStake is returned when a stake is not a whole coin amount
	// of at least 1.
	ErrInvalidStake = errors.New("wager: stake must be a whole coin amount >= 1")

	// ErrInvalidSide is returned when the side is not win or fall.
	ErrInvalidSide = errors.New("wager: side must be win or fall")

	// ErrAlreadyClosed is returned when closing a wager that is no longer
	// active.
	ErrAlreadyClosed = errors.New("wager: already closed")

	// ErrAccountInactive is returned when a deactivated account tries to
	// open a wager.
	ErrAccountInactive = errors.New("wager: account is deactivated")
)

// Service is the wager engine.
type Service struct {
	store   store.Store
	ledger  *ledger.Service
	markets *market.Service
	locks   *keylock.Registry
	limiter *limits.StakeLimiter
	emitter events.Emitter
}

// NewService creates the wager engine.
func NewService(st store.Store, lg *ledger.Service, markets *market.Service, locks *keylock.Registry, limiter *limits.StakeLimiter, emitter events.Emitter) *Service {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Service{
		store:   st,
		ledger:  lg,
		markets: markets,
		locks:   locks,
		limiter: limiter,
		emitter: emitter,
	}
}

// validStake reports whether stake is a whole coin amount of at least 1.
func validStake(stake decimal.Decimal) bool {
	return stake.GreaterThanOrEqual(decimal.NewFromInt(1)) && stake.Equal(stake.Truncate(0))
}

// Open places a stake on one side of a market.
//
// Under the account and market locks: verifies the market is open, checks
// exposure limits, debits the stake, records the wager at the market's
// current odds, adds the stake to the side's volume, and republishes odds.
// A failed debit aborts the whole operation with no effect.
func (s *Service) Open(ctx context.Context, accountID, marketID string, side model.WagerSide, stake decimal.Decimal) (*model.Wager, error) {
	if !side.IsValid() {
		return nil, ErrInvalidSide
	}
	if !validStake(stake) {
		return nil, ErrInvalidStake
	}

	release, err := s.locks.AcquirePair(ctx, keylock.AccountKey(accountID), keylock.MarketKey(marketID))
	if err != nil {
		metrics.ContentionErrors.Inc()
		return nil, err
	}
	defer release()

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.MarketOpen {
		return nil, market.ErrMarketClosed
	}

	if s.limiter != nil {
		exposures, err := s.activeExposures(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if err := s.limiter.Check(marketID, stake, exposures); err != nil {
			metrics.LimitRejections.Inc()
			return nil, err
		}
	}

	now := time.Now().UTC()
	oddsAtOpen := m.Odds(side)
	w := &model.Wager{
		ID:              uuid.New().String(),
		AccountID:       accountID,
		MarketID:        marketID,
		Side:            side,
		Stake:           stake,
		OddsAtOpen:      oddsAtOpen,
		PotentialReturn: stake.Mul(oddsAtOpen),
		Status:          model.WagerActive,
		OpenedAt:        now,
	}

	// The main exactly-once guarantee: the debit commits first, and any
	// later failure refunds it before returning.
	if _, err := s.ledger.Debit(ctx, accountID, stake, model.EntryWagerOpen, w.ID); err != nil {
		return nil, err
	}
	if err := s.store.InsertWager(ctx, w); err != nil {
		s.refund(ctx, accountID, stake, w.ID)
		return nil, fmt.Errorf("insert wager: %w", err)
	}

	if err := market.RecordVolume(m, side, stake); err != nil {
		return nil, fmt.Errorf("record volume: %w", err)
	}
	if err := s.markets.PublishState(ctx, m); err != nil {
		return nil, err
	}
	if err := s.store.IncrementWagerCount(ctx, accountID); err != nil {
		return nil, err
	}

	metrics.WagersOpened.WithLabelValues(string(side)).Inc()
	s.emitter.Emit(events.Event{
		Type:      events.TypeWagerOpened,
		AccountID: accountID,
		MarketID:  marketID,
		WagerID:   w.ID,
		Side:      string(side),
		Amount:    stake.String(),
		At:        now,
	})
	slog.Info("wager opened",
		"wager", w.ID,
		"account", accountID,
		"market", marketID,
		"side", side,
		"stake", stake.String(),
		"odds", oddsAtOpen.String(),
	)
	return w, nil
}

// refund compensates an Open whose post-debit step failed.
func (s *Service) refund(ctx context.Context, accountID string, stake decimal.Decimal, wagerID string) {
	if _, err := s.ledger.Credit(ctx, accountID, stake, model.EntryAdjustment, wagerID); err != nil {
		slog.Error("refund failed, ledger requires adjustment",
			"account", accountID,
			"wager", wagerID,
			"stake", stake.String(),
			"err", err,
		)
	}
}

// activeExposures sums the account's active stake per market.
func (s *Service) activeExposures(ctx context.Context, accountID string) (map[string]decimal.Decimal, error) {
	wagers, err := s.store.WagersByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	exposures := make(map[string]decimal.Decimal)
	for _, w := range wagers {
		if w.Status == model.WagerActive {
			exposures[w.MarketID] = exposures[w.MarketID].Add(w.Stake)
		}
	}
	return exposures, nil
}

// Close cashes out an active wager at the market's current odds.
//
// P/L is mirrored across the sides: a win-side wager gains when win odds
// rise after open, a fall-side wager gains when fall odds drop back. The
// payout is capped below at zero, so losses never exceed the stake.
func (s *Service) Close(ctx context.Context, wagerID, accountID string) (*model.Wager, decimal.Decimal, error) {
	w, err := s.store.GetWager(ctx, wagerID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if w.AccountID != accountID {
		// Do not reveal other accounts' wager ids.
		return nil, decimal.Zero, store.ErrNotFound
	}

	release, err := s.locks.AcquirePair(ctx, keylock.AccountKey(w.AccountID), keylock.MarketKey(w.MarketID))
	if err != nil {
		metrics.ContentionErrors.Inc()
		return nil, decimal.Zero, err
	}
	defer release()

	// Re-read under the lock; a concurrent close or settlement may have
	// won the race.
	w, err = s.store.GetWager(ctx, wagerID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if w.Status != model.WagerActive {
		return nil, decimal.Zero, ErrAlreadyClosed
	}

	m, err := s.store.GetMarket(ctx, w.MarketID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if m.Status != model.MarketOpen {
		// Resolution is in flight or done; settlement pays this wager out.
		return nil, decimal.Zero, market.ErrMarketClosed
	}

	current := m.Odds(w.Side)
	var pnl decimal.Decimal
	if w.Side == model.SideWin {
		pnl = w.Stake.Mul(current.Sub(w.OddsAtOpen))
	} else {
		pnl = w.Stake.Mul(w.OddsAtOpen.Sub(current))
	}
	payout := w.Stake.Add(pnl)
	if payout.IsNegative() {
		payout = decimal.Zero
	}

	if payout.IsPositive() {
		if _, err := s.ledger.Credit(ctx, w.AccountID, payout, model.EntryWagerClose, w.ID); err != nil {
			return nil, decimal.Zero, err
		}
	}

	now := time.Now().UTC()
	realized := payout.Sub(w.Stake)
	w.Status = model.WagerClosed
	w.ClosedAt = &now
	w.RealizedPnL = &realized
	if err := s.store.UpdateWager(ctx, w); err != nil {
		return nil, decimal.Zero, fmt.Errorf("update wager: %w", err)
	}

	if err := market.ReleaseVolume(m, w.Side, w.Stake); err != nil {
		return nil, decimal.Zero, fmt.Errorf("release volume: %w", err)
	}
	if err := s.markets.PublishState(ctx, m); err != nil {
		return nil, decimal.Zero, err
	}

	metrics.WagersClosed.WithLabelValues(string(w.Side)).Inc()
	s.emitter.Emit(events.Event{
		Type:      events.TypeWagerClosed,
		AccountID: w.AccountID,
		MarketID:  w.MarketID,
		WagerID:   w.ID,
		Side:      string(w.Side),
		Amount:    payout.String(),
		At:        now,
	})
	slog.Info("wager closed",
		"wager", w.ID,
		"account", w.AccountID,
		"payout", payout.String(),
		"pnl", realized.String(),
	)
	return w, payout, nil
}

// SettleMarket settles every active wager on a resolved market: a wager on
// the winning side is credited stake × oddsAtOpen, the losing side gets
// nothing. Wagers already closed by their owner are skipped. Called by the
// market service after the resolution transition commits.
func (s *Service) SettleMarket(ctx context.Context, m *model.Market, outcome model.Outcome) error {
	wagers, err := s.store.ActiveWagersByMarket(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("list active wagers: %w", err)
	}

	var failed int
	for i := range wagers {
		if err := s.settleOne(ctx, m, &wagers[i], outcome); err != nil {
			failed++
			slog.Error("wager settlement failed",
				"wager", wagers[i].ID,
				"market", m.ID,
				"err", err,
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("settle market %s: %d of %d wagers failed", m.ID, failed, len(wagers))
	}

	slog.Info("market settled",
		"market", m.ID,
		"outcome", outcome,
		"wagers", len(wagers),
	)
	return nil
}

func (s *Service) settleOne(ctx context.Context, m *model.Market, w *model.Wager, outcome model.Outcome) error {
	release, err := s.locks.AcquirePair(ctx, keylock.AccountKey(w.AccountID), keylock.MarketKey(m.ID))
	if err != nil {
		metrics.ContentionErrors.Inc()
		return err
	}
	defer release()

	// Idempotent per wager: skip anything no longer active.
	w, err = s.store.GetWager(ctx, w.ID)
	if err != nil {
		return err
	}
	if w.Status != model.WagerActive {
		return nil
	}

	now := time.Now().UTC()
	var payout, realized decimal.Decimal
	if outcome.Matches(w.Side) {
		payout = w.Stake.Mul(w.OddsAtOpen)
		if _, err := s.ledger.Credit(ctx, w.AccountID, payout, model.EntryWagerClose, w.ID); err != nil {
			return err
		}
		realized = payout.Sub(w.Stake)
		w.Status = model.WagerSettledWon
		metrics.WagersSettled.WithLabelValues("won").Inc()
	} else {
		realized = w.Stake.Neg()
		w.Status = model.WagerSettledLost
		metrics.WagersSettled.WithLabelValues("lost").Inc()
	}
	w.ClosedAt = &now
	w.RealizedPnL = &realized
	if err := s.store.UpdateWager(ctx, w); err != nil {
		return fmt.Errorf("update wager: %w", err)
	}

	s.emitter.Emit(events.Event{
		Type:      events.TypeWagerClosed,
		AccountID: w.AccountID,
		MarketID:  w.MarketID,
		WagerID:   w.ID,
		Side:      string(w.Side),
		Amount:    payout.String(),
		At:        now,
	})
	return nil
}

// --- HTTP Handlers ---

// OpenRequest is the JSON body for POST /api/v1/wagers.
type OpenRequest struct {
	AccountID string          `json:"account_id"`
	MarketID  string          `json:"market_id"`
	Side      model.WagerSide `json:"side"`
	Stake     decimal.Decimal `json:"stake"`
}

// CloseRequest is the JSON body for POST /api/v1/wagers/{wagerID}/close.
type CloseRequest struct {
	AccountID string `json:"account_id"`
}

// CloseResponse is the JSON body returned from a close.
type CloseResponse struct {
	Wager  *model.Wager    `json:"wager"`
	Payout decimal.Decimal `json:"payout"`
}

// OpenWager handles POST /api/v1/wagers
func (s *Service) OpenWager(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" || req.MarketID == "" {
		httpx.WriteError(w, "account_id and market_id are required", http.StatusBadRequest)
		return
	}

	wg, err := s.Open(r.Context(), req.AccountID, req.MarketID, req.Side, req.Stake)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, wg)
}

// CloseWager handles POST /api/v1/wagers/{wagerID}/close
func (s *Service) CloseWager(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		httpx.WriteError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	wg, payout, err := s.Close(r.Context(), chi.URLParam(r, "wagerID"), req.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, CloseResponse{Wager: wg, Payout: payout})
}

// GetAccountWagers handles GET /api/v1/accounts/{accountID}/wagers
// Returns the account's wagers, newest first; ?status= filters.
func (s *Service) GetAccountWagers(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := r.Context()

	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		httpx.WriteError(w, "account not found", http.StatusNotFound)
		return
	}

	wagers, err := s.store.WagersByAccount(ctx, accountID)
	if err != nil {
		httpx.WriteError(w, "failed to load wagers", http.StatusInternalServerError)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := []model.Wager{}
		for _, wg := range wagers {
			if string(wg.Status) == status {
				filtered = append(filtered, wg)
			}
		}
		wagers = filtered
	}
	if wagers == nil {
		wagers = []model.Wager{}
	}

	httpx.WriteJSON(w, http.StatusOK, wagers)
}

// writeDomainError maps wager engine errors onto the HTTP surface.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidStake), errors.Is(err, ErrInvalidSide):
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrInsufficientFunds):
		httpx.WriteError(w, "insufficient funds", http.StatusPaymentRequired)
	case errors.Is(err, market.ErrMarketClosed),
		errors.Is(err, ErrAlreadyClosed),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, limits.ErrMarketExposureExceeded),
		errors.Is(err, limits.ErrTotalExposureExceeded):
		httpx.WriteError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, keylock.ErrContention):
		httpx.WriteContention(w)
	default:
		httpx.WriteError(w, "internal error", http.StatusInternalServerError)
	}
}
