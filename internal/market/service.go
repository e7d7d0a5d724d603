// Package market owns startup markets: intake, volume-derived odds,
// odds history, drift, and one-time resolution.
//
// Odds are recomputed synchronously on every volume change, so a caller
// observing odds after a recorded wager always sees the post-trade value.
//
// All monetary values use shopspring/decimal — never float64 for money.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/catalog"
	"github.com/upspin-bets/wager-engine/internal/events"
	"github.com/upspin-bets/wager-engine/internal/httpx"
	"github.com/upspin-bets/wager-engine/internal/keylock"
	"github.com/upspin-bets/wager-engine/internal/metrics"
	"github.com/upspin-bets/wager-engine/internal/model"
	"github.com/upspin-bets/wager-engine/internal/store"
)

var (
	// ErrAlreadyResolved is returned when resolve is called on a market
	// that has already resolved. Resolution happens exactly once.
	ErrAlreadyResolved = errors.New("market: already resolved")

	// ErrMarketClosed is returned when an operation requires an open market.
	ErrMarketClosed = errors.New("market: not open")
)

// Settler settles all active wagers on a resolved market. Implemented by
// the wager engine; injected after construction to keep the market package
// free of wager logic.
type Settler interface {
	SettleMarket(ctx context.Context, m *model.Market, outcome model.Outcome) error
}

// Service handles market intake, queries, and resolution.
type Service struct {
	store        store.Store
	locks        *keylock.Registry
	emitter      events.Emitter
	settler      Settler
	resolveToken string
}

// NewService creates a market service. resolveToken guards the privileged
// resolve endpoint; an empty token disables the check (development only).
func NewService(st store.Store, locks *keylock.Registry, emitter events.Emitter, resolveToken string) *Service {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Service{
		store:        st,
		locks:        locks,
		emitter:      emitter,
		resolveToken: resolveToken,
	}
}

// SetSettler injects the wager settler used at resolution.
func (s *Service) SetSettler(settler Settler) {
	s.settler = settler
}

// Recompute republishes the market's odds from its current volumes using
// the stage-derived parameters.
func Recompute(m *model.Market) error {
	params, err := catalog.ParamsForStage(m.Stage)
	if err != nil {
		return err
	}
	m.OddsWin, m.OddsFall = params.Pair(m.WinVolume, m.FallVolume)
	return nil
}

// RecordVolume adds stake to one side's active volume counter and
// recomputes odds. The caller holds the market lock.
func RecordVolume(m *model.Market, side model.WagerSide, stake decimal.Decimal) error {
	if side == model.SideWin {
		m.WinVolume = m.WinVolume.Add(stake)
	} else {
		m.FallVolume = m.FallVolume.Add(stake)
	}
	return Recompute(m)
}

// ReleaseVolume removes a closed wager's stake from its side's active
// volume counter and recomputes odds. Volumes never go negative.
func ReleaseVolume(m *model.Market, side model.WagerSide, stake decimal.Decimal) error {
	if side == model.SideWin {
		m.WinVolume = m.WinVolume.Sub(stake)
		if m.WinVolume.IsNegative() {
			m.WinVolume = decimal.Zero
		}
	} else {
		m.FallVolume = m.FallVolume.Sub(stake)
		if m.FallVolume.IsNegative() {
			m.FallVolume = decimal.Zero
		}
	}
	return Recompute(m)
}

// PublishState persists the market's volumes, odds, and status, appends an
// odds history point, and emits MarketOddsChanged. The caller holds the
// market lock.
func (s *Service) PublishState(ctx context.Context, m *model.Market) error {
	if err := s.store.UpdateMarketState(ctx, m); err != nil {
		return fmt.Errorf("update market state: %w", err)
	}
	now := time.Now().UTC()
	point := &model.OddsPoint{
		ID:         uuid.New().String(),
		MarketID:   m.ID,
		OddsWin:    m.OddsWin,
		OddsFall:   m.OddsFall,
		WinVolume:  m.WinVolume,
		FallVolume: m.FallVolume,
		CreatedAt:  now,
	}
	if err := s.store.InsertOddsPoint(ctx, point); err != nil {
		return fmt.Errorf("insert odds point: %w", err)
	}
	s.emitter.Emit(events.Event{
		Type:     events.TypeMarketOddsChanged,
		MarketID: m.ID,
		OddsWin:  m.OddsWin.String(),
		OddsFall: m.OddsFall.String(),
		At:       now,
	})
	return nil
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
// Market records are supplied by the external catalog process.
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var listing catalog.Listing
	if err := json.NewDecoder(r.Body).Decode(&listing); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := listing.Validate(); err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	params, err := catalog.ParamsForStage(listing.Stage)
	if err != nil {
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}
	oddsWin, oddsFall := params.Pair(decimal.Zero, decimal.Zero)

	m := &model.Market{
		ID:         uuid.New().String(),
		Name:       listing.Name,
		Sector:     listing.Sector,
		Stage:      listing.Stage,
		OddsWin:    oddsWin,
		OddsFall:   oddsFall,
		WinVolume:  decimal.Zero,
		FallVolume: decimal.Zero,
		Status:     model.MarketOpen,
		CreatedAt:  time.Now().UTC(),
	}

	ctx := r.Context()
	if err := s.store.CreateMarket(ctx, m); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			httpx.WriteError(w, "market already exists: "+m.Name, http.StatusConflict)
			return
		}
		httpx.WriteError(w, "failed to create market", http.StatusInternalServerError)
		return
	}
	if err := s.PublishState(ctx, m); err != nil {
		slog.Error("failed to publish initial odds", "market", m.ID, "err", err)
	}
	metrics.OpenMarkets.Inc()

	slog.Info("market created",
		"id", m.ID,
		"name", m.Name,
		"stage", m.Stage,
		"odds_win", m.OddsWin.String(),
	)

	httpx.WriteJSON(w, http.StatusCreated, m)
}

// ListMarkets handles GET /api/v1/markets
// Optional filters: ?sector=, ?stage=, ?status=.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		httpx.WriteError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	q := r.URL.Query()
	sector, stage, status := q.Get("sector"), q.Get("stage"), q.Get("status")
	if sector != "" || stage != "" || status != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if sector != "" && m.Sector != sector {
				continue
			}
			if stage != "" && m.Stage != stage {
				continue
			}
			if status != "" && string(m.Status) != status {
				continue
			}
			filtered = append(filtered, m)
		}
		markets = filtered
	}

	httpx.WriteJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		httpx.WriteError(w, "market not found", http.StatusNotFound)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, m)
}

// GetOdds handles GET /api/v1/markets/{marketID}/odds
func (s *Service) GetOdds(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		httpx.WriteError(w, "market not found", http.StatusNotFound)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"win":  m.OddsWin,
		"fall": m.OddsFall,
	})
}

// GetHistory handles GET /api/v1/markets/{marketID}/history
// Returns odds snapshots, oldest first; ?limit caps the window (default 100).
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	ctx := r.Context()

	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		httpx.WriteError(w, "market not found", http.StatusNotFound)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			httpx.WriteError(w, fmt.Sprintf("invalid limit: %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}

	points, err := s.store.OddsHistory(ctx, marketID, limit)
	if err != nil {
		httpx.WriteError(w, "failed to load odds history", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []model.OddsPoint{}
	}

	httpx.WriteJSON(w, http.StatusOK, points)
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Outcome model.Outcome `json:"outcome"`
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve
// Privileged: called by the external resolution trigger, authenticated
// with a shared-secret header. Resolution is a one-time transition; every
// active wager on the market is then settled.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	if s.resolveToken != "" && r.Header.Get("X-Resolve-Token") != s.resolveToken {
		httpx.WriteError(w, "forbidden", http.StatusForbidden)
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Outcome.IsValid() {
		httpx.WriteError(w, "outcome must be win or fall", http.StatusBadRequest)
		return
	}

	marketID := chi.URLParam(r, "marketID")
	ctx := r.Context()

	release, err := s.locks.Acquire(ctx, keylock.MarketKey(marketID))
	if err != nil {
		metrics.ContentionErrors.Inc()
		httpx.WriteContention(w)
		return
	}

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		release()
		httpx.WriteError(w, "market not found", http.StatusNotFound)
		return
	}
	if m.Status != model.MarketOpen {
		release()
		httpx.WriteError(w, ErrAlreadyResolved.Error(), http.StatusConflict)
		return
	}

	m.Status = req.Outcome.Status()
	if err := s.store.UpdateMarketState(ctx, m); err != nil {
		release()
		httpx.WriteError(w, "failed to resolve market", http.StatusInternalServerError)
		return
	}
	// Release before settling: settlement locks each wager's account and
	// this market pairwise in the global order.
	release()

	metrics.OpenMarkets.Dec()
	slog.Info("market resolved",
		"id", m.ID,
		"name", m.Name,
		"outcome", req.Outcome,
	)

	if s.settler != nil {
		if err := s.settler.SettleMarket(ctx, m, req.Outcome); err != nil {
			slog.Error("settlement incomplete", "market", m.ID, "err", err)
			httpx.WriteError(w, "settlement incomplete", http.StatusInternalServerError)
			return
		}
	}

	httpx.WriteJSON(w, http.StatusOK, m)
}
