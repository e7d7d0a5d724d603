package market

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/catalog"
	"github.com/upspin-bets/wager-engine/internal/keylock"
	"github.com/upspin-bets/wager-engine/internal/model"
	"github.com/upspin-bets/wager-engine/internal/store"
)

// Drifter applies a bounded random nudge to every open market's odds on a
// fixed cadence, so odds keep moving between wagers. Each tick takes the
// same per-market lock as wager operations, so drift never races a
// concurrent open or close on that market.
type Drifter struct {
	store   store.Store
	locks   *keylock.Registry
	markets *Service
	rate    decimal.Decimal
	every   time.Duration
	rng     *rand.Rand
}

// NewDrifter creates a drift scheduler. rate is the maximum relative nudge
// per tick (e.g. 0.01 for ±1%).
func NewDrifter(st store.Store, locks *keylock.Registry, markets *Service, rate decimal.Decimal, every time.Duration) *Drifter {
	return &Drifter{
		store:   st,
		locks:   locks,
		markets: markets,
		rate:    rate,
		every:   every,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run ticks until the context is cancelled. Must be called in a goroutine.
func (d *Drifter) Run(ctx context.Context) {
	if d.rate.LessThanOrEqual(decimal.Zero) || d.every <= 0 {
		slog.Info("odds drift disabled")
		return
	}
	ticker := time.NewTicker(d.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Drifter) tick(ctx context.Context) {
	markets, err := d.store.ListMarkets(ctx)
	if err != nil {
		slog.Error("drift: list markets failed", "err", err)
		return
	}
	for _, m := range markets {
		if m.Status != model.MarketOpen {
			continue
		}
		d.driftOne(ctx, m.ID)
	}
}

func (d *Drifter) driftOne(ctx context.Context, marketID string) {
	release, err := d.locks.Acquire(ctx, keylock.MarketKey(marketID))
	if err != nil {
		// Contended market; skip this tick rather than queue behind trades.
		return
	}
	defer release()

	m, err := d.store.GetMarket(ctx, marketID)
	if err != nil || m.Status != model.MarketOpen {
		return
	}
	params, err := catalog.ParamsForStage(m.Stage)
	if err != nil {
		slog.Error("drift: bad market stage", "market", m.ID, "stage", m.Stage)
		return
	}

	m.OddsWin = params.Drift(m.OddsWin, d.rate, d.rng)
	m.OddsFall = params.Drift(m.OddsFall, d.rate, d.rng)

	if err := d.markets.PublishState(ctx, m); err != nil {
		slog.Error("drift: publish failed", "market", m.ID, "err", err)
	}
}
