package wager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/events"
	"github.com/upspin-bets/wager-engine/internal/keylock"
	"github.com/upspin-bets/wager-engine/internal/ledger"
	"github.com/upspin-bets/wager-engine/internal/limits"
	"github.com/upspin-bets/wager-engine/internal/market"
	"github.com/upspin-bets/wager-engine/internal/model"
	"github.com/upspin-bets/wager-engine/internal/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type engine struct {
	store   store.Store
	ledger  *ledger.Service
	markets *market.Service
	wagers  *Service
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	st := store.NewMemoryStore()
	locks := keylock.NewRegistry(2 * time.Second)
	lg := ledger.NewService(st, events.Discard{}, decimal.Zero)
	mk := market.NewService(st, locks, events.Discard{}, "")
	wg := NewService(st, lg, mk, locks, nil, events.Discard{})
	mk.SetSettler(wg)
	return &engine{store: st, ledger: lg, markets: mk, wagers: wg}
}

func seedAccount(t *testing.T, st store.Store, balance string) string {
	t.Helper()
	id := uuid.New().String()
	err := st.CreateAccount(context.Background(), &model.Account{
		ID:        id,
		Balance:   d(balance),
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return id
}

func seedMarket(t *testing.T, st store.Store, stage string) *model.Market {
	t.Helper()
	m := &model.Market{
		ID:        uuid.New().String(),
		Name:      "Startup " + uuid.New().String()[:8],
		Sector:    "fintech",
		Stage:     stage,
		Status:    model.MarketOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := market.Recompute(m); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if err := st.CreateMarket(context.Background(), m); err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return m
}

// checkReconciliation asserts balance == sum of ledger entries.
func checkReconciliation(t *testing.T, st store.Store, accountID string, opening decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	a, err := st.GetAccount(ctx, accountID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	entries, err := st.LedgerEntries(ctx, accountID)
	if err != nil {
		t.Fatalf("LedgerEntries: %v", err)
	}
	sum := opening
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	if !sum.Equal(a.Balance) {
		t.Fatalf("account %s: entry sum %s != balance %s", accountID, sum, a.Balance)
	}
}

func TestOpenCloseScenario(t *testing.T) {
	// Balance 100, odds 2.0, open win stake 40 -> balance 60, odds-at-open
	// 2.0. Odds rise to 2.5, close -> payout 60, balance 120.
	e := newEngine(t)
	ctx := context.Background()

	accountID := seedAccount(t, e.store, "100")
	m := seedMarket(t, e.store, "seed")
	if !m.OddsWin.Equal(d("2")) {
		t.Fatalf("opening win odds = %s, want 2", m.OddsWin)
	}

	w, err := e.wagers.Open(ctx, accountID, m.ID, model.SideWin, d("40"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if w.Status != model.WagerActive {
		t.Fatalf("status = %s, want active", w.Status)
	}
	if !w.OddsAtOpen.Equal(d("2")) {
		t.Fatalf("odds at open = %s, want 2 (pre-trade odds)", w.OddsAtOpen)
	}
	if !w.PotentialReturn.Equal(d("80")) {
		t.Fatalf("potential return = %s, want 80", w.PotentialReturn)
	}

	bal, _ := e.ledger.Balance(ctx, accountID)
	if !bal.Equal(d("60")) {
		t.Fatalf("balance after open = %s, want 60", bal)
	}

	// Market sentiment shifts: win odds rise to 2.5.
	stored, _ := e.store.GetMarket(ctx, m.ID)
	stored.OddsWin = d("2.5")
	if err := e.store.UpdateMarketState(ctx, stored); err != nil {
		t.Fatalf("UpdateMarketState: %v", err)
	}

	closed, payout, err := e.wagers.Close(ctx, w.ID, accountID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !payout.Equal(d("60")) {
		t.Fatalf("payout = %s, want 60", payout)
	}
	if closed.Status != model.WagerClosed {
		t.Fatalf("status = %s, want closed", closed.Status)
	}
	if closed.RealizedPnL == nil || !closed.RealizedPnL.Equal(d("20")) {
		t.Fatalf("realized pnl = %v, want 20", closed.RealizedPnL)
	}

	bal, _ = e.ledger.Balance(ctx, accountID)
	if !bal.Equal(d("120")) {
		t.Fatalf("balance after close = %s, want 120", bal)
	}
	checkReconciliation(t, e.store, accountID, d("100"))
}

func TestOpenValidation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	accountID := seedAccount(t, e.store, "100")
	m := seedMarket(t, e.store, "seed")

	tests := []struct {
		name  string
		side  model.WagerSide
		stake decimal.Decimal
		want  error
	}{
		{"zero stake", model.SideWin, decimal.Zero, ErrInvalidStake},
		{"negative stake", model.SideWin, d("-5"), ErrInvalidStake},
		{"fractional stake", model.SideWin, d("1.5"), ErrInvalidStake},
		{"bad side", model.WagerSide("maybe"), d("10"), ErrInvalidSide},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.wagers.Open(ctx, accountID, m.ID, tc.side, tc.stake)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Open error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestOpenInsufficientFundsNoEffect(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	accountID := seedAccount(t, e.store, "30")
	m := seedMarket(t, e.store, "seed")

	_, err := e.wagers.Open(ctx, accountID, m.ID, model.SideWin, d("31"))
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Open error = %v, want ErrInsufficientFunds", err)
	}

	bal, _ := e.ledger.Balance(ctx, accountID)
	if !bal.Equal(d("30")) {
		t.Fatalf("balance after failed open = %s, want 30", bal)
	}
	wagers, _ := e.store.WagersByAccount(ctx, accountID)
	if len(wagers) != 0 {
		t.Fatalf("failed open left %d wagers", len(wagers))
	}
	stored, _ := e.store.GetMarket(ctx, m.ID)
	if !stored.WinVolume.IsZero() {
		t.Fatalf("failed open moved win volume to %s", stored.WinVolume)
	}
}

func TestOpenOnResolvedMarket(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	accountID := seedAccount(t, e.store, "100")
	m := seedMarket(t, e.store, "seed")
	m.Status = model.MarketResolvedWin
	if err := e.store.UpdateMarketState(ctx, m); err != nil {
		t.Fatalf("UpdateMarketState: %v", err)
	}

	_, err := e.wagers.Open(ctx, accountID, m.ID, model.SideWin, d("10"))
	if !errors.Is(err, market.ErrMarketClosed) {
		t.Fatalf("Open error = %v, want ErrMarketClosed", err)
	}
}

func TestCloseTwice(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	accountID := seedAccount(t, e.store, "100")
	m := seedMarket(t, e.store, "seed")

	w, err := e.wagers.Open(ctx, accountID, m.ID, model.SideWin, d("40"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := e.wagers.Close(ctx, w.ID, accountID); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	entriesBefore, _ := e.store.LedgerEntries(ctx, accountID)
	_, _, err = e.wagers.Close(ctx, w.ID, accountID)
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("second Close error = %v, want ErrAlreadyClosed", err)
	}
	entriesAfter, _ := e.store.LedgerEntries(ctx, accountID)
	if len(entriesAfter) != len(entriesBefore) {
		t.Fatalf("second close appended ledger entries: %d -> %d", len(entriesBefore), len(entriesAfter))
	}
}

func TestCloseSomeoneElsesWager(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	owner := seedAccount(t, e.store, "100")
	other := seedAccount(t, e.store, "100")
	m := seedMarket(t, e.store, "seed")

	w, err := e.wagers.Open(ctx, owner, m.ID, model.SideWin, d("40"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, _, err = e.wagers.Close(ctx, w.ID, other)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Close error = %v, want ErrNotFound", err)
	}
}

func TestLossCappedAtStake(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	accountID := seedAccount(t, e.store, "100")
	m := seedMarket(t, e.store, "seed")

	w, err := e.wagers.Open(ctx, accountID, m.ID, model.SideWin, d("10"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Odds collapse far below open: raw pnl would exceed the stake.
	stored, _ := e.store.GetMarket(ctx, m.ID)
	stored.OddsWin = d("0.1")
	if err := e.store.UpdateMarketState(ctx, stored); err != nil {
		t.Fatalf("UpdateMarketState: %v", err)
	}

	_, payout, err := e.wagers.Close(ctx, w.ID, accountID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !payout.IsZero() {
		t.Fatalf("payout = %s, want 0 (loss capped at stake)", payout)
	}
	bal, _ := e.ledger.Balance(ctx, accountID)
	if !bal.Equal(d("90")) {
		t.Fatalf("balance = %s, want 90", bal)
	}
	checkReconciliation(t, e.store, accountID, d("100"))
}

func TestConcurrentOpensExactDrain(t *testing.T) {
	// N concurrent opens against balance exactly N*stake: all succeed,
	// final balance is zero, no overdraft, no lost update.
	e := newEngine(t)
	ctx := context.Background()

	const n = 20
	stake := d("5")
	accountID := seedAccount(t, e.store, "100") // 20 * 5
	m := seedMarket(t, e.store, "seed")

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.wagers.Open(ctx, accountID, m.ID, model.SideWin, stake)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Open: %v", err)
		}
	}

	account, _ := e.store.GetAccount(ctx, accountID)
	if !account.Balance.IsZero() {
		t.Fatalf("final balance = %s, want 0", account.Balance)
	}
	if account.WagerCount != n {
		t.Fatalf("wager count = %d, want %d", account.WagerCount, n)
	}
	stored, _ := e.store.GetMarket(ctx, m.ID)
	if !stored.WinVolume.Equal(d("100")) {
		t.Fatalf("win volume = %s, want 100", stored.WinVolume)
	}
	checkReconciliation(t, e.store, accountID, d("100"))
}

func TestSettleMarket(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	winner := seedAccount(t, e.store, "100")
	loser := seedAccount(t, e.store, "100")
	early := seedAccount(t, e.store, "100")
	m := seedMarket(t, e.store, "seed")

	winWager, err := e.wagers.Open(ctx, winner, m.ID, model.SideWin, d("40"))
	if err != nil {
		t.Fatalf("Open winner: %v", err)
	}
	loseWager, err := e.wagers.Open(ctx, loser, m.ID, model.SideFall, d("30"))
	if err != nil {
		t.Fatalf("Open loser: %v", err)
	}
	earlyWager, err := e.wagers.Open(ctx, early, m.ID, model.SideWin, d("20"))
	if err != nil {
		t.Fatalf("Open early: %v", err)
	}
	// This one cashes out before resolution; settlement must skip it.
	if _, _, err := e.wagers.Close(ctx, earlyWager.ID, early); err != nil {
		t.Fatalf("Close early: %v", err)
	}
	earlyBal, _ := e.ledger.Balance(ctx, early)

	stored, _ := e.store.GetMarket(ctx, m.ID)
	stored.Status = model.MarketResolvedWin
	if err := e.store.UpdateMarketState(ctx, stored); err != nil {
		t.Fatalf("UpdateMarketState: %v", err)
	}
	if err := e.wagers.SettleMarket(ctx, stored, model.OutcomeWin); err != nil {
		t.Fatalf("SettleMarket: %v", err)
	}

	// Winner is credited stake * oddsAtOpen.
	got, _ := e.store.GetWager(ctx, winWager.ID)
	if got.Status != model.WagerSettledWon {
		t.Fatalf("winner status = %s, want settled_won", got.Status)
	}
	winnerBal, _ := e.ledger.Balance(ctx, winner)
	want := d("60").Add(d("40").Mul(winWager.OddsAtOpen))
	if !winnerBal.Equal(want) {
		t.Fatalf("winner balance = %s, want %s", winnerBal, want)
	}

	// Loser gets nothing.
	got, _ = e.store.GetWager(ctx, loseWager.ID)
	if got.Status != model.WagerSettledLost {
		t.Fatalf("loser status = %s, want settled_lost", got.Status)
	}
	loserBal, _ := e.ledger.Balance(ctx, loser)
	if !loserBal.Equal(d("70")) {
		t.Fatalf("loser balance = %s, want 70", loserBal)
	}

	// Already-closed wager is untouched by settlement.
	got, _ = e.store.GetWager(ctx, earlyWager.ID)
	if got.Status != model.WagerClosed {
		t.Fatalf("early status = %s, want closed", got.Status)
	}
	afterBal, _ := e.ledger.Balance(ctx, early)
	if !afterBal.Equal(earlyBal) {
		t.Fatalf("early balance moved during settlement: %s -> %s", earlyBal, afterBal)
	}

	for _, id := range []string{winner, loser, early} {
		checkReconciliation(t, e.store, id, d("100"))
	}

	// Settlement is idempotent: a second run changes nothing.
	if err := e.wagers.SettleMarket(ctx, stored, model.OutcomeWin); err != nil {
		t.Fatalf("second SettleMarket: %v", err)
	}
	again, _ := e.ledger.Balance(ctx, winner)
	if !again.Equal(winnerBal) {
		t.Fatalf("second settlement moved winner balance: %s -> %s", winnerBal, again)
	}
}

func TestExposureLimits(t *testing.T) {
	st := store.NewMemoryStore()
	locks := keylock.NewRegistry(2 * time.Second)
	lg := ledger.NewService(st, events.Discard{}, decimal.Zero)
	mk := market.NewService(st, locks, events.Discard{}, "")
	limiter := limits.NewStakeLimiter(d("50"), d("80"))
	wg := NewService(st, lg, mk, locks, limiter, events.Discard{})
	ctx := context.Background()

	accountID := seedAccount(t, st, "500")
	m1 := seedMarket(t, st, "seed")
	m2 := seedMarket(t, st, "seed")

	if _, err := wg.Open(ctx, accountID, m1.ID, model.SideWin, d("40")); err != nil {
		t.Fatalf("Open within limits: %v", err)
	}

	_, err := wg.Open(ctx, accountID, m1.ID, model.SideWin, d("20"))
	if !errors.Is(err, limits.ErrMarketExposureExceeded) {
		t.Fatalf("Open error = %v, want ErrMarketExposureExceeded", err)
	}

	if _, err := wg.Open(ctx, accountID, m2.ID, model.SideFall, d("30")); err != nil {
		t.Fatalf("Open on second market: %v", err)
	}
	_, err = wg.Open(ctx, accountID, m2.ID, model.SideFall, d("20"))
	if !errors.Is(err, limits.ErrTotalExposureExceeded) {
		t.Fatalf("Open error = %v, want ErrTotalExposureExceeded", err)
	}
}

func TestInactiveAccountCannotOpen(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	accountID := seedAccount(t, e.store, "100")
	m := seedMarket(t, e.store, "seed")

	if err := e.store.SetAccountActive(ctx, accountID, false); err != nil {
		t.Fatalf("SetAccountActive: %v", err)
	}

	_, err := e.wagers.Open(ctx, accountID, m.ID, model.SideWin, d("10"))
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("Open error = %v, want ErrAccountInactive", err)
	}
}
