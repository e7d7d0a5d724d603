package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/events"
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

// capture records emitted events for assertions.
type capture struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capture) Emit(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capture) byType(t string) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func seedAccount(t *testing.T, st store.Store, id string, balance string) {
	t.Helper()
	err := st.CreateAccount(context.Background(), &model.Account{
		ID:        id,
		Balance:   d(balance),
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
}

func TestDebitCredit(t *testing.T) {
	st := store.NewMemoryStore()
	cap := &capture{}
	svc := NewService(st, cap, decimal.Zero)
	ctx := context.Background()

	seedAccount(t, st, "a1", "100")

	bal, err := svc.Debit(ctx, "a1", d("40"), model.EntryWagerOpen, "w1")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if !bal.Equal(d("60")) {
		t.Fatalf("balance after debit = %s, want 60", bal)
	}

	bal, err = svc.Credit(ctx, "a1", d("15"), model.EntryWagerClose, "w1")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if !bal.Equal(d("75")) {
		t.Fatalf("balance after credit = %s, want 75", bal)
	}

	// Balance must equal the sum of postings.
	entries, err := st.LedgerEntries(ctx, "a1")
	if err != nil {
		t.Fatalf("LedgerEntries: %v", err)
	}
	sum := d("100")
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	if !sum.Equal(bal) {
		t.Fatalf("entry sum %s != balance %s", sum, bal)
	}

	if got := len(cap.byType(events.TypeBalanceChanged)); got != 2 {
		t.Fatalf("balance_changed events = %d, want 2", got)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, events.Discard{}, decimal.Zero)
	ctx := context.Background()

	seedAccount(t, st, "a1", "30")

	_, err := svc.Debit(ctx, "a1", d("31"), model.EntryWagerOpen, "w1")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Debit error = %v, want ErrInsufficientFunds", err)
	}

	bal, err := svc.Balance(ctx, "a1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Equal(d("30")) {
		t.Fatalf("balance after failed debit = %s, want 30", bal)
	}

	entries, _ := st.LedgerEntries(ctx, "a1")
	if len(entries) != 0 {
		t.Fatalf("failed debit left %d ledger entries", len(entries))
	}
}

func TestPostingAmountValidation(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, events.Discard{}, decimal.Zero)
	ctx := context.Background()

	seedAccount(t, st, "a1", "10")

	if _, err := svc.Debit(ctx, "a1", decimal.Zero, model.EntryAdjustment, "x"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("Debit(0) error = %v, want ErrInvalidAmount", err)
	}
	if _, err := svc.Credit(ctx, "a1", d("-5"), model.EntryAdjustment, "x"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("Credit(-5) error = %v, want ErrInvalidAmount", err)
	}
}

func TestTransfer(t *testing.T) {
	st := store.NewMemoryStore()
	cap := &capture{}
	svc := NewService(st, cap, decimal.Zero)
	ctx := context.Background()

	seedAccount(t, st, "buyer", "100")
	seedAccount(t, st, "seller", "20")

	fromBal, toBal, err := svc.Transfer(ctx, "buyer", "seller", d("40"), model.EntryOrderSettle, "o1")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if !fromBal.Equal(d("60")) || !toBal.Equal(d("60")) {
		t.Fatalf("balances after transfer = %s/%s, want 60/60", fromBal, toBal)
	}

	if got := len(cap.byType(events.TypeBalanceChanged)); got != 2 {
		t.Fatalf("balance_changed events = %d, want 2", got)
	}
}

func TestTransferInsufficientFundsNoEffect(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, events.Discard{}, decimal.Zero)
	ctx := context.Background()

	seedAccount(t, st, "buyer", "10")
	seedAccount(t, st, "seller", "0")

	_, _, err := svc.Transfer(ctx, "buyer", "seller", d("40"), model.EntryOrderSettle, "o1")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Transfer error = %v, want ErrInsufficientFunds", err)
	}

	sellerBal, _ := svc.Balance(ctx, "seller")
	if !sellerBal.IsZero() {
		t.Fatalf("seller balance after failed transfer = %s, want 0", sellerBal)
	}
}

func newRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Post("/accounts", svc.CreateAccount)
	r.Get("/accounts/{accountID}", svc.GetAccount)
	r.Get("/accounts/{accountID}/ledger", svc.GetLedger)
	r.Get("/leaderboard", svc.Leaderboard)
	return r
}

func TestCreateAccountHandlerGrantsSignupCoins(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, events.Discard{}, d("1000"))
	router := newRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/accounts", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	var account model.Account
	if err := json.NewDecoder(rec.Body).Decode(&account); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !account.Balance.Equal(d("1000")) {
		t.Fatalf("new account balance = %s, want 1000", account.Balance)
	}

	// The grant is a ledger posting, not a raw balance write.
	entries, err := st.LedgerEntries(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("LedgerEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != model.EntryAdjustment {
		t.Fatalf("grant entries = %+v, want one adjustment", entries)
	}
}

func TestLeaderboardHandler(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, events.Discard{}, decimal.Zero)
	router := newRouter(svc)

	seedAccount(t, st, "low", "10")
	seedAccount(t, st, "high", "500")
	seedAccount(t, st, "mid", "90")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/leaderboard?limit=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var accounts []model.Account
	if err := json.NewDecoder(rec.Body).Decode(&accounts); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(accounts) != 2 || accounts[0].ID != "high" || accounts[1].ID != "mid" {
		t.Fatalf("leaderboard order = %+v, want [high mid]", accounts)
	}
}

func TestGetLedgerHandlerUnknownAccount(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, events.Discard{}, decimal.Zero)
	router := newRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/accounts/nope/ledger", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
