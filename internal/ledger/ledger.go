// Package ledger owns account balances and the append-only posting log.
//
// Balances change exclusively through Debit, Credit, and Transfer; each
// call applies the balance change and the ledger entry in one atomic store
// write, so the sum of an account's entries always equals its balance.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

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

	"github.com/upspin-bets/wager-engine/internal/events"
	"github.com/upspin-bets/wager-engine/internal/httpx"
	"github.com/upspin-bets/wager-engine/internal/model"
	"github.com/upspin-bets/wager-engine/internal/store"
)

// ErrInvalidAmount is returned when a posting amount is not positive.
var ErrInvalidAmount = errors.New("ledger: amount must be positive")

// ErrInsufficientFunds is re-exported so callers do not need to know which
// layer detected the overdraft.
var ErrInsufficientFunds = store.ErrInsufficientFunds

// Service provides ledger postings and the account query surface.
type Service struct {
	store       store.Store
	emitter     events.Emitter
	signupGrant decimal.Decimal
}

// NewService creates a ledger service. signupGrant is the coin balance
// credited to every new account; zero disables the grant.
func NewService(st store.Store, emitter events.Emitter, signupGrant decimal.Decimal) *Service {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Service{store: st, emitter: emitter, signupGrant: signupGrant}
}

// Debit removes amount coins from an account and appends the posting. It
// fails with ErrInsufficientFunds, and has no effect, if the balance is
// short. Emits BalanceChanged on success.
func (s *Service) Debit(ctx context.Context, accountID string, amount decimal.Decimal, kind model.EntryKind, refID string) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}
	return s.post(ctx, accountID, amount.Neg(), kind, refID)
}

// Credit adds amount coins to an account and appends the posting. Credit
// never fails on business grounds. Emits BalanceChanged on success.
func (s *Service) Credit(ctx context.Context, accountID string, amount decimal.Decimal, kind model.EntryKind, refID string) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}
	return s.post(ctx, accountID, amount, kind, refID)
}

func (s *Service) post(ctx context.Context, accountID string, signed decimal.Decimal, kind model.EntryKind, refID string) (decimal.Decimal, error) {
	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Kind:      kind,
		Amount:    signed,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
	}
	balance, err := s.store.ApplyEntry(ctx, entry)
	if err != nil {
		return decimal.Zero, err
	}
	s.emitter.Emit(events.Event{
		Type:      events.TypeBalanceChanged,
		AccountID: accountID,
		Amount:    signed.String(),
		Balance:   balance.String(),
		At:        entry.CreatedAt,
	})
	return balance, nil
}

// Transfer moves amount coins from one account to another in one atomic
// store write. The debit and credit entries share the reference id. Emits
// BalanceChanged for both parties.
func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, kind model.EntryKind, refID string) (fromBalance, toBalance decimal.Decimal, err error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}
	now := time.Now().UTC()
	debit := &model.LedgerEntry{
		ID:        uuid.New().String(),
		AccountID: fromID,
		Kind:      kind,
		Amount:    amount.Neg(),
		RefID:     refID,
		CreatedAt: now,
	}
	credit := &model.LedgerEntry{
		ID:        uuid.New().String(),
		AccountID: toID,
		Kind:      kind,
		Amount:    amount,
		RefID:     refID,
		CreatedAt: now,
	}
	fromBalance, toBalance, err = s.store.TransferEntries(ctx, debit, credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	s.emitter.Emit(events.Event{
		Type:      events.TypeBalanceChanged,
		AccountID: fromID,
		Amount:    amount.Neg().String(),
		Balance:   fromBalance.String(),
		At:        now,
	})
	s.emitter.Emit(events.Event{
		Type:      events.TypeBalanceChanged,
		AccountID: toID,
		Amount:    amount.String(),
		Balance:   toBalance.String(),
		At:        now,
	})
	return fromBalance, toBalance, nil
}

// Balance returns an account's current coin balance.
func (s *Service) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	a, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Balance, nil
}

// --- HTTP Handlers ---

// CreateAccount handles POST /api/v1/accounts
// Creates an account and credits the configured signup grant.
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	account := &model.Account{
		ID:        uuid.New().String(),
		Balance:   decimal.Zero,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		httpx.WriteError(w, "failed to create account", http.StatusInternalServerError)
		return
	}

	if s.signupGrant.IsPositive() {
		balance, err := s.Credit(ctx, account.ID, s.signupGrant, model.EntryAdjustment, account.ID)
		if err != nil {
			httpx.WriteError(w, "failed to apply signup grant", http.StatusInternalServerError)
			return
		}
		account.Balance = balance
	}

	slog.Info("account created",
		"id", account.ID,
		"grant", s.signupGrant.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		httpx.WriteError(w, "account not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// DeactivateAccount handles POST /api/v1/accounts/{accountID}/deactivate
// Accounts are never deleted, only deactivated; a deactivated account can
// no longer open wagers but its ledger remains queryable.
func (s *Service) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := r.Context()

	if err := s.store.SetAccountActive(ctx, accountID, false); err != nil {
		httpx.WriteError(w, "account not found", http.StatusNotFound)
		return
	}

	slog.Info("account deactivated", "id", accountID)
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		httpx.WriteError(w, "account not found", http.StatusNotFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, account)
}

// GetLedger handles GET /api/v1/accounts/{accountID}/ledger
// Returns the account's postings, oldest first.
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	ctx := r.Context()

	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		httpx.WriteError(w, "account not found", http.StatusNotFound)
		return
	}

	entries, err := s.store.LedgerEntries(ctx, accountID)
	if err != nil {
		httpx.WriteError(w, "failed to load ledger entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// Leaderboard handles GET /api/v1/leaderboard
// Returns the top accounts by balance; ?limit caps the result (default 10).
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			httpx.WriteError(w, fmt.Sprintf("invalid limit: %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}

	accounts, err := s.store.TopAccounts(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}
