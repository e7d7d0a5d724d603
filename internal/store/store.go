// Package store defines the persistence interface for the wager engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Postings are the store's atomic unit: ApplyEntry, TransferEntries and
// InsertClaimWithReward change balances and append ledger entries in one
// all-or-nothing write, so balances and the entry log never diverge.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a create collides with an existing record.
	ErrDuplicate = errors.New("store: duplicate record")

	// ErrInsufficientFunds is returned when a debit posting would push an
	// account balance below zero. The posting has no effect.
	ErrInsufficientFunds = errors.New("store: insufficient funds")

	// ErrAlreadyClaimed is returned when a claim for the same
	// (account, milestone) pair already exists.
	ErrAlreadyClaimed = errors.New("store: milestone already claimed")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// TopAccounts returns up to limit accounts ordered by balance descending.
	TopAccounts(ctx context.Context, limit int) ([]model.Account, error)

	// IncrementWagerCount bumps an account's cumulative wager counter.
	IncrementWagerCount(ctx context.Context, accountID string) error

	// SetAccountActive activates or deactivates an account. Accounts are
	// never deleted.
	SetAccountActive(ctx context.Context, accountID string, active bool) error

	// --- Ledger postings (atomic) ---

	// ApplyEntry applies one signed posting to an account: the balance
	// change and the entry append happen in the same atomic unit. A debit
	// that would overdraw fails with ErrInsufficientFunds and no effect.
	ApplyEntry(ctx context.Context, e *model.LedgerEntry) (newBalance decimal.Decimal, err error)

	// TransferEntries applies a debit and a credit posting atomically,
	// moving value between two accounts.
	TransferEntries(ctx context.Context, debit, credit *model.LedgerEntry) (fromBalance, toBalance decimal.Decimal, err error)

	// LedgerEntries returns all postings for an account, oldest first.
	LedgerEntries(ctx context.Context, accountID string) ([]model.LedgerEntry, error)

	// --- Markets ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by id.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketState writes volumes, odds, and status after a change.
	UpdateMarketState(ctx context.Context, m *model.Market) error

	// InsertOddsPoint appends an odds history snapshot.
	InsertOddsPoint(ctx context.Context, p *model.OddsPoint) error

	// OddsHistory returns up to limit snapshots for a market, oldest first.
	OddsHistory(ctx context.Context, marketID string, limit int) ([]model.OddsPoint, error)

	// --- Wagers ---

	InsertWager(ctx context.Context, w *model.Wager) error
	GetWager(ctx context.Context, id string) (*model.Wager, error)
	UpdateWager(ctx context.Context, w *model.Wager) error

	// ActiveWagersByMarket returns all wagers still Active on a market.
	ActiveWagersByMarket(ctx context.Context, marketID string) ([]model.Wager, error)

	// WagersByAccount returns all wagers an account ever opened, newest first.
	WagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error)

	// --- Orders ---

	InsertOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error

	// PendingOrdersByMarket returns resting orders for a market, oldest first.
	PendingOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error)

	// --- Milestones ---

	// UpsertMilestone seeds or updates a curated milestone.
	UpsertMilestone(ctx context.Context, ms *model.Milestone) error
	GetMilestone(ctx context.Context, id string) (*model.Milestone, error)
	ListMilestones(ctx context.Context) ([]model.Milestone, error)

	// InsertClaimWithReward inserts the claim record and applies the reward
	// posting in one atomic unit. A duplicate claim fails with
	// ErrAlreadyClaimed and no posting occurs.
	InsertClaimWithReward(ctx context.Context, c *model.Claim, reward *model.LedgerEntry) (newBalance decimal.Decimal, err error)

	// ClaimsByAccount returns all milestone claims for an account.
	ClaimsByAccount(ctx context.Context, accountID string) ([]model.Claim, error)
}
