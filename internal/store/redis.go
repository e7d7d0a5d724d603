package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths: markets and accounts. Writes go to the
// primary store and invalidate the cache; reads check Redis first then
// fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func marketKey(id string) string  { return fmt.Sprintf("market:%s", id) }
func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.ID), data, s.ttl)
	}
}

// --- Accounts ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cacheAccount(ctx, a)
	return nil
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) IncrementWagerCount(ctx context.Context, accountID string) error {
	if err := s.primary.IncrementWagerCount(ctx, accountID); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(accountID))
	return nil
}

func (s *CachedStore) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	if err := s.primary.SetAccountActive(ctx, accountID, active); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(accountID))
	return nil
}

// --- Ledger postings (write to primary, invalidate balances) ---

func (s *CachedStore) ApplyEntry(ctx context.Context, e *model.LedgerEntry) (decimal.Decimal, error) {
	balance, err := s.primary.ApplyEntry(ctx, e)
	if err != nil {
		return decimal.Decimal{}, err
	}
	s.rdb.Del(ctx, accountKey(e.AccountID))
	return balance, nil
}

func (s *CachedStore) TransferEntries(ctx context.Context, debit, credit *model.LedgerEntry) (decimal.Decimal, decimal.Decimal, error) {
	fromBal, toBal, err := s.primary.TransferEntries(ctx, debit, credit)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	s.rdb.Del(ctx, accountKey(debit.AccountID), accountKey(credit.AccountID))
	return fromBal, toBal, nil
}

// --- Markets ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) UpdateMarketState(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpdateMarketState(ctx, m); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

func (s *CachedStore) InsertClaimWithReward(ctx context.Context, c *model.Claim, reward *model.LedgerEntry) (decimal.Decimal, error) {
	balance, err := s.primary.InsertClaimWithReward(ctx, c, reward)
	if err != nil {
		return decimal.Decimal{}, err
	}
	s.rdb.Del(ctx, accountKey(c.AccountID))
	return balance, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) TopAccounts(ctx context.Context, limit int) ([]model.Account, error) {
	return s.primary.TopAccounts(ctx, limit)
}

func (s *CachedStore) LedgerEntries(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	return s.primary.LedgerEntries(ctx, accountID)
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) InsertOddsPoint(ctx context.Context, p *model.OddsPoint) error {
	return s.primary.InsertOddsPoint(ctx, p)
}

func (s *CachedStore) OddsHistory(ctx context.Context, marketID string, limit int) ([]model.OddsPoint, error) {
	return s.primary.OddsHistory(ctx, marketID, limit)
}

func (s *CachedStore) InsertWager(ctx context.Context, w *model.Wager) error {
	return s.primary.InsertWager(ctx, w)
}

func (s *CachedStore) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	return s.primary.GetWager(ctx, id)
}

func (s *CachedStore) UpdateWager(ctx context.Context, w *model.Wager) error {
	return s.primary.UpdateWager(ctx, w)
}

func (s *CachedStore) ActiveWagersByMarket(ctx context.Context, marketID string) ([]model.Wager, error) {
	return s.primary.ActiveWagersByMarket(ctx, marketID)
}

func (s *CachedStore) WagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error) {
	return s.primary.WagersByAccount(ctx, accountID)
}

func (s *CachedStore) InsertOrder(ctx context.Context, o *model.Order) error {
	return s.primary.InsertOrder(ctx, o)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	return s.primary.UpdateOrder(ctx, o)
}

func (s *CachedStore) PendingOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	return s.primary.PendingOrdersByMarket(ctx, marketID)
}

func (s *CachedStore) UpsertMilestone(ctx context.Context, ms *model.Milestone) error {
	return s.primary.UpsertMilestone(ctx, ms)
}

func (s *CachedStore) GetMilestone(ctx context.Context, id string) (*model.Milestone, error) {
	return s.primary.GetMilestone(ctx, id)
}

func (s *CachedStore) ListMilestones(ctx context.Context) ([]model.Milestone, error) {
	return s.primary.ListMilestones(ctx)
}

func (s *CachedStore) ClaimsByAccount(ctx context.Context, accountID string) ([]model.Claim, error) {
	return s.primary.ClaimsByAccount(ctx, accountID)
}
