package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[string]*model.Account
	markets    map[string]*model.Market
	wagers     map[string]*model.Wager
	orders     map[string]*model.Order
	milestones map[string]*model.Milestone
	claims     map[string]model.Claim // key: accountID + "/" + milestoneID
	entries    []model.LedgerEntry
	oddsPoints []model.OddsPoint
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]*model.Account),
		markets:    make(map[string]*model.Market),
		wagers:     make(map[string]*model.Wager),
		orders:     make(map[string]*model.Order),
		milestones: make(map[string]*model.Milestone),
		claims:     make(map[string]model.Claim),
	}
}

func claimKey(accountID, milestoneID string) string {
	return accountID + "/" + milestoneID
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID]; exists {
		return ErrDuplicate
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) TopAccounts(_ context.Context, limit int) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Balance.Equal(accounts[j].Balance) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].Balance.GreaterThan(accounts[j].Balance)
	})
	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

func (s *MemoryStore) IncrementWagerCount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.WagerCount++
	return nil
}

func (s *MemoryStore) SetAccountActive(_ context.Context, accountID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.Active = active
	return nil
}

// --- Ledger postings ---

// applyEntryLocked mutates the balance and appends the entry. Caller holds
// the write lock; the check-then-write is therefore atomic.
func (s *MemoryStore) applyEntryLocked(e *model.LedgerEntry) (decimal.Decimal, error) {
	a, ok := s.accounts[e.AccountID]
	if !ok {
		return decimal.Decimal{}, ErrNotFound
	}
	next := a.Balance.Add(e.Amount)
	if next.IsNegative() {
		return decimal.Decimal{}, ErrInsufficientFunds
	}
	a.Balance = next
	s.entries = append(s.entries, *e)
	return next, nil
}

func (s *MemoryStore) ApplyEntry(_ context.Context, e *model.LedgerEntry) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyEntryLocked(e)
}

func (s *MemoryStore) TransferEntries(_ context.Context, debit, credit *model.LedgerEntry) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the debit before touching anything so failure has no effect.
	from, ok := s.accounts[debit.AccountID]
	if !ok {
		return decimal.Decimal{}, decimal.Decimal{}, ErrNotFound
	}
	if _, ok := s.accounts[credit.AccountID]; !ok {
		return decimal.Decimal{}, decimal.Decimal{}, ErrNotFound
	}
	if from.Balance.Add(debit.Amount).IsNegative() {
		return decimal.Decimal{}, decimal.Decimal{}, ErrInsufficientFunds
	}

	fromBal, err := s.applyEntryLocked(debit)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	toBal, err := s.applyEntryLocked(credit)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return fromBal, toBal, nil
}

func (s *MemoryStore) LedgerEntries(_ context.Context, accountID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return ErrDuplicate
	}
	for _, existing := range s.markets {
		if existing.Name == m.Name {
			return ErrDuplicate
		}
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) UpdateMarketState(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.markets[m.ID]
	if !ok {
		return ErrNotFound
	}
	cur.WinVolume = m.WinVolume
	cur.FallVolume = m.FallVolume
	cur.OddsWin = m.OddsWin
	cur.OddsFall = m.OddsFall
	cur.Status = m.Status
	return nil
}

func (s *MemoryStore) InsertOddsPoint(_ context.Context, p *model.OddsPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.oddsPoints = append(s.oddsPoints, *p)
	return nil
}

func (s *MemoryStore) OddsHistory(_ context.Context, marketID string, limit int) ([]model.OddsPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.OddsPoint
	for _, p := range s.oddsPoints {
		if p.MarketID == marketID {
			result = append(result, p)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// --- Wagers ---

func (s *MemoryStore) InsertWager(_ context.Context, w *model.Wager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.wagers[w.ID]; exists {
		return ErrDuplicate
	}
	cp := *w
	s.wagers[w.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWager(_ context.Context, id string) (*model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wagers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) UpdateWager(_ context.Context, w *model.Wager) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wagers[w.ID]; !ok {
		return ErrNotFound
	}
	cp := *w
	s.wagers[w.ID] = &cp
	return nil
}

func (s *MemoryStore) ActiveWagersByMarket(_ context.Context, marketID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Wager
	for _, w := range s.wagers {
		if w.MarketID == marketID && w.Status == model.WagerActive {
			result = append(result, *w)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result, nil
}

func (s *MemoryStore) WagersByAccount(_ context.Context, accountID string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Wager
	for _, w := range s.wagers {
		if w.AccountID == accountID {
			result = append(result, *w)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.After(result[j].OpenedAt)
	})
	return result, nil
}

// --- Orders ---

func (s *MemoryStore) InsertOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return ErrDuplicate
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; !ok {
		return ErrNotFound
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) PendingOrdersByMarket(_ context.Context, marketID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.MarketID == marketID && o.Status == model.OrderPending {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// --- Milestones ---

func (s *MemoryStore) UpsertMilestone(_ context.Context, ms *model.Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ms
	s.milestones[ms.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMilestone(_ context.Context, id string) (*model.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, ok := s.milestones[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ms
	return &cp, nil
}

func (s *MemoryStore) ListMilestones(_ context.Context) ([]model.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	milestones := make([]model.Milestone, 0, len(s.milestones))
	for _, ms := range s.milestones {
		milestones = append(milestones, *ms)
	}
	sort.Slice(milestones, func(i, j int) bool {
		return milestones[i].RequiredCoins.LessThan(milestones[j].RequiredCoins)
	})
	return milestones, nil
}

func (s *MemoryStore) InsertClaimWithReward(_ context.Context, c *model.Claim, reward *model.LedgerEntry) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := claimKey(c.AccountID, c.MilestoneID)
	if _, exists := s.claims[key]; exists {
		return decimal.Decimal{}, ErrAlreadyClaimed
	}

	balance, err := s.applyEntryLocked(reward)
	if err != nil {
		return decimal.Decimal{}, err
	}
	s.claims[key] = *c
	return balance, nil
}

func (s *MemoryStore) ClaimsByAccount(_ context.Context, accountID string) ([]model.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Claim
	for _, c := range s.claims {
		if c.AccountID == accountID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ClaimedAt.Before(result[j].ClaimedAt)
	})
	return result, nil
}
