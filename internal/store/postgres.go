package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Composite postings run inside a single transaction with the account rows
// locked FOR UPDATE, which is the atomic-unit primitive the engine's
// invariants are built on.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, balance, wager_count, active, created_at)
		 VALUES ($1, $2::NUMERIC, $3, $4, $5)`,
		a.ID, a.Balance.String(), a.WagerCount, a.Active, a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, balance::TEXT, wager_count, active, created_at
		 FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &balance, &a.WagerCount, &a.Active, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}

	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) TopAccounts(ctx context.Context, limit int) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, balance::TEXT, wager_count, active, created_at
		 FROM accounts ORDER BY balance DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var balance string
		if err := rows.Scan(&a.ID, &balance, &a.WagerCount, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Balance, _ = decimal.NewFromString(balance)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) IncrementWagerCount(ctx context.Context, accountID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET wager_count = wager_count + 1 WHERE id = $1`, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET active = $2 WHERE id = $1`, accountID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Ledger postings ---

// applyEntryTx posts one entry inside tx with the account row locked.
func applyEntryTx(ctx context.Context, tx pgx.Tx, e *model.LedgerEntry) (decimal.Decimal, error) {
	var balanceS string
	err := tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE id = $1 FOR UPDATE`, e.AccountID).
		Scan(&balanceS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, ErrNotFound
		}
		return decimal.Decimal{}, err
	}

	balance, _ := decimal.NewFromString(balanceS)
	next := balance.Add(e.Amount)
	if next.IsNegative() {
		return decimal.Decimal{}, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE id = $1`,
		e.AccountID, next.String()); err != nil {
		return decimal.Decimal{}, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, kind, amount, ref_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		e.ID, e.AccountID, e.Kind, e.Amount.String(), e.RefID, e.CreatedAt); err != nil {
		return decimal.Decimal{}, err
	}
	return next, nil
}

func (s *PostgresStore) ApplyEntry(ctx context.Context, e *model.LedgerEntry) (decimal.Decimal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balance, err := applyEntryTx(ctx, tx, e)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Decimal{}, err
	}
	return balance, nil
}

func (s *PostgresStore) TransferEntries(ctx context.Context, debit, credit *model.LedgerEntry) (decimal.Decimal, decimal.Decimal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Lock both rows in id order to avoid tx-level deadlock.
	first, second := debit, credit
	if second.AccountID < first.AccountID {
		first, second = second, first
	}
	for _, e := range []*model.LedgerEntry{first, second} {
		var dummy string
		if err := tx.QueryRow(ctx,
			`SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, e.AccountID).Scan(&dummy); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return decimal.Decimal{}, decimal.Decimal{}, ErrNotFound
			}
			return decimal.Decimal{}, decimal.Decimal{}, err
		}
	}

	fromBal, err := applyEntryTx(ctx, tx, debit)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	toBal, err := applyEntryTx(ctx, tx, credit)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return fromBal, toBal, nil
}

func (s *PostgresStore) LedgerEntries(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, kind, amount::TEXT, ref_id, created_at
		 FROM ledger_entries WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var amount string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &amount, &e.RefID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Markets ---

const marketColumns = `id, name, sector, stage,
	odds_win::TEXT, odds_fall::TEXT, win_volume::TEXT, fall_volume::TEXT,
	status, created_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var oddsWin, oddsFall, winVol, fallVol string

	err := row.Scan(&m.ID, &m.Name, &m.Sector, &m.Stage,
		&oddsWin, &oddsFall, &winVol, &fallVol,
		&m.Status, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	m.OddsWin, _ = decimal.NewFromString(oddsWin)
	m.OddsFall, _ = decimal.NewFromString(oddsFall)
	m.WinVolume, _ = decimal.NewFromString(winVol)
	m.FallVolume, _ = decimal.NewFromString(fallVol)
	return &m, nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, name, sector, stage, odds_win, odds_fall, win_volume, fall_volume, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		m.ID, m.Name, m.Sector, m.Stage,
		m.OddsWin.String(), m.OddsFall.String(),
		m.WinVolume.String(), m.FallVolume.String(),
		m.Status, m.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketState(ctx context.Context, m *model.Market) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET win_volume = $2::NUMERIC, fall_volume = $3::NUMERIC,
		     odds_win = $4::NUMERIC, odds_fall = $5::NUMERIC, status = $6
		 WHERE id = $1`,
		m.ID, m.WinVolume.String(), m.FallVolume.String(),
		m.OddsWin.String(), m.OddsFall.String(), m.Status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertOddsPoint(ctx context.Context, p *model.OddsPoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO odds_history (id, market_id, odds_win, odds_fall, win_volume, fall_volume, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)`,
		p.ID, p.MarketID,
		p.OddsWin.String(), p.OddsFall.String(),
		p.WinVolume.String(), p.FallVolume.String(),
		p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) OddsHistory(ctx context.Context, marketID string, limit int) ([]model.OddsPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, odds_win::TEXT, odds_fall::TEXT,
		        win_volume::TEXT, fall_volume::TEXT, created_at
		 FROM (
		   SELECT * FROM odds_history WHERE market_id = $1
		   ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.OddsPoint
	for rows.Next() {
		var p model.OddsPoint
		var oddsWin, oddsFall, winVol, fallVol string
		if err := rows.Scan(&p.ID, &p.MarketID, &oddsWin, &oddsFall, &winVol, &fallVol, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.OddsWin, _ = decimal.NewFromString(oddsWin)
		p.OddsFall, _ = decimal.NewFromString(oddsFall)
		p.WinVolume, _ = decimal.NewFromString(winVol)
		p.FallVolume, _ = decimal.NewFromString(fallVol)
		points = append(points, p)
	}
	return points, rows.Err()
}

// --- Wagers ---

const wagerColumns = `id, account_id, market_id, side,
	stake::TEXT, odds_at_open::TEXT, potential_return::TEXT,
	status, opened_at, closed_at, realized_pnl::TEXT`

func scanWager(row pgx.Row) (*model.Wager, error) {
	var w model.Wager
	var stake, oddsAtOpen, potential string
	var realized *string

	err := row.Scan(&w.ID, &w.AccountID, &w.MarketID, &w.Side,
		&stake, &oddsAtOpen, &potential,
		&w.Status, &w.OpenedAt, &w.ClosedAt, &realized)
	if err != nil {
		return nil, err
	}

	w.Stake, _ = decimal.NewFromString(stake)
	w.OddsAtOpen, _ = decimal.NewFromString(oddsAtOpen)
	w.PotentialReturn, _ = decimal.NewFromString(potential)
	if realized != nil {
		pnl, _ := decimal.NewFromString(*realized)
		w.RealizedPnL = &pnl
	}
	return &w, nil
}

func (s *PostgresStore) InsertWager(ctx context.Context, w *model.Wager) error {
	var realized *string
	if w.RealizedPnL != nil {
		v := w.RealizedPnL.String()
		realized = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wagers (id, account_id, market_id, side, stake, odds_at_open, potential_return, status, opened_at, closed_at, realized_pnl)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11::NUMERIC)`,
		w.ID, w.AccountID, w.MarketID, w.Side,
		w.Stake.String(), w.OddsAtOpen.String(), w.PotentialReturn.String(),
		w.Status, w.OpenedAt, w.ClosedAt, realized,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetWager(ctx context.Context, id string) (*model.Wager, error) {
	w, err := scanWager(s.pool.QueryRow(ctx,
		`SELECT `+wagerColumns+` FROM wagers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get wager %s: %w", id, err)
	}
	return w, nil
}

func (s *PostgresStore) UpdateWager(ctx context.Context, w *model.Wager) error {
	var realized *string
	if w.RealizedPnL != nil {
		v := w.RealizedPnL.String()
		realized = &v
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE wagers SET status = $2, closed_at = $3, realized_pnl = $4::NUMERIC WHERE id = $1`,
		w.ID, w.Status, w.ClosedAt, realized,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) wagerQuery(ctx context.Context, query string, arg string) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wagers []model.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		wagers = append(wagers, *w)
	}
	return wagers, rows.Err()
}

func (s *PostgresStore) ActiveWagersByMarket(ctx context.Context, marketID string) ([]model.Wager, error) {
	return s.wagerQuery(ctx,
		`SELECT `+wagerColumns+` FROM wagers
		 WHERE market_id = $1 AND status = 'active' ORDER BY opened_at`, marketID)
}

func (s *PostgresStore) WagersByAccount(ctx context.Context, accountID string) ([]model.Wager, error) {
	return s.wagerQuery(ctx,
		`SELECT `+wagerColumns+` FROM wagers
		 WHERE account_id = $1 ORDER BY opened_at DESC`, accountID)
}

// --- Orders ---

const orderColumns = `id, account_id, market_id, side,
	quantity::TEXT, price::TEXT, status, filled_price::TEXT, created_at, filled_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var quantity, price string
	var filledPrice *string

	err := row.Scan(&o.ID, &o.AccountID, &o.MarketID, &o.Side,
		&quantity, &price, &o.Status, &filledPrice, &o.CreatedAt, &o.FilledAt)
	if err != nil {
		return nil, err
	}

	o.Quantity, _ = decimal.NewFromString(quantity)
	o.Price, _ = decimal.NewFromString(price)
	if filledPrice != nil {
		fp, _ := decimal.NewFromString(*filledPrice)
		o.FilledPrice = &fp
	}
	return &o, nil
}

func (s *PostgresStore) InsertOrder(ctx context.Context, o *model.Order) error {
	var filledPrice *string
	if o.FilledPrice != nil {
		v := o.FilledPrice.String()
		filledPrice = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, account_id, market_id, side, quantity, price, status, filled_price, created_at, filled_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9, $10)`,
		o.ID, o.AccountID, o.MarketID, o.Side,
		o.Quantity.String(), o.Price.String(), o.Status, filledPrice,
		o.CreatedAt, o.FilledAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	var filledPrice *string
	if o.FilledPrice != nil {
		v := o.FilledPrice.String()
		filledPrice = &v
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2, filled_price = $3::NUMERIC, filled_at = $4 WHERE id = $1`,
		o.ID, o.Status, filledPrice, o.FilledAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PendingOrdersByMarket(ctx context.Context, marketID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE market_id = $1 AND status = 'pending' ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// --- Milestones ---

func (s *PostgresStore) UpsertMilestone(ctx context.Context, ms *model.Milestone) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO milestones (id, name, description, required_coins, reward_coins)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, description = EXCLUDED.description,
		     required_coins = EXCLUDED.required_coins, reward_coins = EXCLUDED.reward_coins`,
		ms.ID, ms.Name, ms.Description,
		ms.RequiredCoins.String(), ms.RewardCoins.String(),
	)
	return err
}

func (s *PostgresStore) GetMilestone(ctx context.Context, id string) (*model.Milestone, error) {
	var ms model.Milestone
	var required, reward string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, required_coins::TEXT, reward_coins::TEXT
		 FROM milestones WHERE id = $1`, id).
		Scan(&ms.ID, &ms.Name, &ms.Description, &required, &reward)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get milestone %s: %w", id, err)
	}

	ms.RequiredCoins, _ = decimal.NewFromString(required)
	ms.RewardCoins, _ = decimal.NewFromString(reward)
	return &ms, nil
}

func (s *PostgresStore) ListMilestones(ctx context.Context) ([]model.Milestone, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, required_coins::TEXT, reward_coins::TEXT
		 FROM milestones ORDER BY required_coins`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var milestones []model.Milestone
	for rows.Next() {
		var ms model.Milestone
		var required, reward string
		if err := rows.Scan(&ms.ID, &ms.Name, &ms.Description, &required, &reward); err != nil {
			return nil, err
		}
		ms.RequiredCoins, _ = decimal.NewFromString(required)
		ms.RewardCoins, _ = decimal.NewFromString(reward)
		milestones = append(milestones, ms)
	}
	return milestones, rows.Err()
}

func (s *PostgresStore) InsertClaimWithReward(ctx context.Context, c *model.Claim, reward *model.LedgerEntry) (decimal.Decimal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// The (account_id, milestone_id) primary key enforces one claim ever;
	// inserting first makes the duplicate check part of the atomic unit.
	if _, err := tx.Exec(ctx,
		`INSERT INTO milestone_claims (account_id, milestone_id, claimed_at)
		 VALUES ($1, $2, $3)`,
		c.AccountID, c.MilestoneID, c.ClaimedAt); err != nil {
		if isUniqueViolation(err) {
			return decimal.Decimal{}, ErrAlreadyClaimed
		}
		return decimal.Decimal{}, err
	}

	balance, err := applyEntryTx(ctx, tx, reward)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Decimal{}, err
	}
	return balance, nil
}

func (s *PostgresStore) ClaimsByAccount(ctx context.Context, accountID string) ([]model.Claim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, milestone_id, claimed_at
		 FROM milestone_claims WHERE account_id = $1 ORDER BY claimed_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []model.Claim
	for rows.Next() {
		var c model.Claim
		if err := rows.Scan(&c.AccountID, &c.MilestoneID, &c.ClaimedAt); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}
