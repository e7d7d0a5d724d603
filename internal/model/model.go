// Package model defines the core domain types shared across the wager engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WagerSide is the direction of a wager on a market.
type WagerSide string

const (
	SideWin  WagerSide = "win"
	SideFall WagerSide = "fall"
)

// IsValid reports whether s is one of the two closed wager sides.
func (s WagerSide) IsValid() bool {
	return s == SideWin || s == SideFall
}

// Opposite returns the other wager side.
func (s WagerSide) Opposite() WagerSide {
	if s == SideWin {
		return SideFall
	}
	return SideWin
}

// OrderSide is the direction of a resting limit order.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// IsValid reports whether s is one of the two closed order sides.
func (s OrderSide) IsValid() bool {
	return s == OrderBuy || s == OrderSell
}

// MarketStatus is a market's resolution state.
type MarketStatus string

const (
	MarketOpen         MarketStatus = "open"
	MarketResolvedWin  MarketStatus = "resolved_win"
	MarketResolvedFall MarketStatus = "resolved_fall"
)

// Outcome is the result a market resolves to.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeFall Outcome = "fall"
)

// IsValid reports whether o is a closed resolution outcome.
func (o Outcome) IsValid() bool {
	return o == OutcomeWin || o == OutcomeFall
}

// Status returns the market status corresponding to the outcome.
func (o Outcome) Status() MarketStatus {
	if o == OutcomeWin {
		return MarketResolvedWin
	}
	return MarketResolvedFall
}

// Matches reports whether a wager on the given side wins under this outcome.
func (o Outcome) Matches(side WagerSide) bool {
	return (o == OutcomeWin && side == SideWin) || (o == OutcomeFall && side == SideFall)
}

// WagerStatus is a wager's lifecycle state.
type WagerStatus string

const (
	WagerActive      WagerStatus = "active"
	WagerClosed      WagerStatus = "closed"
	WagerSettledWon  WagerStatus = "settled_won"
	WagerSettledLost WagerStatus = "settled_lost"
)

// OrderStatus is an order's lifecycle state.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// EntryKind classifies a ledger entry by the operation that produced it.
type EntryKind string

const (
	EntryWagerOpen       EntryKind = "wager_open"
	EntryWagerClose      EntryKind = "wager_close"
	EntryOrderSettle     EntryKind = "order_settle"
	EntryMilestoneReward EntryKind = "milestone_reward"
	EntryAdjustment      EntryKind = "adjustment"
)

// Account holds a user's coin balance and cumulative wager count.
// Accounts are created at signup, never deleted, only deactivated.
// The balance is mutated exclusively through ledger postings.
type Account struct {
	ID         string          `json:"id" db:"id"`
	Balance    decimal.Decimal `json:"balance" db:"balance"`
	WagerCount int64           `json:"wager_count" db:"wager_count"`
	Active     bool            `json:"active" db:"active"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Market is a tradable startup whose odds are derived from wager volume.
// OddsWin and OddsFall stay within [1, maxOdds] and are recomputed
// synchronously on every volume change.
type Market struct {
	ID         string          `json:"id" db:"id"`
	Name       string          `json:"name" db:"name"`
	Sector     string          `json:"sector" db:"sector"`
	Stage      string          `json:"stage" db:"stage"`
	OddsWin    decimal.Decimal `json:"odds_win" db:"odds_win"`
	OddsFall   decimal.Decimal `json:"odds_fall" db:"odds_fall"`
	WinVolume  decimal.Decimal `json:"win_volume" db:"win_volume"`
	FallVolume decimal.Decimal `json:"fall_volume" db:"fall_volume"`
	Status     MarketStatus    `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Odds returns the published odds for one wager side.
func (m *Market) Odds(side WagerSide) decimal.Decimal {
	if side == SideWin {
		return m.OddsWin
	}
	return m.OddsFall
}

// Wager is a position: a stake on one side of a market. The stake is
// debited exactly once at open and credited back exactly once at close or
// settlement — never both, never neither.
type Wager struct {
	ID              string           `json:"id" db:"id"`
	AccountID       string           `json:"account_id" db:"account_id"`
	MarketID        string           `json:"market_id" db:"market_id"`
	Side            WagerSide        `json:"side" db:"side"`
	Stake           decimal.Decimal  `json:"stake" db:"stake"`
	OddsAtOpen      decimal.Decimal  `json:"odds_at_open" db:"odds_at_open"`
	PotentialReturn decimal.Decimal  `json:"potential_return" db:"potential_return"` // stake × oddsAtOpen
	Status          WagerStatus      `json:"status" db:"status"`
	OpenedAt        time.Time        `json:"opened_at" db:"opened_at"`
	ClosedAt        *time.Time       `json:"closed_at,omitempty" db:"closed_at"`
	RealizedPnL     *decimal.Decimal `json:"realized_pnl,omitempty" db:"realized_pnl"`
}

// Order is a resting limit order for position transfer between accounts.
// Invariant: a filled order has exactly one counterparty order, also
// filled, on the same market with the opposite side.
type Order struct {
	ID          string           `json:"id" db:"id"`
	AccountID   string           `json:"account_id" db:"account_id"`
	MarketID    string           `json:"market_id" db:"market_id"`
	Side        OrderSide        `json:"side" db:"side"`
	Quantity    decimal.Decimal  `json:"quantity" db:"quantity"`
	Price       decimal.Decimal  `json:"price" db:"price"`
	Status      OrderStatus      `json:"status" db:"status"`
	FilledPrice *decimal.Decimal `json:"filled_price,omitempty" db:"filled_price"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	FilledAt    *time.Time       `json:"filled_at,omitempty" db:"filled_at"`
}

// Milestone is a one-time reward unlocked when an account's balance
// reaches the required threshold. Externally curated, static.
type Milestone struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Description   string          `json:"description" db:"description"`
	RequiredCoins decimal.Decimal `json:"required_coins" db:"required_coins"`
	RewardCoins   decimal.Decimal `json:"reward_coins" db:"reward_coins"`
}

// Claim records that an account claimed a milestone. At most one claim
// exists per (account, milestone) pair, ever.
type Claim struct {
	AccountID   string    `json:"account_id" db:"account_id"`
	MilestoneID string    `json:"milestone_id" db:"milestone_id"`
	ClaimedAt   time.Time `json:"claimed_at" db:"claimed_at"`
}

// LedgerEntry is an immutable, append-only record of a balance change.
// The sum of entries for an account equals its balance at all times.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Kind      EntryKind       `json:"kind" db:"kind"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // signed: +credit, -debit
	RefID     string          `json:"ref_id" db:"ref_id"` // wager/order/milestone id
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// OddsPoint is a snapshot of a market's odds and volumes, appended on
// every recompute so odds history can be charted.
type OddsPoint struct {
	ID         string          `json:"id" db:"id"`
	MarketID   string          `json:"market_id" db:"market_id"`
	OddsWin    decimal.Decimal `json:"odds_win" db:"odds_win"`
	OddsFall   decimal.Decimal `json:"odds_fall" db:"odds_fall"`
	WinVolume  decimal.Decimal `json:"win_volume" db:"win_volume"`
	FallVolume decimal.Decimal `json:"fall_volume" db:"fall_volume"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
