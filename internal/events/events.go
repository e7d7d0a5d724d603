// Package events defines the domain events the engine emits after every
// successful mutation and the outbound emitter contract. Delivery to UI
// clients (push, poll, or stream) is an external concern; the engine's
// responsibility ends at emitting a well-formed event.
package events

import (
	"log/slog"
	"time"
)

// Event types.
const (
	TypeBalanceChanged    = "balance_changed"
	TypeWagerOpened       = "wager_opened"
	TypeWagerClosed       = "wager_closed"
	TypeOrderFilled       = "order_filled"
	TypeMilestoneClaimed  = "milestone_claimed"
	TypeMarketOddsChanged = "market_odds_changed"
)

// Event is a domain event payload. Amount-like fields are serialized as
// strings to keep decimal values exact on the wire.
type Event struct {
	Type        string    `json:"type"`
	AccountID   string    `json:"account_id,omitempty"`
	MarketID    string    `json:"market_id,omitempty"`
	WagerID     string    `json:"wager_id,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	MilestoneID string    `json:"milestone_id,omitempty"`
	Side        string    `json:"side,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Balance     string    `json:"balance,omitempty"`
	OddsWin     string    `json:"odds_win,omitempty"`
	OddsFall    string    `json:"odds_fall,omitempty"`
	At          time.Time `json:"at"`
}

// Emitter publishes domain events. Implementations must not block the
// calling operation; slow consumers drop rather than stall.
type Emitter interface {
	Emit(e Event)
}

// LogEmitter writes events to the structured logger. It is the default
// emitter in development and a useful audit trail alongside the hub.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter constructs a logging emitter.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit writes the event to the logger.
func (l *LogEmitter) Emit(e Event) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Info("event",
		"type", e.Type,
		"account_id", e.AccountID,
		"market_id", e.MarketID,
		"amount", e.Amount,
	)
}

// Multi fans an event out to several emitters.
type Multi []Emitter

// Emit sends the event to every emitter in order.
func (m Multi) Emit(e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(e)
		}
	}
}

// Discard is an Emitter that drops everything. Useful for tests.
type Discard struct{}

// Emit drops the event.
func (Discard) Emit(Event) {}
