package book

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/events"
	"github.com/upspin-bets/wager-engine/internal/httpx"
	"github.com/upspin-bets/wager-engine/internal/keylock"
	"github.com/upspin-bets/wager-engine/internal/ledger"
	"github.com/upspin-bets/wager-engine/internal/market"
	"github.com/upspin-bets/wager-engine/internal/metrics"
	"github.com/upspin-bets/wager-engine/internal/model"
	"github.com/upspin-bets/wager-engine/internal/store"
)

var (
	// ErrInvalidQuantity is returned when an order quantity is not a whole
	// amount of at least 1.
	ErrInvalidQuantity = errors.New("book: quantity must be a whole amount >= 1")

	// ErrInvalidPrice is returned when a limit price is not positive in
	// 0.01 coin steps.
	ErrInvalidPrice = errors.New("book: price must be positive in 0.01 steps")

	// ErrInvalidOrderSide is returned when the side is not buy or sell.
	ErrInvalidOrderSide = errors.New("book: side must be buy or sell")

	// ErrNotPending is returned when cancelling an order that has already
	// filled or been cancelled.
	ErrNotPending = errors.New("book: order is not pending")
)

// Service manages per-market order books. All book mutations for a market
// run under that market's entity lock; fills move coins through the ledger
// in one atomic transfer.
type Service struct {
	store   store.Store
	ledger  *ledger.Service
	locks   *keylock.Registry
	emitter events.Emitter
}

// NewService creates the order book service.
func NewService(st store.Store, lg *ledger.Service, locks *keylock.Registry, emitter events.Emitter) *Service {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Service{store: st, ledger: lg, locks: locks, emitter: emitter}
}

func validQuantity(q decimal.Decimal) bool {
	return q.GreaterThanOrEqual(decimal.NewFromInt(1)) && q.Equal(q.Truncate(0))
}

func validPrice(p decimal.Decimal) bool {
	return p.IsPositive() && p.Equal(p.Round(2))
}

// Submit places a limit order and matches it against the book.
//
// The order matches while an opposing resting order crosses it, executing
// at the resting order's price. When quantities differ, the larger order
// splits: its filled part pairs one-to-one with the counterparty and the
// remainder re-enters the book as a new pending order. The returned order
// is the caller's final unfilled remainder (Pending) or the last filled
// part (Filled).
func (s *Service) Submit(ctx context.Context, accountID, marketID string, side model.OrderSide, quantity, price decimal.Decimal) (*model.Order, error) {
	if !side.IsValid() {
		return nil, ErrInvalidOrderSide
	}
	if !validQuantity(quantity) {
		return nil, ErrInvalidQuantity
	}
	if !validPrice(price) {
		return nil, ErrInvalidPrice
	}

	release, err := s.locks.Acquire(ctx, keylock.MarketKey(marketID))
	if err != nil {
		metrics.ContentionErrors.Inc()
		return nil, err
	}
	defer release()

	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.MarketOpen {
		return nil, market.ErrMarketClosed
	}

	incoming := &model.Order{
		ID:        uuid.New().String(),
		AccountID: accountID,
		MarketID:  marketID,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Status:    model.OrderPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertOrder(ctx, incoming); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	metrics.OrdersSubmitted.WithLabelValues(string(side)).Inc()

	for {
		resting, err := s.store.PendingOrdersByMarket(ctx, marketID)
		if err != nil {
			return nil, err
		}
		counter := bestOpposite(resting, incoming)
		if counter == nil {
			slog.Info("order resting",
				"order", incoming.ID,
				"market", marketID,
				"side", side,
				"quantity", incoming.Quantity.String(),
				"price", price.String(),
			)
			return incoming, nil
		}

		filled, err := s.fill(ctx, incoming, counter)
		if err != nil {
			// Pull the rejected order so it cannot rest unfunded.
			incoming.Status = model.OrderCancelled
			if uerr := s.store.UpdateOrder(ctx, incoming); uerr != nil {
				slog.Error("failed to cancel rejected order", "order", incoming.ID, "err", uerr)
			}
			return nil, err
		}
		if filled {
			return incoming, nil
		}
		// The incoming order was the larger one; continue matching its
		// remainder, which replaced it as a fresh pending order.
	}
}

// fill executes one match between the incoming order and a resting
// counterparty at the resting price. Returns true when the incoming side
// is fully filled.
func (s *Service) fill(ctx context.Context, incoming, resting *model.Order) (bool, error) {
	qty := incoming.Quantity
	if resting.Quantity.LessThan(qty) {
		qty = resting.Quantity
	}
	price := resting.Price
	amount := qty.Mul(price)

	buyer, seller := incoming, resting
	if incoming.Side == model.OrderSell {
		buyer, seller = resting, incoming
	}

	// Move the coins first: a failed transfer must leave both orders
	// untouched. A resting buyer who can no longer fund the fill is
	// cancelled and matching continues.
	if _, _, err := s.ledger.Transfer(ctx, buyer.AccountID, seller.AccountID, amount, model.EntryOrderSettle, incoming.ID); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) && buyer == resting {
			resting.Status = model.OrderCancelled
			if uerr := s.store.UpdateOrder(ctx, resting); uerr != nil {
				return false, fmt.Errorf("cancel unfunded order: %w", uerr)
			}
			slog.Info("resting order cancelled, buyer unfunded", "order", resting.ID)
			return false, nil
		}
		return false, err
	}

	now := time.Now().UTC()
	incomingFilled := incoming.Quantity.Equal(qty)

	// Split whichever order is larger than the fill. The remainder enters
	// the book as a fresh pending order with new time priority.
	var incomingRemainder *model.Order
	for _, o := range []*model.Order{incoming, resting} {
		if o.Quantity.GreaterThan(qty) {
			remainder := &model.Order{
				ID:        uuid.New().String(),
				AccountID: o.AccountID,
				MarketID:  o.MarketID,
				Side:      o.Side,
				Quantity:  o.Quantity.Sub(qty),
				Price:     o.Price,
				Status:    model.OrderPending,
				CreatedAt: now,
			}
			if err := s.store.InsertOrder(ctx, remainder); err != nil {
				return false, fmt.Errorf("insert remainder: %w", err)
			}
			o.Quantity = qty
			if o == incoming {
				incomingRemainder = remainder
			}
		}
		o.Status = model.OrderFilled
		o.FilledPrice = &price
		o.FilledAt = &now
		if err := s.store.UpdateOrder(ctx, o); err != nil {
			return false, fmt.Errorf("update order: %w", err)
		}
	}

	metrics.OrderFills.Inc()
	for _, o := range []*model.Order{buyer, seller} {
		s.emitter.Emit(events.Event{
			Type:      events.TypeOrderFilled,
			AccountID: o.AccountID,
			MarketID:  o.MarketID,
			OrderID:   o.ID,
			Side:      string(o.Side),
			Amount:    amount.String(),
			At:        now,
		})
	}
	slog.Info("orders filled",
		"buy", buyer.ID,
		"sell", seller.ID,
		"market", incoming.MarketID,
		"quantity", qty.String(),
		"price", price.String(),
		"amount", amount.String(),
	)

	if incomingRemainder != nil {
		// The caller keeps matching with the remainder.
		*incoming = *incomingRemainder
	}
	return incomingFilled, nil
}

// Cancel removes a pending order from the book with no ledger effect.
func (s *Service) Cancel(ctx context.Context, orderID, accountID string) (*model.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.AccountID != accountID {
		return nil, store.ErrNotFound
	}

	release, err := s.locks.Acquire(ctx, keylock.MarketKey(o.MarketID))
	if err != nil {
		metrics.ContentionErrors.Inc()
		return nil, err
	}
	defer release()

	o, err = s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OrderPending {
		return nil, ErrNotPending
	}

	o.Status = model.OrderCancelled
	if err := s.store.UpdateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	slog.Info("order cancelled", "order", o.ID, "account", accountID)
	return o, nil
}

// --- HTTP Handlers ---

// SubmitRequest is the JSON body for POST /api/v1/orders.
type SubmitRequest struct {
	AccountID string          `json:"account_id"`
	MarketID  string          `json:"market_id"`
	Side      model.OrderSide `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// CancelRequest is the JSON body for POST /api/v1/orders/{orderID}/cancel.
type CancelRequest struct {
	AccountID string `json:"account_id"`
}

// SubmitOrder handles POST /api/v1/orders
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" || req.MarketID == "" {
		httpx.WriteError(w, "account_id and market_id are required", http.StatusBadRequest)
		return
	}

	o, err := s.Submit(r.Context(), req.AccountID, req.MarketID, req.Side, req.Quantity, req.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, o)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		httpx.WriteError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	o, err := s.Cancel(r.Context(), chi.URLParam(r, "orderID"), req.AccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

// GetDepth handles GET /api/v1/markets/{marketID}/book
// Returns the aggregated resting book: bids and asks by price level.
func (s *Service) GetDepth(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	ctx := r.Context()

	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		httpx.WriteError(w, "market not found", http.StatusNotFound)
		return
	}

	resting, err := s.store.PendingOrdersByMarket(ctx, marketID)
	if err != nil {
		httpx.WriteError(w, "failed to load order book", http.StatusInternalServerError)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, aggregate(marketID, resting))
}

// writeDomainError maps order book errors onto the HTTP surface.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidOrderSide):
		httpx.WriteError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrInsufficientFunds):
		httpx.WriteError(w, "insufficient funds", http.StatusPaymentRequired)
	case errors.Is(err, market.ErrMarketClosed), errors.Is(err, ErrNotPending):
		httpx.WriteError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, keylock.ErrContention):
		httpx.WriteContention(w)
	default:
		httpx.WriteError(w, "internal error", http.StatusInternalServerError)
	}
}
