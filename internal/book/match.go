// Package book implements the per-market limit order book for position
// transfer between accounts.
//
// Resting orders queue with price-time priority: best price first (highest
// bid, lowest ask), earliest submission breaking ties. A match executes at
// the resting order's price — the maker set the terms, the taker crossed
// them. Unequal quantities split the larger order: the filled part pairs
// with its counterparty, the remainder re-enters the book as a fresh
// resting order with new time priority.
//
// All monetary values use shopspring/decimal — never float64 for money.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/upspin-bets/wager-engine/internal/model"
)

// crosses reports whether a buy at buyPrice matches a sell at sellPrice.
func crosses(buy, sell *model.Order) bool {
	return buy.Price.GreaterThanOrEqual(sell.Price)
}

// better reports whether order a has priority over b on the same side.
func better(a, b *model.Order) bool {
	if !a.Price.Equal(b.Price) {
		if a.Side == model.OrderBuy {
			return a.Price.GreaterThan(b.Price)
		}
		return a.Price.LessThan(b.Price)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// bestOpposite returns the resting order the incoming order matches, or
// nil when nothing on the other side crosses. The incoming account's own
// resting orders never match (self-trade prevention).
func bestOpposite(resting []model.Order, incoming *model.Order) *model.Order {
	var best *model.Order
	for i := range resting {
		o := &resting[i]
		if o.Status != model.OrderPending ||
			o.Side == incoming.Side ||
			o.AccountID == incoming.AccountID {
			continue
		}
		if best == nil || better(o, best) {
			best = o
		}
	}
	if best == nil {
		return nil
	}
	buy, sell := incoming, best
	if incoming.Side == model.OrderSell {
		buy, sell = best, incoming
	}
	if !crosses(buy, sell) {
		return nil
	}
	return best
}

// Level is one aggregated price level of the book.
type Level struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Orders   int    `json:"orders"`
}

// Depth is the aggregated resting book for one market: bids best-first
// (descending price), asks best-first (ascending price).
type Depth struct {
	MarketID string  `json:"market_id"`
	Bids     []Level `json:"bids"`
	Asks     []Level `json:"asks"`
}

// aggregate builds the depth view from resting orders.
func aggregate(marketID string, resting []model.Order) Depth {
	type bucket struct {
		price    decimal.Decimal
		quantity decimal.Decimal
		count    int
	}
	sides := map[model.OrderSide]map[string]*bucket{
		model.OrderBuy:  {},
		model.OrderSell: {},
	}
	for _, o := range resting {
		if o.Status != model.OrderPending {
			continue
		}
		// Prices move in 0.01 steps; two decimal places is canonical.
		key := o.Price.StringFixed(2)
		b, ok := sides[o.Side][key]
		if !ok {
			sides[o.Side][key] = &bucket{price: o.Price, quantity: o.Quantity, count: 1}
			continue
		}
		b.quantity = b.quantity.Add(o.Quantity)
		b.count++
	}

	levels := func(side model.OrderSide) []Level {
		buckets := make([]*bucket, 0, len(sides[side]))
		for _, b := range sides[side] {
			buckets = append(buckets, b)
		}
		sort.Slice(buckets, func(i, j int) bool {
			if side == model.OrderBuy {
				return buckets[i].price.GreaterThan(buckets[j].price)
			}
			return buckets[i].price.LessThan(buckets[j].price)
		})
		out := make([]Level, 0, len(buckets))
		for _, b := range buckets {
			out = append(out, Level{
				Price:    b.price.StringFixed(2),
				Quantity: b.quantity.String(),
				Orders:   b.count,
			})
		}
		return out
	}

	return Depth{
		MarketID: marketID,
		Bids:     levels(model.OrderBuy),
		Asks:     levels(model.OrderSell),
	}
}
