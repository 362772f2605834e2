// Package book implements price-time-priority matching for a single binary
// (YES/NO) prediction market, priced in integer cents [1,99]. Grounded on
// _examples/original_source/backend/app/market/orderbook.py's exact
// matching algorithm; pkg/polymarket/book/orderbook.go is
// an L2 aggregate-only book with no per-order IDs and cannot express this —
// its sync.RWMutex-guarded-struct and Snapshot() idiom is reused here, its
// matching logic is not.
package book

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phenomenon0/forecastmarket/internal/apperr"
	"github.com/phenomenon0/forecastmarket/internal/domain"
)

// priceLevel is a FIFO queue of resting orders at one price.
type priceLevel struct {
	orders []*domain.Order
}

// OrderBook matches orders for a single market. Zero value is not usable;
// construct with NewOrderBook.
type OrderBook struct {
	mu sync.Mutex

	marketID string

	yesLevels map[int]*priceLevel // bid side
	noLevels  map[int]*priceLevel // ask side
	ordersByID map[string]*domain.Order

	market    *domain.Market
	positions map[string]*domain.Position // owner -> position
	trades    []*domain.Trade

	seq uint64
}

// NewOrderBook creates an empty, open book for the given market.
func NewOrderBook(market *domain.Market) *OrderBook {
	return &OrderBook{
		marketID:   market.ID,
		yesLevels:  make(map[int]*priceLevel),
		noLevels:   make(map[int]*priceLevel),
		ordersByID: make(map[string]*domain.Order),
		market:     market,
		positions:  make(map[string]*domain.Position),
	}
}

func (b *OrderBook) levelsFor(side domain.OrderSide) map[int]*priceLevel {
	if side == domain.OrderSideYes {
		return b.yesLevels
	}
	return b.noLevels
}

// PlaceOrder matches incoming against the resting book and rests any
// remainder.
func (b *OrderBook) PlaceOrder(owner string, side domain.OrderSide, price, quantity int) (*domain.Order, []*domain.Trade, error) {
	if price < 1 || price > 99 {
		return nil, nil, fmt.Errorf("%w: price %d out of [1,99]", apperr.ErrInvalidInput, price)
	}
	if quantity <= 0 {
		return nil, nil, fmt.Errorf("%w: quantity must be > 0", apperr.ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.market.Status != domain.MarketOpen {
		return nil, nil, fmt.Errorf("%w: market is %s", apperr.ErrConflict, b.market.Status)
	}

	now := time.Now().UTC()
	incoming := &domain.Order{
		ID:        uuid.NewString(),
		MarketID:  b.marketID,
		Owner:     owner,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Status:    domain.OrderOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.ordersByID[incoming.ID] = incoming

	trades := b.match(incoming, now)

	if incoming.Remaining() > 0 {
		if incoming.Filled > 0 {
			incoming.Status = domain.OrderPartiallyFilled
		}
		b.rest(incoming)
	}

	return incoming, trades, nil
}

// match walks counterparty price levels in priority order, filling
// incoming against resting orders FIFO within each level.
func (b *OrderBook) match(incoming *domain.Order, now time.Time) []*domain.Trade {
	matchPrice := 100 - incoming.Price

	var trades []*domain.Trade

	if incoming.Side == domain.OrderSideYes {
		// Counterparty is the NO side at price <= matchPrice, cheapest first.
		prices := b.sortedPrices(b.noLevels, func(p int) bool { return p <= matchPrice }, true)
		for _, p := range prices {
			if incoming.Remaining() == 0 {
				break
			}
			trades = append(trades, b.fillLevel(incoming, b.noLevels[p], p, now)...)
			b.dropIfEmpty(b.noLevels, p)
		}
	} else {
		// Counterparty is the YES side at price <= matchPrice, richest first.
		prices := b.sortedPrices(b.yesLevels, func(p int) bool { return p <= matchPrice }, false)
		for _, p := range prices {
			if incoming.Remaining() == 0 {
				break
			}
			trades = append(trades, b.fillLevel(incoming, b.yesLevels[p], p, now)...)
			b.dropIfEmpty(b.yesLevels, p)
		}
	}

	return trades
}

func (b *OrderBook) sortedPrices(levels map[int]*priceLevel, keep func(int) bool, ascending bool) []int {
	var prices []int
	for p := range levels {
		if keep(p) {
			prices = append(prices, p)
		}
	}
	if ascending {
		sort.Ints(prices)
	} else {
		sort.Sort(sort.Reverse(sort.IntSlice(prices)))
	}
	return prices
}

// fillLevel walks one resting price level FIFO, producing trades until
// incoming is exhausted or the level is drained.
func (b *OrderBook) fillLevel(incoming *domain.Order, level *priceLevel, restingPrice int, now time.Time) []*domain.Trade {
	var trades []*domain.Trade

	remaining := level.orders[:0]
	for _, resting := range level.orders {
		if incoming.Remaining() == 0 {
			remaining = append(remaining, resting)
			continue
		}
		if !resting.IsActive() || resting.Remaining() == 0 {
			continue
		}

		fill := min(incoming.Remaining(), resting.Remaining())
		if fill <= 0 {
			remaining = append(remaining, resting)
			continue
		}

		incoming.Filled += fill
		resting.Filled += fill
		incoming.UpdatedAt = now
		resting.UpdatedAt = now
		if resting.Remaining() == 0 {
			resting.Status = domain.OrderFilled
		} else {
			resting.Status = domain.OrderPartiallyFilled
		}

		trade := b.recordTrade(incoming, resting, restingPrice, fill, now)
		trades = append(trades, trade)

		if resting.Remaining() > 0 {
			remaining = append(remaining, resting)
		}
	}
	level.orders = remaining

	return trades
}

// recordTrade builds one Trade, updates market stats, and updates both
// sides' positions.
func (b *OrderBook) recordTrade(incoming, resting *domain.Order, executionPrice, qty int, now time.Time) *domain.Trade {
	var buyOrder, sellOrder *domain.Order
	var tradePrice int

	if incoming.Side == domain.OrderSideYes {
		// incoming YES matched resting NO: incoming is the YES buyer.
		buyOrder, sellOrder = incoming, resting
		tradePrice = executionPrice
	} else {
		// incoming NO matched resting YES: resting is the YES buyer, and
		// the resting YES price is the trade price.
		buyOrder, sellOrder = resting, incoming
		tradePrice = executionPrice
	}

	trade := &domain.Trade{
		ID:          uuid.NewString(),
		MarketID:    b.marketID,
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		Buyer:       buyOrder.Owner,
		Seller:      sellOrder.Owner,
		Price:       tradePrice,
		Quantity:    qty,
		CreatedAt:   now,
	}
	b.trades = append(b.trades, trade)

	b.market.LastPrice = &tradePrice
	b.market.Volume += qty

	b.applyFill(buyOrder.Owner, domain.OrderSideYes, tradePrice, qty)
	b.applyFill(sellOrder.Owner, domain.OrderSideNo, 100-tradePrice, qty)

	return trade
}

// applyFill updates one owner's position with a new fill, maintaining the
// running average price for that side.
func (b *OrderBook) applyFill(owner string, side domain.OrderSide, price, qty int) {
	pos, ok := b.positions[owner]
	if !ok {
		pos = &domain.Position{Owner: owner, MarketID: b.marketID}
		b.positions[owner] = pos
	}

	p := decimal.NewFromInt(int64(price))
	q := decimal.NewFromInt(int64(qty))

	if side == domain.OrderSideYes {
		totalCost := pos.AvgYesPrice.Mul(decimal.NewFromInt(int64(pos.YesQuantity))).Add(p.Mul(q))
		pos.YesQuantity += qty
		if pos.YesQuantity > 0 {
			pos.AvgYesPrice = totalCost.Div(decimal.NewFromInt(int64(pos.YesQuantity)))
		}
	} else {
		totalCost := pos.AvgNoPrice.Mul(decimal.NewFromInt(int64(pos.NoQuantity))).Add(p.Mul(q))
		pos.NoQuantity += qty
		if pos.NoQuantity > 0 {
			pos.AvgNoPrice = totalCost.Div(decimal.NewFromInt(int64(pos.NoQuantity)))
		}
	}
}

func (b *OrderBook) rest(o *domain.Order) {
	levels := b.levelsFor(o.Side)
	lvl, ok := levels[o.Price]
	if !ok {
		lvl = &priceLevel{}
		levels[o.Price] = lvl
	}
	lvl.orders = append(lvl.orders, o)
}

func (b *OrderBook) dropIfEmpty(levels map[int]*priceLevel, price int) {
	if lvl, ok := levels[price]; ok && len(lvl.orders) == 0 {
		delete(levels, price)
	}
}

// CancelOrder removes an order from the book. Fails with apperr.ErrNotFound,
// apperr.ErrForbidden, or apperr.ErrConflict.
func (b *OrderBook) CancelOrder(orderID, owner string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.ordersByID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderID)
	}
	if o.Owner != owner {
		return nil, fmt.Errorf("%w: order %s not owned by %s", apperr.ErrForbidden, orderID, owner)
	}
	if !o.IsActive() {
		return nil, fmt.Errorf("%w: order %s already %s", apperr.ErrConflict, orderID, o.Status)
	}

	o.Status = domain.OrderCancelled
	o.UpdatedAt = time.Now().UTC()
	b.removeFromLevel(o)
	return o, nil
}

// CancelAll cancels every active order owned by owner.
func (b *OrderBook) CancelAll(owner string) []*domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cancelled []*domain.Order
	for _, o := range b.ordersByID {
		if o.Owner == owner && o.IsActive() {
			o.Status = domain.OrderCancelled
			o.UpdatedAt = time.Now().UTC()
			b.removeFromLevel(o)
			cancelled = append(cancelled, o)
		}
	}
	return cancelled
}

func (b *OrderBook) removeFromLevel(o *domain.Order) {
	levels := b.levelsFor(o.Side)
	lvl, ok := levels[o.Price]
	if !ok {
		return
	}
	kept := lvl.orders[:0]
	for _, e := range lvl.orders {
		if e.ID != o.ID {
			kept = append(kept, e)
		}
	}
	lvl.orders = kept
	b.dropIfEmpty(levels, o.Price)
}

// PriceLevelSnapshot is one aggregated row in a book snapshot.
type PriceLevelSnapshot struct {
	Price                int `json:"price"`
	TotalRemainingQty    int `json:"total_remaining_quantity"`
	OrderCount           int `json:"order_count"`
}

// Snapshot is the aggregated view of both sides of the book.
type Snapshot struct {
	Bids   []PriceLevelSnapshot `json:"bids"`
	Asks   []PriceLevelSnapshot `json:"asks"`
	Spread *int                 `json:"spread,omitempty"`
}

// Snapshot aggregates active orders per price level, bids descending and
// asks ascending.
func (b *OrderBook) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	bids := aggregateLevels(b.yesLevels, false)
	asks := aggregateLevels(b.noLevels, true)

	snap := Snapshot{Bids: bids, Asks: asks}
	if len(bids) > 0 && len(asks) > 0 {
		spread := asks[0].Price - bids[0].Price
		snap.Spread = &spread
	}
	return snap
}

func aggregateLevels(levels map[int]*priceLevel, ascending bool) []PriceLevelSnapshot {
	var out []PriceLevelSnapshot
	for price, lvl := range levels {
		qty := 0
		count := 0
		for _, o := range lvl.orders {
			if o.IsActive() {
				qty += o.Remaining()
				count++
			}
		}
		if count > 0 {
			out = append(out, PriceLevelSnapshot{Price: price, TotalRemainingQty: qty, OrderCount: count})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ascending {
			return out[i].Price < out[j].Price
		}
		return out[i].Price > out[j].Price
	})
	return out
}

// Order looks up an order by ID.
func (b *OrderBook) Order(id string) (*domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.ordersByID[id]
	return o, ok
}

// Position returns owner's current position, or a zero-value position if
// they have never traded.
func (b *OrderBook) Position(owner string) domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[owner]; ok {
		return *p
	}
	return domain.Position{Owner: owner, MarketID: b.marketID}
}

// OwnerOrders returns all of owner's orders, active-only when requested.
func (b *OrderBook) OwnerOrders(owner string, activeOnly bool) []*domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*domain.Order
	for _, o := range b.ordersByID {
		if o.Owner != owner {
			continue
		}
		if activeOnly && !o.IsActive() {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RecentTrades returns the most recent n trades, newest first.
func (b *OrderBook) RecentTrades(n int) []*domain.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := len(b.trades)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]*domain.Trade, n)
	for i := 0; i < n; i++ {
		out[i] = b.trades[total-1-i]
	}
	return out
}

// Settle resolves the market and computes payouts.
func (b *OrderBook) Settle(outcome bool) map[string]decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	b.market.Status = domain.MarketResolved
	b.market.Resolution = &outcome
	b.market.ResolvedAt = &now

	payouts := make(map[string]decimal.Decimal, len(b.positions))
	for owner, pos := range b.positions {
		var payout decimal.Decimal
		if outcome {
			payout = decimal.NewFromInt(int64(pos.YesQuantity))
		} else {
			payout = decimal.NewFromInt(int64(pos.NoQuantity))
		}
		cost := pos.AvgYesPrice.Mul(decimal.NewFromInt(int64(pos.YesQuantity))).
			Add(pos.AvgNoPrice.Mul(decimal.NewFromInt(int64(pos.NoQuantity)))).
			Div(decimal.NewFromInt(100))
		pos.RealizedPnL = payout.Sub(cost)
		payouts[owner] = payout
	}
	return payouts
}

// Close stops new orders without resolving the market.
func (b *OrderBook) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.market.Status = domain.MarketClosed
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
