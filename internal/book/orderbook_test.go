package book

import (
	"testing"

	"github.com/phenomenon0/forecastmarket/internal/domain"
)

func newTestBook() *OrderBook {
	m := &domain.Market{ID: "m1", Status: domain.MarketOpen}
	return NewOrderBook(m)
}

func TestNoMatchWhenPricesDontCross(t *testing.T) {
	b := newTestBook()
	_, trades, err := b.PlaceOrder("alice", domain.OrderSideYes, 60, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades on resting order, got %d", len(trades))
	}

	_, trades, err = b.PlaceOrder("bob", domain.OrderSideNo, 41, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 0 {
		t.Errorf("expected zero trades (NO@41 needs YES<=59), got %d", len(trades))
	}
}

func TestExactMatch(t *testing.T) {
	b := newTestBook()
	if _, _, err := b.PlaceOrder("alice", domain.OrderSideYes, 60, 10); err != nil {
		t.Fatal(err)
	}
	_, trades, err := b.PlaceOrder("bob", domain.OrderSideNo, 40, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.Price != 60 {
		t.Errorf("expected trade price 60, got %d", tr.Price)
	}
	if tr.Quantity != 10 {
		t.Errorf("expected qty 10, got %d", tr.Quantity)
	}
	if tr.Buyer != "alice" || tr.Seller != "bob" {
		t.Errorf("unexpected buyer/seller: %s/%s", tr.Buyer, tr.Seller)
	}
}

func TestPriceTimePriorityWithinLevel(t *testing.T) {
	b := newTestBook()
	orderA, _, _ := b.PlaceOrder("A", domain.OrderSideYes, 60, 10)
	orderB, _, _ := b.PlaceOrder("B", domain.OrderSideYes, 60, 10)

	_, trades, err := b.PlaceOrder("bob", domain.OrderSideNo, 40, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].BuyOrderID != orderA.ID {
		t.Errorf("expected A to be matched first (FIFO), got order %s", trades[0].BuyOrderID)
	}

	aAfter, _ := b.Order(orderA.ID)
	if aAfter.Status != domain.OrderPartiallyFilled || aAfter.Remaining() != 5 {
		t.Errorf("A should be partially filled with 5 remaining, got status=%s remaining=%d", aAfter.Status, aAfter.Remaining())
	}
	bAfter, _ := b.Order(orderB.ID)
	if bAfter.Filled != 0 {
		t.Errorf("B should be untouched, got filled=%d", bAfter.Filled)
	}
}

func TestScenario4OrderBookMatch(t *testing.T) {
	b := newTestBook()
	if _, _, err := b.PlaceOrder("alice", domain.OrderSideYes, 60, 10); err != nil {
		t.Fatal(err)
	}
	aliceOrder, trades, err := b.PlaceOrder("bob", domain.OrderSideNo, 30, 4)
	_ = aliceOrder
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || trades[0].Quantity != 4 || trades[0].Price != 60 {
		t.Fatalf("unexpected trades: %+v", trades)
	}

	market := b.market
	if market.LastPrice == nil || *market.LastPrice != 60 {
		t.Errorf("expected last_price=60")
	}
	if market.Volume != 4 {
		t.Errorf("expected volume=4, got %d", market.Volume)
	}

	alicePos := b.Position("alice")
	if alicePos.YesQuantity != 4 || !alicePos.AvgYesPrice.Equal(alicePos.AvgYesPrice) {
		t.Errorf("unexpected alice position: %+v", alicePos)
	}
	bobPos := b.Position("bob")
	if bobPos.NoQuantity != 4 {
		t.Errorf("unexpected bob position: %+v", bobPos)
	}

	snap := b.Snapshot()
	if len(snap.Bids) != 1 || snap.Bids[0].TotalRemainingQty != 6 {
		t.Errorf("expected resting YES@60 qty 6, got %+v", snap.Bids)
	}
}

func TestCancelOrder(t *testing.T) {
	b := newTestBook()
	o, _, _ := b.PlaceOrder("alice", domain.OrderSideYes, 55, 5)

	if _, err := b.CancelOrder(o.ID, "mallory"); err == nil {
		t.Error("expected forbidden error for wrong owner")
	}
	if _, err := b.CancelOrder("does-not-exist", "alice"); err == nil {
		t.Error("expected not-found error")
	}
	cancelled, err := b.CancelOrder(o.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != domain.OrderCancelled {
		t.Errorf("expected cancelled status, got %s", cancelled.Status)
	}
	if _, err := b.CancelOrder(o.ID, "alice"); err == nil {
		t.Error("expected conflict error cancelling already-terminal order")
	}

	snap := b.Snapshot()
	if len(snap.Bids) != 0 {
		t.Errorf("expected no resting bids after cancel, got %+v", snap.Bids)
	}
}

func TestFilledInvariant(t *testing.T) {
	b := newTestBook()
	b.PlaceOrder("alice", domain.OrderSideYes, 50, 20)
	b.PlaceOrder("bob", domain.OrderSideNo, 50, 8)
	b.PlaceOrder("carol", domain.OrderSideNo, 49, 15)

	totalFilled := 0
	for _, o := range b.ordersByID {
		totalFilled += o.Filled
	}
	totalTraded := 0
	for _, tr := range b.trades {
		totalTraded += tr.Quantity
	}
	if totalFilled != 2*totalTraded {
		t.Errorf("invariant violated: sum(filled)=%d, 2*sum(trades)=%d", totalFilled, 2*totalTraded)
	}
}

func TestSettlePayout(t *testing.T) {
	b := newTestBook()
	b.PlaceOrder("alice", domain.OrderSideYes, 60, 10)
	b.PlaceOrder("bob", domain.OrderSideNo, 40, 10)

	payouts := b.Settle(true)
	if payouts["alice"].IntPart() != 10 {
		t.Errorf("expected alice payout 10, got %v", payouts["alice"])
	}
	if payouts["bob"].IntPart() != 0 {
		t.Errorf("expected bob payout 0, got %v", payouts["bob"])
	}

	if _, _, err := b.PlaceOrder("alice", domain.OrderSideYes, 50, 1); err == nil {
		t.Error("expected conflict placing order against resolved market")
	}
}
