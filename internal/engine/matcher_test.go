package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func limitOrder(side string, price, qty int64) *Order {
	return &Order{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Symbol:   "BTC-USDT",
		Side:     side,
		Type:     TypeLimit,
		Price:    decimal.NewFromInt(price),
		Quantity: decimal.NewFromInt(qty),
	}
}

func TestMatchOrderFullFill(t *testing.T) {
	book := NewOrderBook("BTC-USDT")
	maker := limitOrder(SideSell, 100, 5)
	if err := book.AddOrder(maker); err != nil {
		t.Fatalf("add maker: %v", err)
	}

	incoming := limitOrder(SideBuy, 100, 2)
	fills, err := book.MatchOrder(incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].Quantity.String() != "2" {
		t.Fatalf("expected qty 2, got %s", fills[0].Quantity.String())
	}
	if fills[0].MakerOrderID != maker.ID {
		t.Fatalf("expected maker %s, got %s", maker.ID, fills[0].MakerOrderID)
	}
	if maker.Remaining().String() != "3" {
		t.Fatalf("expected maker remaining 3, got %s", maker.Remaining().String())
	}
	if incoming.Remaining().String() != "0" {
		t.Fatalf("expected taker filled, remaining %s", incoming.Remaining().String())
	}
}

func TestMatchUsesMakerPrice(t *testing.T) {
	book := NewOrderBook("BTC-USDT")
	maker := limitOrder(SideSell, 95, 1)
	if err := book.AddOrder(maker); err != nil {
		t.Fatalf("add maker: %v", err)
	}

	incoming := limitOrder(SideBuy, 100, 1)
	fills, err := book.MatchOrder(incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].Price.String() != "95" {
		t.Fatalf("expected maker price 95, got %s", fills[0].Price.String())
	}
}

func TestMatchPricePriority(t *testing.T) {
	book := NewOrderBook("BTC-USDT")
	cheap := limitOrder(SideSell, 98, 1)
	expensive := limitOrder(SideSell, 102, 1)
	if err := book.AddOrder(expensive); err != nil {
		t.Fatalf("add expensive: %v", err)
	}
	if err := book.AddOrder(cheap); err != nil {
		t.Fatalf("add cheap: %v", err)
	}

	incoming := limitOrder(SideBuy, 105, 2)
	fills, err := book.MatchOrder(incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(fills))
	}
	if fills[0].Price.String() != "98" || fills[1].Price.String() != "102" {
		t.Fatalf("expected best price first, got %s then %s", fills[0].Price, fills[1].Price)
	}
}

func TestMatchTimePriorityAtSamePrice(t *testing.T) {
	book := NewOrderBook("BTC-USDT")
	first := limitOrder(SideSell, 100, 1)
	second := limitOrder(SideSell, 100, 1)
	if err := book.AddOrder(first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if err := book.AddOrder(second); err != nil {
		t.Fatalf("add second: %v", err)
	}

	incoming := limitOrder(SideBuy, 100, 1)
	fills, err := book.MatchOrder(incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].MakerOrderID != first.ID {
		t.Fatalf("expected earliest maker to fill first")
	}
}

func TestLimitRemainderRests(t *testing.T) {
	book := NewOrderBook("BTC-USDT")
	maker := limitOrder(SideSell, 100, 1)
	if err := book.AddOrder(maker); err != nil {
		t.Fatalf("add maker: %v", err)
	}

	incoming := limitOrder(SideBuy, 100, 3)
	fills, err := book.MatchOrder(incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if book.Depth(SideBuy) != 1 {
		t.Fatalf("expected taker remainder to rest, depth %d", book.Depth(SideBuy))
	}
	bid, ok := book.BestBid()
	if !ok || bid.String() != "100" {
		t.Fatalf("expected best bid 100")
	}
}

func TestMarketOrderNeverRests(t *testing.T) {
	book := NewOrderBook("BTC-USDT")
	maker := limitOrder(SideSell, 100, 1)
	if err := book.AddOrder(maker); err != nil {
		t.Fatalf("add maker: %v", err)
	}

	incoming := &Order{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Symbol:   "BTC-USDT",
		Side:     SideBuy,
		Type:     TypeMarket,
		Quantity: decimal.NewFromInt(5),
	}
	fills, err := book.MatchOrder(incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if book.Depth(SideBuy) != 0 {
		t.Fatalf("expected market remainder not to rest")
	}
	if incoming.Remaining().String() != "4" {
		t.Fatalf("expected taker remaining 4, got %s", incoming.Remaining())
	}
}

func TestMarketBuyStopsAtPriceCeiling(t *testing.T) {
	book := NewOrderBook("BTC-USDT")
	cheap := limitOrder(SideSell, 100, 1)
	expensive := limitOrder(SideSell, 150, 1)
	if err := book.AddOrder(cheap); err != nil {
		t.Fatalf("add cheap: %v", err)
	}
	if err := book.AddOrder(expensive); err != nil {
		t.Fatalf("add expensive: %v", err)
	}

	incoming := &Order{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Symbol:   "BTC-USDT",
		Side:     SideBuy,
		Type:     TypeMarket,
		Price:    decimal.RequireFromString("100.5"),
		Quantity: decimal.NewFromInt(2),
	}
	fills, err := book.MatchOrder(incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].Price.String() != "100" {
		t.Fatalf("expected fill at 100, got %s", fills[0].Price)
	}
	if incoming.Remaining().String() != "1" {
		t.Fatalf("expected remaining 1, got %s", incoming.Remaining())
	}
	if book.Depth(SideBuy) != 0 {
		t.Fatalf("expected market remainder not to rest")
	}
	if book.Depth(SideSell) != 1 {
		t.Fatalf("expected expensive ask untouched, depth %d", book.Depth(SideSell))
	}
}

func TestMarketSellMatchesAnyBid(t *testing.T) {
	book := NewOrderBook("BTC-USDT")
	bid := limitOrder(SideBuy, 1, 1)
	if err := book.AddOrder(bid); err != nil {
		t.Fatalf("add bid: %v", err)
	}

	incoming := &Order{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Symbol:   "BTC-USDT",
		Side:     SideSell,
		Type:     TypeMarket,
		Quantity: decimal.NewFromInt(1),
	}
	fills, err := book.MatchOrder(incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 1 || fills[0].Price.String() != "1" {
		t.Fatalf("expected fill at 1, got %v", fills)
	}
}

func TestNonCrossingLimitRests(t *testing.T) {
	book := NewOrderBook("BTC-USDT")
	maker := limitOrder(SideSell, 110, 1)
	if err := book.AddOrder(maker); err != nil {
		t.Fatalf("add maker: %v", err)
	}

	incoming := limitOrder(SideBuy, 100, 1)
	fills, err := book.MatchOrder(incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("expected no fills, got %d", len(fills))
	}
	if book.Depth(SideBuy) != 1 || book.Depth(SideSell) != 1 {
		t.Fatalf("expected both orders resting")
	}
}

func TestStaleMakerEvicted(t *testing.T) {
	book := NewOrderBook("BTC-USDT")
	stale := limitOrder(SideSell, 100, 1)
	if err := book.AddOrder(stale); err != nil {
		t.Fatalf("add stale: %v", err)
	}
	// Simulate an out-of-band fill leaving a zero-remaining order behind.
	stale.Filled = stale.Quantity

	live := limitOrder(SideSell, 100, 2)
	if err := book.AddOrder(live); err != nil {
		t.Fatalf("add live: %v", err)
	}

	incoming := limitOrder(SideBuy, 100, 2)
	fills, err := book.MatchOrder(incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].MakerOrderID != live.ID {
		t.Fatalf("expected fill against live maker")
	}
	if book.Depth(SideSell) != 0 {
		t.Fatalf("expected stale maker evicted, depth %d", book.Depth(SideSell))
	}
}

func TestSellTakerMatchesHighestBid(t *testing.T) {
	book := NewOrderBook("BTC-USDT")
	low := limitOrder(SideBuy, 95, 1)
	high := limitOrder(SideBuy, 99, 1)
	if err := book.AddOrder(low); err != nil {
		t.Fatalf("add low: %v", err)
	}
	if err := book.AddOrder(high); err != nil {
		t.Fatalf("add high: %v", err)
	}

	incoming := limitOrder(SideSell, 96, 1)
	fills, err := book.MatchOrder(incoming)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].Price.String() != "99" {
		t.Fatalf("expected fill at 99, got %s", fills[0].Price.String())
	}
	if book.Depth(SideBuy) != 1 {
		t.Fatalf("expected low bid still resting")
	}
}
