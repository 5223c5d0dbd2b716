package engine

import (
	"container/heap"
	"container/list"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	TypeLimit  = "limit"
	TypeMarket = "market"
)

// Order is the engine's view of an order: just enough to match. Persistence
// state (status, client id, timestamps) stays in storage.
type Order struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Symbol    string
	Side      string
	Type      string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Filled    decimal.Decimal
	CreatedAt time.Time
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// Fill is one matched segment produced while processing a taker order.
// Price is the maker's resting price.
type Fill struct {
	MakerOrderID uuid.UUID
	MakerUserID  uuid.UUID
	MakerSide    string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	ExecutedAt   time.Time
}

// BookLevel is one aggregated price level of the public book view.
type BookLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

type OrderBook struct {
	symbol string
	mu     sync.Mutex
	buys   *bookSide
	sells  *bookSide
	orders map[uuid.UUID]*orderRef
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		buys:   newBookSide(true),
		sells:  newBookSide(false),
		orders: make(map[uuid.UUID]*orderRef),
	}
}

func (ob *OrderBook) Symbol() string {
	return ob.symbol
}

func (ob *OrderBook) Depth(side string) int {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	count := 0
	for _, ref := range ob.orders {
		if ref.side == side {
			count++
		}
	}
	return count
}

func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if level := ob.buys.best(); level != nil {
		return level.price, true
	}
	return decimal.Zero, false
}

func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if level := ob.sells.best(); level != nil {
		return level.price, true
	}
	return decimal.Zero, false
}

func (ob *OrderBook) AddOrder(order *Order) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	return ob.addOrderLocked(order)
}

func (ob *OrderBook) addOrderLocked(order *Order) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	if order.ID == uuid.Nil {
		return fmt.Errorf("order id required")
	}
	if _, exists := ob.orders[order.ID]; exists {
		return nil
	}
	if order.Type == TypeMarket {
		return nil
	}
	if order.Remaining().LessThanOrEqual(decimal.Zero) {
		return nil
	}

	switch normalizeSide(order.Side) {
	case SideBuy:
		ob.orders[order.ID] = ob.buys.add(order)
	case SideSell:
		ob.orders[order.ID] = ob.sells.add(order)
	default:
		return fmt.Errorf("invalid side")
	}
	return nil
}

func (ob *OrderBook) RemoveOrder(orderID uuid.UUID) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	return ob.removeOrderLocked(orderID)
}

func (ob *OrderBook) removeOrderLocked(orderID uuid.UUID) bool {
	ref, ok := ob.orders[orderID]
	if !ok {
		return false
	}
	ref.sideBook.remove(ref)
	delete(ob.orders, orderID)
	return true
}

// Levels returns the aggregated book: bids sorted best (highest) first,
// asks sorted best (lowest) first, each level capped at limit.
func (ob *OrderBook) Levels(limit int) (bids, asks []BookLevel) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	return ob.buys.aggregate(true, limit), ob.sells.aggregate(false, limit)
}

type orderRef struct {
	order    *Order
	element  *list.Element
	level    *priceLevel
	side     string
	sideBook *bookSide
}

type priceLevel struct {
	price  decimal.Decimal
	key    string
	orders *list.List
	index  int
}

type bookSide struct {
	levels map[string]*priceLevel
	heap   priceHeap
}

func newBookSide(isBuy bool) *bookSide {
	side := &bookSide{
		levels: make(map[string]*priceLevel),
		heap:   priceHeap{isMax: isBuy},
	}
	heap.Init(&side.heap)
	return side
}

func (s *bookSide) add(order *Order) *orderRef {
	key := order.Price.String()
	level := s.levels[key]
	if level == nil {
		level = &priceLevel{price: order.Price, key: key, orders: list.New()}
		heap.Push(&s.heap, level)
		s.levels[key] = level
	}
	element := level.orders.PushBack(order)
	return &orderRef{order: order, element: element, level: level, side: normalizeSide(order.Side), sideBook: s}
}

func (s *bookSide) remove(ref *orderRef) {
	if ref == nil || ref.level == nil || ref.element == nil {
		return
	}
	ref.level.orders.Remove(ref.element)
	if ref.level.orders.Len() == 0 {
		heap.Remove(&s.heap, ref.level.index)
		delete(s.levels, ref.level.key)
	}
}

func (s *bookSide) best() *priceLevel {
	if s.heap.Len() == 0 {
		return nil
	}
	return s.heap.levels[0]
}

func (s *bookSide) aggregate(descending bool, limit int) []BookLevel {
	levels := make([]*priceLevel, 0, len(s.levels))
	for _, level := range s.levels {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool {
		cmp := levels[i].price.Cmp(levels[j].price)
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
	if limit > 0 && len(levels) > limit {
		levels = levels[:limit]
	}

	out := make([]BookLevel, 0, len(levels))
	for _, level := range levels {
		total := decimal.Zero
		for e := level.orders.Front(); e != nil; e = e.Next() {
			total = total.Add(e.Value.(*Order).Remaining())
		}
		if total.IsPositive() {
			out = append(out, BookLevel{Price: level.price, Amount: total})
		}
	}
	return out
}

type priceHeap struct {
	levels []*priceLevel
	isMax  bool
}

func (h priceHeap) Len() int { return len(h.levels) }

func (h priceHeap) Less(i, j int) bool {
	cmp := h.levels[i].price.Cmp(h.levels[j].price)
	if h.isMax {
		return cmp > 0
	}
	return cmp < 0
}

func (h priceHeap) Swap(i, j int) {
	h.levels[i], h.levels[j] = h.levels[j], h.levels[i]
	h.levels[i].index = i
	h.levels[j].index = j
}

func (h *priceHeap) Push(x any) {
	level := x.(*priceLevel)
	level.index = len(h.levels)
	h.levels = append(h.levels, level)
}

func (h *priceHeap) Pop() any {
	old := h.levels
	n := len(old)
	item := old[n-1]
	item.index = -1
	h.levels = old[:n-1]
	return item
}

func normalizeSide(side string) string {
	switch strings.ToLower(strings.TrimSpace(side)) {
	case SideBuy:
		return SideBuy
	case SideSell:
		return SideSell
	default:
		return ""
	}
}

func normalizeType(orderType string) string {
	switch strings.ToLower(strings.TrimSpace(orderType)) {
	case TypeLimit:
		return TypeLimit
	case TypeMarket:
		return TypeMarket
	default:
		return ""
	}
}
