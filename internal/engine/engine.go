package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SnapshotStore interface {
	LoadOpenOrders(ctx context.Context) ([]*Order, error)
}

type Metrics interface {
	ObserveOrder(symbol, side, orderType string, duration time.Duration)
	ObserveTrades(symbol string, count int)
	SetOrderbookDepth(symbol, side string, depth float64)
	SetOrderbookSpread(symbol string, spread float64)
}

// Engine keeps one in-memory book per symbol. Matching is synchronous:
// ProcessOrder runs under the book's lock and returns the fills the caller
// must settle before answering the client.
type Engine struct {
	mu      sync.RWMutex
	books   map[string]*OrderBook
	store   SnapshotStore
	logger  *slog.Logger
	metrics Metrics
}

func NewEngine(store SnapshotStore, logger *slog.Logger, metrics Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		books:   make(map[string]*OrderBook),
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

func (e *Engine) ProcessOrder(order *Order) ([]Fill, error) {
	start := time.Now()
	if err := validateOrderFields(order); err != nil {
		return nil, err
	}
	book := e.getOrderBook(order.Symbol)

	fills, err := book.MatchOrder(order)
	if err != nil {
		return nil, err
	}

	e.updateMetrics(order, len(fills), time.Since(start))
	return fills, nil
}

func (e *Engine) CancelOrder(orderID uuid.UUID, symbol string) bool {
	return e.getOrderBook(symbol).RemoveOrder(orderID)
}

func (e *Engine) BookLevels(symbol string, limit int) (bids, asks []BookLevel) {
	return e.getOrderBook(symbol).Levels(limit)
}

// LoadSnapshot rebuilds every book from resting orders in storage. Called
// once at startup before the HTTP listener opens.
func (e *Engine) LoadSnapshot(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, fmt.Errorf("snapshot store not configured")
	}

	e.mu.Lock()
	e.books = make(map[string]*OrderBook)
	e.mu.Unlock()

	orders, err := e.store.LoadOpenOrders(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, order := range orders {
		if order == nil {
			continue
		}
		book := e.getOrderBook(order.Symbol)
		if err := book.AddOrder(order); err != nil {
			e.logger.Error("snapshot order load failed", "order_id", order.ID, "error", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

func (e *Engine) ActiveSymbols() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.books)
}

func (e *Engine) getOrderBook(symbol string) *OrderBook {
	sym := strings.TrimSpace(symbol)
	if sym == "" {
		sym = "UNKNOWN"
	}

	e.mu.RLock()
	book := e.books[sym]
	e.mu.RUnlock()
	if book != nil {
		return book
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	book = e.books[sym]
	if book == nil {
		book = NewOrderBook(sym)
		e.books[sym] = book
	}
	return book
}

func (e *Engine) updateMetrics(order *Order, fills int, duration time.Duration) {
	if e.metrics == nil || order == nil {
		return
	}
	e.metrics.ObserveOrder(order.Symbol, order.Side, order.Type, duration)
	if fills > 0 {
		e.metrics.ObserveTrades(order.Symbol, fills)
	}

	book := e.getOrderBook(order.Symbol)
	e.metrics.SetOrderbookDepth(order.Symbol, SideBuy, float64(book.Depth(SideBuy)))
	e.metrics.SetOrderbookDepth(order.Symbol, SideSell, float64(book.Depth(SideSell)))

	bid, okBid := book.BestBid()
	ask, okAsk := book.BestAsk()
	if okBid && okAsk {
		spread := ask.Sub(bid)
		if spread.IsNegative() {
			spread = spread.Abs()
		}
		e.metrics.SetOrderbookSpread(order.Symbol, spread.InexactFloat64())
	}
}
