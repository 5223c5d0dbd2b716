package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/onboarding92/exchange-core/internal/engine"
	"github.com/onboarding92/exchange-core/internal/storage"
	"github.com/onboarding92/exchange-core/libs/kafka"
)

var (
	ErrNoMarketPrice = errors.New("no reference price for market order")
)

// ExchangeStore is the persistence surface the exchange service needs.
// *storage.Store satisfies it; tests substitute fakes.
type ExchangeStore interface {
	Reserve(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) error
	Release(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) error
	Settle(ctx context.Context, userID uuid.UUID, asset string, deltaBalance, deltaLocked decimal.Decimal) error
	Credit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) error
	ListAccounts(ctx context.Context, userID uuid.UUID) ([]storage.LedgerAccount, error)

	CreateOrder(ctx context.Context, o *storage.Order) (*storage.Order, bool, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*storage.Order, error)
	GetOrderByClientID(ctx context.Context, userID uuid.UUID, clientOrderID string) (*storage.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, f storage.OrderFilter) ([]storage.Order, error)
	ApplyFill(ctx context.Context, orderID uuid.UUID, qty decimal.Decimal) (*storage.Order, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error)
	LoadOpenOrders(ctx context.Context) ([]storage.Order, error)

	InsertTrade(ctx context.Context, t *storage.Trade) error
	LastTradePrice(ctx context.Context, baseAsset, quoteAsset string) (decimal.Decimal, error)
	ListRecentTrades(ctx context.Context, baseAsset, quoteAsset string, limit int) ([]storage.Trade, error)
}

type ExchangeService struct {
	store                ExchangeStore
	engine               *engine.Engine
	producer             kafka.Publisher
	logger               *slog.Logger
	metrics              *Metrics
	topics               Topics
	marketBuySlippageBps int

	// bookLocks serializes matching, settlement and cancellation per symbol:
	// fills taken from the in-memory book must reach the ledger before a
	// cancel may read an order's remainder.
	bookLocks sync.Map
}

func NewExchangeService(store ExchangeStore, eng *engine.Engine, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics, topics Topics, marketBuySlippageBps int) *ExchangeService {
	if logger == nil {
		logger = slog.Default()
	}
	if marketBuySlippageBps < 0 {
		marketBuySlippageBps = 0
	}
	return &ExchangeService{
		store:                store,
		engine:               eng,
		producer:             producer,
		logger:               logger,
		metrics:              metrics,
		topics:               topics,
		marketBuySlippageBps: marketBuySlippageBps,
	}
}

type PlaceOrderInput struct {
	UserID        uuid.UUID
	ClientOrderID string
	BaseAsset     string
	QuoteAsset    string
	Side          string
	Type          string
	Amount        decimal.Decimal
	Price         *decimal.Decimal
	CorrelationID string
}

type PlaceOrderResult struct {
	Order    *storage.Order
	Trades   []storage.Trade
	Existing bool
}

// PlaceOrder runs the full submission pipeline: idempotency check, fund
// reservation, synchronous matching, settlement of every fill, and the final
// leftover handling for market orders. The order row exists only if its
// funds are reserved.
func (s *ExchangeService) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlaceOrderResult, error) {
	clientOrderID := strings.TrimSpace(input.ClientOrderID)
	if clientOrderID != "" {
		existing, err := s.store.GetOrderByClientID(ctx, input.UserID, clientOrderID)
		if err == nil {
			s.countSubmission("duplicate")
			return &PlaceOrderResult{Order: existing, Existing: true}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			s.countSubmission("error")
			return nil, err
		}
	}

	reserveAsset, reserveAmount, priceCap, err := s.reservationFor(ctx, input)
	if err != nil {
		s.countSubmission("rejected")
		return nil, err
	}

	if err := s.store.Reserve(ctx, input.UserID, reserveAsset, reserveAmount); err != nil {
		if errors.Is(err, storage.ErrInsufficientFunds) {
			s.countSubmission("rejected")
		} else {
			s.countSubmission("error")
		}
		return nil, err
	}

	order := &storage.Order{
		ID:            uuid.New(),
		ClientOrderID: clientOrderID,
		UserID:        input.UserID,
		BaseAsset:     input.BaseAsset,
		QuoteAsset:    input.QuoteAsset,
		Side:          input.Side,
		Type:          input.Type,
		Price:         input.Price,
		Amount:        input.Amount,
		Status:        storage.OrderStatusOpen,
	}

	stored, created, err := s.store.CreateOrder(ctx, order)
	if err != nil {
		if releaseErr := s.store.Release(ctx, input.UserID, reserveAsset, reserveAmount); releaseErr != nil {
			s.logger.Error("release after failed insert", "order_id", order.ID, "error", releaseErr)
		}
		s.countSubmission("error")
		return nil, err
	}
	if !created {
		// Lost the idempotency race: another request with the same client
		// order id got there first. Hand back its funds.
		if releaseErr := s.store.Release(ctx, input.UserID, reserveAsset, reserveAmount); releaseErr != nil {
			s.logger.Error("release duplicate reservation", "order_id", order.ID, "error", releaseErr)
		}
		s.countSubmission("duplicate")
		return &PlaceOrderResult{Order: stored, Existing: true}, nil
	}

	s.publishOrderAccepted(ctx, input.CorrelationID, stored)

	final, trades, err := s.matchAndSettle(ctx, stored, reserveAmount, priceCap, input.CorrelationID)
	if err != nil {
		s.countSubmission("error")
		return nil, err
	}

	s.countSubmission("accepted")
	return &PlaceOrderResult{Order: final, Trades: trades}, nil
}

// matchAndSettle runs the order through the book and settles every fill,
// all under the symbol's book lock so a concurrent cancel cannot slip in
// between a match and its ledger legs.
func (s *ExchangeService) matchAndSettle(ctx context.Context, stored *storage.Order, reserved, priceCap decimal.Decimal, correlationID string) (*storage.Order, []storage.Trade, error) {
	unlock := s.lockBook(stored.Symbol())
	defer unlock()

	// A market buy matches at the makers' prices; cap it at the per-unit
	// price its reservation covers so settlement can never come up short.
	enginePrice := derefPrice(stored.Price)
	if stored.Type == storage.TypeMarket && stored.Side == storage.SideBuy {
		enginePrice = priceCap
	}

	fills, err := s.engine.ProcessOrder(&engine.Order{
		ID:        stored.ID,
		UserID:    stored.UserID,
		Symbol:    stored.Symbol(),
		Side:      stored.Side,
		Type:      stored.Type,
		Price:     enginePrice,
		Quantity:  stored.Amount,
		CreatedAt: stored.CreatedAt,
	})
	if err != nil {
		return nil, nil, err
	}

	trades, err := s.settleFills(ctx, stored, fills, correlationID)
	if err != nil {
		return nil, trades, err
	}

	final, err := s.finishTaker(ctx, stored, fills, reserved, correlationID)
	if err != nil {
		return nil, trades, err
	}
	return final, trades, nil
}

func (s *ExchangeService) lockBook(symbol string) func() {
	v, _ := s.bookLocks.LoadOrStore(symbol, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// reservationFor computes which asset and how much to lock for the order.
// Sells lock the base quantity. Limit buys lock quantity times limit price.
// Market buys lock against the last trade price padded by the configured
// slippage allowance. For buys the returned priceCap is the per-unit price
// the reservation covers.
func (s *ExchangeService) reservationFor(ctx context.Context, input PlaceOrderInput) (asset string, amount, priceCap decimal.Decimal, err error) {
	if input.Side == storage.SideSell {
		return input.BaseAsset, input.Amount, decimal.Zero, nil
	}

	if input.Type == storage.TypeLimit {
		if input.Price == nil {
			return "", decimal.Zero, decimal.Zero, fmt.Errorf("price is required for limit orders")
		}
		return input.QuoteAsset, input.Amount.Mul(*input.Price), *input.Price, nil
	}

	ref, err := s.store.LastTradePrice(ctx, input.BaseAsset, input.QuoteAsset)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", decimal.Zero, decimal.Zero, ErrNoMarketPrice
		}
		return "", decimal.Zero, decimal.Zero, err
	}
	if !ref.IsPositive() {
		return "", decimal.Zero, decimal.Zero, ErrNoMarketPrice
	}
	slippage := decimal.NewFromInt(int64(s.marketBuySlippageBps)).Div(decimal.NewFromInt(10000))
	padded := ref.Mul(decimal.NewFromInt(1).Add(slippage))
	return input.QuoteAsset, input.Amount.Mul(padded), padded, nil
}

// settleFills persists and settles every fill produced by the engine. Per
// fill: a trade row, fill progression on both orders, then four ledger legs.
// The buyer's quote and the seller's base leave locked and balance together;
// the received assets are credited as new available balance.
func (s *ExchangeService) settleFills(ctx context.Context, taker *storage.Order, fills []engine.Fill, correlationID string) ([]storage.Trade, error) {
	trades := make([]storage.Trade, 0, len(fills))

	for _, fill := range fills {
		cost := fill.Price.Mul(fill.Quantity)

		var buyOrderID, sellOrderID uuid.UUID
		var buyerID, sellerID uuid.UUID
		if taker.Side == storage.SideBuy {
			buyOrderID, sellOrderID = taker.ID, fill.MakerOrderID
			buyerID, sellerID = taker.UserID, fill.MakerUserID
		} else {
			buyOrderID, sellOrderID = fill.MakerOrderID, taker.ID
			buyerID, sellerID = fill.MakerUserID, taker.UserID
		}

		trade := storage.Trade{
			ID:          uuid.New(),
			BuyOrderID:  buyOrderID,
			SellOrderID: sellOrderID,
			BaseAsset:   taker.BaseAsset,
			QuoteAsset:  taker.QuoteAsset,
			Price:       fill.Price,
			Amount:      fill.Quantity,
			TakerUserID: taker.UserID,
			MakerUserID: fill.MakerUserID,
			CreatedAt:   fill.ExecutedAt,
		}
		if err := s.store.InsertTrade(ctx, &trade); err != nil {
			return trades, err
		}

		if _, err := s.store.ApplyFill(ctx, taker.ID, fill.Quantity); err != nil {
			return trades, err
		}
		if _, err := s.store.ApplyFill(ctx, fill.MakerOrderID, fill.Quantity); err != nil {
			return trades, err
		}

		if err := s.store.Settle(ctx, buyerID, taker.QuoteAsset, cost.Neg(), cost.Neg()); err != nil {
			return trades, err
		}
		if err := s.store.Credit(ctx, buyerID, taker.BaseAsset, fill.Quantity); err != nil {
			return trades, err
		}
		if err := s.store.Settle(ctx, sellerID, taker.BaseAsset, fill.Quantity.Neg(), fill.Quantity.Neg()); err != nil {
			return trades, err
		}
		if err := s.store.Credit(ctx, sellerID, taker.QuoteAsset, cost); err != nil {
			return trades, err
		}

		// A buy taker with a limit above the execution price locked more
		// quote than the fill consumed; the surplus goes back so the
		// remaining lock is always remaining * limit price.
		if taker.Side == storage.SideBuy && taker.Type == storage.TypeLimit && taker.Price != nil {
			surplus := taker.Price.Sub(fill.Price).Mul(fill.Quantity)
			if surplus.IsPositive() {
				if err := s.store.Release(ctx, taker.UserID, taker.QuoteAsset, surplus); err != nil {
					return trades, err
				}
			}
		}

		s.publishTrade(ctx, correlationID, &trade)
		trades = append(trades, trade)
	}

	return trades, nil
}

// finishTaker performs the post-match bookkeeping on the taker order: market
// orders never rest, so any unfilled remainder is cancelled, and whatever
// part of the reservation the fills did not consume is released. For a
// market buy that includes the slippage pad even when it filled completely.
func (s *ExchangeService) finishTaker(ctx context.Context, taker *storage.Order, fills []engine.Fill, reserved decimal.Decimal, correlationID string) (*storage.Order, error) {
	final, err := s.store.GetOrderByID(ctx, taker.ID)
	if err != nil {
		return nil, err
	}
	if taker.Type != storage.TypeMarket {
		return final, nil
	}

	cancelled := false
	if final.Remaining().IsPositive() {
		final, err = s.store.CancelOrder(ctx, final.ID, final.UserID)
		if err != nil {
			return nil, err
		}
		cancelled = true
	}

	var leftover decimal.Decimal
	if taker.Side == storage.SideBuy {
		spent := decimal.Zero
		for _, fill := range fills {
			spent = spent.Add(fill.Price.Mul(fill.Quantity))
		}
		leftover = reserved.Sub(spent)
	} else {
		leftover = final.Remaining()
	}
	if leftover.IsPositive() {
		if err := s.store.Release(ctx, final.UserID, releaseAsset(final), leftover); err != nil {
			return nil, err
		}
	}

	if cancelled {
		s.publishOrderCancelled(ctx, correlationID, final)
	}
	return final, nil
}

// CancelOrder cancels a resting order and releases exactly the unfilled
// remainder of its reservation. It holds the symbol's book lock so the
// remainder cannot change under it mid-settlement.
func (s *ExchangeService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID, correlationID string) (*storage.Order, error) {
	existing, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.countCancellation("forbidden")
		} else {
			s.countCancellation("error")
		}
		return nil, err
	}
	if existing.UserID != userID {
		s.countCancellation("forbidden")
		return nil, storage.ErrForbidden
	}

	unlock := s.lockBook(existing.Symbol())
	defer unlock()

	order, err := s.store.CancelOrder(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrForbidden) {
			s.countCancellation("forbidden")
		} else if errors.Is(err, storage.ErrInvalidStatus) {
			s.countCancellation("invalid_status")
		} else {
			s.countCancellation("error")
		}
		return nil, err
	}

	s.engine.CancelOrder(order.ID, order.Symbol())

	remainder := remainingReservation(order)
	if remainder.IsPositive() {
		if err := s.store.Release(ctx, order.UserID, releaseAsset(order), remainder); err != nil {
			s.countCancellation("error")
			return nil, err
		}
	}

	s.publishOrderCancelled(ctx, correlationID, order)
	s.countCancellation("success")
	return order, nil
}

func (s *ExchangeService) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, storage.ErrNotFound
	}
	return order, nil
}

func (s *ExchangeService) ListOrders(ctx context.Context, userID uuid.UUID, f storage.OrderFilter) ([]storage.Order, error) {
	return s.store.ListOrders(ctx, userID, f)
}

func (s *ExchangeService) ListBalances(ctx context.Context, userID uuid.UUID) ([]storage.LedgerAccount, error) {
	return s.store.ListAccounts(ctx, userID)
}

func (s *ExchangeService) ListTrades(ctx context.Context, baseAsset, quoteAsset string, limit int) ([]storage.Trade, error) {
	return s.store.ListRecentTrades(ctx, baseAsset, quoteAsset, limit)
}

// Deposit credits funds into the ledger, the admin-facing fiat/chain inflow.
func (s *ExchangeService) Deposit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) (*storage.LedgerAccount, error) {
	if err := s.store.Credit(ctx, userID, asset, amount); err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].Asset == asset {
			return &accounts[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

type BookView struct {
	Symbol string
	Bids   []engine.BookLevel
	Asks   []engine.BookLevel
}

func (s *ExchangeService) OrderBook(symbol string, depth int) *BookView {
	bids, asks := s.engine.BookLevels(symbol, depth)
	return &BookView{Symbol: symbol, Bids: bids, Asks: asks}
}

// LoadBooks rebuilds all in-memory books from resting orders, called once
// during startup.
func (s *ExchangeService) LoadBooks(ctx context.Context) (int, error) {
	return s.engine.LoadSnapshot(ctx)
}

// SnapshotAdapter bridges the storage order shape to the engine's.
type SnapshotAdapter struct {
	Store ExchangeStore
}

func (a *SnapshotAdapter) LoadOpenOrders(ctx context.Context) ([]*engine.Order, error) {
	orders, err := a.Store.LoadOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*engine.Order, 0, len(orders))
	for i := range orders {
		o := orders[i]
		out = append(out, &engine.Order{
			ID:        o.ID,
			UserID:    o.UserID,
			Symbol:    o.Symbol(),
			Side:      o.Side,
			Type:      o.Type,
			Price:     derefPrice(o.Price),
			Quantity:  o.Amount,
			Filled:    o.FilledAmount,
			CreatedAt: o.CreatedAt,
		})
	}
	return out, nil
}

// remainingReservation is what a resting order still holds locked: quote at
// the limit price for buys, base quantity for sells.
func remainingReservation(order *storage.Order) decimal.Decimal {
	remaining := order.Remaining()
	if order.Side == storage.SideBuy {
		if order.Price == nil {
			return decimal.Zero
		}
		return remaining.Mul(*order.Price)
	}
	return remaining
}

func releaseAsset(order *storage.Order) string {
	if order.Side == storage.SideBuy {
		return order.QuoteAsset
	}
	return order.BaseAsset
}

func derefPrice(p *decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return *p
}

func (s *ExchangeService) countSubmission(status string) {
	if s.metrics != nil {
		s.metrics.OrderSubmissions.WithLabelValues(status).Inc()
	}
}

func (s *ExchangeService) countCancellation(status string) {
	if s.metrics != nil {
		s.metrics.OrderCancellations.WithLabelValues(status).Inc()
	}
}

func (s *ExchangeService) publishOrderAccepted(ctx context.Context, correlationID string, order *storage.Order) {
	eventID := kafka.DeterministicEventID("orders.accepted", order.ID.String())
	publishEvent(ctx, s.producer, s.logger, s.topics.OrdersAccepted, order.Symbol(), "orders.accepted", eventID, correlationID, func(env kafka.Envelope) any {
		return OrderAcceptedEvent{
			Envelope:      env,
			OrderID:       order.ID.String(),
			ClientOrderID: order.ClientOrderID,
			UserID:        order.UserID.String(),
			Symbol:        order.Symbol(),
			Side:          order.Side,
			Type:          order.Type,
			Price:         optionalDecimal(order.Price),
			Amount:        order.Amount.String(),
			Status:        order.Status,
			CreatedAt:     rfc3339(order.CreatedAt),
		}
	})
}

func (s *ExchangeService) publishOrderCancelled(ctx context.Context, correlationID string, order *storage.Order) {
	eventID := kafka.DeterministicEventID("orders.cancelled", order.ID.String())
	publishEvent(ctx, s.producer, s.logger, s.topics.OrdersCancelled, order.Symbol(), "orders.cancelled", eventID, correlationID, func(env kafka.Envelope) any {
		return OrderCancelledEvent{
			Envelope:    env,
			OrderID:     order.ID.String(),
			UserID:      order.UserID.String(),
			Symbol:      order.Symbol(),
			Status:      order.Status,
			CancelledAt: rfc3339(order.UpdatedAt),
		}
	})
}

func (s *ExchangeService) publishTrade(ctx context.Context, correlationID string, trade *storage.Trade) {
	symbol := trade.BaseAsset + "-" + trade.QuoteAsset
	publishEvent(ctx, s.producer, s.logger, s.topics.TradesExecuted, symbol, "trades.executed", trade.ID.String(), correlationID, func(env kafka.Envelope) any {
		return TradeExecutedEvent{
			Envelope:    env,
			TradeID:     trade.ID.String(),
			Symbol:      symbol,
			BuyOrderID:  trade.BuyOrderID.String(),
			SellOrderID: trade.SellOrderID.String(),
			Price:       trade.Price.String(),
			Amount:      trade.Amount.String(),
			MakerUserID: trade.MakerUserID.String(),
			TakerUserID: trade.TakerUserID.String(),
			ExecutedAt:  rfc3339(trade.CreatedAt),
		}
	})
}

func optionalDecimal(val *decimal.Decimal) string {
	if val == nil {
		return ""
	}
	return val.String()
}
