package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/onboarding92/exchange-core/internal/service"
	"github.com/onboarding92/exchange-core/internal/storage"
	"github.com/onboarding92/exchange-core/internal/validation"
)

type ExchangeService interface {
	PlaceOrder(ctx context.Context, input service.PlaceOrderInput) (*service.PlaceOrderResult, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID, correlationID string) (*storage.Order, error)
	GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, f storage.OrderFilter) ([]storage.Order, error)
	ListBalances(ctx context.Context, userID uuid.UUID) ([]storage.LedgerAccount, error)
	ListTrades(ctx context.Context, baseAsset, quoteAsset string, limit int) ([]storage.Trade, error)
	Deposit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) (*storage.LedgerAccount, error)
	OrderBook(symbol string, depth int) *service.BookView
}

type OrderHandler struct {
	Service ExchangeService
	Logger  *slog.Logger
}

func NewOrderHandler(svc ExchangeService, logger *slog.Logger) *OrderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderHandler{Service: svc, Logger: logger}
}

type createOrderRequest struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	Amount        string `json:"amount"`
}

type orderItem struct {
	OrderID       string      `json:"order_id"`
	ClientOrderID string      `json:"client_order_id,omitempty"`
	Symbol        string      `json:"symbol"`
	Side          string      `json:"side"`
	Type          string      `json:"type"`
	Price         *string     `json:"price,omitempty"`
	Amount        string      `json:"amount"`
	FilledAmount  string      `json:"filled_amount"`
	Status        string      `json:"status"`
	CreatedAt     string      `json:"created_at"`
	UpdatedAt     string      `json:"updated_at"`
	Trades        []tradeItem `json:"trades,omitempty"`
}

type tradeItem struct {
	TradeID     string `json:"trade_id"`
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	ExecutedAt  string `json:"executed_at"`
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil)
		return
	}

	errs := validation.ValidateOrderRequest(req.Symbol, req.Side, req.Type, req.Amount, req.Price)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs, nil)
		return
	}

	base, quote, err := validation.SplitSymbol(req.Symbol)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil, nil)
		return
	}

	amount, _ := decimal.NewFromString(strings.TrimSpace(req.Amount))
	var pricePtr *decimal.Decimal
	if strings.TrimSpace(req.Price) != "" {
		price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid price", nil, nil)
			return
		}
		pricePtr = &price
	}

	clientOrderID := strings.TrimSpace(req.ClientOrderID)
	if headerKey := strings.TrimSpace(c.GetHeader("Idempotency-Key")); headerKey != "" {
		clientOrderID = headerKey
	}

	result, err := h.Service.PlaceOrder(c.Request.Context(), service.PlaceOrderInput{
		UserID:        userID,
		ClientOrderID: clientOrderID,
		BaseAsset:     base,
		QuoteAsset:    quote,
		Side:          strings.ToLower(strings.TrimSpace(req.Side)),
		Type:          strings.ToLower(strings.TrimSpace(req.Type)),
		Amount:        amount,
		Price:         pricePtr,
		CorrelationID: requestIDFromContext(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInsufficientFunds):
			writeError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "insufficient available funds", nil, nil)
		case errors.Is(err, service.ErrNoMarketPrice):
			writeError(c, http.StatusUnprocessableEntity, "NO_MARKET_PRICE", "no reference price for market order", nil, nil)
		default:
			h.Logger.Error("place order failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		}
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	c.JSON(status, orderToItem(result.Order, result.Trades))
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	filter := storage.OrderFilter{
		Status: strings.ToLower(strings.TrimSpace(c.Query("status"))),
	}
	if symbol := strings.TrimSpace(c.Query("symbol")); symbol != "" {
		base, quote, err := validation.SplitSymbol(symbol)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil, nil)
			return
		}
		filter.BaseAsset, filter.QuoteAsset = base, quote
	}
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil, nil)
			return
		}
		filter.Limit = n
	}

	orders, err := h.Service.ListOrders(c.Request.Context(), userID, filter)
	if err != nil {
		h.Logger.Error("list orders failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}

	items := make([]orderItem, 0, len(orders))
	for i := range orders {
		items = append(items, orderToItem(&orders[i], nil))
	}
	c.JSON(http.StatusOK, gin.H{"orders": items})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil, nil)
		return
	}

	order, err := h.Service.GetOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil, nil)
			return
		}
		h.Logger.Error("get order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	c.JSON(http.StatusOK, orderToItem(order, nil))
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil, nil)
		return
	}

	order, err := h.Service.CancelOrder(c.Request.Context(), orderID, userID, requestIDFromContext(c))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrForbidden):
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil, nil)
		case errors.Is(err, storage.ErrInvalidStatus):
			writeError(c, http.StatusConflict, "ORDER_NOT_CANCELLABLE", "order is not open", nil, nil)
		default:
			h.Logger.Error("cancel order failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":   order.ID.String(),
		"status":     order.Status,
		"updated_at": order.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func orderToItem(order *storage.Order, trades []storage.Trade) orderItem {
	var price *string
	if order.Price != nil {
		val := order.Price.String()
		price = &val
	}

	item := orderItem{
		OrderID:       order.ID.String(),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol(),
		Side:          order.Side,
		Type:          order.Type,
		Price:         price,
		Amount:        order.Amount.String(),
		FilledAmount:  order.FilledAmount.String(),
		Status:        order.Status,
		CreatedAt:     order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     order.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, t := range trades {
		item.Trades = append(item.Trades, tradeToItem(t))
	}
	return item
}

func tradeToItem(t storage.Trade) tradeItem {
	return tradeItem{
		TradeID:     t.ID.String(),
		Symbol:      t.BaseAsset + "-" + t.QuoteAsset,
		Price:       t.Price.String(),
		Amount:      t.Amount.String(),
		BuyOrderID:  t.BuyOrderID.String(),
		SellOrderID: t.SellOrderID.String(),
		ExecutedAt:  t.CreatedAt.UTC().Format(time.RFC3339),
	}
}
