package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/onboarding92/exchange-core/internal/engine"
	"github.com/onboarding92/exchange-core/internal/validation"
)

// MarketHandler serves the public market data surface: the aggregated book
// and recent trades. No auth required.
type MarketHandler struct {
	Service ExchangeService
	Logger  *slog.Logger
}

func NewMarketHandler(svc ExchangeService, logger *slog.Logger) *MarketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketHandler{Service: svc, Logger: logger}
}

type bookLevelItem struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

type orderBookResponse struct {
	Symbol string          `json:"symbol"`
	Bids   []bookLevelItem `json:"bids"`
	Asks   []bookLevelItem `json:"asks"`
}

func (h *MarketHandler) GetOrderBook(c *gin.Context) {
	symbol := validation.NormalizeSymbol(c.Query("symbol"))
	if _, _, err := validation.SplitSymbol(symbol); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil, nil)
		return
	}

	depth := 50
	if depthStr := strings.TrimSpace(c.Query("depth")); depthStr != "" {
		n, err := strconv.Atoi(depthStr)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid depth", nil, nil)
			return
		}
		depth = n
	}

	view := h.Service.OrderBook(symbol, depth)
	c.JSON(http.StatusOK, orderBookResponse{
		Symbol: view.Symbol,
		Bids:   toLevelItems(view.Bids),
		Asks:   toLevelItems(view.Asks),
	})
}

func (h *MarketHandler) ListTrades(c *gin.Context) {
	symbol := validation.NormalizeSymbol(c.Query("symbol"))
	base, quote, err := validation.SplitSymbol(symbol)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil, nil)
		return
	}

	limit := 0
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil, nil)
			return
		}
		limit = n
	}

	trades, err := h.Service.ListTrades(c.Request.Context(), base, quote, limit)
	if err != nil {
		h.Logger.Error("list trades failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}

	items := make([]tradeItem, 0, len(trades))
	for _, t := range trades {
		items = append(items, tradeToItem(t))
	}
	c.JSON(http.StatusOK, gin.H{"trades": items})
}

func toLevelItems(levels []engine.BookLevel) []bookLevelItem {
	out := make([]bookLevelItem, 0, len(levels))
	for _, level := range levels {
		out = append(out, bookLevelItem{
			Price:  level.Price.String(),
			Amount: level.Amount.String(),
		})
	}
	return out
}
