package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/onboarding92/exchange-core/internal/service"
	"github.com/onboarding92/exchange-core/internal/storage"
	"github.com/onboarding92/exchange-core/internal/validation"
)

type WithdrawalService interface {
	Request(ctx context.Context, input service.RequestWithdrawalInput) (*storage.Withdrawal, error)
	Approve(ctx context.Context, id uuid.UUID, correlationID string) (*storage.Withdrawal, error)
	Reject(ctx context.Context, id uuid.UUID, correlationID string) (*storage.Withdrawal, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*storage.Withdrawal, error)
	List(ctx context.Context, userID uuid.UUID) ([]storage.Withdrawal, error)
}

// WalletHandler covers balances, deposits and the withdrawal lifecycle.
type WalletHandler struct {
	Exchange    ExchangeService
	Withdrawals WithdrawalService
	Logger      *slog.Logger
}

func NewWalletHandler(exchange ExchangeService, withdrawals WithdrawalService, logger *slog.Logger) *WalletHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletHandler{Exchange: exchange, Withdrawals: withdrawals, Logger: logger}
}

type balanceItem struct {
	Asset     string `json:"asset"`
	Balance   string `json:"balance"`
	Locked    string `json:"locked"`
	Available string `json:"available"`
}

type withdrawalRequest struct {
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	Address       string `json:"address"`
	TwoFactorCode string `json:"two_factor_code"`
}

type withdrawalItem struct {
	WithdrawalID string `json:"withdrawal_id"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	Fee          string `json:"fee"`
	Address      string `json:"address"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type depositRequest struct {
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (h *WalletHandler) ListBalances(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	accounts, err := h.Exchange.ListBalances(c.Request.Context(), userID)
	if err != nil {
		h.Logger.Error("list balances failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}

	items := make([]balanceItem, 0, len(accounts))
	for _, acct := range accounts {
		items = append(items, balanceItem{
			Asset:     acct.Asset,
			Balance:   acct.Balance.String(),
			Locked:    acct.Locked.String(),
			Available: acct.Available().String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"balances": items})
}

func (h *WalletHandler) RequestWithdrawal(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil)
		return
	}

	errs := validation.ValidateWithdrawalRequest(req.Asset, req.Amount, req.Address)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs, nil)
		return
	}

	amount, _ := decimal.NewFromString(strings.TrimSpace(req.Amount))
	w, err := h.Withdrawals.Request(c.Request.Context(), service.RequestWithdrawalInput{
		UserID:        userID,
		Asset:         req.Asset,
		Amount:        amount,
		Address:       req.Address,
		TwoFactorCode: req.TwoFactorCode,
		CorrelationID: requestIDFromContext(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAssetNotWithdrawable):
			writeError(c, http.StatusUnprocessableEntity, "ASSET_NOT_WITHDRAWABLE", "asset cannot be withdrawn", nil, nil)
		case errors.Is(err, service.ErrBelowMinimum):
			writeError(c, http.StatusUnprocessableEntity, "BELOW_MINIMUM", "amount below withdrawal minimum", nil, nil)
		case errors.Is(err, service.ErrAmountBelowFee):
			writeError(c, http.StatusUnprocessableEntity, "AMOUNT_BELOW_FEE", "amount does not cover the withdrawal fee", nil, nil)
		case errors.Is(err, service.ErrTwoFactorRequired):
			writeError(c, http.StatusUnauthorized, "TWO_FACTOR_REQUIRED", "two-factor code required", nil, nil)
		case errors.Is(err, service.ErrInvalidTwoFactor):
			writeError(c, http.StatusUnauthorized, "TWO_FACTOR_INVALID", "invalid two-factor code", nil, nil)
		case errors.Is(err, storage.ErrInsufficientFunds):
			writeError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "insufficient available funds", nil, nil)
		default:
			h.Logger.Error("request withdrawal failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		}
		return
	}

	c.JSON(http.StatusCreated, withdrawalToItem(w))
}

func (h *WalletHandler) ListWithdrawals(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	ws, err := h.Withdrawals.List(c.Request.Context(), userID)
	if err != nil {
		h.Logger.Error("list withdrawals failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}

	items := make([]withdrawalItem, 0, len(ws))
	for i := range ws {
		items = append(items, withdrawalToItem(&ws[i]))
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": items})
}

func (h *WalletHandler) GetWithdrawal(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	id, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid withdrawal id", nil, nil)
		return
	}

	w, err := h.Withdrawals.Get(c.Request.Context(), id, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "WITHDRAWAL_NOT_FOUND", "withdrawal not found", nil, nil)
			return
		}
		h.Logger.Error("get withdrawal failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	c.JSON(http.StatusOK, withdrawalToItem(w))
}

// DecideWithdrawal handles the admin approve/reject routes; the decision
// comes from the route action parameter.
func (h *WalletHandler) DecideWithdrawal(decision string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUUIDParam(c.Param("id"))
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid withdrawal id", nil, nil)
			return
		}

		var w *storage.Withdrawal
		correlationID := requestIDFromContext(c)
		switch decision {
		case storage.WithdrawalStatusApproved:
			w, err = h.Withdrawals.Approve(c.Request.Context(), id, correlationID)
		case storage.WithdrawalStatusRejected:
			w, err = h.Withdrawals.Reject(c.Request.Context(), id, correlationID)
		default:
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid decision", nil, nil)
			return
		}
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				writeError(c, http.StatusNotFound, "WITHDRAWAL_NOT_FOUND", "withdrawal not found", nil, nil)
			case errors.Is(err, storage.ErrNotPending):
				writeError(c, http.StatusConflict, "WITHDRAWAL_NOT_PENDING", "withdrawal already decided", nil, nil)
			default:
				h.Logger.Error("decide withdrawal failed", "decision", decision, "error", err)
				writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
			}
			return
		}
		c.JSON(http.StatusOK, withdrawalToItem(w))
	}
}

// Deposit is the admin inflow endpoint, standing in for chain and fiat
// gateways.
func (h *WalletHandler) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil)
		return
	}

	userID, err := uuid.Parse(strings.TrimSpace(req.UserID))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid user_id", nil, nil)
		return
	}
	errs := validation.ValidateDepositRequest(req.Asset, req.Amount)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs, nil)
		return
	}

	amount, _ := decimal.NewFromString(strings.TrimSpace(req.Amount))
	asset := strings.ToUpper(strings.TrimSpace(req.Asset))

	acct, err := h.Exchange.Deposit(c.Request.Context(), userID, asset, amount)
	if err != nil {
		h.Logger.Error("deposit failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}

	c.JSON(http.StatusOK, balanceItem{
		Asset:     acct.Asset,
		Balance:   acct.Balance.String(),
		Locked:    acct.Locked.String(),
		Available: acct.Available().String(),
	})
}

func withdrawalToItem(w *storage.Withdrawal) withdrawalItem {
	return withdrawalItem{
		WithdrawalID: w.ID.String(),
		Asset:        w.Asset,
		Amount:       w.Amount.String(),
		Fee:          w.Fee.String(),
		Address:      w.Address,
		Status:       w.Status,
		CreatedAt:    w.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    w.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
