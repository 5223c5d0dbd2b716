package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/onboarding92/exchange-core/internal/service"
	"github.com/onboarding92/exchange-core/internal/storage"
	"github.com/onboarding92/exchange-core/internal/testutil"
)

var testSecret = []byte("test-secret")

type fakeExchange struct {
	placeResult *service.PlaceOrderResult
	placeErr    error
	lastPlace   *service.PlaceOrderInput
	cancelOrder *storage.Order
	cancelErr   error
	getOrder    *storage.Order
	getErr      error
	orders      []storage.Order
	balances    []storage.LedgerAccount
	trades      []storage.Trade
	depositAcct *storage.LedgerAccount
	depositErr  error
	lastDeposit string
	bookView    *service.BookView
}

func (f *fakeExchange) PlaceOrder(_ context.Context, input service.PlaceOrderInput) (*service.PlaceOrderResult, error) {
	f.lastPlace = &input
	return f.placeResult, f.placeErr
}

func (f *fakeExchange) CancelOrder(_ context.Context, orderID, userID uuid.UUID, correlationID string) (*storage.Order, error) {
	return f.cancelOrder, f.cancelErr
}

func (f *fakeExchange) GetOrder(_ context.Context, orderID, userID uuid.UUID) (*storage.Order, error) {
	return f.getOrder, f.getErr
}

func (f *fakeExchange) ListOrders(_ context.Context, userID uuid.UUID, filter storage.OrderFilter) ([]storage.Order, error) {
	return f.orders, nil
}

func (f *fakeExchange) ListBalances(_ context.Context, userID uuid.UUID) ([]storage.LedgerAccount, error) {
	return f.balances, nil
}

func (f *fakeExchange) ListTrades(_ context.Context, baseAsset, quoteAsset string, limit int) ([]storage.Trade, error) {
	return f.trades, nil
}

func (f *fakeExchange) Deposit(_ context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) (*storage.LedgerAccount, error) {
	f.lastDeposit = asset
	return f.depositAcct, f.depositErr
}

func (f *fakeExchange) OrderBook(symbol string, depth int) *service.BookView {
	if f.bookView != nil {
		return f.bookView
	}
	return &service.BookView{Symbol: symbol}
}

type fakeWithdrawals struct {
	requested  *storage.Withdrawal
	requestErr error
	lastInput  *service.RequestWithdrawalInput
	decided    *storage.Withdrawal
	decideErr  error
	got        *storage.Withdrawal
	getErr     error
	list       []storage.Withdrawal
}

func (f *fakeWithdrawals) Request(_ context.Context, input service.RequestWithdrawalInput) (*storage.Withdrawal, error) {
	f.lastInput = &input
	return f.requested, f.requestErr
}

func (f *fakeWithdrawals) Approve(_ context.Context, id uuid.UUID, correlationID string) (*storage.Withdrawal, error) {
	return f.decided, f.decideErr
}

func (f *fakeWithdrawals) Reject(_ context.Context, id uuid.UUID, correlationID string) (*storage.Withdrawal, error) {
	return f.decided, f.decideErr
}

func (f *fakeWithdrawals) Get(_ context.Context, id, userID uuid.UUID) (*storage.Withdrawal, error) {
	return f.got, f.getErr
}

func (f *fakeWithdrawals) List(_ context.Context, userID uuid.UUID) ([]storage.Withdrawal, error) {
	return f.list, nil
}

func newTestRouter(exchange *fakeExchange, withdrawals *fakeWithdrawals) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	orders := NewOrderHandler(exchange, nil)
	market := NewMarketHandler(exchange, nil)
	wallet := NewWalletHandler(exchange, withdrawals, nil)
	RegisterRoutes(router, orders, market, wallet, testSecret)
	return router
}

func makeRequestWithHeader(router *gin.Engine, method, path string, body any, token, headerKey, headerValue string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(headerKey, headerValue)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func userToken() string {
	token, _ := testutil.GenerateJWT(testutil.DemoUserID, []string{"user"}, testSecret, time.Hour, time.Now())
	return token
}

func adminToken() string {
	token, _ := testutil.GenerateJWT(testutil.AdminUserID, []string{"user", "admin"}, testSecret, time.Hour, time.Now())
	return token
}

func sampleOrder(userID uuid.UUID) *storage.Order {
	price := decimal.NewFromInt(50000)
	now := time.Now().UTC()
	return &storage.Order{
		ID:           uuid.New(),
		UserID:       userID,
		BaseAsset:    "BTC",
		QuoteAsset:   "USDT",
		Side:         storage.SideBuy,
		Type:         storage.TypeLimit,
		Price:        &price,
		Amount:       decimal.NewFromInt(1),
		FilledAmount: decimal.Zero,
		Status:       storage.OrderStatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
