package handlers

import (
	"net/http"
	"testing"

	"github.com/onboarding92/exchange-core/internal/service"
	"github.com/onboarding92/exchange-core/internal/storage"
	"github.com/onboarding92/exchange-core/internal/testutil"
)

func TestCreateOrderUnauthorized(t *testing.T) {
	router := newTestRouter(&fakeExchange{}, &fakeWithdrawals{})

	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/orders", map[string]string{"symbol": "BTC-USDT"})
	testutil.AssertErrorCode(t, resp, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestCreateOrderCreated(t *testing.T) {
	exchange := &fakeExchange{}
	order := sampleOrder(testutil.DemoUserID)
	exchange.placeResult = &service.PlaceOrderResult{Order: order}
	router := newTestRouter(exchange, &fakeWithdrawals{})

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/orders", map[string]string{
		"symbol": "btc-usdt",
		"side":   "buy",
		"type":   "limit",
		"price":  "50000",
		"amount": "1",
	}, userToken())

	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	if exchange.lastPlace == nil {
		t.Fatalf("expected service call")
	}
	if exchange.lastPlace.BaseAsset != "BTC" || exchange.lastPlace.QuoteAsset != "USDT" {
		t.Fatalf("expected symbol split into BTC/USDT, got %s/%s",
			exchange.lastPlace.BaseAsset, exchange.lastPlace.QuoteAsset)
	}
	if exchange.lastPlace.UserID != testutil.DemoUserID {
		t.Fatalf("expected user id from token")
	}

	body := testutil.DecodeJSON[map[string]any](t, resp)
	if body["order_id"] != order.ID.String() {
		t.Fatalf("expected order_id %s, got %v", order.ID, body["order_id"])
	}
}

func TestCreateOrderIdempotencyReplayReturns200(t *testing.T) {
	exchange := &fakeExchange{}
	exchange.placeResult = &service.PlaceOrderResult{Order: sampleOrder(testutil.DemoUserID), Existing: true}
	router := newTestRouter(exchange, &fakeWithdrawals{})

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/orders", map[string]string{
		"symbol": "BTC-USDT",
		"side":   "buy",
		"type":   "limit",
		"price":  "50000",
		"amount": "1",
	}, userToken())

	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
}

func TestCreateOrderIdempotencyHeaderOverridesBody(t *testing.T) {
	exchange := &fakeExchange{}
	exchange.placeResult = &service.PlaceOrderResult{Order: sampleOrder(testutil.DemoUserID)}
	router := newTestRouter(exchange, &fakeWithdrawals{})

	resp := makeRequestWithHeader(router, http.MethodPost, "/orders", map[string]string{
		"client_order_id": "body-key",
		"symbol":          "BTC-USDT",
		"side":            "buy",
		"type":            "limit",
		"price":           "50000",
		"amount":          "1",
	}, userToken(), "Idempotency-Key", "header-key")
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	if exchange.lastPlace.ClientOrderID != "header-key" {
		t.Fatalf("expected header key to win, got %q", exchange.lastPlace.ClientOrderID)
	}
}

func TestCreateOrderValidationFailure(t *testing.T) {
	router := newTestRouter(&fakeExchange{}, &fakeWithdrawals{})

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/orders", map[string]string{
		"symbol": "BTC-USDT",
		"side":   "buy",
		"type":   "market",
		"price":  "50000",
		"amount": "1",
	}, userToken())

	testutil.AssertErrorCode(t, resp, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestCreateOrderInsufficientFunds(t *testing.T) {
	exchange := &fakeExchange{placeErr: storage.ErrInsufficientFunds}
	router := newTestRouter(exchange, &fakeWithdrawals{})

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/orders", map[string]string{
		"symbol": "BTC-USDT",
		"side":   "buy",
		"type":   "limit",
		"price":  "50000",
		"amount": "1",
	}, userToken())

	testutil.AssertErrorCode(t, resp, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS")
}

func TestCreateMarketOrderWithoutReferencePrice(t *testing.T) {
	exchange := &fakeExchange{placeErr: service.ErrNoMarketPrice}
	router := newTestRouter(exchange, &fakeWithdrawals{})

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/orders", map[string]string{
		"symbol": "BTC-USDT",
		"side":   "buy",
		"type":   "market",
		"amount": "1",
	}, userToken())

	testutil.AssertErrorCode(t, resp, http.StatusUnprocessableEntity, "NO_MARKET_PRICE")
}

func TestCancelOrderNotFound(t *testing.T) {
	exchange := &fakeExchange{cancelErr: storage.ErrNotFound}
	router := newTestRouter(exchange, &fakeWithdrawals{})

	resp := testutil.MakeAuthRequest(router, http.MethodDelete, "/orders/"+sampleOrder(testutil.DemoUserID).ID.String(), nil, userToken())
	testutil.AssertErrorCode(t, resp, http.StatusNotFound, "ORDER_NOT_FOUND")
}

func TestCancelOrderNotCancellable(t *testing.T) {
	exchange := &fakeExchange{cancelErr: storage.ErrInvalidStatus}
	router := newTestRouter(exchange, &fakeWithdrawals{})

	resp := testutil.MakeAuthRequest(router, http.MethodDelete, "/orders/"+sampleOrder(testutil.DemoUserID).ID.String(), nil, userToken())
	testutil.AssertErrorCode(t, resp, http.StatusConflict, "ORDER_NOT_CANCELLABLE")
}

func TestGetOrderBookIsPublic(t *testing.T) {
	router := newTestRouter(&fakeExchange{}, &fakeWithdrawals{})

	resp := testutil.MakeAPIRequest(router, http.MethodGet, "/orderbook?symbol=BTC-USDT", nil)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
}

func TestGetOrderBookRejectsBadSymbol(t *testing.T) {
	router := newTestRouter(&fakeExchange{}, &fakeWithdrawals{})

	resp := testutil.MakeAPIRequest(router, http.MethodGet, "/orderbook?symbol=BTCUSDT", nil)
	testutil.AssertErrorCode(t, resp, http.StatusBadRequest, "INVALID_REQUEST")
}
