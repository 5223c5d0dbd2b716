package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/onboarding92/exchange-core/libs/kafka"
)

type Topics struct {
	OrdersAccepted       string
	OrdersCancelled      string
	TradesExecuted       string
	WithdrawalsRequested string
	WithdrawalsDecided   string
}

type OrderAcceptedEvent struct {
	kafka.Envelope
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	UserID        string `json:"user_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price,omitempty"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

type OrderCancelledEvent struct {
	kafka.Envelope
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

type TradeExecutedEvent struct {
	kafka.Envelope
	TradeID     string `json:"trade_id"`
	Symbol      string `json:"symbol"`
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	MakerUserID string `json:"maker_user_id"`
	TakerUserID string `json:"taker_user_id"`
	ExecutedAt  string `json:"executed_at"`
}

type WithdrawalRequestedEvent struct {
	kafka.Envelope
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	Fee          string `json:"fee"`
	RequestedAt  string `json:"requested_at"`
}

type WithdrawalDecidedEvent struct {
	kafka.Envelope
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	Fee          string `json:"fee"`
	Status       string `json:"status"`
	DecidedAt    string `json:"decided_at"`
}

// publishEvent is best-effort: the ledger is the source of truth and a
// failed publish must never fail the request.
func publishEvent(ctx context.Context, producer kafka.Publisher, logger *slog.Logger, topic, key, eventType, eventID, correlationID string, build func(kafka.Envelope) any) {
	if producer == nil {
		return
	}
	env, err := kafka.NewEnvelopeWithID(eventID, eventType, 1, correlationID)
	if err != nil {
		logger.Error("build event envelope failed", "event_type", eventType, "error", err)
		return
	}
	if _, _, err := producer.PublishJSON(ctx, topic, key, build(env)); err != nil {
		logger.Error("publish event failed", "event_type", eventType, "topic", topic, "error", err)
	}
}

func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
