package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	OrderStatusOpen            = "open"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"

	SideBuy  = "buy"
	SideSell = "sell"

	TypeLimit  = "limit"
	TypeMarket = "market"

	WithdrawalStatusPending  = "pending"
	WithdrawalStatusApproved = "approved"
	WithdrawalStatusRejected = "rejected"
)

// LedgerAccount is one (user, asset) row of the balance ledger. Balance and
// Locked are stored; Available is always derived so the invariant
// available == balance - locked cannot drift.
type LedgerAccount struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Asset     string
	Balance   decimal.Decimal
	Locked    decimal.Decimal
	UpdatedAt time.Time
}

func (a LedgerAccount) Available() decimal.Decimal {
	return a.Balance.Sub(a.Locked)
}

type Order struct {
	ID            uuid.UUID
	ClientOrderID string
	UserID        uuid.UUID
	BaseAsset     string
	QuoteAsset    string
	Side          string
	Type          string
	Price         *decimal.Decimal
	Amount        decimal.Decimal
	FilledAmount  decimal.Decimal
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (o Order) Symbol() string {
	return o.BaseAsset + "-" + o.QuoteAsset
}

func (o Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.FilledAmount)
}

// Trade is one matched segment between a taker and a resting maker order.
// Price is always the maker's price. Rows are append-only.
type Trade struct {
	ID          uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	BaseAsset   string
	QuoteAsset  string
	Price       decimal.Decimal
	Amount      decimal.Decimal
	TakerUserID uuid.UUID
	MakerUserID uuid.UUID
	CreatedAt   time.Time
}

type Withdrawal struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Asset     string
	Amount    decimal.Decimal
	Fee       decimal.Decimal
	Address   string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total is the amount reserved against the ledger for a pending withdrawal.
func (w Withdrawal) Total() decimal.Decimal {
	return w.Amount.Add(w.Fee)
}

type OrderFilter struct {
	BaseAsset  string
	QuoteAsset string
	Status     string
	Limit      int
}
