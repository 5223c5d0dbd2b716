package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/onboarding92/exchange-core/internal/storage"
)

// fakeStore is an in-memory stand-in for *storage.Store with the same
// ledger invariants, so service tests can assert on end-state balances.
// Like the real store it tolerates concurrent callers.
type fakeStore struct {
	mu          sync.Mutex
	accounts    map[string]*storage.LedgerAccount
	orders      map[uuid.UUID]*storage.Order
	byClient    map[string]uuid.UUID
	trades      []storage.Trade
	withdrawals map[uuid.UUID]*storage.Withdrawal
	totpSecrets map[uuid.UUID]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:    make(map[string]*storage.LedgerAccount),
		orders:      make(map[uuid.UUID]*storage.Order),
		byClient:    make(map[string]uuid.UUID),
		withdrawals: make(map[uuid.UUID]*storage.Withdrawal),
		totpSecrets: make(map[uuid.UUID]string),
	}
}

func acctKey(userID uuid.UUID, asset string) string {
	return userID.String() + "|" + asset
}

func (f *fakeStore) account(userID uuid.UUID, asset string) *storage.LedgerAccount {
	key := acctKey(userID, asset)
	acct, ok := f.accounts[key]
	if !ok {
		acct = &storage.LedgerAccount{ID: uuid.New(), UserID: userID, Asset: asset}
		f.accounts[key] = acct
	}
	return acct
}

func (f *fakeStore) fund(userID uuid.UUID, asset string, balance, locked string) {
	acct := f.account(userID, asset)
	acct.Balance = mustDec(balance)
	acct.Locked = mustDec(locked)
}

func (f *fakeStore) mutate(userID uuid.UUID, asset string, deltaBalance, deltaLocked decimal.Decimal) error {
	acct := f.account(userID, asset)
	newBalance := acct.Balance.Add(deltaBalance)
	newLocked := acct.Locked.Add(deltaLocked)
	if newLocked.IsNegative() {
		return storage.ErrInsufficientLocked
	}
	if newBalance.Sub(newLocked).IsNegative() {
		return storage.ErrInsufficientFunds
	}
	acct.Balance, acct.Locked = newBalance, newLocked
	return nil
}

func (f *fakeStore) Reserve(_ context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !amount.IsPositive() {
		return storage.ErrNegativeAmount
	}
	return f.mutate(userID, asset, decimal.Zero, amount)
}

func (f *fakeStore) Release(_ context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !amount.IsPositive() {
		return storage.ErrNegativeAmount
	}
	if locked := f.account(userID, asset).Locked; amount.GreaterThan(locked) {
		amount = locked
	}
	if amount.IsZero() {
		return nil
	}
	return f.mutate(userID, asset, decimal.Zero, amount.Neg())
}

func (f *fakeStore) Settle(_ context.Context, userID uuid.UUID, asset string, deltaBalance, deltaLocked decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutate(userID, asset, deltaBalance, deltaLocked)
}

func (f *fakeStore) Credit(_ context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !amount.IsPositive() {
		return storage.ErrNegativeAmount
	}
	return f.mutate(userID, asset, amount, decimal.Zero)
}

func (f *fakeStore) ListAccounts(_ context.Context, userID uuid.UUID) ([]storage.LedgerAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.LedgerAccount
	for _, acct := range f.accounts {
		if acct.UserID == userID {
			out = append(out, *acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (f *fakeStore) CreateOrder(_ context.Context, o *storage.Order) (*storage.Order, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.ClientOrderID != "" {
		key := o.UserID.String() + "|" + o.ClientOrderID
		if existing, ok := f.byClient[key]; ok {
			cp := *f.orders[existing]
			return &cp, false, nil
		}
		f.byClient[key] = o.ID
	}
	stored := *o
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	f.orders[o.ID] = &stored
	cp := stored
	return &cp, true, nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, id uuid.UUID) (*storage.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) GetOrderByClientID(_ context.Context, userID uuid.UUID, clientOrderID string) (*storage.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byClient[userID.String()+"|"+clientOrderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *f.orders[id]
	return &cp, nil
}

func (f *fakeStore) ListOrders(_ context.Context, userID uuid.UUID, filter storage.OrderFilter) ([]storage.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Order
	for _, o := range f.orders {
		if o.UserID != userID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) ApplyFill(_ context.Context, orderID uuid.UUID, qty decimal.Decimal) (*storage.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	o.FilledAmount = o.FilledAmount.Add(qty)
	if o.FilledAmount.Equal(o.Amount) {
		o.Status = storage.OrderStatusFilled
	} else {
		o.Status = storage.OrderStatusPartiallyFilled
	}
	o.UpdatedAt = time.Now().UTC()
	cp := *o
	return &cp, nil
}

func (f *fakeStore) CancelOrder(_ context.Context, orderID, userID uuid.UUID) (*storage.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if o.UserID != userID {
		return nil, storage.ErrForbidden
	}
	if o.Status != storage.OrderStatusOpen && o.Status != storage.OrderStatusPartiallyFilled {
		return nil, storage.ErrInvalidStatus
	}
	o.Status = storage.OrderStatusCancelled
	o.UpdatedAt = time.Now().UTC()
	cp := *o
	return &cp, nil
}

func (f *fakeStore) LoadOpenOrders(_ context.Context) ([]storage.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Order
	for _, o := range f.orders {
		if o.Type == storage.TypeLimit &&
			(o.Status == storage.OrderStatusOpen || o.Status == storage.OrderStatusPartiallyFilled) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) InsertTrade(_ context.Context, t *storage.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, *t)
	return nil
}

func (f *fakeStore) LastTradePrice(_ context.Context, baseAsset, quoteAsset string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.trades) - 1; i >= 0; i-- {
		if f.trades[i].BaseAsset == baseAsset && f.trades[i].QuoteAsset == quoteAsset {
			return f.trades[i].Price, nil
		}
	}
	return decimal.Zero, storage.ErrNotFound
}

func (f *fakeStore) ListRecentTrades(_ context.Context, baseAsset, quoteAsset string, limit int) ([]storage.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Trade
	for i := len(f.trades) - 1; i >= 0; i-- {
		if f.trades[i].BaseAsset == baseAsset && f.trades[i].QuoteAsset == quoteAsset {
			out = append(out, f.trades[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) CreateWithdrawal(_ context.Context, w *storage.Withdrawal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mutate(w.UserID, w.Asset, decimal.Zero, w.Total()); err != nil {
		return err
	}
	stored := *w
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	f.withdrawals[w.ID] = &stored
	return nil
}

func (f *fakeStore) GetWithdrawal(_ context.Context, id uuid.UUID) (*storage.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.withdrawals[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeStore) ListWithdrawals(_ context.Context, userID uuid.UUID) ([]storage.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Withdrawal
	for _, w := range f.withdrawals {
		if w.UserID == userID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeStore) ApproveWithdrawal(_ context.Context, id uuid.UUID) (*storage.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decideWithdrawal(id, storage.WithdrawalStatusApproved)
}

func (f *fakeStore) RejectWithdrawal(_ context.Context, id uuid.UUID) (*storage.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decideWithdrawal(id, storage.WithdrawalStatusRejected)
}

func (f *fakeStore) decideWithdrawal(id uuid.UUID, status string) (*storage.Withdrawal, error) {
	w, ok := f.withdrawals[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if w.Status != storage.WithdrawalStatusPending {
		return nil, storage.ErrNotPending
	}
	total := w.Total()
	var err error
	if status == storage.WithdrawalStatusApproved {
		err = f.mutate(w.UserID, w.Asset, total.Neg(), total.Neg())
	} else {
		err = f.mutate(w.UserID, w.Asset, decimal.Zero, total.Neg())
	}
	if err != nil {
		return nil, err
	}
	w.Status = status
	w.UpdatedAt = time.Now().UTC()
	cp := *w
	return &cp, nil
}

func (f *fakeStore) UserTOTPSecret(_ context.Context, userID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	secret, ok := f.totpSecrets[userID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return secret, nil
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
