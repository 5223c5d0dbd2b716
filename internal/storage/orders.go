package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, client_order_id, user_id, base_asset, quote_asset,
	side, type, price::text, amount::text, filled_amount::text, status,
	created_at, updated_at`

// CreateOrder inserts the order. When a client order ID is set the insert is
// idempotent: a replay with the same (user, client_order_id) returns the
// previously stored order and created=false.
func (s *Store) CreateOrder(ctx context.Context, o *Order) (stored *Order, created bool, err error) {
	var price any
	if o.Price != nil {
		price = o.Price.String()
	}
	var clientID any
	if o.ClientOrderID != "" {
		clientID = o.ClientOrderID
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, client_order_id, user_id, base_asset, quote_asset,
			side, type, price, amount, filled_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)
		ON CONFLICT (user_id, client_order_id) DO NOTHING`,
		o.ID, clientID, o.UserID, o.BaseAsset, o.QuoteAsset,
		o.Side, o.Type, price, o.Amount.String(), o.Status)
	if isUniqueViolation(err) {
		// The conflict target only swallows client order id replays; an id
		// collision still raises.
		return nil, false, ErrAlreadyExists
	}
	if err != nil {
		return nil, false, fmt.Errorf("insert order: %w", err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := s.GetOrderByClientID(ctx, o.UserID, o.ClientOrderID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	stored, err = s.GetOrderByID(ctx, o.ID)
	return stored, true, err
}

func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *Store) GetOrderByClientID(ctx context.Context, userID uuid.UUID, clientOrderID string) (*Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND client_order_id = $2`,
		userID, clientOrderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *Store) ListOrders(ctx context.Context, userID uuid.UUID, f OrderFilter) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1`
	args := []any{userID}

	if f.BaseAsset != "" && f.QuoteAsset != "" {
		args = append(args, f.BaseAsset, f.QuoteAsset)
		query += ` AND base_asset = $` + strconv.Itoa(len(args)-1) +
			` AND quote_asset = $` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// ApplyFill advances the order's filled amount by qty. Filled amount only
// ever grows; the status follows from filled vs total.
func (s *Store) ApplyFill(ctx context.Context, orderID uuid.UUID, qty decimal.Decimal) (*Order, error) {
	if !qty.IsPositive() {
		return nil, ErrNegativeAmount
	}

	var updated *Order
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if o.Status == OrderStatusFilled || o.Status == OrderStatusCancelled {
			return ErrInvalidStatus
		}
		if qty.GreaterThan(o.Remaining()) {
			return fmt.Errorf("fill %s exceeds remaining %s on order %s", qty, o.Remaining(), o.ID)
		}

		o.FilledAmount = o.FilledAmount.Add(qty)
		if o.FilledAmount.Equal(o.Amount) {
			o.Status = OrderStatusFilled
		} else {
			o.Status = OrderStatusPartiallyFilled
		}

		_, err = tx.Exec(ctx, `
			UPDATE orders SET filled_amount = $1, status = $2, updated_at = now()
			WHERE id = $3`, o.FilledAmount.String(), o.Status, o.ID)
		if err != nil {
			return fmt.Errorf("update order fill: %w", err)
		}
		updated = o
		return nil
	})
	return updated, err
}

// CancelOrder flips an open or partially filled order owned by userID to
// cancelled. The returned order carries the pre-cancel filled amount so the
// caller can release exactly the unfilled remainder.
func (s *Store) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*Order, error) {
	var cancelled *Order
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrForbidden
		}
		if o.Status != OrderStatusOpen && o.Status != OrderStatusPartiallyFilled {
			return ErrInvalidStatus
		}

		_, err = tx.Exec(ctx, `
			UPDATE orders SET status = $1, updated_at = now()
			WHERE id = $2`, OrderStatusCancelled, o.ID)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		o.Status = OrderStatusCancelled
		cancelled = o
		return nil
	})
	return cancelled, err
}

// LoadOpenOrders returns every resting order in time priority, used to
// rebuild in-memory books on startup.
func (s *Store) LoadOpenOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN ($1, $2) AND type = $3
		ORDER BY created_at ASC`,
		OrderStatusOpen, OrderStatusPartiallyFilled, TypeLimit)
	if err != nil {
		return nil, fmt.Errorf("load open orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o         Order
		clientID  *string
		priceRaw  *string
		amountRaw string
		filledRaw string
	)
	if err := row.Scan(&o.ID, &clientID, &o.UserID, &o.BaseAsset, &o.QuoteAsset,
		&o.Side, &o.Type, &priceRaw, &amountRaw, &filledRaw, &o.Status,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if clientID != nil {
		o.ClientOrderID = *clientID
	}
	if priceRaw != nil {
		p, err := parseNumeric("price", *priceRaw)
		if err != nil {
			return nil, err
		}
		o.Price = &p
	}
	var err error
	if o.Amount, err = parseNumeric("amount", amountRaw); err != nil {
		return nil, err
	}
	if o.FilledAmount, err = parseNumeric("filled_amount", filledRaw); err != nil {
		return nil, err
	}
	return &o, nil
}
