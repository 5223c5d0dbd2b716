package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const tradeColumns = `id, buy_order_id, sell_order_id, base_asset, quote_asset,
	price::text, amount::text, taker_user_id, maker_user_id, created_at`

func (s *Store) InsertTrade(ctx context.Context, t *Trade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (id, buy_order_id, sell_order_id, base_asset, quote_asset,
			price, amount, taker_user_id, maker_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.BuyOrderID, t.SellOrderID, t.BaseAsset, t.QuoteAsset,
		t.Price.String(), t.Amount.String(), t.TakerUserID, t.MakerUserID)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// LastTradePrice returns the most recent execution price for the pair,
// the reference price for sizing market buy reservations.
func (s *Store) LastTradePrice(ctx context.Context, baseAsset, quoteAsset string) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `
		SELECT price::text FROM trades
		WHERE base_asset = $1 AND quote_asset = $2
		ORDER BY created_at DESC
		LIMIT 1`, baseAsset, quoteAsset).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("last trade price: %w", err)
	}
	return parseNumeric("price", raw)
}

func (s *Store) ListRecentTrades(ctx context.Context, baseAsset, quoteAsset string, limit int) ([]Trade, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE base_asset = $1 AND quote_asset = $2
		ORDER BY created_at DESC
		LIMIT $3`, baseAsset, quoteAsset, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var (
			t         Trade
			priceRaw  string
			amountRaw string
		)
		if err := rows.Scan(&t.ID, &t.BuyOrderID, &t.SellOrderID, &t.BaseAsset,
			&t.QuoteAsset, &priceRaw, &amountRaw, &t.TakerUserID, &t.MakerUserID,
			&t.CreatedAt); err != nil {
			return nil, err
		}
		if t.Price, err = parseNumeric("price", priceRaw); err != nil {
			return nil, err
		}
		if t.Amount, err = parseNumeric("amount", amountRaw); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
