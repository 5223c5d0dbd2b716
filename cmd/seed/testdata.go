package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// seedTestData plants a crossed-market starting point: resting orders from
// both demo users plus one historical trade so market buys have a reference
// price.
func seedTestData(ctx context.Context, pool *pgxpool.Pool) error {
	bidID := uuid.MustParse("00000000-0000-0000-0000-000000000401")
	askID := uuid.MustParse("00000000-0000-0000-0000-000000000402")

	orders := []struct {
		id     uuid.UUID
		userID uuid.UUID
		side   string
		price  string
		amount string
	}{
		{bidID, demoUserID, "buy", "49500", "0.5"},
		{askID, traderUserID, "sell", "50500", "0.5"},
	}

	for _, o := range orders {
		_, err := pool.Exec(ctx, `
			INSERT INTO orders (id, client_order_id, user_id, base_asset, quote_asset,
				side, type, price, amount, filled_amount, status)
			VALUES ($1, NULL, $2, 'BTC', 'USDT', $3, 'limit', $4, $5, 0, 'open')
			ON CONFLICT (id) DO NOTHING
		`, o.id, o.userID, o.side, o.price, o.amount)
		if err != nil {
			return err
		}
	}

	// Lock the funds the resting orders hold, mirroring what order
	// placement would have reserved.
	if _, err := pool.Exec(ctx, `
		UPDATE ledger_accounts SET locked = locked + 24750
		WHERE user_id = $1 AND asset = 'USDT' AND locked = 0
	`, demoUserID); err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, `
		UPDATE ledger_accounts SET locked = locked + 0.5
		WHERE user_id = $1 AND asset = 'BTC' AND locked = 0
	`, traderUserID); err != nil {
		return err
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO trades (id, buy_order_id, sell_order_id, base_asset, quote_asset,
			price, amount, taker_user_id, maker_user_id)
		VALUES ($1, $2, $3, 'BTC', 'USDT', 50000, 0.1, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, uuid.MustParse("00000000-0000-0000-0000-000000000501"), bidID, askID, demoUserID, traderUserID)
	return err
}
