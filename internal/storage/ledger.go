package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// applyLedgerDelta computes the new (balance, locked) for an account and
// enforces the ledger invariants before anything is written:
//
//	balance >= locked >= 0
//
// Available is never stored; it is balance - locked by construction.
func applyLedgerDelta(balance, locked, deltaBalance, deltaLocked decimal.Decimal) (newBalance, newLocked decimal.Decimal, err error) {
	newBalance = balance.Add(deltaBalance)
	newLocked = locked.Add(deltaLocked)

	if newLocked.IsNegative() {
		return decimal.Zero, decimal.Zero, ErrInsufficientLocked
	}
	if newBalance.Sub(newLocked).IsNegative() {
		return decimal.Zero, decimal.Zero, ErrInsufficientFunds
	}
	return newBalance, newLocked, nil
}

func (s *Store) GetAccount(ctx context.Context, userID uuid.UUID, asset string) (*LedgerAccount, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, asset, balance::text, locked::text, updated_at
		FROM ledger_accounts
		WHERE user_id = $1 AND asset = $2`, userID, asset)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return acct, err
}

func (s *Store) ListAccounts(ctx context.Context, userID uuid.UUID) ([]LedgerAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, asset, balance::text, locked::text, updated_at
		FROM ledger_accounts
		WHERE user_id = $1
		ORDER BY asset`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accts []LedgerAccount
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accts = append(accts, *acct)
	}
	return accts, rows.Err()
}

// Reserve moves amount from available to locked without changing balance.
func (s *Store) Reserve(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return s.mutateAccount(ctx, tx, userID, asset, decimal.Zero, amount)
	})
}

// Release returns amount from locked back to available. Releasing more than
// is currently locked unlocks everything; the floor keeps release paths
// (cancellation, market-order leftovers) from failing on rounding residue.
func (s *Store) Release(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		acct, err := s.getOrCreateAccountForUpdate(ctx, tx, userID, asset)
		if err != nil {
			return err
		}
		release := amount
		if release.GreaterThan(acct.Locked) {
			release = acct.Locked
		}
		if release.IsZero() {
			return nil
		}
		return s.writeAccount(ctx, tx, acct, decimal.Zero, release.Neg())
	})
}

// Settle applies simultaneous deltas to balance and locked. Trade settlement
// and withdrawal approval debit both in one step so available never dips
// below zero between two writes.
func (s *Store) Settle(ctx context.Context, userID uuid.UUID, asset string, deltaBalance, deltaLocked decimal.Decimal) error {
	if deltaBalance.IsZero() && deltaLocked.IsZero() {
		return nil
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return s.mutateAccount(ctx, tx, userID, asset, deltaBalance, deltaLocked)
	})
}

// Credit adds amount to balance (and therefore to available).
func (s *Store) Credit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return s.mutateAccount(ctx, tx, userID, asset, amount, decimal.Zero)
	})
}

// mutateAccount locks the (user, asset) row, applies the delta and writes it
// back. Callers own the surrounding transaction; per-row locking is the only
// concurrency control the ledger needs because every mutation touches
// exactly one row.
func (s *Store) mutateAccount(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asset string, deltaBalance, deltaLocked decimal.Decimal) error {
	acct, err := s.getOrCreateAccountForUpdate(ctx, tx, userID, asset)
	if err != nil {
		return err
	}
	return s.writeAccount(ctx, tx, acct, deltaBalance, deltaLocked)
}

func (s *Store) writeAccount(ctx context.Context, tx pgx.Tx, acct *LedgerAccount, deltaBalance, deltaLocked decimal.Decimal) error {
	newBalance, newLocked, err := applyLedgerDelta(acct.Balance, acct.Locked, deltaBalance, deltaLocked)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE ledger_accounts
		SET balance = $1, locked = $2, updated_at = now()
		WHERE id = $3`, newBalance.String(), newLocked.String(), acct.ID)
	if err != nil {
		return fmt.Errorf("update ledger account: %w", err)
	}
	return nil
}

// getOrCreateAccountForUpdate selects the row with FOR UPDATE, lazily
// creating a zero row on first touch. The insert races under ON CONFLICT DO
// NOTHING and re-selects, so two first-touches of the same account converge
// on one row.
func (s *Store) getOrCreateAccountForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asset string) (*LedgerAccount, error) {
	const sel = `
		SELECT id, user_id, asset, balance::text, locked::text, updated_at
		FROM ledger_accounts
		WHERE user_id = $1 AND asset = $2
		FOR UPDATE`

	acct, err := scanAccount(tx.QueryRow(ctx, sel, userID, asset))
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("select ledger account: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_accounts (id, user_id, asset, balance, locked)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (user_id, asset) DO NOTHING`, uuid.New(), userID, asset)
	if err != nil {
		return nil, fmt.Errorf("create ledger account: %w", err)
	}

	acct, err = scanAccount(tx.QueryRow(ctx, sel, userID, asset))
	if err != nil {
		return nil, fmt.Errorf("reselect ledger account: %w", err)
	}
	return acct, nil
}

func scanAccount(row pgx.Row) (*LedgerAccount, error) {
	var (
		acct       LedgerAccount
		balanceRaw string
		lockedRaw  string
	)
	if err := row.Scan(&acct.ID, &acct.UserID, &acct.Asset, &balanceRaw, &lockedRaw, &acct.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if acct.Balance, err = parseNumeric("balance", balanceRaw); err != nil {
		return nil, err
	}
	if acct.Locked, err = parseNumeric("locked", lockedRaw); err != nil {
		return nil, err
	}
	return &acct, nil
}
