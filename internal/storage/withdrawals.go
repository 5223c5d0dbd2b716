package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const withdrawalColumns = `id, user_id, asset, amount::text, fee::text,
	address, status, created_at, updated_at`

// CreateWithdrawal reserves amount+fee and inserts the pending row in one
// transaction, so a withdrawal request either holds its funds or does not
// exist.
func (s *Store) CreateWithdrawal(ctx context.Context, w *Withdrawal) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := s.mutateAccount(ctx, tx, w.UserID, w.Asset, decimal.Zero, w.Total()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO withdrawals (id, user_id, asset, amount, fee, address, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			w.ID, w.UserID, w.Asset, w.Amount.String(), w.Fee.String(),
			w.Address, WithdrawalStatusPending)
		if err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		return nil
	})
}

func (s *Store) GetWithdrawal(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id)
	w, err := scanWithdrawal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

func (s *Store) ListWithdrawals(ctx context.Context, userID uuid.UUID) ([]Withdrawal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()

	var ws []Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		ws = append(ws, *w)
	}
	return ws, rows.Err()
}

// ApproveWithdrawal debits the reserved amount+fee from both balance and
// locked, removing the funds from the ledger entirely.
func (s *Store) ApproveWithdrawal(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	return s.finalizeWithdrawal(ctx, id, WithdrawalStatusApproved)
}

// RejectWithdrawal releases the reservation back to available.
func (s *Store) RejectWithdrawal(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	return s.finalizeWithdrawal(ctx, id, WithdrawalStatusRejected)
}

func (s *Store) finalizeWithdrawal(ctx context.Context, id uuid.UUID, status string) (*Withdrawal, error) {
	var out *Withdrawal
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		w, err := scanWithdrawal(tx.QueryRow(ctx,
			`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if w.Status != WithdrawalStatusPending {
			return ErrNotPending
		}

		total := w.Total()
		if status == WithdrawalStatusApproved {
			err = s.mutateAccount(ctx, tx, w.UserID, w.Asset, total.Neg(), total.Neg())
		} else {
			err = s.mutateAccount(ctx, tx, w.UserID, w.Asset, decimal.Zero, total.Neg())
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE withdrawals SET status = $1, updated_at = now()
			WHERE id = $2`, status, w.ID)
		if err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}
		w.Status = status
		out = w
		return nil
	})
	return out, err
}

func scanWithdrawal(row pgx.Row) (*Withdrawal, error) {
	var (
		w         Withdrawal
		amountRaw string
		feeRaw    string
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.Asset, &amountRaw, &feeRaw,
		&w.Address, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if w.Amount, err = parseNumeric("amount", amountRaw); err != nil {
		return nil, err
	}
	if w.Fee, err = parseNumeric("fee", feeRaw); err != nil {
		return nil, err
	}
	return &w, nil
}
