package storage

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestApplyLedgerDeltaReserve(t *testing.T) {
	balance, locked, err := applyLedgerDelta(dec("1000"), dec("0"), decimal.Zero, dec("300"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if balance.String() != "1000" || locked.String() != "300" {
		t.Fatalf("got balance=%s locked=%s", balance, locked)
	}
	if balance.Sub(locked).String() != "700" {
		t.Fatalf("available should be 700, got %s", balance.Sub(locked))
	}
}

func TestApplyLedgerDeltaRejectsOverReserve(t *testing.T) {
	_, _, err := applyLedgerDelta(dec("100"), dec("50"), decimal.Zero, dec("51"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestApplyLedgerDeltaRejectsNegativeLocked(t *testing.T) {
	_, _, err := applyLedgerDelta(dec("100"), dec("10"), decimal.Zero, dec("-11"))
	if !errors.Is(err, ErrInsufficientLocked) {
		t.Fatalf("expected ErrInsufficientLocked, got %v", err)
	}
}

func TestApplyLedgerDeltaSettleDebitsBoth(t *testing.T) {
	// Trade settlement: cost leaves balance and locked in one step.
	balance, locked, err := applyLedgerDelta(dec("1000"), dec("400"), dec("-400"), dec("-400"))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if balance.String() != "600" || locked.String() != "0" {
		t.Fatalf("got balance=%s locked=%s", balance, locked)
	}
}

func TestApplyLedgerDeltaCredit(t *testing.T) {
	balance, locked, err := applyLedgerDelta(dec("10"), dec("10"), dec("5"), decimal.Zero)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if balance.String() != "15" || locked.String() != "10" {
		t.Fatalf("got balance=%s locked=%s", balance, locked)
	}
}

func TestApplyLedgerDeltaFractional(t *testing.T) {
	balance, locked, err := applyLedgerDelta(dec("0.3"), dec("0"), decimal.Zero, dec("0.1"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	balance, locked, err = applyLedgerDelta(balance, locked, decimal.Zero, dec("0.1"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	balance, locked, err = applyLedgerDelta(balance, locked, decimal.Zero, dec("0.1"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if locked.String() != "0.3" {
		t.Fatalf("expected exact locked 0.3, got %s", locked)
	}
	if !balance.Sub(locked).IsZero() {
		t.Fatalf("expected zero available, got %s", balance.Sub(locked))
	}
	if _, _, err := applyLedgerDelta(balance, locked, decimal.Zero, dec("0.0000001")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestLedgerAccountAvailable(t *testing.T) {
	acct := LedgerAccount{Balance: dec("1000"), Locked: dec("20")}
	if acct.Available().String() != "980" {
		t.Fatalf("expected 980, got %s", acct.Available())
	}
}
