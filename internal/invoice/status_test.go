package invoice

import (
	"errors"
	"testing"
	"time"
)

func TestDerivePaymentAccrual(t *testing.T) {
	// totalTTC=12000; payments [5000, 4000] -> PARTIALLY_PAID; +3000 -> PAID;
	// deleting the 3000 payment -> back to PARTIALLY_PAID.
	now := time.Now()
	st := Derive(StatusSent, 12000, 9000, nil, now)
	if st != StatusPartiallyPaid {
		t.Fatalf("expected PARTIALLY_PAID at 9000/12000, got %s", st)
	}
	st = Derive(st, 12000, 12000, nil, now)
	if st != StatusPaid {
		t.Fatalf("expected PAID at 12000/12000, got %s", st)
	}
	st = Derive(st, 12000, 9000, nil, now)
	if st != StatusPartiallyPaid {
		t.Fatalf("expected PAID to fall back to PARTIALLY_PAID after deletion, got %s", st)
	}
}

func TestDeriveCancelledIsSticky(t *testing.T) {
	if st := Derive(StatusCancelled, 1000, 1000, nil, time.Now()); st != StatusCancelled {
		t.Fatalf("cancelled invoices must stay cancelled, got %s", st)
	}
}

func TestDeriveOverdue(t *testing.T) {
	now := time.Now()
	due := now.Add(-24 * time.Hour)
	if st := Derive(StatusSent, 5000, 0, &due, now); st != StatusOverdue {
		t.Fatalf("expected OVERDUE past due date, got %s", st)
	}
	// A draft never goes overdue on its own.
	if st := Derive(StatusDraft, 5000, 0, &due, now); st != StatusDraft {
		t.Fatalf("a draft must not go overdue, got %s", st)
	}
	// Payments trump the due date.
	if st := Derive(StatusOverdue, 5000, 5000, &due, now); st != StatusPaid {
		t.Fatalf("expected PAID even when overdue, got %s", st)
	}
}

func TestDeriveKeepsRestingState(t *testing.T) {
	now := time.Now()
	future := now.Add(24 * time.Hour)
	if st := Derive(StatusSent, 5000, 0, &future, now); st != StatusSent {
		t.Fatalf("expected SENT to persist, got %s", st)
	}
	if st := Derive(StatusDraft, 5000, 0, nil, now); st != StatusDraft {
		t.Fatalf("expected DRAFT to persist, got %s", st)
	}
}

func TestDeriveIdempotent(t *testing.T) {
	now := time.Now()
	due := now.Add(-time.Hour)
	for _, current := range []Status{StatusDraft, StatusSent, StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusCancelled} {
		once := Derive(current, 10000, 2500, &due, now)
		twice := Derive(once, 10000, 2500, &due, now)
		if once != twice {
			t.Fatalf("re-derivation from %s not idempotent: %s then %s", current, once, twice)
		}
	}
}

func TestDeriveNegativeLedgerSum(t *testing.T) {
	// Corrections can push the ledger sum to zero or below; that simply
	// means nothing is covered.
	if st := Derive(StatusPartiallyPaid, 5000, -100, nil, time.Now()); st != StatusSent {
		t.Fatalf("expected SENT for non-positive ledger sum, got %s", st)
	}
}

func TestCheckOverpayment(t *testing.T) {
	if err := CheckOverpayment(10000, 10000, 0); err != nil {
		t.Fatalf("exact settlement must pass: %v", err)
	}
	if err := CheckOverpayment(10000, 10001, 0); !errors.Is(err, ErrOverpayment) {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}
	if err := CheckOverpayment(10000, 10050, 100); err != nil {
		t.Fatalf("within tolerance must pass: %v", err)
	}
	if err := CheckOverpayment(10000, 99999, -1); err != nil {
		t.Fatalf("negative tolerance disables the check: %v", err)
	}
}

func TestStatusValidAndTerminal(t *testing.T) {
	if Status("SHIPPED").Valid() {
		t.Fatal("unknown label must not validate")
	}
	if !StatusPaid.Terminal() || !StatusCancelled.Terminal() {
		t.Fatal("PAID and CANCELLED are terminal")
	}
	if StatusSent.Terminal() {
		t.Fatal("SENT is not terminal")
	}
}
