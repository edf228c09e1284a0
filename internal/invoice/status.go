// Package invoice owns the payment-reconciliation lifecycle of an invoice:
// a closed status enumeration and the pure re-derivation rule applied after
// every change to the payment ledger.
package invoice

import (
	"errors"
	"time"

	"github.com/noah-isme/backend-billing/internal/pricing"
)

// Status is the invoice lifecycle state. The set is closed; persist the
// string form, never free text.
type Status string

// Lifecycle states.
const (
	StatusDraft         Status = "DRAFT"
	StatusSent          Status = "SENT"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusOverdue       Status = "OVERDUE"
	StatusCancelled     Status = "CANCELLED"
)

// ErrOverpayment is returned when a new payment would push the amount paid
// above the invoice total beyond the configured tolerance.
var ErrOverpayment = errors.New("payment exceeds invoice total")

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether automatic re-derivation may move away from s only
// through a ledger change.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Derive recomputes the status from a consistent snapshot of the ledger.
// It is idempotent and must run inside the same transaction (or equivalent
// per-invoice lock) as the ledger mutation that triggered it.
//
// CANCELLED is sticky. PAID is reached whenever the ledger covers the total,
// and falls back to PARTIALLY_PAID only when a payment deletion drops the
// covered amount below the total again.
func Derive(current Status, totalTTC, amountPaid pricing.Money, dueDate *time.Time, now time.Time) Status {
	if current == StatusCancelled {
		return StatusCancelled
	}
	switch {
	case amountPaid >= totalTTC:
		return StatusPaid
	case amountPaid > 0:
		return StatusPartiallyPaid
	case dueDate != nil && now.After(*dueDate) && current != StatusDraft:
		return StatusOverdue
	case current == StatusDraft:
		return StatusDraft
	default:
		return StatusSent
	}
}

// CheckOverpayment applies the overpayment policy: with a non-negative
// tolerance the new ledger sum may exceed the total by at most tolerance
// minor units; a negative tolerance disables the check and the surplus stays
// in the ledger for audit, with the invoice capped at PAID.
func CheckOverpayment(totalTTC, newAmountPaid, tolerance pricing.Money) error {
	if tolerance < 0 {
		return nil
	}
	if newAmountPaid > totalTTC+tolerance {
		return ErrOverpayment
	}
	return nil
}
