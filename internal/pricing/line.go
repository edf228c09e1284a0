// Package pricing computes line-item and document-level monetary totals for
// quotes and invoices. All amounts are integer minor units; all rates are
// basis points. Every function here is pure and safe for concurrent use.
package pricing

import (
	"errors"
	"fmt"

	"github.com/noah-isme/backend-billing/internal/money"
)

// Money represents a monetary value stored in minor units.
type Money = int64

var (
	// ErrInvalidLine is returned for malformed quantities or rates on a line.
	ErrInvalidLine = errors.New("invalid line input")
	// ErrInvalidDocument is returned for an empty line set or a malformed
	// document-level discount.
	ErrInvalidDocument = errors.New("invalid document input")
)

// Line describes one billing line before calculation. UnitPrice is already
// currency-scaled; Qty may be fractional (1.5 hours of service).
type Line struct {
	Qty         float64
	UnitPrice   Money
	VATBps      int64
	DiscountBps *int64
}

// LineTotals is the immutable result of computing one line. VATBps is kept
// so the document aggregator can group VAT entries by rate.
type LineTotals struct {
	TotalHT  Money
	TotalVAT Money
	TotalTTC Money
	VATBps   int64
}

// ComputeLine derives HT, VAT and TTC amounts for a single line. The step
// order is load-bearing: each step rounds integer minor units exactly once,
// so the accumulated error stays within half a minor unit per step.
//
//	rawHT        = round(qty * unitPrice)
//	discountedHT = round(rawHT * (1 - discount))
//	vat          = round(discountedHT * rate)
//	ttc          = discountedHT + vat
func ComputeLine(l Line) (LineTotals, error) {
	if l.Qty < 0 {
		return LineTotals{}, fmt.Errorf("%w: quantity must not be negative, use a credit-note line", ErrInvalidLine)
	}
	if l.VATBps < 0 {
		return LineTotals{}, fmt.Errorf("%w: vat rate must not be negative", ErrInvalidLine)
	}
	if l.DiscountBps != nil && (*l.DiscountBps < 0 || *l.DiscountBps > 10000) {
		return LineTotals{}, fmt.Errorf("%w: discount rate out of [0, 100%%]", ErrInvalidLine)
	}

	ht := money.RoundQty(l.Qty, l.UnitPrice)
	if l.DiscountBps != nil {
		// round(rawHT * (1 - d)), not rawHT - round(rawHT * d): the two
		// disagree at exact ties and the former is the reference behavior.
		ht = money.PercentBps(ht, 10000-*l.DiscountBps)
	}
	vat := money.PercentBps(ht, l.VATBps)
	return LineTotals{
		TotalHT:  ht,
		TotalVAT: vat,
		TotalTTC: ht + vat,
		VATBps:   l.VATBps,
	}, nil
}
