package pricing

import (
	"fmt"

	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/tax"
)

// VATEntry aggregates the VAT amount collected at one distinct rate.
type VATEntry struct {
	RateBps int64
	Amount  Money
}

// Document is the input to the document-level aggregation. Lines must
// already be computed; Adjustment is an optional flat reduction of the HT
// base (a surcharge if negative) applied alongside the rate-based discount.
type Document struct {
	Lines             []LineTotals
	GlobalDiscountBps *int64
	Adjustment        Money
	Tax               tax.Config
	Flags             tax.Flags
}

// DocumentTotals carries every figure stored alongside a quote or invoice.
type DocumentTotals struct {
	SubtotalHT     Money
	GlobalDiscount Money
	FodecAmount    Money
	StampAmount    Money
	VATEntries     []VATEntry
	TotalVAT       Money
	TotalTTC       Money
}

// ComputeDocument aggregates computed lines into document totals.
//
// The global discount (rate-based plus the flat adjustment) reduces only the
// HT figure used for the FODEC base and the final TTC subtraction; per-line
// VAT amounts are never recomputed, so the VAT entries are exactly the sums
// of the lines' already-rounded VAT at each distinct rate.
func ComputeDocument(d Document) (DocumentTotals, error) {
	if len(d.Lines) == 0 {
		return DocumentTotals{}, fmt.Errorf("%w: a document needs at least one line", ErrInvalidDocument)
	}
	if d.GlobalDiscountBps != nil && (*d.GlobalDiscountBps < 0 || *d.GlobalDiscountBps > 10000) {
		return DocumentTotals{}, fmt.Errorf("%w: global discount out of [0, 100%%]", ErrInvalidDocument)
	}

	var subtotal Money
	for _, ln := range d.Lines {
		subtotal += ln.TotalHT
	}

	var discount Money
	if d.GlobalDiscountBps != nil {
		discount = money.PercentBps(subtotal, *d.GlobalDiscountBps)
	}
	discount += d.Adjustment

	// VAT entries keep first-appearance order so recomputation on edit is
	// byte-stable.
	index := make(map[int64]int, len(d.Lines))
	entries := make([]VATEntry, 0, len(d.Lines))
	var totalVAT Money
	for _, ln := range d.Lines {
		i, ok := index[ln.VATBps]
		if !ok {
			i = len(entries)
			index[ln.VATBps] = i
			entries = append(entries, VATEntry{RateBps: ln.VATBps})
		}
		entries[i].Amount += ln.TotalVAT
		totalVAT += ln.TotalVAT
	}

	fodecOn, timbreOn := d.Tax.Resolve(d.Flags)
	var fodec Money
	if fodecOn {
		fodec = money.PercentBps(subtotal-discount, d.Tax.Fodec.RateBps)
	}
	var stamp Money
	if timbreOn {
		stamp = d.Tax.Timbre.AmountCents
	}

	return DocumentTotals{
		SubtotalHT:     subtotal,
		GlobalDiscount: discount,
		FodecAmount:    fodec,
		StampAmount:    stamp,
		VATEntries:     entries,
		TotalVAT:       totalVAT,
		TotalTTC:       (subtotal - discount) + fodec + totalVAT + stamp,
	}, nil
}
