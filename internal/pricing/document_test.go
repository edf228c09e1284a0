package pricing

import (
	"errors"
	"testing"

	"github.com/noah-isme/backend-billing/internal/tax"
)

func mustLine(t *testing.T, l Line) LineTotals {
	t.Helper()
	lt, err := ComputeLine(l)
	if err != nil {
		t.Fatalf("ComputeLine(%+v): %v", l, err)
	}
	return lt
}

func TestComputeDocumentTwoRates(t *testing.T) {
	// Two lines, 5% document discount, FODEC and stamp disabled:
	// subtotal 247.500 TND, VAT {20%: 40.000, 10%: 4.750},
	// TTC = (247.500 - 12.375) + 0 + 44.750 + 0 = 279.875.
	lines := []LineTotals{
		mustLine(t, Line{Qty: 2, UnitPrice: 100000, VATBps: 2000}),
		mustLine(t, Line{Qty: 1, UnitPrice: 50000, VATBps: 1000, DiscountBps: bps(500)}),
	}
	got, err := ComputeDocument(Document{Lines: lines, GlobalDiscountBps: bps(500)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SubtotalHT != 247500 {
		t.Fatalf("expected subtotal 247500, got %d", got.SubtotalHT)
	}
	if got.GlobalDiscount != 12375 {
		t.Fatalf("expected discount 12375, got %d", got.GlobalDiscount)
	}
	if len(got.VATEntries) != 2 {
		t.Fatalf("expected two VAT entries, got %+v", got.VATEntries)
	}
	if got.VATEntries[0] != (VATEntry{RateBps: 2000, Amount: 40000}) {
		t.Fatalf("unexpected 20%% entry: %+v", got.VATEntries[0])
	}
	if got.VATEntries[1] != (VATEntry{RateBps: 1000, Amount: 4750}) {
		t.Fatalf("unexpected 10%% entry: %+v", got.VATEntries[1])
	}
	if got.TotalVAT != 44750 {
		t.Fatalf("expected total VAT 44750, got %d", got.TotalVAT)
	}
	if got.TotalTTC != 279875 {
		t.Fatalf("expected TTC 279875, got %d", got.TotalTTC)
	}
}

func TestComputeDocumentFodecAndStamp(t *testing.T) {
	cfg := tax.Config{
		Fodec:  tax.Fodec{Enabled: true, RateBps: 100},
		Timbre: tax.Timbre{Enabled: true, AmountCents: 1000},
	}
	lines := []LineTotals{
		mustLine(t, Line{Qty: 1, UnitPrice: 100000, VATBps: 1900}),
	}
	got, err := ComputeDocument(Document{Lines: lines, Tax: cfg})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// FODEC 1% of 100.000 = 1.000; stamp 1.000 flat.
	if got.FodecAmount != 1000 {
		t.Fatalf("expected fodec 1000, got %d", got.FodecAmount)
	}
	if got.StampAmount != 1000 {
		t.Fatalf("expected stamp 1000, got %d", got.StampAmount)
	}
	if got.TotalTTC != 100000+1000+19000+1000 {
		t.Fatalf("unexpected TTC %d", got.TotalTTC)
	}
}

func TestComputeDocumentFodecUsesPostDiscountBase(t *testing.T) {
	cfg := tax.Config{Fodec: tax.Fodec{Enabled: true, RateBps: 100}}
	lines := []LineTotals{
		mustLine(t, Line{Qty: 1, UnitPrice: 200000, VATBps: 1900}),
	}
	got, err := ComputeDocument(Document{Lines: lines, GlobalDiscountBps: bps(1000), Tax: cfg})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1% of (200.000 - 20.000), not of the raw subtotal.
	if got.FodecAmount != 1800 {
		t.Fatalf("expected fodec 1800, got %d", got.FodecAmount)
	}
}

func TestComputeDocumentFlagsOverrideConfig(t *testing.T) {
	cfg := tax.Config{
		Fodec:  tax.Fodec{Enabled: true, RateBps: 100},
		Timbre: tax.Timbre{Enabled: true, AmountCents: 600},
	}
	lines := []LineTotals{mustLine(t, Line{Qty: 1, UnitPrice: 50000, VATBps: 1900})}
	got, err := ComputeDocument(Document{
		Lines: lines,
		Tax:   cfg,
		Flags: tax.Flags{ApplyFodec: tax.Bool(false), ApplyTimbre: tax.Bool(false)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FodecAmount != 0 || got.StampAmount != 0 {
		t.Fatalf("flags must disable parafiscal items, got %+v", got)
	}
}

func TestComputeDocumentGlobalDiscountLeavesVATAlone(t *testing.T) {
	lines := []LineTotals{
		mustLine(t, Line{Qty: 3, UnitPrice: 75000, VATBps: 1900}),
		mustLine(t, Line{Qty: 2, UnitPrice: 31000, VATBps: 700}),
	}
	plain, err := ComputeDocument(Document{Lines: lines})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	discounted, err := ComputeDocument(Document{Lines: lines, GlobalDiscountBps: bps(2000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plain.TotalVAT != discounted.TotalVAT {
		t.Fatalf("global discount must not alter VAT: %d vs %d", plain.TotalVAT, discounted.TotalVAT)
	}
}

func TestComputeDocumentFixedAdjustment(t *testing.T) {
	cfg := tax.Config{Fodec: tax.Fodec{Enabled: true, RateBps: 100}}
	lines := []LineTotals{mustLine(t, Line{Qty: 1, UnitPrice: 100000, VATBps: 1900})}
	got, err := ComputeDocument(Document{Lines: lines, GlobalDiscountBps: bps(500), Adjustment: 2500, Tax: cfg})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// rate discount 5.000 plus flat 2.500 both reduce the HT base.
	if got.GlobalDiscount != 7500 {
		t.Fatalf("expected applied discount 7500, got %d", got.GlobalDiscount)
	}
	if got.FodecAmount != 925 {
		t.Fatalf("expected fodec on post-discount base 925, got %d", got.FodecAmount)
	}
	if got.TotalTTC != (100000-7500)+925+19000 {
		t.Fatalf("unexpected TTC %d", got.TotalTTC)
	}
}

func TestComputeDocumentInvariants(t *testing.T) {
	cfg := tax.Config{
		Fodec:  tax.Fodec{Enabled: true, RateBps: 100},
		Timbre: tax.Timbre{Enabled: true, AmountCents: 1000},
	}
	lines := []LineTotals{
		mustLine(t, Line{Qty: 2.5, UnitPrice: 41999, VATBps: 1900}),
		mustLine(t, Line{Qty: 1, UnitPrice: 7600, VATBps: 700, DiscountBps: bps(1500)}),
		mustLine(t, Line{Qty: 4, UnitPrice: 12010, VATBps: 1900}),
	}
	got, err := ComputeDocument(Document{Lines: lines, GlobalDiscountBps: bps(333), Tax: cfg})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var entrySum Money
	for _, e := range got.VATEntries {
		entrySum += e.Amount
	}
	if entrySum != got.TotalVAT {
		t.Fatalf("VAT partition violated: entries sum %d, total %d", entrySum, got.TotalVAT)
	}
	if got.TotalTTC != (got.SubtotalHT-got.GlobalDiscount)+got.FodecAmount+got.TotalVAT+got.StampAmount {
		t.Fatalf("TTC decomposition violated: %+v", got)
	}
	// Distinct rates collapse into one entry each.
	if len(got.VATEntries) != 2 {
		t.Fatalf("expected two VAT entries, got %+v", got.VATEntries)
	}
}

func TestComputeDocumentRejectsBadInput(t *testing.T) {
	if _, err := ComputeDocument(Document{}); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument for empty lines, got %v", err)
	}
	lines := []LineTotals{mustLine(t, Line{Qty: 1, UnitPrice: 1000, VATBps: 1900})}
	if _, err := ComputeDocument(Document{Lines: lines, GlobalDiscountBps: bps(10001)}); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument for discount > 100%%, got %v", err)
	}
}
