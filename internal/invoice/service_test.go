package invoice

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billing/internal/obs"
	"github.com/noah-isme/backend-billing/internal/pricing"
	"github.com/noah-isme/backend-billing/internal/store"
)

// stubDB keeps one invoice and its ledger sum in memory so the service's
// transaction bodies run against deterministic state.
type stubDB struct {
	invoice      store.Invoice
	paid         int64
	deleteFound  bool
	deleteAmount int64

	inserted      []store.InsertPaymentParams
	statusUpdates []string
	issuedStatus  string
}

func (s *stubDB) InTx(_ context.Context, fn func(Store) error) error { return fn(s) }

func (s *stubDB) CreateInvoice(_ context.Context, arg store.CreateInvoiceParams) (store.Invoice, error) {
	return store.Invoice{
		ID:       store.NewUUID(),
		Number:   arg.Number,
		Currency: arg.Currency,
		Status:   arg.Status,
		TotalTTC: arg.TotalTTC,
		DueDate:  arg.DueDate,
	}, nil
}

func (s *stubDB) GetInvoiceByID(_ context.Context, id pgtype.UUID) (store.Invoice, error) {
	return s.GetInvoiceForUpdate(context.Background(), id)
}

func (s *stubDB) GetInvoiceForUpdate(_ context.Context, id pgtype.UUID) (store.Invoice, error) {
	if !s.invoice.ID.Valid || s.invoice.ID != id {
		return store.Invoice{}, pgx.ErrNoRows
	}
	return s.invoice, nil
}

func (s *stubDB) UpdateInvoiceStatus(_ context.Context, _ pgtype.UUID, status string) error {
	s.statusUpdates = append(s.statusUpdates, status)
	s.invoice.Status = status
	return nil
}

func (s *stubDB) UpdateInvoiceIssued(_ context.Context, _ pgtype.UUID, status string) error {
	s.issuedStatus = status
	s.invoice.Status = status
	return nil
}

func (s *stubDB) ListOverdueCandidates(_ context.Context, _ int32) ([]store.Invoice, error) {
	return nil, nil
}

func (s *stubDB) InsertInvoiceLine(_ context.Context, _ store.InsertInvoiceLineParams) error {
	return nil
}

func (s *stubDB) ListInvoiceLines(_ context.Context, _ pgtype.UUID) ([]store.InvoiceLine, error) {
	return nil, nil
}

func (s *stubDB) InsertPayment(_ context.Context, arg store.InsertPaymentParams) (store.Payment, error) {
	s.inserted = append(s.inserted, arg)
	s.paid += arg.Amount
	return store.Payment{ID: store.NewUUID(), InvoiceID: arg.InvoiceID, Amount: arg.Amount}, nil
}

func (s *stubDB) DeletePayment(_ context.Context, _, _ pgtype.UUID) (int64, error) {
	if !s.deleteFound {
		return 0, nil
	}
	s.paid -= s.deleteAmount
	return 1, nil
}

func (s *stubDB) ListPaymentsByInvoice(_ context.Context, _ pgtype.UUID) ([]store.Payment, error) {
	return nil, nil
}

func (s *stubDB) SumPaymentsByInvoice(_ context.Context, _ pgtype.UUID) (int64, error) {
	return s.paid, nil
}

func newLedgerService(db *stubDB, tolerance pricing.Money) *Service {
	obs.MustRegisterDomainMetrics("billing_test", prometheus.NewRegistry())
	return &Service{
		DB:        db,
		Tolerance: tolerance,
		Log:       zerolog.Nop(),
		Now:       func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) },
	}
}

func storedInvoice(status Status, totalTTC int64) store.Invoice {
	return store.Invoice{
		ID:       store.NewUUID(),
		Number:   "INV-20260829-0DDBA11C",
		Currency: "TND",
		Status:   string(status),
		TotalTTC: totalTTC,
	}
}

func TestRecordPaymentNegativeCorrection(t *testing.T) {
	// A refund entry on a fully paid invoice must enter the ledger and pull
	// the status back to PARTIALLY_PAID.
	db := &stubDB{invoice: storedInvoice(StatusPaid, 100000), paid: 100000}
	svc := newLedgerService(db, 0)

	res, err := svc.RecordPayment(context.Background(), db.invoice.ID, PaymentInput{Amount: -40000})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, res.Previous)
	require.Equal(t, string(StatusPartiallyPaid), res.Invoice.Status)
	require.Equal(t, pricing.Money(60000), res.AmountPaid)
	require.Len(t, db.inserted, 1)
	require.Equal(t, int64(-40000), db.inserted[0].Amount)
	require.Equal(t, []string{string(StatusPartiallyPaid)}, db.statusUpdates)
}

func TestRecordPaymentZeroAmount(t *testing.T) {
	db := &stubDB{invoice: storedInvoice(StatusPartiallyPaid, 50000), paid: 20000}
	svc := newLedgerService(db, 0)

	res, err := svc.RecordPayment(context.Background(), db.invoice.ID, PaymentInput{Amount: 0})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(20000), res.AmountPaid)
	require.Equal(t, string(StatusPartiallyPaid), res.Invoice.Status)
	require.Len(t, db.inserted, 1)
	require.Empty(t, db.statusUpdates)
}

func TestRecordPaymentOverpayment(t *testing.T) {
	db := &stubDB{invoice: storedInvoice(StatusSent, 50000)}
	svc := newLedgerService(db, 0)

	_, err := svc.RecordPayment(context.Background(), db.invoice.ID, PaymentInput{Amount: 50001})
	require.ErrorIs(t, err, ErrOverpayment)
	require.Empty(t, db.inserted)
	require.Equal(t, string(StatusSent), db.invoice.Status)

	// within tolerance the same payment settles the invoice
	db = &stubDB{invoice: storedInvoice(StatusSent, 50000)}
	svc = newLedgerService(db, 100)
	res, err := svc.RecordPayment(context.Background(), db.invoice.ID, PaymentInput{Amount: 50050})
	require.NoError(t, err)
	require.Equal(t, string(StatusPaid), res.Invoice.Status)
	require.Equal(t, pricing.Money(50050), res.AmountPaid)
}

func TestRecordPaymentCancelledInvoice(t *testing.T) {
	db := &stubDB{invoice: storedInvoice(StatusCancelled, 50000)}
	svc := newLedgerService(db, 0)

	_, err := svc.RecordPayment(context.Background(), db.invoice.ID, PaymentInput{Amount: 10000})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Empty(t, db.inserted)
}

func TestRecordPaymentUnknownInvoice(t *testing.T) {
	svc := newLedgerService(&stubDB{}, 0)

	_, err := svc.RecordPayment(context.Background(), store.NewUUID(), PaymentInput{Amount: 10000})
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestSendTransitions(t *testing.T) {
	db := &stubDB{invoice: storedInvoice(StatusDraft, 50000)}
	svc := newLedgerService(db, 0)

	inv, err := svc.Send(context.Background(), db.invoice.ID)
	require.NoError(t, err)
	require.Equal(t, string(StatusSent), inv.Status)
	require.Equal(t, string(StatusSent), db.issuedStatus)

	// a second send hits the already-sent invoice
	_, err = svc.Send(context.Background(), db.invoice.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelTransitions(t *testing.T) {
	db := &stubDB{invoice: storedInvoice(StatusSent, 50000)}
	svc := newLedgerService(db, 0)

	inv, err := svc.Cancel(context.Background(), db.invoice.ID)
	require.NoError(t, err)
	require.Equal(t, string(StatusCancelled), inv.Status)
	require.Equal(t, []string{string(StatusCancelled)}, db.statusUpdates)

	// idempotent: a repeat cancel succeeds without another write
	inv, err = svc.Cancel(context.Background(), db.invoice.ID)
	require.NoError(t, err)
	require.Equal(t, string(StatusCancelled), inv.Status)
	require.Len(t, db.statusUpdates, 1)

	db = &stubDB{invoice: storedInvoice(StatusPaid, 50000), paid: 50000}
	svc = newLedgerService(db, 0)
	_, err = svc.Cancel(context.Background(), db.invoice.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDeletePaymentReopensInvoice(t *testing.T) {
	db := &stubDB{
		invoice:      storedInvoice(StatusPaid, 100000),
		paid:         100000,
		deleteFound:  true,
		deleteAmount: 40000,
	}
	svc := newLedgerService(db, 0)

	res, err := svc.DeletePayment(context.Background(), db.invoice.ID, store.NewUUID())
	require.NoError(t, err)
	require.Equal(t, StatusPaid, res.Previous)
	require.Equal(t, string(StatusPartiallyPaid), res.Invoice.Status)
	require.Equal(t, pricing.Money(60000), res.AmountPaid)
}

func TestDeletePaymentMissing(t *testing.T) {
	db := &stubDB{invoice: storedInvoice(StatusSent, 50000)}
	svc := newLedgerService(db, 0)

	_, err := svc.DeletePayment(context.Background(), db.invoice.ID, store.NewUUID())
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestMarshalVATEntriesKeepsOrder(t *testing.T) {
	out, err := marshalVATEntries([]pricing.VATEntry{
		{RateBps: 2000, Amount: 40000},
		{RateBps: 1000, Amount: 4750},
	})
	require.NoError(t, err)
	require.JSONEq(t,
		`[{"rate_bps":2000,"amount":40000},{"rate_bps":1000,"amount":4750}]`,
		string(out))
}

func TestMarshalVATEntriesEmpty(t *testing.T) {
	out, err := marshalVATEntries(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", string(out))
}

func TestNewInvoiceNumberFormat(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	n := newInvoiceNumber(now)
	require.Regexp(t, regexp.MustCompile(`^INV-20260829-[0-9A-F]{8}$`), n)

	// suffixes are random, consecutive numbers must differ
	require.NotEqual(t, n, newInvoiceNumber(now))
}

func TestTextOrNull(t *testing.T) {
	require.False(t, textOrNull("").Valid)
	require.False(t, textOrNull("   ").Valid)

	v := textOrNull(" wire ")
	require.True(t, v.Valid)
	require.Equal(t, "wire", v.String)
}
