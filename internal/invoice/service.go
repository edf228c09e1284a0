package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-billing/internal/events"
	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/obs"
	"github.com/noah-isme/backend-billing/internal/pricing"
	"github.com/noah-isme/backend-billing/internal/store"
	"github.com/noah-isme/backend-billing/internal/tax"
)

// Sentinel errors surfaced by the service.
var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrInvalidState    = errors.New("operation not allowed in current status")
)

// Store is the persistence surface the service depends on. *store.Queries
// satisfies it; tests substitute stubs.
type Store interface {
	CreateInvoice(ctx context.Context, arg store.CreateInvoiceParams) (store.Invoice, error)
	GetInvoiceByID(ctx context.Context, id pgtype.UUID) (store.Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id pgtype.UUID) (store.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id pgtype.UUID, status string) error
	UpdateInvoiceIssued(ctx context.Context, id pgtype.UUID, status string) error
	ListOverdueCandidates(ctx context.Context, limit int32) ([]store.Invoice, error)
	InsertInvoiceLine(ctx context.Context, arg store.InsertInvoiceLineParams) error
	ListInvoiceLines(ctx context.Context, invoiceID pgtype.UUID) ([]store.InvoiceLine, error)
	InsertPayment(ctx context.Context, arg store.InsertPaymentParams) (store.Payment, error)
	DeletePayment(ctx context.Context, id, invoiceID pgtype.UUID) (int64, error)
	ListPaymentsByInvoice(ctx context.Context, invoiceID pgtype.UUID) ([]store.Payment, error)
	SumPaymentsByInvoice(ctx context.Context, invoiceID pgtype.UUID) (int64, error)
}

// DB is a Store that can also open a transaction scope. Everything executed
// inside fn runs against the same transaction.
type DB interface {
	Store
	InTx(ctx context.Context, fn func(Store) error) error
}

// PGStore backs DB with a pgx pool. InTx commits when fn returns nil and
// rolls back otherwise.
type PGStore struct {
	*store.Queries
	Pool *pgxpool.Pool
}

// NewPGStore wraps a pool and its queries as a DB.
func NewPGStore(pool *pgxpool.Pool, q *store.Queries) *PGStore {
	return &PGStore{Queries: q, Pool: pool}
}

// InTx runs fn inside a single database transaction.
func (p *PGStore) InTx(ctx context.Context, fn func(Store) error) error {
	return pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
		return fn(p.Queries.WithTx(tx))
	})
}

// TaxSource resolves the ambient tax configuration and default currency at
// computation time. The settings service implements it with a database row
// falling back to environment defaults.
type TaxSource interface {
	Current(ctx context.Context) (tax.Config, money.Currency, error)
}

// Service owns invoice creation and the payment-reconciliation lifecycle.
// Every ledger mutation runs in one transaction: lock the invoice row, sum
// the ledger, apply the overpayment policy, mutate, re-derive the status.
type Service struct {
	DB        DB
	Bus       *events.Bus
	Taxes     TaxSource
	Tolerance pricing.Money
	Log       zerolog.Logger
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// LineInput is one raw invoice line before computation. UnitPrice is in
// minor units; VATBps nil means the configured default rate.
type LineInput struct {
	Description string
	Qty         float64
	UnitPrice   pricing.Money
	VATBps      *int64
	DiscountBps *int64
}

// CreateInput describes a new invoice.
type CreateInput struct {
	Currency          string
	Lines             []LineInput
	GlobalDiscountBps *int64
	Adjustment        pricing.Money
	Flags             tax.Flags
	DueDate           *time.Time
}

// Detail is an invoice with its lines, ledger and accrued paid amount.
type Detail struct {
	Invoice    store.Invoice
	Lines      []store.InvoiceLine
	Payments   []store.Payment
	AmountPaid pricing.Money
}

// Create computes all totals for the given lines and persists the invoice in
// DRAFT. Totals are computed once at write time and stored; reads never
// recompute.
func (s *Service) Create(ctx context.Context, in CreateInput) (Detail, error) {
	cfg, defaultCurrency, err := s.Taxes.Current(ctx)
	if err != nil {
		return Detail{}, fmt.Errorf("resolve tax config: %w", err)
	}

	currency := money.Currency(strings.ToUpper(strings.TrimSpace(in.Currency)))
	if currency == "" {
		currency = defaultCurrency
	}
	if !currency.Valid() {
		return Detail{}, fmt.Errorf("%w: unsupported currency %q", pricing.ErrInvalidDocument, currency)
	}

	lineTotals := make([]pricing.LineTotals, 0, len(in.Lines))
	for i, raw := range in.Lines {
		vatBps := cfg.DefaultVATBps
		if raw.VATBps != nil {
			vatBps = *raw.VATBps
		}
		lt, err := pricing.ComputeLine(pricing.Line{
			Qty:         raw.Qty,
			UnitPrice:   raw.UnitPrice,
			VATBps:      vatBps,
			DiscountBps: raw.DiscountBps,
		})
		if err != nil {
			obs.DocumentsComputedTotal.WithLabelValues("invoice", "error").Inc()
			return Detail{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		lineTotals = append(lineTotals, lt)
	}

	totals, err := pricing.ComputeDocument(pricing.Document{
		Lines:             lineTotals,
		GlobalDiscountBps: in.GlobalDiscountBps,
		Adjustment:        in.Adjustment,
		Tax:               cfg,
		Flags:             in.Flags,
	})
	if err != nil {
		obs.DocumentsComputedTotal.WithLabelValues("invoice", "error").Inc()
		return Detail{}, err
	}

	entriesJSON, err := marshalVATEntries(totals.VATEntries)
	if err != nil {
		return Detail{}, fmt.Errorf("encode vat entries: %w", err)
	}

	var detail Detail
	err = s.DB.InTx(ctx, func(q Store) error {
		inv, err := q.CreateInvoice(ctx, store.CreateInvoiceParams{
			Number:         newInvoiceNumber(s.now()),
			Currency:       string(currency),
			Status:         string(StatusDraft),
			SubtotalHT:     totals.SubtotalHT,
			GlobalDiscount: totals.GlobalDiscount,
			FodecAmount:    totals.FodecAmount,
			StampAmount:    totals.StampAmount,
			TotalVAT:       totals.TotalVAT,
			TotalTTC:       totals.TotalTTC,
			VATEntries:     entriesJSON,
			DueDate:        store.Timestamptz(in.DueDate),
		})
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		for i, raw := range in.Lines {
			var discount pgtype.Int8
			if raw.DiscountBps != nil {
				discount = pgtype.Int8{Int64: *raw.DiscountBps, Valid: true}
			}
			vatBps := cfg.DefaultVATBps
			if raw.VATBps != nil {
				vatBps = *raw.VATBps
			}
			if err := q.InsertInvoiceLine(ctx, store.InsertInvoiceLineParams{
				InvoiceID:   inv.ID,
				Position:    int32(i + 1),
				Description: raw.Description,
				Qty:         raw.Qty,
				UnitPrice:   raw.UnitPrice,
				VATBps:      vatBps,
				DiscountBps: discount,
				TotalHT:     lineTotals[i].TotalHT,
				TotalVAT:    lineTotals[i].TotalVAT,
				TotalTTC:    lineTotals[i].TotalTTC,
			}); err != nil {
				return fmt.Errorf("insert line %d: %w", i+1, err)
			}
		}
		detail.Invoice = inv
		return nil
	})
	if err != nil {
		return Detail{}, err
	}

	obs.DocumentsComputedTotal.WithLabelValues("invoice", "ok").Inc()
	s.emit(ctx, events.TopicInvoiceCreated, detail.Invoice.ID, invoiceEventPayload(detail.Invoice, 0))

	lines, err := s.DB.ListInvoiceLines(ctx, detail.Invoice.ID)
	if err != nil {
		return Detail{}, fmt.Errorf("list lines: %w", err)
	}
	detail.Lines = lines
	detail.Payments = []store.Payment{}
	return detail, nil
}

// Get loads an invoice with its lines and payment ledger.
func (s *Service) Get(ctx context.Context, id pgtype.UUID) (Detail, error) {
	inv, err := s.DB.GetInvoiceByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Detail{}, ErrInvoiceNotFound
		}
		return Detail{}, err
	}
	lines, err := s.DB.ListInvoiceLines(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	payments, err := s.DB.ListPaymentsByInvoice(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	var paid pricing.Money
	for _, p := range payments {
		paid += p.Amount
	}
	return Detail{Invoice: inv, Lines: lines, Payments: payments, AmountPaid: paid}, nil
}

// Send moves a DRAFT invoice to SENT and stamps the issue time.
func (s *Service) Send(ctx context.Context, id pgtype.UUID) (store.Invoice, error) {
	var inv store.Invoice
	err := s.DB.InTx(ctx, func(q Store) error {
		current, err := q.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInvoiceNotFound
			}
			return err
		}
		if Status(current.Status) != StatusDraft {
			return fmt.Errorf("%w: only a draft can be sent", ErrInvalidState)
		}
		if err := q.UpdateInvoiceIssued(ctx, id, string(StatusSent)); err != nil {
			return err
		}
		current.Status = string(StatusSent)
		inv = current
		return nil
	})
	if err != nil {
		return store.Invoice{}, err
	}

	obs.StatusTransitionsTotal.WithLabelValues(string(StatusDraft), string(StatusSent)).Inc()
	s.emit(ctx, events.TopicInvoiceSent, id, invoiceEventPayload(inv, 0))
	return inv, nil
}

// Cancel marks the invoice CANCELLED. Cancellation is sticky and idempotent;
// a fully paid invoice can no longer be cancelled.
func (s *Service) Cancel(ctx context.Context, id pgtype.UUID) (store.Invoice, error) {
	var inv store.Invoice
	var previous Status
	err := s.DB.InTx(ctx, func(q Store) error {
		current, err := q.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInvoiceNotFound
			}
			return err
		}
		previous = Status(current.Status)
		if previous == StatusCancelled {
			inv = current
			return nil
		}
		if previous == StatusPaid {
			return fmt.Errorf("%w: a paid invoice cannot be cancelled", ErrInvalidState)
		}
		if err := q.UpdateInvoiceStatus(ctx, id, string(StatusCancelled)); err != nil {
			return err
		}
		current.Status = string(StatusCancelled)
		inv = current
		return nil
	})
	if err != nil {
		return store.Invoice{}, err
	}

	if previous != StatusCancelled {
		obs.StatusTransitionsTotal.WithLabelValues(string(previous), string(StatusCancelled)).Inc()
		s.emit(ctx, events.TopicInvoiceCancelled, id, invoiceEventPayload(inv, 0))
	}
	return inv, nil
}

// PaymentInput describes one new ledger entry. Zero and negative amounts are
// legal corrections; they shift the accrued total and the status follows.
type PaymentInput struct {
	Amount pricing.Money
	PaidAt *time.Time
	Method string
	Note   string
}

// PaymentResult reports the ledger mutation and the status it produced.
type PaymentResult struct {
	Payment    store.Payment
	Invoice    store.Invoice
	AmountPaid pricing.Money
	Previous   Status
}

// RecordPayment appends a payment and re-derives the invoice status inside
// one transaction. The row lock serializes concurrent payments against the
// same invoice so the overpayment check always sees the full ledger.
func (s *Service) RecordPayment(ctx context.Context, invoiceID pgtype.UUID, in PaymentInput) (PaymentResult, error) {
	var res PaymentResult
	err := s.DB.InTx(ctx, func(q Store) error {
		inv, err := q.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInvoiceNotFound
			}
			return err
		}
		current := Status(inv.Status)
		if current == StatusCancelled {
			return fmt.Errorf("%w: invoice is cancelled", ErrInvalidState)
		}

		paid, err := q.SumPaymentsByInvoice(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}
		newPaid := paid + in.Amount
		if err := CheckOverpayment(inv.TotalTTC, newPaid, s.Tolerance); err != nil {
			return err
		}

		payment, err := q.InsertPayment(ctx, store.InsertPaymentParams{
			InvoiceID: invoiceID,
			Amount:    in.Amount,
			PaidAt:    store.Timestamptz(in.PaidAt),
			Method:    textOrNull(in.Method),
			Note:      textOrNull(in.Note),
		})
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		next := Derive(current, inv.TotalTTC, newPaid, store.TimePtr(inv.DueDate), s.now())
		if next != current {
			if err := q.UpdateInvoiceStatus(ctx, invoiceID, string(next)); err != nil {
				return err
			}
		}
		inv.Status = string(next)
		res = PaymentResult{Payment: payment, Invoice: inv, AmountPaid: newPaid, Previous: current}
		return nil
	})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrOverpayment) {
			result = "overpayment"
		}
		obs.PaymentsRecordedTotal.WithLabelValues("record", result).Inc()
		return PaymentResult{}, err
	}

	obs.PaymentsRecordedTotal.WithLabelValues("record", "ok").Inc()
	s.emit(ctx, events.TopicPaymentRecorded, invoiceID, paymentEventPayload(res))
	s.emitStatusChange(ctx, invoiceID, res)
	return res, nil
}

// DeletePayment removes a ledger entry and re-derives the status, so a PAID
// invoice whose covering payment disappears drops back to PARTIALLY_PAID or
// SENT.
func (s *Service) DeletePayment(ctx context.Context, invoiceID, paymentID pgtype.UUID) (PaymentResult, error) {
	var res PaymentResult
	err := s.DB.InTx(ctx, func(q Store) error {
		inv, err := q.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInvoiceNotFound
			}
			return err
		}
		current := Status(inv.Status)

		removed, err := q.DeletePayment(ctx, paymentID, invoiceID)
		if err != nil {
			return fmt.Errorf("delete payment: %w", err)
		}
		if removed == 0 {
			return ErrPaymentNotFound
		}

		paid, err := q.SumPaymentsByInvoice(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}

		next := Derive(current, inv.TotalTTC, paid, store.TimePtr(inv.DueDate), s.now())
		if next != current {
			if err := q.UpdateInvoiceStatus(ctx, invoiceID, string(next)); err != nil {
				return err
			}
		}
		inv.Status = string(next)
		res = PaymentResult{Invoice: inv, AmountPaid: paid, Previous: current}
		return nil
	})
	if err != nil {
		obs.PaymentsRecordedTotal.WithLabelValues("delete", "error").Inc()
		return PaymentResult{}, err
	}

	obs.PaymentsRecordedTotal.WithLabelValues("delete", "ok").Inc()
	s.emit(ctx, events.TopicPaymentDeleted, invoiceID, paymentEventPayload(res))
	s.emitStatusChange(ctx, invoiceID, res)
	return res, nil
}

// MarkOverdueBatch sweeps sent invoices past their due date and re-derives
// each under its own row lock. It returns how many invoices moved to
// OVERDUE. Invoices with payments keep their payment-derived state.
func (s *Service) MarkOverdueBatch(ctx context.Context, limit int32) (int, error) {
	candidates, err := s.DB.ListOverdueCandidates(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list overdue candidates: %w", err)
	}

	moved := 0
	for _, candidate := range candidates {
		var changed bool
		var inv store.Invoice
		err := s.DB.InTx(ctx, func(q Store) error {
			current, err := q.GetInvoiceForUpdate(ctx, candidate.ID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil
				}
				return err
			}
			paid, err := q.SumPaymentsByInvoice(ctx, candidate.ID)
			if err != nil {
				return err
			}
			next := Derive(Status(current.Status), current.TotalTTC, paid, store.TimePtr(current.DueDate), s.now())
			if next == StatusOverdue && Status(current.Status) != StatusOverdue {
				if err := q.UpdateInvoiceStatus(ctx, candidate.ID, string(next)); err != nil {
					return err
				}
				current.Status = string(next)
				changed = true
			}
			inv = current
			return nil
		})
		if err != nil {
			s.Log.Error().Err(err).Str("invoice_id", store.UUIDString(candidate.ID)).
				Msg("overdue sweep: re-derivation failed")
			continue
		}
		if changed {
			moved++
			obs.StatusTransitionsTotal.WithLabelValues(string(StatusSent), string(StatusOverdue)).Inc()
			s.emit(ctx, events.TopicInvoiceOverdue, inv.ID, invoiceEventPayload(inv, 0))
		}
	}
	return moved, nil
}

func (s *Service) emitStatusChange(ctx context.Context, id pgtype.UUID, res PaymentResult) {
	next := Status(res.Invoice.Status)
	if next == res.Previous {
		return
	}
	obs.StatusTransitionsTotal.WithLabelValues(string(res.Previous), string(next)).Inc()
	switch next {
	case StatusPaid:
		s.emit(ctx, events.TopicInvoicePaid, id, invoiceEventPayload(res.Invoice, res.AmountPaid))
	case StatusPartiallyPaid:
		s.emit(ctx, events.TopicInvoicePartiallyPaid, id, invoiceEventPayload(res.Invoice, res.AmountPaid))
	}
}

func (s *Service) emit(ctx context.Context, topic string, id pgtype.UUID, payload any) {
	if s.Bus == nil {
		return
	}
	if _, err := s.Bus.Emit(ctx, topic, id, payload); err != nil {
		s.Log.Warn().Err(err).Str("topic", topic).
			Str("invoice_id", store.UUIDString(id)).Msg("event emission degraded")
	}
}

func invoiceEventPayload(inv store.Invoice, amountPaid pricing.Money) map[string]any {
	return map[string]any{
		"invoice_id":  store.UUIDString(inv.ID),
		"number":      inv.Number,
		"status":      inv.Status,
		"currency":    inv.Currency,
		"total_ttc":   inv.TotalTTC,
		"amount_paid": amountPaid,
	}
}

func paymentEventPayload(res PaymentResult) map[string]any {
	payload := map[string]any{
		"invoice_id":  store.UUIDString(res.Invoice.ID),
		"status":      res.Invoice.Status,
		"amount_paid": res.AmountPaid,
		"total_ttc":   res.Invoice.TotalTTC,
	}
	if res.Payment.ID.Valid {
		payload["payment_id"] = store.UUIDString(res.Payment.ID)
		payload["amount"] = res.Payment.Amount
	}
	return payload
}

func textOrNull(s string) pgtype.Text {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func marshalVATEntries(entries []pricing.VATEntry) ([]byte, error) {
	type entry struct {
		RateBps int64 `json:"rate_bps"`
		Amount  int64 `json:"amount"`
	}
	out := make([]entry, len(entries))
	for i, e := range entries {
		out[i] = entry{RateBps: e.RateBps, Amount: e.Amount}
	}
	return json.Marshal(out)
}

func newInvoiceNumber(now time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("INV-%s-%s", now.Format("20060102"), suffix)
}
