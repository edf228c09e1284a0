package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries bundles all database operations over a pool, connection or
// transaction.
type Queries struct {
	db DBTX
}

// New constructs Queries over the provided executor.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to the transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const invoiceColumns = `id, number, currency, status, subtotal_ht, global_discount,
fodec_amount, stamp_amount, total_vat, total_ttc, vat_entries, due_date,
issued_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.Currency, &inv.Status, &inv.SubtotalHT,
		&inv.GlobalDiscount, &inv.FodecAmount, &inv.StampAmount, &inv.TotalVAT,
		&inv.TotalTTC, &inv.VATEntries, &inv.DueDate, &inv.IssuedAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	return inv, err
}

// CreateInvoiceParams carries the column values for a new invoice row.
type CreateInvoiceParams struct {
	Number         string
	Currency       string
	Status         string
	SubtotalHT     int64
	GlobalDiscount int64
	FodecAmount    int64
	StampAmount    int64
	TotalVAT       int64
	TotalTTC       int64
	VATEntries     []byte
	DueDate        pgtype.Timestamptz
}

// CreateInvoice inserts an invoice row with its computed totals.
func (q *Queries) CreateInvoice(ctx context.Context, arg CreateInvoiceParams) (Invoice, error) {
	const sql = `INSERT INTO invoices (
number, currency, status, subtotal_ht, global_discount, fodec_amount,
stamp_amount, total_vat, total_ttc, vat_entries, due_date
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + invoiceColumns
	return scanInvoice(q.db.QueryRow(ctx, sql,
		arg.Number, arg.Currency, arg.Status, arg.SubtotalHT, arg.GlobalDiscount,
		arg.FodecAmount, arg.StampAmount, arg.TotalVAT, arg.TotalTTC,
		arg.VATEntries, arg.DueDate,
	))
}

// GetInvoiceByID fetches one invoice.
func (q *Queries) GetInvoiceByID(ctx context.Context, id pgtype.UUID) (Invoice, error) {
	const sql = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	return scanInvoice(q.db.QueryRow(ctx, sql, id))
}

// GetInvoiceForUpdate fetches one invoice under a row lock. Must run inside
// a transaction; it is the per-invoice lock that keeps ledger mutation and
// status re-derivation consistent.
func (q *Queries) GetInvoiceForUpdate(ctx context.Context, id pgtype.UUID) (Invoice, error) {
	const sql = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`
	return scanInvoice(q.db.QueryRow(ctx, sql, id))
}

// UpdateInvoiceStatus persists a newly derived status.
func (q *Queries) UpdateInvoiceStatus(ctx context.Context, id pgtype.UUID, status string) error {
	const sql = `UPDATE invoices SET status = $2, updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, sql, id, status)
	return err
}

// UpdateInvoiceIssued marks the invoice as sent and stamps the issue time.
func (q *Queries) UpdateInvoiceIssued(ctx context.Context, id pgtype.UUID, status string) error {
	const sql = `UPDATE invoices SET status = $2, issued_at = now(), updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, sql, id, status)
	return err
}

// ListOverdueCandidates returns sent, unpaid invoices whose due date has
// passed. The sweep re-derives each one under its row lock afterwards.
func (q *Queries) ListOverdueCandidates(ctx context.Context, limit int32) ([]Invoice, error) {
	const sql = `SELECT ` + invoiceColumns + ` FROM invoices
WHERE status = 'SENT' AND due_date IS NOT NULL AND due_date < now()
ORDER BY due_date LIMIT $1`
	rows, err := q.db.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// InsertInvoiceLineParams carries one computed line.
type InsertInvoiceLineParams struct {
	InvoiceID   pgtype.UUID
	Position    int32
	Description string
	Qty         float64
	UnitPrice   int64
	VATBps      int64
	DiscountBps pgtype.Int8
	TotalHT     int64
	TotalVAT    int64
	TotalTTC    int64
}

// InsertInvoiceLine stores a line alongside its computed totals.
func (q *Queries) InsertInvoiceLine(ctx context.Context, arg InsertInvoiceLineParams) error {
	const sql = `INSERT INTO invoice_lines (
invoice_id, position, description, qty, unit_price, vat_bps, discount_bps,
total_ht, total_vat, total_ttc
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := q.db.Exec(ctx, sql,
		arg.InvoiceID, arg.Position, arg.Description, arg.Qty, arg.UnitPrice,
		arg.VATBps, arg.DiscountBps, arg.TotalHT, arg.TotalVAT, arg.TotalTTC,
	)
	return err
}

// ListInvoiceLines returns the lines of an invoice in document order.
func (q *Queries) ListInvoiceLines(ctx context.Context, invoiceID pgtype.UUID) ([]InvoiceLine, error) {
	const sql = `SELECT id, invoice_id, position, description, qty, unit_price,
vat_bps, discount_bps, total_ht, total_vat, total_ttc
FROM invoice_lines WHERE invoice_id = $1 ORDER BY position`
	rows, err := q.db.Query(ctx, sql, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceLine
	for rows.Next() {
		var ln InvoiceLine
		if err := rows.Scan(
			&ln.ID, &ln.InvoiceID, &ln.Position, &ln.Description, &ln.Qty,
			&ln.UnitPrice, &ln.VATBps, &ln.DiscountBps, &ln.TotalHT,
			&ln.TotalVAT, &ln.TotalTTC,
		); err != nil {
			return nil, err
		}
		out = append(out, ln)
	}
	return out, rows.Err()
}

// InsertPaymentParams carries a new ledger entry.
type InsertPaymentParams struct {
	InvoiceID pgtype.UUID
	Amount    int64
	PaidAt    pgtype.Timestamptz
	Method    pgtype.Text
	Note      pgtype.Text
}

// InsertPayment appends a payment to the invoice's ledger.
func (q *Queries) InsertPayment(ctx context.Context, arg InsertPaymentParams) (Payment, error) {
	const sql = `INSERT INTO payments (invoice_id, amount, paid_at, method, note)
VALUES ($1, $2, COALESCE($3, now()), $4, $5)
RETURNING id, invoice_id, amount, paid_at, method, note, created_at`
	var p Payment
	err := q.db.QueryRow(ctx, sql, arg.InvoiceID, arg.Amount, arg.PaidAt, arg.Method, arg.Note).
		Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaidAt, &p.Method, &p.Note, &p.CreatedAt)
	return p, err
}

// DeletePayment removes one ledger entry, scoped to its invoice. Returns the
// number of rows removed so callers can distinguish a missing payment.
func (q *Queries) DeletePayment(ctx context.Context, id, invoiceID pgtype.UUID) (int64, error) {
	const sql = `DELETE FROM payments WHERE id = $1 AND invoice_id = $2`
	tag, err := q.db.Exec(ctx, sql, id, invoiceID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListPaymentsByInvoice returns the ledger in insertion order.
func (q *Queries) ListPaymentsByInvoice(ctx context.Context, invoiceID pgtype.UUID) ([]Payment, error) {
	const sql = `SELECT id, invoice_id, amount, paid_at, method, note, created_at
FROM payments WHERE invoice_id = $1 ORDER BY created_at, id`
	rows, err := q.db.Query(ctx, sql, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaidAt, &p.Method, &p.Note, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SumPaymentsByInvoice returns the accrued ledger total in minor units.
func (q *Queries) SumPaymentsByInvoice(ctx context.Context, invoiceID pgtype.UUID) (int64, error) {
	const sql = `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1`
	var sum int64
	err := q.db.QueryRow(ctx, sql, invoiceID).Scan(&sum)
	return sum, err
}

// GetTaxSettings reads the single ambient configuration row.
func (q *Queries) GetTaxSettings(ctx context.Context) (TaxSettings, error) {
	const sql = `SELECT fodec_enabled, fodec_rate_bps, timbre_enabled,
timbre_amount_cents, default_vat_bps, default_currency, updated_at
FROM tax_settings WHERE singleton`
	var s TaxSettings
	err := q.db.QueryRow(ctx, sql).Scan(
		&s.FodecEnabled, &s.FodecRateBps, &s.TimbreEnabled, &s.TimbreAmountCents,
		&s.DefaultVATBps, &s.DefaultCurrency, &s.UpdatedAt,
	)
	return s, err
}

// UpsertTaxSettingsParams carries the full settings row.
type UpsertTaxSettingsParams struct {
	FodecEnabled      bool
	FodecRateBps      int64
	TimbreEnabled     bool
	TimbreAmountCents int64
	DefaultVATBps     int64
	DefaultCurrency   string
}

// UpsertTaxSettings replaces the ambient configuration row.
func (q *Queries) UpsertTaxSettings(ctx context.Context, arg UpsertTaxSettingsParams) (TaxSettings, error) {
	const sql = `INSERT INTO tax_settings (
singleton, fodec_enabled, fodec_rate_bps, timbre_enabled, timbre_amount_cents,
default_vat_bps, default_currency
) VALUES (TRUE, $1, $2, $3, $4, $5, $6)
ON CONFLICT (singleton) DO UPDATE SET
fodec_enabled = EXCLUDED.fodec_enabled,
fodec_rate_bps = EXCLUDED.fodec_rate_bps,
timbre_enabled = EXCLUDED.timbre_enabled,
timbre_amount_cents = EXCLUDED.timbre_amount_cents,
default_vat_bps = EXCLUDED.default_vat_bps,
default_currency = EXCLUDED.default_currency,
updated_at = now()
RETURNING fodec_enabled, fodec_rate_bps, timbre_enabled, timbre_amount_cents,
default_vat_bps, default_currency, updated_at`
	var s TaxSettings
	err := q.db.QueryRow(ctx, sql,
		arg.FodecEnabled, arg.FodecRateBps, arg.TimbreEnabled,
		arg.TimbreAmountCents, arg.DefaultVATBps, arg.DefaultCurrency,
	).Scan(
		&s.FodecEnabled, &s.FodecRateBps, &s.TimbreEnabled, &s.TimbreAmountCents,
		&s.DefaultVATBps, &s.DefaultCurrency, &s.UpdatedAt,
	)
	return s, err
}

// InsertDomainEvent persists a lifecycle event.
func (q *Queries) InsertDomainEvent(ctx context.Context, topic string, aggregateID pgtype.UUID, payload []byte) (DomainEvent, error) {
	const sql = `INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3)
RETURNING id, topic, aggregate_id, payload, occurred_at`
	var ev DomainEvent
	err := q.db.QueryRow(ctx, sql, topic, aggregateID, payload).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	return ev, err
}
