// Package store is the persistence layer for invoices, their payment
// ledgers, ambient tax settings and domain events. Queries are handwritten
// pgx; the calling services decide transaction boundaries via WithTx.
package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Invoice is a persisted billing document with its computed totals.
type Invoice struct {
	ID             pgtype.UUID
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
	IssuedAt       pgtype.Timestamptz
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

// InvoiceLine is one persisted line with both its raw inputs and computed
// totals, so edits recompute deterministically.
type InvoiceLine struct {
	ID          pgtype.UUID
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

// Payment is one entry of an invoice's append-only payment ledger.
type Payment struct {
	ID        pgtype.UUID
	InvoiceID pgtype.UUID
	Amount    int64
	PaidAt    pgtype.Timestamptz
	Method    pgtype.Text
	Note      pgtype.Text
	CreatedAt pgtype.Timestamptz
}

// TaxSettings is the single ambient configuration row.
type TaxSettings struct {
	FodecEnabled      bool
	FodecRateBps      int64
	TimbreEnabled     bool
	TimbreAmountCents int64
	DefaultVATBps     int64
	DefaultCurrency   string
	UpdatedAt         pgtype.Timestamptz
}

// DomainEvent is a persisted lifecycle event.
type DomainEvent struct {
	ID          pgtype.UUID
	Topic       string
	AggregateID pgtype.UUID
	Payload     []byte
	OccurredAt  pgtype.Timestamptz
}

// ToUUID parses a string id into a pgtype.UUID.
func ToUUID(id string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

// NewUUID generates a random pgtype.UUID.
func NewUUID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}
}

// UUIDString renders a pgtype.UUID in canonical form, or "" when unset.
func UUIDString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}

// TimePtr converts a nullable timestamp to a *time.Time.
func TimePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

// Timestamptz wraps a *time.Time as a nullable column value.
func Timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
