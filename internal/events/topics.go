package events

// Topic constants for billing lifecycle events.
const (
	TopicInvoiceCreated       = "invoice.created"
	TopicInvoiceSent          = "invoice.sent"
	TopicInvoicePaid          = "invoice.paid"
	TopicInvoicePartiallyPaid = "invoice.partially_paid"
	TopicInvoiceOverdue       = "invoice.overdue"
	TopicInvoiceCancelled     = "invoice.cancelled"
	TopicPaymentRecorded      = "payment.recorded"
	TopicPaymentDeleted       = "payment.deleted"
)

// DefaultTopics returns the canonical list of topics delivered to webhook
// subscribers.
func DefaultTopics() []string {
	return []string{
		TopicInvoiceCreated,
		TopicInvoiceSent,
		TopicInvoicePaid,
		TopicInvoicePartiallyPaid,
		TopicInvoiceOverdue,
		TopicInvoiceCancelled,
		TopicPaymentRecorded,
		TopicPaymentDeleted,
	}
}
