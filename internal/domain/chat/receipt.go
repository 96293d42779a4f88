package chat

import "time"

// ReceiptStatus is the delivery state of a message for one recipient.
// Transitions go delivered -> read and never reverse.
type ReceiptStatus string

const (
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptRead      ReceiptStatus = "read"
)

// Receipt tracks per-recipient delivery state. One receipt per
// (message, user); receipts only exist for participants other than the
// sender.
type Receipt struct {
	ConversationID string
	MessageID      int64
	UserID         string
	Status         ReceiptStatus
	UpdatedAt      time.Time
}

// Advance applies a status update, refusing the read -> delivered downgrade.
// It reports whether the receipt actually changed.
func (r *Receipt) Advance(status ReceiptStatus, at time.Time) bool {
	if r.Status == ReceiptRead && status == ReceiptDelivered {
		return false
	}
	if r.Status == status {
		return false
	}
	r.Status = status
	r.UpdatedAt = at.UTC()
	return true
}
