package domain

import "time"

// Routing keys published on the settlement exchange.
const (
	EventPaymentConfirming       = "payment.confirming"
	EventPaymentCompleted        = "payment.completed"
	EventPaymentRefunded         = "payment.refunded"
	EventPaymentDeliveryFailed   = "payment.delivery_failed"
	EventPaymentTrackingTimeout  = "payment.tracking_timeout"
	EventPaymentTrackingDegraded = "payment.tracking_degraded"

	// EventPaymentResumeRequested is consumed, not published.
	EventPaymentResumeRequested = "payment.resume.requested"
)

// SettlementEvent is the payload published for every settlement lifecycle change.
type SettlementEvent struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	PaymentID        string          `json:"payment_id"`
	Status           PaymentStatus   `json:"status"`
	CanonicalStatus  CanonicalStatus `json:"canonical_status,omitempty"`
	MessageID        string          `json:"message_id,omitempty"`
	TxHash           string          `json:"tx_hash,omitempty"`
	ManualCompletion bool            `json:"manual_completion,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// ResumeRequest asks the service to resume tracking for a confirming payment.
type ResumeRequest struct {
	PaymentID string `json:"payment_id"`
}
