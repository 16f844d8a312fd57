package domain

import (
	"strings"
	"time"
)

// CanonicalStatus is the normalized cross-chain delivery status of a message.
type CanonicalStatus string

const (
	CanonicalNotStarted      CanonicalStatus = "NOT_STARTED"
	CanonicalSourceFinalized CanonicalStatus = "SOURCE_FINALIZED"
	CanonicalCommitting      CanonicalStatus = "COMMITTING"
	CanonicalCommitted       CanonicalStatus = "COMMITTED"
	CanonicalBlessing        CanonicalStatus = "BLESSING"
	CanonicalBlessed         CanonicalStatus = "BLESSED"
	CanonicalExecuting       CanonicalStatus = "EXECUTING"
	CanonicalSuccess         CanonicalStatus = "SUCCESS"
	CanonicalFailed          CanonicalStatus = "FAILED"
)

// TotalDeliverySteps is the step index of SUCCESS.
const TotalDeliverySteps = 7

type stageInfo struct {
	step        int
	description string
	estimate    string
}

var stages = map[CanonicalStatus]stageInfo{
	CanonicalNotStarted:      {0, "Transaction not yet initiated", "15-20 minutes"},
	CanonicalSourceFinalized: {1, "Source transaction finalized", "10-15 minutes"},
	CanonicalCommitting:      {2, "Committing to destination chain", "8-12 minutes"},
	CanonicalCommitted:       {3, "Transaction committed on destination", "5-8 minutes"},
	CanonicalBlessing:        {4, "Security blessing in progress", "3-5 minutes"},
	CanonicalBlessed:         {5, "Security blessing completed", "1-2 minutes"},
	CanonicalExecuting:       {6, "Executing on destination chain", "< 1 minute"},
	CanonicalSuccess:         {7, "Cross-chain transfer completed", "Complete"},
	CanonicalFailed:          {-1, "Transfer failed", "Failed"},
}

// ParseCanonicalStatus accepts the exact upper-case names, ignoring case and surrounding space.
func ParseCanonicalStatus(raw string) (CanonicalStatus, bool) {
	status := CanonicalStatus(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := stages[status]
	return status, ok
}

// Step is the display order: 0..6 for non-terminal states, 7 for SUCCESS and -1 for FAILED.
func (c CanonicalStatus) Step() int {
	if info, ok := stages[c]; ok {
		return info.step
	}
	return 0
}

func (c CanonicalStatus) IsTerminal() bool {
	return c == CanonicalSuccess || c == CanonicalFailed
}

func (c CanonicalStatus) Description() string {
	if info, ok := stages[c]; ok {
		return info.description
	}
	return stages[CanonicalNotStarted].description
}

// EstimatedTimeRemaining is a human readable guess of the time left in delivery.
func (c CanonicalStatus) EstimatedTimeRemaining() string {
	if info, ok := stages[c]; ok {
		return info.estimate
	}
	return stages[CanonicalNotStarted].estimate
}

// TrackingState is a snapshot of the in-memory tracking of one in-flight delivery.
// It is never persisted.
type TrackingState struct {
	PaymentID       string          `json:"payment_id"`
	MessageID       string          `json:"message_id"`
	CanonicalStatus CanonicalStatus `json:"canonical_status"`
	Source          string          `json:"source,omitempty"`
	Degraded        bool            `json:"degraded"`
	PollAttempts    int             `json:"poll_attempts"`
	LastError       string          `json:"last_error,omitempty"`
	TimedOut        bool            `json:"timed_out"`
	Active          bool            `json:"active"`
	StartedAt       time.Time       `json:"started_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NeedsAction reports whether tracking ended without delivery, leaving a refund
// or a manual decision to the user.
func (s TrackingState) NeedsAction() bool {
	return s.CanonicalStatus == CanonicalFailed || s.TimedOut
}
