package app

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/google/uuid"
)

const (
	progressTimeWindow    = 300 * time.Second
	progressTimeCeiling   = 70.0
	progressDegradedBonus = 20.0
	progressPatienceAfter = 180 * time.Second
)

// stageFloors are the minimum percentages once a stage has been reported.
var stageFloors = map[domain.CanonicalStatus]float64{
	domain.CanonicalSourceFinalized: 25,
	domain.CanonicalCommitting:      40,
	domain.CanonicalCommitted:       55,
	domain.CanonicalBlessing:        70,
	domain.CanonicalBlessed:         80,
	domain.CanonicalExecuting:       90,
	domain.CanonicalSuccess:         95,
}

var stageMessages = map[domain.CanonicalStatus]string{
	domain.CanonicalSourceFinalized: "Transaction confirmed on source chain, initiating cross-chain transfer...",
	domain.CanonicalCommitting:      "Committing transaction to destination chain...",
	domain.CanonicalCommitted:       "Transaction committed, awaiting security verification...",
	domain.CanonicalBlessing:        "Security verification in progress...",
	domain.CanonicalBlessed:         "Verification complete, executing on destination...",
	domain.CanonicalExecuting:       "Final execution in progress...",
}

// Progress is the user-facing delivery indicator of a payment.
type Progress struct {
	Percentage              int                    `json:"percentage"`
	Title                   string                 `json:"title"`
	Description             string                 `json:"description"`
	CanonicalStatus         domain.CanonicalStatus `json:"canonical_status,omitempty"`
	Step                    int                    `json:"step"`
	TotalSteps              int                    `json:"total_steps"`
	EstimatedTimeRemaining  string                 `json:"estimated_time_remaining,omitempty"`
	ElapsedSeconds          int64                  `json:"elapsed_seconds"`
	Degraded                bool                   `json:"degraded"`
	TimedOut                bool                   `json:"timed_out"`
	ManualOverrideAvailable bool                   `json:"manual_override_available"`
	RefundAvailable         bool                   `json:"refund_available"`
	MessageExplorerURL      string                 `json:"message_explorer_url,omitempty"`
	DeliveryTxExplorerURL   string                 `json:"delivery_tx_explorer_url,omitempty"`
}

// PaymentView is a payment together with its delivery progress.
type PaymentView struct {
	Payment  *domain.Payment       `json:"payment"`
	Tracking *domain.TrackingState `json:"tracking,omitempty"`
	Progress Progress              `json:"progress"`
}

// GetPayment returns the payment and its progress for a participant.
func (s *Service) GetPayment(ctx context.Context, paymentID uuid.UUID, actor string) (*PaymentView, error) {
	payment, err := s.loadAuthorized(ctx, paymentID, actor)
	if err != nil {
		return nil, err
	}

	view := &PaymentView{Payment: payment}
	var state *domain.TrackingState
	if snapshot, ok := s.tracker.snapshot(paymentID.String()); ok && payment.Status == domain.PaymentStatusConfirming {
		state = &snapshot
		view.Tracking = state
	}
	view.Progress = s.progress(payment, state, s.now())
	return view, nil
}

func (s *Service) progress(payment *domain.Payment, state *domain.TrackingState, now time.Time) Progress {
	p := EstimateProgress(payment, state, now)
	p.ManualOverrideAvailable = s.manualOverrideAvailable(payment, now) &&
		(state == nil || state.CanonicalStatus != domain.CanonicalFailed)
	p.RefundAvailable = payment.Status == domain.PaymentStatusEscrowed ||
		(payment.Status == domain.PaymentStatusConfirming && state != nil && state.NeedsAction())
	if key := payment.TrackingKey(); key != "" && !payment.DeliveryKeyDegraded {
		p.MessageExplorerURL = explorerURL(s.opts.MessageExplorerBaseURL, key)
	}
	if payment.DeliveryTxHash != nil {
		p.DeliveryTxExplorerURL = explorerURL(s.opts.TransactionExplorerBaseURL, *payment.DeliveryTxHash)
	}
	return p
}

// EstimateProgress blends elapsed time with the last reported delivery stage.
// Elapsed time alone reaches at most 70%; reported stages raise the floor.
func EstimateProgress(payment *domain.Payment, state *domain.TrackingState, now time.Time) Progress {
	p := Progress{TotalSteps: domain.TotalDeliverySteps}

	switch payment.Status {
	case domain.PaymentStatusEscrowed:
		p.Title = "Funds in Escrow"
		p.Description = "Ready for delivery confirmation"
		p.CanonicalStatus = domain.CanonicalNotStarted
		return p
	case domain.PaymentStatusCompleted:
		p.Percentage = 100
		p.Title = "Delivery Complete"
		p.Description = "Funds delivered to the recipient"
		p.CanonicalStatus = domain.CanonicalSuccess
		p.Step = domain.TotalDeliverySteps
		if payment.ManualCompletion {
			p.Description = "Delivery confirmed manually"
		}
		return p
	case domain.PaymentStatusRefunded:
		p.Percentage = 100
		p.Title = "Refunded"
		p.Description = "Funds returned to the payer"
		return p
	}

	canonical := domain.CanonicalSourceFinalized
	var startedAt time.Time
	if payment.ConfirmingAt != nil {
		startedAt = *payment.ConfirmingAt
	}
	if state != nil {
		canonical = state.CanonicalStatus
		p.Degraded = state.Degraded
		p.TimedOut = state.TimedOut
		if startedAt.IsZero() {
			startedAt = state.StartedAt
		}
	}
	if startedAt.IsZero() {
		startedAt = payment.UpdatedAt
	}
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	p.ElapsedSeconds = int64(elapsed / time.Second)
	p.CanonicalStatus = canonical
	p.Step = canonical.Step()
	p.EstimatedTimeRemaining = canonical.EstimatedTimeRemaining()

	if canonical == domain.CanonicalFailed {
		p.Percentage = 0
		p.Title = "Transfer Failed"
		p.Description = "The cross-chain transfer encountered an error"
		return p
	}

	base := math.Min(elapsed.Seconds()/progressTimeWindow.Seconds()*progressTimeCeiling, progressTimeCeiling)
	pct := base
	if p.Degraded {
		pct = base + progressDegradedBonus
	} else if floor, ok := stageFloors[canonical]; ok {
		pct = math.Max(base, floor)
	}
	p.Percentage = int(math.Min(math.Round(pct), 99))

	p.Title = "Delivery in Progress"
	switch {
	case p.Degraded:
		p.Description = "Cross-chain transfer in progress (tracking temporarily unavailable)"
	case elapsed > progressPatienceAfter:
		p.Description = "Cross-chain transfers can take 5-20 minutes. Your transaction is processing normally."
	default:
		p.Description = stageMessage(canonical)
	}
	return p
}

func stageMessage(c domain.CanonicalStatus) string {
	if msg, ok := stageMessages[c]; ok {
		return msg
	}
	return "Initiating cross-chain transfer..."
}

func explorerURL(base, id string) string {
	if base == "" || id == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/" + id
}
