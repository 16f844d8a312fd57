package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/google/uuid"
)

// trackerRegistry holds one polling task per payment id. The last snapshot of a
// finished task is kept until the payment leaves confirming so refund and manual
// override gating can read it.
type trackerRegistry struct {
	mu     sync.Mutex
	active map[string]*trackingTask
	last   map[string]domain.TrackingState
}

type trackingTask struct {
	cancel    context.CancelFunc
	state     domain.TrackingState
	forgotten bool
}

func newTrackerRegistry() *trackerRegistry {
	return &trackerRegistry{
		active: make(map[string]*trackingTask),
		last:   make(map[string]domain.TrackingState),
	}
}

// register claims paymentID. It returns false when a task is already running.
func (r *trackerRegistry) register(paymentID, messageID string, degraded bool, startedAt time.Time, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.active[paymentID]; running {
		return false
	}
	r.active[paymentID] = &trackingTask{
		cancel: cancel,
		state: domain.TrackingState{
			PaymentID:       paymentID,
			MessageID:       messageID,
			CanonicalStatus: domain.CanonicalSourceFinalized,
			Degraded:        degraded,
			Active:          true,
			StartedAt:       startedAt,
			UpdatedAt:       startedAt,
		},
	}
	delete(r.last, paymentID)
	return true
}

func (r *trackerRegistry) update(paymentID string, fn func(*domain.TrackingState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.active[paymentID]; ok {
		fn(&task.state)
	}
}

// finish removes the running task and keeps its final snapshot.
func (r *trackerRegistry) finish(paymentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.active[paymentID]
	if !ok {
		return
	}
	task.state.Active = false
	if !task.forgotten {
		r.last[paymentID] = task.state
	}
	delete(r.active, paymentID)
}

// stop cancels a running task without waiting for it.
func (r *trackerRegistry) stop(paymentID string) {
	r.mu.Lock()
	task, ok := r.active[paymentID]
	r.mu.Unlock()
	if ok {
		task.cancel()
	}
}

// forget stops any task and drops the kept snapshot.
func (r *trackerRegistry) forget(paymentID string) {
	r.mu.Lock()
	task, ok := r.active[paymentID]
	if ok {
		task.forgotten = true
	}
	delete(r.last, paymentID)
	r.mu.Unlock()
	if ok {
		task.cancel()
	}
}

func (r *trackerRegistry) snapshot(paymentID string) (domain.TrackingState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.active[paymentID]; ok {
		return task.state, true
	}
	state, ok := r.last[paymentID]
	return state, ok
}

func (r *trackerRegistry) isActive(paymentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[paymentID]
	return ok
}

// startTracking launches the polling task for a confirming payment.
// It returns false when one is already running for the payment.
func (s *Service) startTracking(payment *domain.Payment) bool {
	messageID := payment.TrackingKey()
	if messageID == "" {
		return false
	}
	startedAt := s.now()
	if payment.ConfirmingAt != nil {
		startedAt = payment.ConfirmingAt.UTC()
	}

	key := payment.ID.String()
	ctx, cancel := context.WithCancel(s.baseCtx)
	if !s.tracker.register(key, messageID, payment.DeliveryKeyDegraded, startedAt, cancel) {
		cancel()
		return false
	}

	trackingActive.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer trackingActive.Dec()
		defer cancel()
		defer s.tracker.finish(key)
		s.track(ctx, payment.ID, messageID)
	}()
	s.logger.Info("delivery tracking started", "payment_id", key, "message_id", messageID, "degraded_key", payment.DeliveryKeyDegraded)
	return true
}

// track polls the resolver until a terminal status, cancellation or the attempt limit.
func (s *Service) track(ctx context.Context, paymentID uuid.UUID, messageID string) {
	key := paymentID.String()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	degradedReported := false
	for attempt := 1; attempt <= s.opts.MaxPollAttempts; attempt++ {
		res, err := s.resolver.Resolve(ctx, messageID)
		if ctx.Err() != nil {
			return
		}

		now := s.now()
		s.tracker.update(key, func(state *domain.TrackingState) {
			state.PollAttempts = attempt
			state.UpdatedAt = now
			if err != nil {
				state.LastError = err.Error()
				return
			}
			state.CanonicalStatus = res.Status
			state.Source = res.Source
			state.Degraded = state.Degraded || res.Degraded
			state.LastError = ""
		})

		switch {
		case err != nil:
			trackingPolls.WithLabelValues("error").Inc()
			s.logger.Warn("delivery status unavailable", "payment_id", key, "message_id", messageID, "attempt", attempt, "error", err)
		case res.Status == domain.CanonicalSuccess:
			trackingPolls.WithLabelValues("success").Inc()
			oracleResolutions.WithLabelValues(res.Source, string(res.Status)).Inc()
			s.onDeliverySucceeded(ctx, paymentID, res.Source)
			return
		case res.Status == domain.CanonicalFailed:
			trackingPolls.WithLabelValues("failed").Inc()
			oracleResolutions.WithLabelValues(res.Source, string(res.Status)).Inc()
			s.onDeliveryFailed(ctx, paymentID, messageID, res.Source)
			return
		default:
			trackingPolls.WithLabelValues("pending").Inc()
			oracleResolutions.WithLabelValues(res.Source, string(res.Status)).Inc()
			if res.Degraded {
				s.logger.Warn("delivery tracking degraded; using time-based status", "payment_id", key, "message_id", messageID, "attempt", attempt, "error", ErrTrackingDegraded)
				if !degradedReported {
					degradedReported = true
					s.publishTrackingEvent(ctx, paymentID, messageID, domain.EventPaymentTrackingDegraded, res.Status, ErrTrackingDegraded.Error())
				}
			}
		}

		if attempt == s.opts.MaxPollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	s.tracker.update(key, func(state *domain.TrackingState) {
		state.LastError = ErrTrackingTimeout.Error()
		state.TimedOut = true
	})
	trackingPolls.WithLabelValues("timeout").Inc()
	s.logger.Warn("delivery tracking timed out; manual action required", "payment_id", key, "message_id", messageID, "attempts", s.opts.MaxPollAttempts)
	s.publishTrackingEvent(ctx, paymentID, messageID, domain.EventPaymentTrackingTimeout, "", ErrTrackingTimeout.Error())
}

// onDeliverySucceeded applies confirming -> completed for an oracle SUCCESS.
func (s *Service) onDeliverySucceeded(ctx context.Context, paymentID uuid.UUID, source string) {
	persistCtx := context.WithoutCancel(ctx)
	unlock := s.guards.Lock(paymentID.String())
	defer unlock()

	payment, err := s.repo.FindPaymentByID(persistCtx, paymentID)
	if err != nil {
		s.logger.Error("load payment after delivery success failed", "payment_id", paymentID, "error", err)
		return
	}
	if payment.Status != domain.PaymentStatusConfirming {
		return
	}
	if _, err := s.completeDelivered(persistCtx, payment, false); err != nil {
		if errors.Is(err, ErrInvalidState) {
			s.logger.Info("payment settled concurrently; skipping oracle completion", "payment_id", paymentID, "error", err)
			return
		}
		s.logger.Error("persist delivery success failed", "payment_id", paymentID, "source", source, "error", err)
	}
}

// onDeliveryFailed keeps the payment confirming and surfaces the failure.
func (s *Service) onDeliveryFailed(ctx context.Context, paymentID uuid.UUID, messageID, source string) {
	s.logger.Warn("cross-chain delivery failed; refund available", "payment_id", paymentID, "message_id", messageID, "source", source)
	s.publishTrackingEvent(ctx, paymentID, messageID, domain.EventPaymentDeliveryFailed, domain.CanonicalFailed, "destination execution failed")
}
