/**
 * @description
 * This file contains the core business logic of the settlement-service. The Service
 * owns every payment's lifecycle status: it authorizes and executes transitions,
 * drives the on-chain calls, and tracks cross-chain delivery until it settles.
 *
 * @dependencies
 * - internal/store: Data access for payments.
 * - internal/oracle: Delivery status resolution.
 * - pkg/chain: Source and destination chain calls.
 * - golang.org/x/sync/singleflight: Collapses duplicate delivery confirmations.
 */

package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/FOwen123/Chromion-2025/internal/oracle"
	"github.com/FOwen123/Chromion-2025/internal/store"
	"github.com/FOwen123/Chromion-2025/pkg/chain"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ChainClient is the on-chain surface the state machine drives.
type ChainClient interface {
	SubmitDeliveryTransfer(ctx context.Context, transfer chain.DeliveryTransfer) (string, error)
	SubmitRefund(ctx context.Context, beneficiary string) (string, error)
	WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
	MessageID(receipt *types.Receipt) (string, error)
}

// StatusResolver resolves a tracking key to a canonical delivery status.
type StatusResolver interface {
	Resolve(ctx context.Context, messageID string) (oracle.Resolution, error)
}

// EventPublisher publishes settlement events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Options tunes the state machine and tracker.
type Options struct {
	PollInterval               time.Duration
	MaxPollAttempts            int
	ManualOverrideAfter        time.Duration
	ReceiptTimeout             time.Duration
	LockTTL                    time.Duration
	EventExchange              string
	MessageExplorerBaseURL     string
	TransactionExplorerBaseURL string
	Now                        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxPollAttempts <= 0 {
		o.MaxPollAttempts = 60
	}
	if o.ManualOverrideAfter <= 0 {
		o.ManualOverrideAfter = 3 * time.Minute
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = 2 * time.Minute
	}
	if o.LockTTL <= 0 {
		o.LockTTL = o.ReceiptTimeout + 30*time.Second
	}
	if o.EventExchange == "" {
		o.EventExchange = "settlement.events"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Service is the settlement state machine.
type Service struct {
	repo      store.Repository
	chain     ChainClient
	resolver  StatusResolver
	publisher EventPublisher
	locker    Locker
	logger    *slog.Logger
	opts      Options

	guards       *keyedMutex
	confirmGroup singleflight.Group
	tracker      *trackerRegistry

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new settlement service. publisher may be nil.
func NewService(repo store.Repository, chainClient ChainClient, resolver StatusResolver, publisher EventPublisher, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:      repo,
		chain:     chainClient,
		resolver:  resolver,
		publisher: publisher,
		logger:    logger.With("component", "settlement"),
		opts:      opts.withDefaults(),
		guards:    newKeyedMutex(),
		tracker:   newTrackerRegistry(),
		baseCtx:   baseCtx,
		cancel:    cancel,
	}
}

// SetLocker enables cross-replica locking of state-changing operations.
func (s *Service) SetLocker(locker Locker) {
	s.locker = locker
}

// Shutdown cancels every tracking task and waits for them to exit or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// lockPayment takes the in-process guard and, when configured, the distributed lock.
func (s *Service) lockPayment(ctx context.Context, paymentID uuid.UUID) (func(), error) {
	key := paymentID.String()
	unlockLocal := s.guards.Lock(key)
	if s.locker == nil {
		return unlockLocal, nil
	}

	release, err := s.locker.Acquire(ctx, key, s.opts.LockTTL)
	if err != nil {
		if err == ErrLockHeld {
			unlockLocal()
			return nil, ErrOperationInProgress
		}
		s.logger.Warn("distributed lock unavailable; continuing with local guard", "payment_id", key, "error", err)
		return unlockLocal, nil
	}
	return func() {
		release()
		unlockLocal()
	}, nil
}
