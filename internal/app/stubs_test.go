package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/FOwen123/Chromion-2025/internal/oracle"
	"github.com/FOwen123/Chromion-2025/internal/store"
	"github.com/FOwen123/Chromion-2025/pkg/chain"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	payerWallet     = "0xPayer000000000000000000000000000000000001"
	recipientWallet = "0xSeller00000000000000000000000000000000002"
	testMessageID   = "0x1111111111111111111111111111111111111111111111111111111111111111"
	testDeliveryTx  = "0x2222222222222222222222222222222222222222222222222222222222222222"
	testRefundTx    = "0x3333333333333333333333333333333333333333333333333333333333333333"
)

type memRepo struct {
	store.Repository

	mu       sync.Mutex
	payments map[uuid.UUID]domain.Payment
	updates  int

	// statusErr fails every update that changes the payment status.
	statusErr error
}

func newMemRepo(payments ...domain.Payment) *memRepo {
	r := &memRepo{payments: make(map[uuid.UUID]domain.Payment)}
	for _, p := range payments {
		r.payments[p.ID] = p
	}
	return r
}

func (r *memRepo) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *memRepo) ListPaymentsByStatus(ctx context.Context, status domain.PaymentStatus, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if p.Status == status && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memRepo) UpdatePayment(ctx context.Context, paymentID uuid.UUID, expected domain.PaymentStatus, params store.UpdatePaymentParams) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	if p.Status != expected {
		return nil, fmt.Errorf("%w: payment is %s", store.ErrStatusConflict, p.Status)
	}
	if params.Status != nil && r.statusErr != nil {
		return nil, r.statusErr
	}
	if params.DeliveryMessageID != nil && p.DeliveryMessageID != nil && *p.DeliveryMessageID != *params.DeliveryMessageID {
		return nil, store.ErrMessageIDImmutable
	}
	params.Apply(&p)
	p.UpdatedAt = time.Now().UTC()
	r.payments[paymentID] = p
	r.updates++
	return &p, nil
}

func (r *memRepo) failStatusWrites(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusErr = err
}

func (r *memRepo) status(id uuid.UUID) domain.PaymentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payments[id].Status
}

type chainStub struct {
	submitDelay   time.Duration
	submitErr     error
	receiptErr    error
	messageID     string
	messageIDErr  error
	deliveries    atomic.Int32
	refunds       atomic.Int32
	mu            sync.Mutex
	refundAddress string
	lastTransfer  chain.DeliveryTransfer
}

func (c *chainStub) SubmitDeliveryTransfer(ctx context.Context, transfer chain.DeliveryTransfer) (string, error) {
	c.deliveries.Add(1)
	c.mu.Lock()
	c.lastTransfer = transfer
	c.mu.Unlock()
	if c.submitDelay > 0 {
		time.Sleep(c.submitDelay)
	}
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return testDeliveryTx, nil
}

func (c *chainStub) SubmitRefund(ctx context.Context, beneficiary string) (string, error) {
	c.refunds.Add(1)
	c.mu.Lock()
	c.refundAddress = beneficiary
	c.mu.Unlock()
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return testRefundTx, nil
}

func (c *chainStub) WaitForReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	if c.receiptErr != nil {
		return nil, c.receiptErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (c *chainStub) MessageID(receipt *types.Receipt) (string, error) {
	if c.messageIDErr != nil {
		return "", c.messageIDErr
	}
	if c.messageID == "" {
		return testMessageID, nil
	}
	return c.messageID, nil
}

type resolverStub struct {
	mu     sync.Mutex
	status domain.CanonicalStatus
	err    error
	calls  int
}

func (r *resolverStub) set(status domain.CanonicalStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

func (r *resolverStub) Resolve(ctx context.Context, messageID string) (oracle.Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return oracle.Resolution{}, r.err
	}
	status := r.status
	if status == "" {
		status = domain.CanonicalSourceFinalized
	}
	return oracle.Resolution{Status: status, Source: "api"}, nil
}

type publisherStub struct {
	mu   sync.Mutex
	keys []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *publisherStub) published(routingKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.keys {
		if k == routingKey {
			return true
		}
	}
	return false
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc       *Service
	repo      *memRepo
	chain     *chainStub
	resolver  *resolverStub
	publisher *publisherStub
	clock     *testClock
}

func newHarness(t *testing.T, opts Options, payments ...domain.Payment) *harness {
	t.Helper()
	h := &harness{
		repo:      newMemRepo(payments...),
		chain:     &chainStub{},
		resolver:  &resolverStub{},
		publisher: &publisherStub{},
		clock:     &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Hour
	}
	opts.Now = h.clock.Now
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.svc = NewService(h.repo, h.chain, h.resolver, h.publisher, logger, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.svc.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return h
}

// useResolver swaps the status resolver before any tracking has started.
func (h *harness) useResolver(resolver StatusResolver) {
	h.svc.resolver = resolver
}

func escrowedPayment() domain.Payment {
	return domain.Payment{
		ID:              uuid.New(),
		Amount:          decimal.RequireFromString("25.5"),
		Currency:        "USDC",
		SourceChainID:   84532,
		PayerWallet:     payerWallet,
		RecipientWallet: recipientWallet,
		Status:          domain.PaymentStatusEscrowed,
	}
}

func confirmingPayment(confirmingAt time.Time) domain.Payment {
	p := escrowedPayment()
	messageID := testMessageID
	txHash := testDeliveryTx
	p.Status = domain.PaymentStatusConfirming
	p.DeliveryMessageID = &messageID
	p.DeliveryTxHash = &txHash
	p.ConfirmingAt = &confirmingAt
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errChainDown = errors.New("rpc unavailable")
