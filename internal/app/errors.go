package app

import (
	"errors"
	"fmt"

	"github.com/FOwen123/Chromion-2025/internal/oracle"
	"github.com/FOwen123/Chromion-2025/internal/store"
	"github.com/FOwen123/Chromion-2025/pkg/chain"
)

var (
	ErrUnauthorizedActor   = errors.New("actor is not the payer or recipient of this payment")
	ErrInvalidState        = errors.New("operation not allowed in the current payment state")
	ErrOperationInProgress = errors.New("another operation is in progress for this payment")
	ErrTrackingTimeout     = errors.New("tracking timeout")
	ErrDeliveryNotRecorded = errors.New("delivery transfer submitted but confirming state not recorded")

	ErrPaymentNotFound   = store.ErrPaymentNotFound
	ErrTrackingDegraded  = oracle.ErrTrackingDegraded
	ErrMessageIDNotFound = chain.ErrMessageIDNotFound
)

// SubmissionError reports a failed on-chain call. The payment status is unchanged.
type SubmissionError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s failed (tx %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// NextAction suggests what a caller can do after err.
func NextAction(err error) string {
	var submissionErr *SubmissionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorizedActor):
		return "connect the payer or recipient wallet"
	case errors.Is(err, ErrPaymentNotFound):
		return "check the payment id"
	case errors.Is(err, ErrOperationInProgress):
		return "wait for the running operation to finish and retry"
	case errors.Is(err, ErrDeliveryNotRecorded):
		return "retry delivery confirmation; the submitted transfer is reused"
	case errors.Is(err, ErrTrackingTimeout):
		return "confirm delivery manually or request a refund"
	case errors.As(err, &submissionErr):
		return "check the wallet balance and network, then retry"
	case errors.Is(err, ErrInvalidState):
		return "refresh the payment to see its current status"
	}
	return "retry later"
}
