package oracle

import (
	"context"
	"fmt"

	"github.com/FOwen123/Chromion-2025/internal/domain"
)

// ExecutionStateReader reads the destination off-ramp execution state of a message.
type ExecutionStateReader interface {
	ReadExecutionState(ctx context.Context, messageID string) (uint8, error)
}

// ChainSource reads delivery status straight from the destination chain.
type ChainSource struct {
	reader ExecutionStateReader
}

func NewChainSource(reader ExecutionStateReader) *ChainSource {
	return &ChainSource{reader: reader}
}

func (s *ChainSource) Name() string { return "onchain" }

func (s *ChainSource) Resolve(ctx context.Context, messageID string) (domain.CanonicalStatus, error) {
	if s.reader == nil {
		return "", ErrNoResult
	}
	code, err := s.reader.ReadExecutionState(ctx, messageID)
	if err != nil {
		return "", err
	}
	status, ok := MapExecutionState(int(code))
	if !ok {
		return "", fmt.Errorf("unknown execution state %d", code)
	}
	return status, nil
}
