/**
 * @description
 * Package oracle resolves a cross-chain message id to a canonical delivery status.
 * Sources are consulted in order and the first one that answers wins. When every
 * source fails the resolver falls back to a non-terminal status for well-formed ids;
 * it never reports SUCCESS or FAILED from an error.
 */
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FOwen123/Chromion-2025/internal/domain"
	"github.com/FOwen123/Chromion-2025/pkg/chain"
)

var (
	// ErrNoResult is returned by a Source that has nothing to say about a message.
	ErrNoResult = errors.New("status source returned no result")
	// ErrTrackingDegraded means no source answered and the id cannot be defaulted.
	ErrTrackingDegraded = errors.New("delivery status unavailable")
)

// SourceDefault names the time-based fallback in a Resolution.
const SourceDefault = "default"

// Source is one status provider in the resolution chain.
type Source interface {
	Name() string
	Resolve(ctx context.Context, messageID string) (domain.CanonicalStatus, error)
}

// Resolution is the outcome of one resolve call.
type Resolution struct {
	Status   domain.CanonicalStatus
	Source   string
	Degraded bool
}

// Resolver walks its sources in order.
type Resolver struct {
	sources []Source
	logger  *slog.Logger
}

// NewResolver creates a resolver over sources, consulted in the given order.
func NewResolver(logger *slog.Logger, sources ...Source) *Resolver {
	var active []Source
	for _, source := range sources {
		if source != nil {
			active = append(active, source)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{sources: active, logger: logger}
}

// Resolve returns the first status any source reports for messageID.
func (r *Resolver) Resolve(ctx context.Context, messageID string) (Resolution, error) {
	var lastErr error
	for _, source := range r.sources {
		status, err := source.Resolve(ctx, messageID)
		if err == nil {
			return Resolution{Status: status, Source: source.Name()}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{}, ctxErr
		}
		r.logger.Debug("status source unavailable", "source", source.Name(), "message_id", messageID, "error", err)
		lastErr = err
	}

	if chain.IsMessageID(messageID) {
		return Resolution{Status: domain.CanonicalSourceFinalized, Source: SourceDefault, Degraded: true}, nil
	}
	if lastErr == nil {
		lastErr = ErrNoResult
	}
	return Resolution{}, fmt.Errorf("%w: %v", ErrTrackingDegraded, lastErr)
}
