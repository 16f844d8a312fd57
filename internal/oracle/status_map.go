package oracle

import (
	"strconv"
	"strings"

	"github.com/FOwen123/Chromion-2025/internal/domain"
)

// lexicalStatuses maps normalised remote status words onto canonical statuses.
var lexicalStatuses = map[string]domain.CanonicalStatus{
	"not_started":      domain.CanonicalNotStarted,
	"source_finalized": domain.CanonicalSourceFinalized,
	"finalized":        domain.CanonicalSourceFinalized,
	"untouched":        domain.CanonicalCommitting,
	"committing":       domain.CanonicalCommitting,
	"committed":        domain.CanonicalCommitted,
	"blessing":         domain.CanonicalBlessing,
	"blessed":          domain.CanonicalBlessed,
	"executing":        domain.CanonicalExecuting,
	"in_progress":      domain.CanonicalExecuting,
	"inprogress":       domain.CanonicalExecuting,
	"success":          domain.CanonicalSuccess,
	"successful":       domain.CanonicalSuccess,
	"succeeded":        domain.CanonicalSuccess,
	"completed":        domain.CanonicalSuccess,
	"executed":         domain.CanonicalSuccess,
	"delivered":        domain.CanonicalSuccess,
	"failure":          domain.CanonicalFailed,
	"failed":           domain.CanonicalFailed,
	"reverted":         domain.CanonicalFailed,
}

// MapLexicalStatus maps a remote status string. Anything present but unrecognised
// is treated as finalized on the source chain.
func MapLexicalStatus(raw string) domain.CanonicalStatus {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	if status, ok := lexicalStatuses[normalized]; ok {
		return status
	}
	// Includes the "waiting for finality" family of states.
	return domain.CanonicalSourceFinalized
}

// MapExecutionStateValue maps an executionState field given as a number or a
// numeric string. Unknown codes are treated as finalized on the source chain.
func MapExecutionStateValue(raw string) domain.CanonicalStatus {
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return MapLexicalStatus(raw)
	}
	if status, ok := MapExecutionState(code); ok {
		return status
	}
	return domain.CanonicalSourceFinalized
}

// MapExecutionState maps an off-ramp execution state code.
func MapExecutionState(code int) (domain.CanonicalStatus, bool) {
	switch code {
	case 0:
		return domain.CanonicalCommitting, true
	case 1:
		return domain.CanonicalExecuting, true
	case 2:
		return domain.CanonicalSuccess, true
	case 3:
		return domain.CanonicalFailed, true
	}
	return "", false
}
