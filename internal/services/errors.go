package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks input the caller can fix and resubmit.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks a deployment problem, not a caller problem.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a missing lot, chunk, checker, or payout.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a state-machine collision, such as claiming a chunk
	// another checker already holds.
	ErrConflict = errors.New("conflict")
	// ErrNotOwned marks an operation attempted without the required lease.
	ErrNotOwned = errors.New("lease not held")
	// ErrLimitExceeded marks a policy cap, such as the concurrent-claim
	// limit per checker.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrInsufficientFunds marks escrow that cannot cover the next payout.
	ErrInsufficientFunds = errors.New("insufficient escrow")
	// ErrChain marks a definitive on-chain failure (reverted transaction,
	// rejected call). Not retryable without operator action.
	ErrChain = errors.New("chain error")
	// ErrTransient marks failures worth retrying: RPC timeouts, database
	// contention, gateway hiccups.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the workflow manager should retry the operation
// instead of parking it for review.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
