package ports

import (
	"context"

	"github.com/alejandrodnm/rolewatch/internal/domain"
)

// Notifier surfaces execution outcomes and feed updates to the user.
// The console implementation prints; a UI layer would toast.
type Notifier interface {
	// ExecutionSucceeded reports an accepted execution with its
	// transaction reference for auditability.
	ExecutionSucceeded(ctx context.Context, roleID, txRef string, executed int) error

	// ExecutionFailed reports a definitive, user-actionable rejection.
	// Callers rate-limit repeats of the same reason.
	ExecutionFailed(ctx context.Context, roleID, reason string) error

	// FeedUpdated presents the reconciled transaction feed. partial is
	// true when one or more event categories couldn't be queried and the
	// feed is best-effort.
	FeedUpdated(ctx context.Context, roleID string, events []domain.TransactionEvent, partial bool) error
}
