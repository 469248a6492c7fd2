package ports

import (
	"context"

	"github.com/alejandrodnm/rolewatch/internal/domain"
)

// Journal persists what the engine did and what it saw executed. Nothing
// here is authoritative — the chain is — but the mirror lets recipients and
// operators answer "what happened" without re-deriving it from logs.
type Journal interface {
	// RecordAttempt persists one execution attempt, whatever its outcome.
	RecordAttempt(ctx context.Context, attempt domain.ExecutionAttempt) error

	// Attempts returns the most recent attempts for a role, newest first.
	Attempts(ctx context.Context, roleID string, limit int) ([]domain.ExecutionAttempt, error)

	// RecordCompleted upserts locally mirrored completed payments,
	// deduplicating by (roleID, txRef, recipient, amount).
	RecordCompleted(ctx context.Context, payments []domain.CompletedPayment) error

	// CompletedByRecipient lists mirrored payments for one recipient,
	// newest first.
	CompletedByRecipient(ctx context.Context, recipient string) ([]domain.CompletedPayment, error)

	// Close closes the underlying database cleanly.
	Close() error
}
