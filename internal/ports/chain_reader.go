package ports

import (
	"context"

	"github.com/alejandrodnm/rolewatch/internal/domain"
)

// ChainReader is typed read access to remote role and event state. Pure
// query layer: no state of its own beyond connection plumbing.
type ChainReader interface {
	// GetRole fetches the current snapshot of a role.
	// Returns domain.ErrRoleNotFound if the ledger has no such role, or a
	// *domain.RemoteError on transport failure. Callers bound the call
	// with ctx; it must not block indefinitely.
	GetRole(ctx context.Context, roleID string) (domain.RoleSnapshot, error)

	// QueryEvents returns up to limit raw events of one category, for ALL
	// roles. Filtering to a single role happens client-side (a bandwidth
	// trade-off, not a correctness one).
	QueryEvents(ctx context.Context, category domain.EventCategory, limit int) ([]domain.RawEvent, error)
}
