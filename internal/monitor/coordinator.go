package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/rolewatch/internal/domain"
	"github.com/alejandrodnm/rolewatch/internal/metrics"
	"github.com/alejandrodnm/rolewatch/internal/ports"
)

// OutcomeClass classifies what an execution attempt amounted to.
type OutcomeClass string

const (
	// OutcomeExecuted: the ledger accepted our transaction.
	OutcomeExecuted OutcomeClass = "EXECUTED"

	// OutcomeNothingReady: evaluation found no executable payment; nothing
	// was submitted.
	OutcomeNothingReady OutcomeClass = "NOTHING_READY"

	// OutcomeAlreadyInProgress: another attempt for this role is in
	// flight; this one was rejected, not queued.
	OutcomeAlreadyInProgress OutcomeClass = "ALREADY_IN_PROGRESS"

	// OutcomeAlreadyExecuted: the ledger rejected us because someone else
	// executed first. A no-op success under permissionless execution.
	OutcomeAlreadyExecuted OutcomeClass = "ALREADY_EXECUTED"

	// OutcomeRejected: definitive validation rejection (insufficient
	// balance, role inactive, ...). Surfaced to the user.
	OutcomeRejected OutcomeClass = "REJECTED"

	// OutcomeRemoteUnavailable: transport failure, outcome on the ledger
	// unknown. The next tick retries naturally.
	OutcomeRemoteUnavailable OutcomeClass = "REMOTE_UNAVAILABLE"
)

// Outcome is the classified result of one ExecuteReady call.
type Outcome struct {
	Class     OutcomeClass
	AttemptID string
	TxRef     string
	Executed  int
	Reason    string
}

// Coordinator drives execution attempts against the ledger. It enforces at
// most one in-flight attempt per role and owns no retry policy — retries
// belong to the scheduler's tick cadence.
type Coordinator struct {
	cache    *SnapshotCache
	executor ports.PaymentExecutor
	journal  ports.Journal // nil = no journaling

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewCoordinator creates a Coordinator. journal may be nil.
func NewCoordinator(cache *SnapshotCache, executor ports.PaymentExecutor, journal ports.Journal) *Coordinator {
	return &Coordinator{
		cache:    cache,
		executor: executor,
		journal:  journal,
		inFlight: make(map[string]bool),
	}
}

// InFlight reports whether an attempt for the role is currently pending.
func (c *Coordinator) InFlight(roleID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[roleID]
}

// ExecuteReady evaluates readiness from the (possibly cached) snapshot and,
// if anything is executable, submits one execution transaction. A second
// concurrent call for the same role gets OutcomeAlreadyInProgress and
// domain.ErrAlreadyInProgress.
//
// On acceptance the cached snapshot is invalidated so the next poll sees
// the new balance and executed list, and the receipt-confirmed payments are
// mirrored into the journal.
func (c *Coordinator) ExecuteReady(ctx context.Context, roleID string) (Outcome, error) {
	c.mu.Lock()
	if c.inFlight[roleID] {
		c.mu.Unlock()
		metrics.ExecutionsTotal.WithLabelValues(string(OutcomeAlreadyInProgress)).Inc()
		return Outcome{Class: OutcomeAlreadyInProgress}, domain.ErrAlreadyInProgress
	}
	c.inFlight[roleID] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, roleID)
		c.mu.Unlock()
	}()

	out, err := c.attempt(ctx, roleID)
	metrics.ExecutionsTotal.WithLabelValues(string(out.Class)).Inc()
	return out, err
}

func (c *Coordinator) attempt(ctx context.Context, roleID string) (Outcome, error) {
	snap, err := c.cache.Get(ctx, roleID)
	if err != nil {
		return Outcome{Class: OutcomeRemoteUnavailable, Reason: err.Error()},
			fmt.Errorf("monitor.ExecuteReady: snapshot: %w", err)
	}

	ready := domain.ReadyPayments(snap, time.Now())
	if len(ready) == 0 {
		return Outcome{Class: OutcomeNothingReady}, nil
	}

	out := Outcome{AttemptID: uuid.New().String()}
	started := time.Now().UTC()

	res, err := c.executor.ExecutePayments(ctx, roleID)
	switch {
	case err == nil:
		out.Class = OutcomeExecuted
		out.TxRef = res.TxRef
		out.Executed = res.Executed
		c.cache.Invalidate(roleID)
		// Mirror only what the receipt confirmed. An unconfirmed
		// submission stays out of the mirror until a fresh snapshot
		// proves it landed — the mirror records ledger truth, never our
		// hopes for it.
		if res.Confirmed {
			c.mirrorCompleted(ctx, snap, ready[:min(res.Executed, len(ready))], res.TxRef, started)
		}

	case domain.AsRejected(err) != nil:
		rej := domain.AsRejected(err)
		out.Reason = rej.Error()
		if rej.Reason == domain.RejectAlreadyExecuted {
			// Someone else won the window. Refresh and move on.
			out.Class = OutcomeAlreadyExecuted
			c.cache.Invalidate(roleID)
			err = nil
		} else {
			out.Class = OutcomeRejected
		}

	default:
		out.Class = OutcomeRemoteUnavailable
		out.Reason = err.Error()
	}

	c.record(ctx, roleID, out, started)
	return out, err
}

// mirrorCompleted writes the payments we believe this transaction executed
// into the local completed-payments mirror.
func (c *Coordinator) mirrorCompleted(ctx context.Context, snap domain.RoleSnapshot, executed []domain.ScheduledPayment, txRef string, at time.Time) {
	if c.journal == nil || len(executed) == 0 {
		return
	}

	completed := make([]domain.CompletedPayment, 0, len(executed))
	for _, p := range executed {
		completed = append(completed, domain.CompletedPayment{
			ID:         uuid.New().String(),
			RoleID:     snap.ID,
			RoleName:   snap.Name,
			Recipient:  p.Recipient,
			Amount:     p.Amount,
			ExecutedAt: at,
			TxRef:      txRef,
		})
	}
	if err := c.journal.RecordCompleted(ctx, completed); err != nil {
		slog.Warn("monitor: failed to mirror completed payments", "role", snap.ID, "err", err)
	}
}

func (c *Coordinator) record(ctx context.Context, roleID string, out Outcome, started time.Time) {
	if c.journal == nil {
		return
	}
	err := c.journal.RecordAttempt(ctx, domain.ExecutionAttempt{
		ID:        out.AttemptID,
		RoleID:    roleID,
		Outcome:   string(out.Class),
		TxRef:     out.TxRef,
		Executed:  out.Executed,
		Error:     out.Reason,
		StartedAt: started,
	})
	if err != nil {
		slog.Warn("monitor: failed to journal attempt", "role", roleID, "err", err)
	}
}
