package monitor_test

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/rolewatch/internal/domain"
	"github.com/alejandrodnm/rolewatch/internal/ports"
)

// The coordinator evaluates readiness against the wall clock, so schedule
// fixtures relative to it.
var testNow = time.Now().UTC().Add(-time.Hour)

func testRole(balance uint64, scheduled ...domain.ScheduledPayment) domain.RoleSnapshot {
	return domain.RoleSnapshot{
		ID:               "role-1",
		Name:             "payroll",
		Creator:          "0xCreator",
		StartTime:        testNow.Add(-24 * time.Hour),
		ExpiryTime:       testNow.Add(48 * time.Hour),
		RemainingBalance: balance,
		Scheduled:        scheduled,
	}
}

func duePayment(index int, recipient string, amount uint64) domain.ScheduledPayment {
	return domain.ScheduledPayment{
		Index:         index,
		Recipient:     recipient,
		Amount:        amount,
		ScheduledTime: testNow,
	}
}

// fakeReader serves a mutable snapshot and counts fetches.
type fakeReader struct {
	mu       sync.Mutex
	snap     domain.RoleSnapshot
	err      error
	getCalls int
	block    chan struct{} // non-nil: GetRole waits here first
}

func (f *fakeReader) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeReader) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func (f *fakeReader) GetRole(ctx context.Context, roleID string) (domain.RoleSnapshot, error) {
	f.mu.Lock()
	f.getCalls++
	snap, err, block := f.snap, f.err, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.RoleSnapshot{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.RoleSnapshot{}, err
	}
	snap.FetchedAt = time.Now().UTC()
	return snap, nil
}

func (f *fakeReader) QueryEvents(ctx context.Context, cat domain.EventCategory, limit int) ([]domain.RawEvent, error) {
	return nil, nil
}

// fakeExecutor records submissions and can block until released.
type fakeExecutor struct {
	mu      sync.Mutex
	res     ports.ExecuteResult
	err     error
	calls   int
	started chan struct{} // signalled per call if non-nil
	release chan struct{} // blocks each call until closed/fed if non-nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeExecutor) ExecutePayments(ctx context.Context, roleID string) (ports.ExecuteResult, error) {
	f.mu.Lock()
	f.calls++
	res, err := f.res, f.err
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ports.ExecuteResult{}, ctx.Err()
		}
	}
	return res, err
}

// fakeNotifier records every notification.
type fakeNotifier struct {
	mu        sync.Mutex
	successes []string // tx refs
	failures  []string // reasons
	feeds     int
}

func (f *fakeNotifier) ExecutionSucceeded(ctx context.Context, roleID, txRef string, executed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, txRef)
	return nil
}

func (f *fakeNotifier) ExecutionFailed(ctx context.Context, roleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, reason)
	return nil
}

func (f *fakeNotifier) FeedUpdated(ctx context.Context, roleID string, events []domain.TransactionEvent, partial bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds++
	return nil
}

func (f *fakeNotifier) failureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failures)
}

// fakeJournal is an in-memory ports.Journal.
type fakeJournal struct {
	mu        sync.Mutex
	attempts  []domain.ExecutionAttempt
	completed []domain.CompletedPayment
}

func (f *fakeJournal) RecordAttempt(ctx context.Context, a domain.ExecutionAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, a)
	return nil
}

func (f *fakeJournal) Attempts(ctx context.Context, roleID string, limit int) ([]domain.ExecutionAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ExecutionAttempt(nil), f.attempts...), nil
}

func (f *fakeJournal) RecordCompleted(ctx context.Context, ps []domain.CompletedPayment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, ps...)
	return nil
}

func (f *fakeJournal) CompletedByRecipient(ctx context.Context, recipient string) ([]domain.CompletedPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CompletedPayment
	for _, p := range f.completed {
		if p.Recipient == recipient {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeJournal) Close() error { return nil }
