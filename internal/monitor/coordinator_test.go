package monitor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/rolewatch/internal/domain"
	"github.com/alejandrodnm/rolewatch/internal/monitor"
	"github.com/alejandrodnm/rolewatch/internal/ports"
)

func newCoordinator(reader *fakeReader, exec *fakeExecutor, journal ports.Journal) (*monitor.Coordinator, *monitor.SnapshotCache) {
	cache := monitor.NewSnapshotCache(reader, time.Minute)
	return monitor.NewCoordinator(cache, exec, journal), cache
}

func TestExecuteReady_NothingReady(t *testing.T) {
	reader := &fakeReader{snap: testRole(100)} // no scheduled payments
	exec := &fakeExecutor{}
	coord, _ := newCoordinator(reader, exec, nil)

	out, err := coord.ExecuteReady(context.Background(), "role-1")
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeNothingReady, out.Class)
	assert.Zero(t, exec.count())
}

func TestExecuteReady_Executed(t *testing.T) {
	reader := &fakeReader{snap: testRole(100, duePayment(0, "0xa", 40))}
	exec := &fakeExecutor{res: ports.ExecuteResult{TxRef: "0xtx", Executed: 1, Confirmed: true}}
	journal := &fakeJournal{}
	coord, cache := newCoordinator(reader, exec, journal)

	out, err := coord.ExecuteReady(context.Background(), "role-1")
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeExecuted, out.Class)
	assert.Equal(t, "0xtx", out.TxRef)
	assert.Equal(t, 1, out.Executed)
	assert.NotEmpty(t, out.AttemptID)

	// Refresh-after-write: the cached snapshot was invalidated.
	fetches := reader.gets()
	_, err = cache.Get(context.Background(), "role-1")
	require.NoError(t, err)
	assert.Equal(t, fetches+1, reader.gets())

	// Attempt journaled and completed payment mirrored.
	require.Len(t, journal.attempts, 1)
	assert.Equal(t, string(monitor.OutcomeExecuted), journal.attempts[0].Outcome)
	require.Len(t, journal.completed, 1)
	assert.Equal(t, "0xa", journal.completed[0].Recipient)
	assert.Equal(t, uint64(40), journal.completed[0].Amount)
	assert.Equal(t, "0xtx", journal.completed[0].TxRef)
}

// A submission whose receipt never arrived must not invent ledger truth:
// the count stays at zero and nothing enters the completed mirror until a
// confirmed result says otherwise.
func TestExecuteReady_UnconfirmedNotMirrored(t *testing.T) {
	reader := &fakeReader{snap: testRole(100,
		duePayment(0, "0xa", 40),
		duePayment(1, "0xb", 30),
	)}
	exec := &fakeExecutor{res: ports.ExecuteResult{TxRef: "0xunconfirmed"}}
	journal := &fakeJournal{}
	coord, cache := newCoordinator(reader, exec, journal)

	out, err := coord.ExecuteReady(context.Background(), "role-1")
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeExecuted, out.Class)
	assert.Equal(t, "0xunconfirmed", out.TxRef)
	assert.Zero(t, out.Executed, "unknown count must stay zero")
	assert.Empty(t, journal.completed, "unconfirmed payments must not enter the mirror")

	// The attempt itself is still journaled, and the snapshot invalidated
	// so the next poll settles what actually happened.
	require.Len(t, journal.attempts, 1)
	assert.Equal(t, "0xunconfirmed", journal.attempts[0].TxRef)
	fetches := reader.gets()
	_, _ = cache.Get(context.Background(), "role-1")
	assert.Equal(t, fetches+1, reader.gets())
}

// A stale/duplicate rejection is a no-op success: someone else executed the
// ready payment first. No error, snapshot refreshed.
func TestExecuteReady_AlreadyExecutedIsNoOpSuccess(t *testing.T) {
	reader := &fakeReader{snap: testRole(100, duePayment(0, "0xa", 40))}
	exec := &fakeExecutor{err: &domain.RejectedError{Reason: domain.RejectAlreadyExecuted}}
	journal := &fakeJournal{}
	coord, cache := newCoordinator(reader, exec, journal)

	out, err := coord.ExecuteReady(context.Background(), "role-1")
	require.NoError(t, err)
	assert.Equal(t, monitor.OutcomeAlreadyExecuted, out.Class)
	assert.Empty(t, journal.completed)

	fetches := reader.gets()
	_, _ = cache.Get(context.Background(), "role-1")
	assert.Equal(t, fetches+1, reader.gets(), "snapshot should have been invalidated")
}

func TestExecuteReady_ValidationRejection(t *testing.T) {
	reader := &fakeReader{snap: testRole(100, duePayment(0, "0xa", 40))}
	exec := &fakeExecutor{err: &domain.RejectedError{Reason: domain.RejectInsufficientBalance}}
	journal := &fakeJournal{}
	coord, _ := newCoordinator(reader, exec, journal)

	out, err := coord.ExecuteReady(context.Background(), "role-1")
	require.Error(t, err)
	assert.Equal(t, monitor.OutcomeRejected, out.Class)
	assert.Contains(t, out.Reason, string(domain.RejectInsufficientBalance))

	require.Len(t, journal.attempts, 1)
	assert.Equal(t, string(monitor.OutcomeRejected), journal.attempts[0].Outcome)
}

func TestExecuteReady_RemoteFailure(t *testing.T) {
	reader := &fakeReader{snap: testRole(100, duePayment(0, "0xa", 40))}
	exec := &fakeExecutor{err: &domain.RemoteError{Op: "evm.ExecutePayments", Err: context.DeadlineExceeded}}
	coord, _ := newCoordinator(reader, exec, nil)

	out, err := coord.ExecuteReady(context.Background(), "role-1")
	require.Error(t, err)
	assert.Equal(t, monitor.OutcomeRemoteUnavailable, out.Class)
}

// Two concurrent ExecuteReady calls for the same role: exactly one submits,
// the other gets AlreadyInProgress.
func TestExecuteReady_SingleWinner(t *testing.T) {
	reader := &fakeReader{snap: testRole(100, duePayment(0, "0xa", 40))}
	exec := &fakeExecutor{
		res:     ports.ExecuteResult{TxRef: "0xtx"},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	coord, _ := newCoordinator(reader, exec, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstOut monitor.Outcome
	var firstErr error
	go func() {
		defer wg.Done()
		firstOut, firstErr = coord.ExecuteReady(context.Background(), "role-1")
	}()

	<-exec.started // first attempt is now in flight

	secondOut, secondErr := coord.ExecuteReady(context.Background(), "role-1")
	assert.Equal(t, monitor.OutcomeAlreadyInProgress, secondOut.Class)
	assert.ErrorIs(t, secondErr, domain.ErrAlreadyInProgress)

	close(exec.release)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.Equal(t, monitor.OutcomeExecuted, firstOut.Class)
	assert.Equal(t, 1, exec.count())
}

func TestExecuteReady_InFlightClearsAfterCompletion(t *testing.T) {
	reader := &fakeReader{snap: testRole(100, duePayment(0, "0xa", 40))}
	exec := &fakeExecutor{res: ports.ExecuteResult{TxRef: "0xtx"}}
	coord, _ := newCoordinator(reader, exec, nil)

	_, err := coord.ExecuteReady(context.Background(), "role-1")
	require.NoError(t, err)
	assert.False(t, coord.InFlight("role-1"))

	_, err = coord.ExecuteReady(context.Background(), "role-1")
	require.NoError(t, err)
	assert.Equal(t, 2, exec.count())
}
