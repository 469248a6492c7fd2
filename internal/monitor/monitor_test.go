package monitor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/rolewatch/internal/domain"
	"github.com/alejandrodnm/rolewatch/internal/monitor"
	"github.com/alejandrodnm/rolewatch/internal/ports"
	"github.com/alejandrodnm/rolewatch/internal/reconcile"
)

func newMonitor(reader *fakeReader, exec *fakeExecutor, notifier *fakeNotifier) *monitor.Monitor {
	cache := monitor.NewSnapshotCache(reader, time.Minute)
	coord := monitor.NewCoordinator(cache, exec, nil)
	rec := reconcile.New(reader)
	cfg := monitor.Config{
		PollInterval:  20 * time.Millisecond,
		FeedInterval:  50 * time.Millisecond,
		DegradedAfter: 2,
	}
	return monitor.New("role-1", "0xcreator", cache, coord, rec, notifier, cfg)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestStart_RejectsNonCreator(t *testing.T) {
	reader := &fakeReader{snap: testRole(100)}
	m := newMonitor(reader, &fakeExecutor{}, &fakeNotifier{})

	cache := monitor.NewSnapshotCache(reader, time.Minute)
	coord := monitor.NewCoordinator(cache, &fakeExecutor{}, nil)
	stranger := monitor.New("role-1", "0xsomeoneelse", cache, coord, reconcile.New(reader), &fakeNotifier{}, monitor.Config{})

	err := stranger.Start(context.Background())
	assert.ErrorIs(t, err, monitor.ErrNotCreator)
	assert.False(t, stranger.Status().IsMonitoring)

	// Creator comparison is case-insensitive (checksum casing).
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}

func TestStart_RejectsInactiveRole(t *testing.T) {
	snap := testRole(100)
	snap.ExpiryTime = time.Now().UTC().Add(-time.Minute)
	reader := &fakeReader{snap: snap}
	m := newMonitor(reader, &fakeExecutor{}, &fakeNotifier{})

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, monitor.ErrRoleNotActive)
}

func TestWatching_PollsWithoutExecuting(t *testing.T) {
	reader := &fakeReader{snap: testRole(100, duePayment(0, "0xa", 40))}
	exec := &fakeExecutor{}
	m := newMonitor(reader, exec, &fakeNotifier{})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	eventually(t, func() bool { return m.Status().ReadyCount == 1 }, "readyCount should reflect the due payment")

	st := m.Status()
	assert.True(t, st.IsMonitoring)
	assert.False(t, st.AutoExecuteEnabled)
	assert.False(t, st.LastPollAt.IsZero())

	time.Sleep(60 * time.Millisecond) // a few more polls
	assert.Zero(t, exec.count(), "Watching must never execute")
}

func TestArmed_ExecutesReadyPayments(t *testing.T) {
	reader := &fakeReader{snap: testRole(100, duePayment(0, "0xa", 40))}
	exec := &fakeExecutor{res: ports.ExecuteResult{TxRef: "0xtx", Executed: 1, Confirmed: true}}
	notifier := &fakeNotifier{}
	m := newMonitor(reader, exec, notifier)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.Equal(t, monitor.StateArmed, m.ToggleAutoExecute())
	eventually(t, func() bool { return exec.count() >= 1 }, "arming should trigger an execution attempt")
	eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.successes) >= 1 && notifier.successes[0] == "0xtx"
	}, "success notification with tx ref")

	assert.True(t, m.Status().AutoExecuteEnabled)
	assert.Equal(t, monitor.StateWatching, m.ToggleAutoExecute())
}

func TestToggle_IdleStaysIdle(t *testing.T) {
	reader := &fakeReader{snap: testRole(100)}
	m := newMonitor(reader, &fakeExecutor{}, &fakeNotifier{})
	assert.Equal(t, monitor.StateIdle, m.ToggleAutoExecute())
}

// Repeated identical rejections produce one notification, not one per tick.
func TestArmed_RejectionNotifiedOnce(t *testing.T) {
	reader := &fakeReader{snap: testRole(100, duePayment(0, "0xa", 40))}
	exec := &fakeExecutor{err: &domain.RejectedError{Reason: domain.RejectInsufficientBalance}}
	notifier := &fakeNotifier{}
	m := newMonitor(reader, exec, notifier)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	m.ToggleAutoExecute()

	eventually(t, func() bool { return exec.count() >= 3 }, "several attempts should happen")
	assert.Equal(t, 1, notifier.failureCount(), "identical rejections must be rate-limited")
	assert.True(t, m.Status().AutoExecuteEnabled, "rejections must not disarm the monitor")
}

func TestPollFailures_FlipDegradedAndRecover(t *testing.T) {
	reader := &fakeReader{snap: testRole(100)}
	m := newMonitor(reader, &fakeExecutor{}, &fakeNotifier{})

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	eventually(t, func() bool { return !m.Status().LastPollAt.IsZero() }, "first poll")

	reader.setErr(&domain.RemoteError{Op: "evm.GetRole", Err: errors.New("rpc timeout")})
	eventually(t, func() bool { return m.Status().Degraded }, "degraded after consecutive failures")
	assert.True(t, m.Status().IsMonitoring, "failed polls must not change state")

	reader.setErr(nil)
	eventually(t, func() bool { return !m.Status().Degraded }, "a good poll clears the stale flag")
}

// After Stop, an in-flight fetch completing must not mutate status or
// trigger execution.
func TestStop_DiscardsInFlightResults(t *testing.T) {
	reader := &fakeReader{snap: testRole(100, duePayment(0, "0xa", 40))}
	exec := &fakeExecutor{res: ports.ExecuteResult{TxRef: "0xtx"}}
	m := newMonitor(reader, exec, &fakeNotifier{})

	require.NoError(t, m.Start(context.Background()))
	eventually(t, func() bool { return !m.Status().LastPollAt.IsZero() }, "first poll")

	// Block the next poll's fetch mid-flight, then tear down.
	block := make(chan struct{})
	reader.mu.Lock()
	fetchesBefore := reader.getCalls
	reader.block = block
	reader.mu.Unlock()

	eventually(t, func() bool { return reader.gets() > fetchesBefore }, "a poll should be in flight")

	m.Stop()
	close(block)

	st := m.Status()
	assert.False(t, st.IsMonitoring)
	execsAtStop := exec.count()
	lastPoll := st.LastPollAt

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, execsAtStop, exec.count(), "no execution after teardown")
	assert.Equal(t, lastPoll, m.Status().LastPollAt, "no status mutation after teardown")

	m.Stop() // second Stop is a no-op
}

// Stop racing the completion of an in-flight poll, across many
// interleavings: whatever the ordering, nothing mutates status once Stop
// has returned.
func TestStop_RacingPollCompletion(t *testing.T) {
	for i := 0; i < 20; i++ {
		reader := &fakeReader{snap: testRole(100, duePayment(0, "0xa", 40))}
		exec := &fakeExecutor{}
		m := newMonitor(reader, exec, &fakeNotifier{})

		require.NoError(t, m.Start(context.Background()))
		eventually(t, func() bool { return !m.Status().LastPollAt.IsZero() }, "first poll")

		block := make(chan struct{})
		reader.mu.Lock()
		before := reader.getCalls
		reader.block = block
		reader.mu.Unlock()
		eventually(t, func() bool { return reader.gets() > before }, "a poll should be in flight")

		go close(block) // release the fetch concurrently with teardown
		m.Stop()

		st := m.Status()
		assert.False(t, st.IsMonitoring)

		time.Sleep(5 * time.Millisecond)
		after := m.Status()
		assert.Equal(t, st.LastPollAt, after.LastPollAt, "no status mutation after Stop returned")
		assert.Equal(t, st.ReadyCount, after.ReadyCount)
		assert.Zero(t, exec.count(), "no execution during or after teardown")
	}
}

func TestFeedTick_NotifiesFeed(t *testing.T) {
	reader := &fakeReader{snap: testRole(100)}
	notifier := &fakeNotifier{}
	m := newMonitor(reader, &fakeExecutor{}, notifier)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return notifier.feeds >= 1
	}, "feed reconciliation should reach the notifier")
}
