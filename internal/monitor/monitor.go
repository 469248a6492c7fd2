package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/rolewatch/internal/domain"
	"github.com/alejandrodnm/rolewatch/internal/metrics"
	"github.com/alejandrodnm/rolewatch/internal/ports"
	"github.com/alejandrodnm/rolewatch/internal/reconcile"
)

// State is the monitor's phase for one role-view.
type State string

const (
	// StateIdle: not monitoring. Initial and terminal.
	StateIdle State = "IDLE"
	// StateWatching: polling readiness, auto-execute off.
	StateWatching State = "WATCHING"
	// StateArmed: polling readiness, auto-execute on.
	StateArmed State = "ARMED"
)

var (
	// ErrNotCreator: only the role's creator may monitor it.
	ErrNotCreator = errors.New("connected identity is not the role creator")
	// ErrRoleNotActive: the role is upcoming or expired.
	ErrRoleNotActive = errors.New("role is not currently active")
)

// Status is the monitor's externally visible state, polled by the UI layer.
type Status struct {
	IsMonitoring       bool
	AutoExecuteEnabled bool
	ReadyCount         int
	InFlight           bool
	LastPollAt         time.Time
	Degraded           bool
}

// Config tunes the monitor's cadences. Zero values take defaults.
type Config struct {
	PollInterval  time.Duration // readiness polling, default 30s
	FeedInterval  time.Duration // transparency-log reconciliation, default 60s
	DegradedAfter int           // consecutive failed polls before the stale-data flag, default 3
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.FeedInterval <= 0 {
		c.FeedInterval = 60 * time.Second
	}
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = 3
	}
}

// Monitor owns the polling loop and automation state for one role. All
// readiness/feed work happens on a single goroutine driven by two tickers;
// ticks run inline, so a tick outliving its interval means the missed tick
// is dropped, never queued behind it.
type Monitor struct {
	roleID   string
	identity string
	cache    *SnapshotCache
	coord    *Coordinator
	rec      *reconcile.Reconciler
	notifier ports.Notifier
	cfg      Config

	mu          sync.Mutex
	state       State
	readyCount  int
	lastPollAt  time.Time
	degraded    bool
	failStreak  int
	lastPollErr string
	lastNotice  string // last rejection reason surfaced, for rate limiting
	cancel      context.CancelFunc
	done        chan struct{}
	kick        chan struct{}
}

// New creates an idle monitor for one role. identity is the connected
// account; only the role creator is allowed to monitor.
func New(roleID, identity string, cache *SnapshotCache, coord *Coordinator, rec *reconcile.Reconciler, notifier ports.Notifier, cfg Config) *Monitor {
	cfg.setDefaults()
	return &Monitor{
		roleID:   roleID,
		identity: identity,
		cache:    cache,
		coord:    coord,
		rec:      rec,
		notifier: notifier,
		cfg:      cfg,
		state:    StateIdle,
		kick:     make(chan struct{}, 1),
	}
}

// Start transitions Idle → Watching and begins polling. It refuses to start
// when the identity isn't the role creator or the role isn't active — the
// same gate the dashboard applies before mounting the auto-executor.
func (m *Monitor) Start(ctx context.Context) error {
	snap, err := m.cache.Get(ctx, m.roleID)
	if err != nil {
		return fmt.Errorf("monitor.Start: %w", err)
	}
	if !sameIdentity(m.identity, snap.Creator) {
		return ErrNotCreator
	}
	if !snap.IsActive(time.Now()) {
		return ErrRoleNotActive
	}

	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return nil // already running
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = StateWatching
	m.mu.Unlock()

	slog.Info("monitor: watching role", "role", m.roleID, "poll", m.cfg.PollInterval, "feed", m.cfg.FeedInterval)
	go m.loop(loopCtx)
	return nil
}

// Stop tears the monitor down: Idle, timers cancelled, and any in-flight
// read or write has its result discarded instead of mutating state.
// Blocks until the loop goroutine exits. Safe to call twice.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.state = StateIdle
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("monitor: stopped", "role", m.roleID)
}

// ToggleAutoExecute flips Watching ⇄ Armed. Arming triggers an immediate
// readiness check instead of waiting out the current interval. Returns the
// new state; a stopped monitor stays Idle.
func (m *Monitor) ToggleAutoExecute() State {
	m.mu.Lock()
	switch m.state {
	case StateWatching:
		m.state = StateArmed
	case StateArmed:
		m.state = StateWatching
	default:
		m.mu.Unlock()
		return StateIdle
	}
	next := m.state
	m.mu.Unlock()

	if next == StateArmed {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
	slog.Info("monitor: auto-execute toggled", "role", m.roleID, "state", string(next))
	return next
}

// Status returns the current monitor state for the UI layer.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		IsMonitoring:       m.state != StateIdle,
		AutoExecuteEnabled: m.state == StateArmed,
		ReadyCount:         m.readyCount,
		InFlight:           m.coord.InFlight(m.roleID),
		LastPollAt:         m.lastPollAt,
		Degraded:           m.degraded,
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	pollT := time.NewTicker(m.cfg.PollInterval)
	defer pollT.Stop()
	feedT := time.NewTicker(m.cfg.FeedInterval)
	defer feedT.Stop()

	m.pollTick(ctx)
	m.feedTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.kick:
			m.pollTick(ctx)
			drainTick(pollT.C)
		case <-pollT.C:
			m.pollTick(ctx)
			drainTick(pollT.C)
		case <-feedT.C:
			m.feedTick(ctx)
			drainTick(feedT.C)
		}
	}
}

// drainTick discards the one tick a time.Ticker buffers, so a tick that
// outruns its interval is skipped, never queued behind the slow one.
func drainTick(c <-chan time.Time) {
	select {
	case <-c:
	default:
	}
}

// pollTick runs one readiness cycle: fetch snapshot, evaluate, and — when
// armed — execute. Every failure is contained here; one bad tick never
// kills the loop.
func (m *Monitor) pollTick(ctx context.Context) {
	start := time.Now()

	snap, err := m.cache.Refresh(ctx, m.roleID)
	if ctx.Err() != nil {
		return // torn down mid-fetch: discard
	}
	if err != nil {
		m.recordPollFailure(err)
		metrics.PollsTotal.WithLabelValues("error").Inc()
		return
	}

	ready := domain.ReadyPayments(snap, time.Now())

	m.mu.Lock()
	if m.state == StateIdle {
		// Stop won the race between our ctx.Err() check and this write.
		m.mu.Unlock()
		return
	}
	m.readyCount = len(ready)
	m.lastPollAt = time.Now().UTC()
	m.failStreak = 0
	m.lastPollErr = ""
	if m.degraded {
		m.degraded = false
		slog.Info("monitor: remote recovered, data fresh again", "role", m.roleID)
	}
	armed := m.state == StateArmed
	m.mu.Unlock()

	metrics.PollsTotal.WithLabelValues("ok").Inc()
	metrics.ReadyPayments.Set(float64(len(ready)))
	slog.Debug("monitor: poll", "role", m.roleID, "ready", len(ready), "armed", armed)

	if armed && len(ready) > 0 && !m.coord.InFlight(m.roleID) {
		m.execute(ctx)
	}

	if d := time.Since(start); d > m.cfg.PollInterval {
		// The loop drains the tick we outran right after this returns.
		metrics.PollsTotal.WithLabelValues("skipped").Inc()
		slog.Debug("monitor: slow tick, next poll skipped", "role", m.roleID, "took", d)
	}
}

func (m *Monitor) execute(ctx context.Context) {
	out, err := m.coord.ExecuteReady(ctx, m.roleID)
	if ctx.Err() != nil {
		return // torn down mid-submit: discard
	}

	switch out.Class {
	case OutcomeExecuted:
		m.mu.Lock()
		m.lastNotice = ""
		m.mu.Unlock()
		slog.Info("monitor: payments executed", "role", m.roleID, "tx", out.TxRef, "count", out.Executed)
		if nerr := m.notifier.ExecutionSucceeded(ctx, m.roleID, out.TxRef, out.Executed); nerr != nil {
			slog.Warn("monitor: notifier error", "err", nerr)
		}

	case OutcomeAlreadyExecuted:
		// Expected under permissionless execution — not a user-facing error.
		slog.Info("monitor: payments already executed by another party", "role", m.roleID)

	case OutcomeRejected:
		m.notifyRejectionOnce(ctx, out.Reason)

	case OutcomeRemoteUnavailable:
		slog.Warn("monitor: execution attempt failed, will retry on next tick", "role", m.roleID, "err", err)

	case OutcomeNothingReady, OutcomeAlreadyInProgress:
		// Raced with the window closing or another attempt; nothing to do.
	}
}

// notifyRejectionOnce surfaces a validation rejection, but a run of
// identical rejections produces a single notification instead of one per
// tick.
func (m *Monitor) notifyRejectionOnce(ctx context.Context, reason string) {
	m.mu.Lock()
	repeat := m.lastNotice == reason
	m.lastNotice = reason
	m.mu.Unlock()

	if repeat {
		slog.Debug("monitor: execution still rejected", "role", m.roleID, "reason", reason)
		return
	}
	slog.Warn("monitor: execution rejected", "role", m.roleID, "reason", reason)
	if err := m.notifier.ExecutionFailed(ctx, m.roleID, reason); err != nil {
		slog.Warn("monitor: notifier error", "err", err)
	}
}

func (m *Monitor) recordPollFailure(err error) {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.failStreak++
	distinct := m.lastPollErr != err.Error()
	m.lastPollErr = err.Error()
	flip := m.failStreak >= m.cfg.DegradedAfter && !m.degraded
	if flip {
		m.degraded = true
	}
	streak := m.failStreak
	m.mu.Unlock()

	if flip {
		slog.Warn("monitor: remote unavailable, data is stale", "role", m.roleID, "consecutive_failures", streak)
	} else if distinct {
		slog.Warn("monitor: poll failed, retrying next tick", "role", m.roleID, "err", err)
	} else {
		slog.Debug("monitor: poll failed again", "role", m.roleID, "err", err)
	}
}

// feedTick refreshes the human-auditable transaction feed on its own, slower
// cadence.
func (m *Monitor) feedTick(ctx context.Context) {
	events, partial, err := m.rec.Reconcile(ctx, m.roleID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Warn("monitor: feed reconciliation failed", "role", m.roleID, "err", err)
		return
	}

	metrics.ReconcileEvents.Set(float64(len(events)))
	if partial {
		metrics.ReconcilePartial.Inc()
	}
	if nerr := m.notifier.FeedUpdated(ctx, m.roleID, events, partial); nerr != nil {
		slog.Warn("monitor: notifier error", "err", nerr)
	}
}

// sameIdentity compares addresses the way the dashboard does: trimmed and
// case-insensitive, so EVM checksum casing never causes a false mismatch.
func sameIdentity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
