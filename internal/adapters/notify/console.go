package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/rolewatch/internal/domain"
	"github.com/alejandrodnm/rolewatch/internal/monitor"
)

// Console implements ports.Notifier. The daemon's stand-in for UI toasts:
// execution outcomes as one-liners, the feed as a compact line or a full
// table.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// ExecutionSucceeded prints the accepted execution with its tx ref so the
// user can audit it on a chain explorer.
func (c *Console) ExecutionSucceeded(_ context.Context, roleID, txRef string, executed int) error {
	if executed == 0 {
		// Submitted but unconfirmed; the next poll settles the count.
		fmt.Fprintf(c.out, "[%s] ✅ execution submitted for role %s (confirmation pending)\n    tx: %s\n",
			stamp(), shortID(roleID), txRef)
		return nil
	}
	fmt.Fprintf(c.out, "[%s] ✅ executed %d payment(s) for role %s\n    tx: %s\n",
		stamp(), executed, shortID(roleID), txRef)
	return nil
}

// ExecutionFailed prints a definitive rejection.
func (c *Console) ExecutionFailed(_ context.Context, roleID, reason string) error {
	fmt.Fprintf(c.out, "[%s] ❌ execution rejected for role %s: %s\n", stamp(), shortID(roleID), reason)
	return nil
}

// FeedUpdated prints the reconciled transaction feed in the configured mode.
func (c *Console) FeedUpdated(_ context.Context, roleID string, events []domain.TransactionEvent, partial bool) error {
	if c.table {
		c.PrintFeed(roleID, events, partial)
		return nil
	}

	note := ""
	if partial {
		note = " (partial — some event queries failed)"
	}
	fmt.Fprintf(c.out, "[%s] feed: %d event(s) for role %s%s\n", stamp(), len(events), shortID(roleID), note)
	return nil
}

// PrintFeed renders the full transaction feed table, most recent first.
func (c *Console) PrintFeed(roleID string, events []domain.TransactionEvent, partial bool) {
	fmt.Fprintf(c.out, "\n── TRANSACTION FEED — role %s (%d events) ──\n", shortID(roleID), len(events))
	if partial {
		fmt.Fprintln(c.out, "  ⚠ partial feed: one or more event queries failed; showing what could be merged")
	}
	if len(events) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("When", "Type", "From", "To", "Amount", "Status", "Tx")
	for _, ev := range events {
		table.Append(
			ev.Timestamp.Format("2006-01-02 15:04:05"),
			string(ev.Type),
			shortID(ev.From),
			shortID(ev.To),
			formatAmount(ev.Type, ev.Amount),
			string(ev.Status),
			shortID(ev.TxRef),
		)
	}
	table.Render()
}

// PrintStatus renders a one-line monitor status, the daemon's equivalent of
// the dashboard status widget.
func (c *Console) PrintStatus(roleID string, st monitor.Status) {
	mode := "inactive"
	switch {
	case st.IsMonitoring && st.AutoExecuteEnabled:
		mode = "auto-execute armed"
	case st.IsMonitoring:
		mode = "watching (auto-execute paused)"
	}

	line := fmt.Sprintf("[%s] role %s: %s — %d ready", stamp(), shortID(roleID), mode, st.ReadyCount)
	if st.InFlight {
		line += " | execution in flight"
	}
	if st.Degraded {
		line += " | ⚠ stale data (remote unavailable)"
	}
	fmt.Fprintln(c.out, line)
}

// PrintAttempts renders the journaled execution attempts, newest first.
func (c *Console) PrintAttempts(roleID string, attempts []domain.ExecutionAttempt) {
	fmt.Fprintf(c.out, "\n── EXECUTION ATTEMPTS — role %s (%d) ──\n", shortID(roleID), len(attempts))
	if len(attempts) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Started", "Outcome", "Payments", "Tx", "Error")
	for _, a := range attempts {
		table.Append(
			a.StartedAt.Format("2006-01-02 15:04:05"),
			a.Outcome,
			fmt.Sprintf("%d", a.Executed),
			shortID(a.TxRef),
			truncate(a.Error, 40),
		)
	}
	table.Render()
}

// PrintSchedule renders a role's payment schedule with readiness markers.
func (c *Console) PrintSchedule(snap domain.RoleSnapshot, ready []domain.ScheduledPayment, now time.Time) {
	fmt.Fprintf(c.out, "\n── ROLE %s (%q) — %s ──\n", shortID(snap.ID), snap.Name, snap.Status(now))
	fmt.Fprintf(c.out, "  creator: %s | balance: %d | expires: %s\n",
		shortID(snap.Creator), snap.RemainingBalance, snap.ExpiryTime.Format("2006-01-02 15:04"))

	readySet := make(map[int]bool, len(ready))
	for _, p := range ready {
		readySet[p.Index] = true
	}
	fulfilled := make(map[int]bool)
	for _, p := range snap.Scheduled {
		fulfilled[p.Index] = true
	}
	for _, p := range domain.Unfulfilled(snap) {
		fulfilled[p.Index] = false
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Recipient", "Amount", "Scheduled", "State")
	for _, p := range snap.Scheduled {
		state := "pending"
		switch {
		case fulfilled[p.Index]:
			state = "executed"
		case readySet[p.Index]:
			state = "READY"
		case p.ScheduledTime.After(now):
			state = "scheduled"
		}
		table.Append(
			fmt.Sprintf("%d", p.Index),
			shortID(p.Recipient),
			fmt.Sprintf("%d", p.Amount),
			p.ScheduledTime.Format("2006-01-02 15:04"),
			state,
		)
	}
	table.Render()
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

func formatAmount(t domain.EventCategory, amount uint64) string {
	if t == domain.CategoryCreated {
		return "-"
	}
	return fmt.Sprintf("%d", amount)
}

func shortID(s string) string {
	if len(s) > 14 {
		return s[:8] + "…" + s[len(s)-4:]
	}
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
