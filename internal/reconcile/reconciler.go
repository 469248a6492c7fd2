package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alejandrodnm/rolewatch/internal/domain"
	"github.com/alejandrodnm/rolewatch/internal/ports"
)

// Query limits per category. Funding and payment events churn; creation
// happens once per role, so a smaller window suffices.
const (
	createdLimit = 20
	fundingLimit = 50
	paymentLimit = 50
)

// Reconciler merges the three category event queries into one deduplicated,
// time-ordered transaction feed for a role. Stateless with respect to the
// feed itself: every call re-derives the log from current remote state, so
// repeated calls can never accumulate drift.
type Reconciler struct {
	reader ports.ChainReader

	mu       sync.Mutex
	lastFail map[domain.EventCategory]string // dedupe of repeated failure logs
}

// New creates a Reconciler over the given reader.
func New(reader ports.ChainReader) *Reconciler {
	return &Reconciler{
		reader:   reader,
		lastFail: make(map[domain.EventCategory]string),
	}
}

// Reconcile returns the role's transaction feed, most recent first.
// partial is true when at least one category query failed and its events are
// missing; the merged remainder is still returned (best-effort transparency
// log). Only when every category fails does Reconcile return an error.
func (r *Reconciler) Reconcile(ctx context.Context, roleID string) (events []domain.TransactionEvent, partial bool, err error) {
	var (
		merged   []domain.TransactionEvent
		failed   int
		firstErr error
	)

	for _, cat := range domain.Categories {
		raw, qerr := r.reader.QueryEvents(ctx, cat, limitFor(cat))
		if qerr != nil {
			failed++
			if firstErr == nil {
				firstErr = qerr
			}
			r.logFailure(cat, qerr)
			continue
		}
		r.clearFailure(cat)

		for _, ev := range raw {
			if ev.RoleID != roleID {
				continue
			}
			merged = append(merged, fromRaw(ev))
		}
	}

	if failed == len(domain.Categories) {
		return nil, true, fmt.Errorf("reconcile.Reconcile: all event queries failed: %w", firstErr)
	}

	merged = dedupe(merged)
	sortFeed(merged)
	return merged, failed > 0, nil
}

func limitFor(cat domain.EventCategory) int {
	switch cat {
	case domain.CategoryCreated:
		return createdLimit
	case domain.CategoryFunding:
		return fundingLimit
	default:
		return paymentLimit
	}
}

// fromRaw normalizes one raw log event into a feed entry. Event logs only
// contain confirmed effects, so status is always success here; pending and
// failed are reserved for locally tracked submissions that never reach this
// path.
func fromRaw(ev domain.RawEvent) domain.TransactionEvent {
	out := domain.TransactionEvent{
		Type:      ev.Category,
		From:      ev.Actor,
		Amount:    ev.Amount,
		Timestamp: domain.EventTime(ev.RawTimestamp),
		TxRef:     ev.TxRef,
		Status:    domain.StatusSuccess,
	}
	switch ev.Category {
	case domain.CategoryPayment:
		out.From = ev.RoleID
		out.To = ev.Recipient
	case domain.CategoryFunding:
		out.To = ev.RoleID
	}
	return out
}

// dedupe collapses events sharing a transaction reference, first wins.
func dedupe(events []domain.TransactionEvent) []domain.TransactionEvent {
	seen := make(map[string]bool, len(events))
	out := events[:0]
	for _, ev := range events {
		if seen[ev.TxRef] {
			continue
		}
		seen[ev.TxRef] = true
		out = append(out, ev)
	}
	return out
}

// sortFeed orders most recent first, tx ref as tiebreak so identical remote
// state always yields identical output.
func sortFeed(events []domain.TransactionEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.After(events[j].Timestamp)
		}
		return events[i].TxRef < events[j].TxRef
	})
}

// logFailure warns once per distinct failure per category, not once per
// tick. The feed keeps refreshing with whatever categories still answer.
func (r *Reconciler) logFailure(cat domain.EventCategory, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastFail[cat] == err.Error() {
		return
	}
	r.lastFail[cat] = err.Error()
	slog.Warn("reconcile: event query failed, feed is partial", "category", string(cat), "err", err)
}

func (r *Reconciler) clearFailure(cat domain.EventCategory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastFail, cat)
}
