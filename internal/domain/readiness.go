package domain

import (
	"sort"
	"time"
)

// paymentKey identifies a payment by value for the legacy matching path.
type paymentKey struct {
	recipient string
	amount    uint64
}

// Unfulfilled returns the scheduled payments with no matching executed
// record. Matching prefers the stable payment index; executed records
// without an index (from event logs) are consumed one-for-one by
// recipient+amount, so two identical payments are never both cleared by a
// single execution.
func Unfulfilled(snap RoleSnapshot) []ScheduledPayment {
	byIndex := make(map[int]bool, len(snap.Executed))
	byValue := make(map[paymentKey]int)
	for _, ex := range snap.Executed {
		if ex.Index >= 0 {
			byIndex[ex.Index] = true
			continue
		}
		byValue[paymentKey{ex.Recipient, ex.Amount}]++
	}

	var out []ScheduledPayment
	for _, p := range snap.Scheduled {
		if byIndex[p.Index] {
			continue
		}
		k := paymentKey{p.Recipient, p.Amount}
		if byValue[k] > 0 {
			byValue[k]--
			continue
		}
		out = append(out, p)
	}
	return out
}

// ReadyPayments returns the scheduled payments executable at the given
// instant, in the order execution should attempt them: ascending scheduled
// time, stable on schedule order for ties.
//
// A payment is ready when it is unfulfilled, its time has arrived, the role
// is active, and the balance left after every earlier-ready payment still
// covers it. The cumulative check keeps the ready set honest: if execution
// is sequential and atomic per payment, we never report more than the
// balance can actually pay.
func ReadyPayments(snap RoleSnapshot, now time.Time) []ScheduledPayment {
	if !snap.IsActive(now) {
		return nil
	}

	due := make([]ScheduledPayment, 0, len(snap.Scheduled))
	for _, p := range Unfulfilled(snap) {
		if !p.ScheduledTime.After(now) {
			due = append(due, p)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ScheduledTime.Before(due[j].ScheduledTime)
	})

	balance := snap.RemainingBalance
	ready := due[:0]
	for _, p := range due {
		if p.Amount > balance {
			continue
		}
		balance -= p.Amount
		ready = append(ready, p)
	}
	if len(ready) == 0 {
		return nil
	}
	return ready
}
