package domain

import "time"

// EventCategory is the kind of ledger event a query targets. Each category
// query returns events for all roles; filtering to one role happens
// client-side.
type EventCategory string

const (
	CategoryCreated EventCategory = "created"
	CategoryFunding EventCategory = "funding"
	CategoryPayment EventCategory = "payment"
)

// Categories lists every event category in reconciliation order.
var Categories = []EventCategory{CategoryCreated, CategoryFunding, CategoryPayment}

// EventStatus is the confirmation state of a transaction event. Log-derived
// events are always StatusSuccess; pending and failed are reserved for
// locally tracked submissions that haven't reached the log yet.
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusPending EventStatus = "pending"
	StatusFailed  EventStatus = "failed"
)

// RawEvent is an event as returned by a ledger event-log query, before
// reconciliation. RawTimestamp may be seconds or milliseconds since epoch
// depending on the source.
type RawEvent struct {
	Category     EventCategory
	RoleID       string
	Actor        string
	Recipient    string
	Amount       uint64
	RawTimestamp int64
	TxRef        string
}

// TransactionEvent is one entry of the reconciled, human-auditable
// transaction feed for a role. Never mutated once produced.
type TransactionEvent struct {
	Type      EventCategory
	From      string
	To        string
	Amount    uint64
	Timestamp time.Time
	TxRef     string
	Status    EventStatus
}

// millisThreshold separates seconds-since-epoch from millis-since-epoch:
// anything below it is year ~2286 in seconds but year 1970 in millis, so a
// value under the threshold must be seconds.
const millisThreshold = 10_000_000_000

// NormalizeMillis converts a raw event timestamp to milliseconds since
// epoch, whichever precision the source used.
func NormalizeMillis(raw int64) int64 {
	if raw < millisThreshold {
		return raw * 1000
	}
	return raw
}

// EventTime converts a raw event timestamp to UTC wall-clock time.
func EventTime(raw int64) time.Time {
	return time.UnixMilli(NormalizeMillis(raw)).UTC()
}
