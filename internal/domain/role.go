package domain

import "time"

// RoleStatus is the lifecycle phase of a payment role relative to a clock.
type RoleStatus string

const (
	StatusUpcoming RoleStatus = "UPCOMING"
	StatusActive   RoleStatus = "ACTIVE"
	StatusExpired  RoleStatus = "EXPIRED"
)

// ScheduledPayment is one entry of a role's payment schedule. Index is the
// position assigned at role creation and is stable for the life of the role;
// it is the only reliable identity when two payments share recipient+amount.
type ScheduledPayment struct {
	Index         int
	Recipient     string
	Amount        uint64 // base units
	ScheduledTime time.Time
}

// ExecutedPayment is a payment the ledger reports as already executed.
// Index is -1 when the source (e.g. an event log) doesn't carry one; in that
// case fulfilment falls back to recipient+amount matching.
type ExecutedPayment struct {
	Index      int
	Recipient  string
	Amount     uint64
	ExecutedAt time.Time
	TxRef      string
}

// RoleSnapshot is an immutable-per-fetch view of a role's escrow state.
// It is a read replica of remote truth: the engine never mutates it, only
// interprets it.
type RoleSnapshot struct {
	ID                string
	Name              string
	Creator           string
	StartTime         time.Time
	ExpiryTime        time.Time
	RemainingBalance  uint64
	LeftoverRecipient string
	Scheduled         []ScheduledPayment
	Executed          []ExecutedPayment
	FetchedAt         time.Time
}

// Status returns the role's phase at the given instant.
func (r RoleSnapshot) Status(now time.Time) RoleStatus {
	if now.Before(r.StartTime) {
		return StatusUpcoming
	}
	if now.After(r.ExpiryTime) {
		return StatusExpired
	}
	return StatusActive
}

// IsActive reports whether payments may execute at the given instant.
func (r RoleSnapshot) IsActive(now time.Time) bool {
	return r.Status(now) == StatusActive
}

// CompletedPayment is the locally mirrored record of an executed payment,
// kept so recipients can list what they've been paid without re-querying
// the chain.
type CompletedPayment struct {
	ID         string
	RoleID     string
	RoleName   string
	Recipient  string
	Amount     uint64
	ExecutedAt time.Time
	TxRef      string
}

// ExecutionAttempt is one journaled call into the ledger's execute entry
// point, whatever its outcome.
type ExecutionAttempt struct {
	ID        string
	RoleID    string
	Outcome   string
	TxRef     string
	Executed  int
	Error     string
	StartedAt time.Time
}
