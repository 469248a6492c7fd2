package ports

import "context"

// ExecuteResult is what the ledger reports back for an accepted execution
// transaction. Confirmed is false when the transaction was submitted but
// its receipt never arrived; Executed is then meaningless and the next
// snapshot refresh settles what actually happened.
type ExecuteResult struct {
	TxRef     string
	Executed  int // payments executed by this transaction, per its receipt
	Confirmed bool
}

// PaymentExecutor submits execution transactions to the ledger. The ledger
// executes every currently-due payment of the role in one transaction and
// rejects re-execution on its own; this port only submits and reports.
type PaymentExecutor interface {
	// ExecutePayments submits one execution transaction for the role.
	// Errors: *domain.RejectedError for definitive ledger rejections
	// (including already-executed), *domain.RemoteError for transport
	// failures where the outcome is unknown.
	ExecutePayments(ctx context.Context, roleID string) (ExecuteResult, error)
}
