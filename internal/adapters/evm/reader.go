package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alejandrodnm/rolewatch/internal/domain"
)

// GetRole implements ports.ChainReader. A role whose creator is the zero
// address doesn't exist on this contract.
func (c *Client) GetRole(ctx context.Context, roleID string) (domain.RoleSnapshot, error) {
	idBytes, err := hexToBytes32(roleID)
	if err != nil {
		return domain.RoleSnapshot{}, fmt.Errorf("evm.GetRole: role id %q: %w", roleID, err)
	}

	var head roleHead
	if err := c.call(ctx, "getRole", &head, idBytes); err != nil {
		return domain.RoleSnapshot{}, err
	}
	if head.Creator == (common.Address{}) {
		return domain.RoleSnapshot{}, domain.ErrRoleNotFound
	}

	var sched rolePayments
	if err := c.call(ctx, "getPayments", &sched, idBytes); err != nil {
		return domain.RoleSnapshot{}, err
	}

	snap := domain.RoleSnapshot{
		ID:                roleID,
		Name:              head.Name,
		Creator:           head.Creator.Hex(),
		StartTime:         time.Unix(int64(head.StartTime), 0).UTC(),
		ExpiryTime:        time.Unix(int64(head.ExpiryTime), 0).UTC(),
		RemainingBalance:  clampUint64(head.RemainingBalance),
		LeftoverRecipient: head.LeftoverRecipient.Hex(),
		FetchedAt:         time.Now().UTC(),
	}

	for i := range sched.Recipients {
		p := domain.ScheduledPayment{
			Index:         i,
			Recipient:     sched.Recipients[i].Hex(),
			Amount:        clampUint64(sched.Amounts[i]),
			ScheduledTime: time.Unix(int64(sched.ScheduledTimes[i]), 0).UTC(),
		}
		snap.Scheduled = append(snap.Scheduled, p)
		if sched.Executed[i] {
			snap.Executed = append(snap.Executed, domain.ExecutedPayment{
				Index:     i,
				Recipient: p.Recipient,
				Amount:    p.Amount,
			})
		}
	}
	return snap, nil
}

// QueryEvents implements ports.ChainReader. Scans the trailing lookback
// window for one event category across all roles; the reconciler filters to
// its role.
func (c *Client) QueryEvents(ctx context.Context, category domain.EventCategory, limit int) ([]domain.RawEvent, error) {
	eventName, ok := eventNames[category]
	if !ok {
		return nil, fmt.Errorf("evm.QueryEvents: unknown category %q", category)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, &domain.RemoteError{Op: "evm.QueryEvents", Err: err}
	}
	from := uint64(0)
	if head > c.lookback {
		from = head - c.lookback
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{roleABI.Events[eventName].ID}},
		FromBlock: new(big.Int).SetUint64(from),
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, &domain.RemoteError{Op: "evm.QueryEvents", Err: err}
	}

	// Keep the most recent entries; FilterLogs returns oldest first.
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}

	events := make([]domain.RawEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := c.parseLog(ctx, category, eventName, lg)
		if err != nil {
			return nil, fmt.Errorf("evm.QueryEvents: parse %s log: %w", eventName, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

var eventNames = map[domain.EventCategory]string{
	domain.CategoryCreated: "RoleCreated",
	domain.CategoryFunding: "RoleFunded",
	domain.CategoryPayment: "PaymentExecuted",
}

func (c *Client) parseLog(ctx context.Context, category domain.EventCategory, eventName string, lg types.Log) (domain.RawEvent, error) {
	ev := domain.RawEvent{
		Category: category,
		TxRef:    lg.TxHash.Hex(),
	}
	if len(lg.Topics) < 3 {
		return ev, fmt.Errorf("expected 2 indexed topics, got %d", len(lg.Topics)-1)
	}
	ev.RoleID = lg.Topics[1].Hex()
	actor := common.BytesToAddress(lg.Topics[2].Bytes()).Hex()

	values, err := roleABI.Unpack(eventName, lg.Data)
	if err != nil {
		return ev, err
	}

	switch category {
	case domain.CategoryCreated:
		ev.Actor = actor
	case domain.CategoryFunding:
		ev.Actor = actor
		ev.Amount = clampUint64(values[0].(*big.Int))
	case domain.CategoryPayment:
		ev.Recipient = actor
		ev.Amount = clampUint64(values[0].(*big.Int))
	}

	ts, err := c.blockTime(ctx, lg.BlockNumber)
	if err != nil {
		return ev, err
	}
	ev.RawTimestamp = int64(ts) // seconds; the reconciler normalizes
	return ev, nil
}

// blockTime resolves a block's timestamp with a small per-client cache —
// many logs land in few blocks.
func (c *Client) blockTime(ctx context.Context, number uint64) (uint64, error) {
	c.mu.Lock()
	ts, ok := c.headerTimes[number]
	c.mu.Unlock()
	if ok {
		return ts, nil
	}

	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, &domain.RemoteError{Op: "evm.blockTime", Err: err}
	}

	c.mu.Lock()
	c.headerTimes[number] = header.Time
	c.mu.Unlock()
	return header.Time, nil
}

type roleHead struct {
	Name              string
	Creator           common.Address
	StartTime         uint64
	ExpiryTime        uint64
	RemainingBalance  *big.Int
	LeftoverRecipient common.Address
}

type rolePayments struct {
	Recipients     []common.Address
	Amounts        []*big.Int
	ScheduledTimes []uint64
	Executed       []bool
}

// call performs one rate-limited view call and unpacks the result into out.
func (c *Client) call(ctx context.Context, method string, out any, args ...any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	data, err := roleABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("evm.%s: pack: %w", method, err)
	}

	res, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return &domain.RemoteError{Op: "evm." + method, Err: err}
	}

	if err := roleABI.UnpackIntoInterface(out, method, res); err != nil {
		return fmt.Errorf("evm.%s: unpack: %w", method, err)
	}
	return nil
}

// clampUint64 converts an on-chain uint256 to the engine's uint64 base
// units, saturating instead of wrapping on pathological values.
func clampUint64(v *big.Int) uint64 {
	if v == nil {
		return 0
	}
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}
