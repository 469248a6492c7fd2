package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/rolewatch/internal/domain"
	"github.com/alejandrodnm/rolewatch/internal/ports"
)

// ErrReadOnly: the client was created without a private key.
var ErrReadOnly = errors.New("evm: client has no signing key")

// ExecutePayments implements ports.PaymentExecutor: one signed transaction
// asking the contract to execute every currently-due payment of the role.
// The contract itself rejects re-execution; this layer only classifies that
// answer.
func (c *Client) ExecutePayments(ctx context.Context, roleID string) (ports.ExecuteResult, error) {
	if len(c.privateKey) == 0 {
		return ports.ExecuteResult{}, ErrReadOnly
	}

	idBytes, err := hexToBytes32(roleID)
	if err != nil {
		return ports.ExecuteResult{}, fmt.Errorf("evm.ExecutePayments: role id %q: %w", roleID, err)
	}

	callData, err := roleABI.Pack("executePayments", idBytes)
	if err != nil {
		return ports.ExecuteResult{}, fmt.Errorf("evm.ExecutePayments: pack: %w", err)
	}

	privKey, err := crypto.ToECDSA(c.privateKey)
	if err != nil {
		return ports.ExecuteResult{}, fmt.Errorf("evm.ExecutePayments: private key: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return ports.ExecuteResult{}, &domain.RemoteError{Op: "evm.ExecutePayments", Err: err}
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return ports.ExecuteResult{}, &domain.RemoteError{Op: "evm.ExecutePayments", Err: err}
	}

	// Estimation doubles as a dry run: the node surfaces the revert reason
	// here, before any gas is spent.
	gasEstimate, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.sender,
		To:       &c.contract,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		if rej := classifyRevert(err); rej != nil {
			return ports.ExecuteResult{}, rej
		}
		gasEstimate = executeGasLimit
		slog.Warn("evm: gas estimate failed, using default", "err", err, "limit", executeGasLimit)
	}
	gasEstimate = gasEstimate * 12 / 10

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasEstimate, gasPrice, callData)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), privKey)
	if err != nil {
		return ports.ExecuteResult{}, fmt.Errorf("evm.ExecutePayments: sign tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		if rej := classifyRevert(err); rej != nil {
			return ports.ExecuteResult{}, rej
		}
		return ports.ExecuteResult{}, &domain.RemoteError{Op: "evm.ExecutePayments", Err: err}
	}

	txHash := signedTx.Hash()
	slog.Info("evm: execution transaction sent", "role", shortID(roleID), "tx", txHash.Hex())

	receiptCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	receipt, err := c.waitForReceipt(receiptCtx, txHash)
	if err != nil {
		// Sent but unconfirmed. Report the tx ref; the next poll's fresh
		// snapshot settles what actually happened.
		slog.Warn("evm: could not confirm receipt, tx may still land", "tx", txHash.Hex(), "err", err)
		return ports.ExecuteResult{TxRef: txHash.Hex()}, nil
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return ports.ExecuteResult{}, &domain.RejectedError{
			Reason: domain.RejectOther,
			Detail: "transaction reverted on-chain: " + txHash.Hex(),
		}
	}

	executed := countPaymentLogs(receipt)
	slog.Info("evm: execution confirmed", "role", shortID(roleID), "tx", txHash.Hex(), "payments", executed)
	return ports.ExecuteResult{TxRef: txHash.Hex(), Executed: executed, Confirmed: true}, nil
}

func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// countPaymentLogs counts PaymentExecuted events our transaction emitted.
func countPaymentLogs(receipt *types.Receipt) int {
	id := roleABI.Events["PaymentExecuted"].ID
	n := 0
	for _, lg := range receipt.Logs {
		if len(lg.Topics) > 0 && lg.Topics[0] == id {
			n++
		}
	}
	return n
}

// classifyRevert maps a node-reported revert reason onto the engine's
// rejection taxonomy. Returns nil when the error doesn't look like a
// revert at all.
func classifyRevert(err error) *domain.RejectedError {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "revert") && !strings.Contains(msg, "rejected") {
		return nil
	}

	switch {
	case strings.Contains(msg, "already executed"), strings.Contains(msg, "nothing to execute"):
		return &domain.RejectedError{Reason: domain.RejectAlreadyExecuted, Detail: err.Error()}
	case strings.Contains(msg, "insufficient"):
		return &domain.RejectedError{Reason: domain.RejectInsufficientBalance, Detail: err.Error()}
	case strings.Contains(msg, "not active"), strings.Contains(msg, "expired"), strings.Contains(msg, "not started"):
		return &domain.RejectedError{Reason: domain.RejectRoleInactive, Detail: err.Error()}
	default:
		return &domain.RejectedError{Reason: domain.RejectOther, Detail: err.Error()}
	}
}

func shortID(roleID string) string {
	if len(roleID) > 12 {
		return roleID[:12] + "..."
	}
	return roleID
}
