package evm

// client.go — EVM adapter for the payment-role escrow contract.
//
// Implements ports.ChainReader and ports.PaymentExecutor against a single
// deployed contract:
//   - view calls for role snapshots (getRole + getPayments)
//   - event-log queries for the reconciled transaction feed
//   - the executePayments transaction, signed locally

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

const (
	// Conservative read budget against public RPC endpoints.
	readRatePerSec = 10
	readBurst      = 5

	executeGasLimit = uint64(400_000)

	receiptPollInterval = 2 * time.Second
	receiptTimeout      = 60 * time.Second

	defaultLookbackBlocks = uint64(50_000)
)

var roleABI abi.ABI

func init() {
	var err error
	roleABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "getRole",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "roleId", "type": "bytes32"}],
			"outputs": [
				{"name": "name", "type": "string"},
				{"name": "creator", "type": "address"},
				{"name": "startTime", "type": "uint64"},
				{"name": "expiryTime", "type": "uint64"},
				{"name": "remainingBalance", "type": "uint256"},
				{"name": "leftoverRecipient", "type": "address"}
			]
		},
		{
			"name": "getPayments",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "roleId", "type": "bytes32"}],
			"outputs": [
				{"name": "recipients", "type": "address[]"},
				{"name": "amounts", "type": "uint256[]"},
				{"name": "scheduledTimes", "type": "uint64[]"},
				{"name": "executed", "type": "bool[]"}
			]
		},
		{
			"name": "executePayments",
			"type": "function",
			"stateMutability": "nonpayable",
			"inputs": [{"name": "roleId", "type": "bytes32"}],
			"outputs": []
		},
		{
			"name": "RoleCreated",
			"type": "event",
			"inputs": [
				{"name": "roleId", "type": "bytes32", "indexed": true},
				{"name": "creator", "type": "address", "indexed": true},
				{"name": "startTime", "type": "uint64", "indexed": false},
				{"name": "expiryTime", "type": "uint64", "indexed": false}
			]
		},
		{
			"name": "RoleFunded",
			"type": "event",
			"inputs": [
				{"name": "roleId", "type": "bytes32", "indexed": true},
				{"name": "sender", "type": "address", "indexed": true},
				{"name": "amount", "type": "uint256", "indexed": false}
			]
		},
		{
			"name": "PaymentExecuted",
			"type": "event",
			"inputs": [
				{"name": "roleId", "type": "bytes32", "indexed": true},
				{"name": "recipient", "type": "address", "indexed": true},
				{"name": "amount", "type": "uint256", "indexed": false},
				{"name": "paymentIndex", "type": "uint256", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic("role abi parse: " + err.Error())
	}
}

// Client talks to the payment-role contract over one RPC endpoint.
type Client struct {
	eth      *ethclient.Client
	contract common.Address
	chainID  *big.Int
	limiter  *rate.Limiter

	privateKey []byte // empty for read-only clients
	sender     common.Address

	lookback uint64

	mu          sync.Mutex
	headerTimes map[uint64]uint64 // block number → unix seconds
}

// Config for the EVM client. PrivateKeyHex may be empty for read-only use;
// execution then fails with a clear error instead of a nil deref.
type Config struct {
	RPCURL         string
	Contract       string
	ChainID        int64
	PrivateKeyHex  string
	LookbackBlocks uint64
}

// NewClient dials the RPC endpoint and prepares the signer if a key is
// given.
func NewClient(cfg Config) (*Client, error) {
	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm.NewClient: dial rpc %s: %w", cfg.RPCURL, err)
	}

	c := &Client{
		eth:         eth,
		contract:    common.HexToAddress(cfg.Contract),
		chainID:     big.NewInt(cfg.ChainID),
		limiter:     rate.NewLimiter(readRatePerSec, readBurst),
		lookback:    cfg.LookbackBlocks,
		headerTimes: make(map[uint64]uint64),
	}
	if c.lookback == 0 {
		c.lookback = defaultLookbackBlocks
	}

	if cfg.PrivateKeyHex != "" {
		pk, addr, err := parseKey(cfg.PrivateKeyHex)
		if err != nil {
			return nil, err
		}
		c.privateKey = pk
		c.sender = addr
	}
	return c, nil
}

// Sender returns the executing account address, zero if read-only.
func (c *Client) Sender() string {
	return c.sender.Hex()
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func parseKey(hexKey string) ([]byte, common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("evm.NewClient: decode private key: %w", err)
	}
	privKey, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("evm.NewClient: invalid private key: %w", err)
	}
	return raw, crypto.PubkeyToAddress(privKey.PublicKey), nil
}

// hexToBytes32 parses a 0x-prefixed 32-byte hex role ID.
func hexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
