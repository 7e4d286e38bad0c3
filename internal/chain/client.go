// Package chain is the agent's view of the Kalki resolution contract: it reads
// selection events and request details and sends signed commit transactions.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/sajjadsiam/kalki-protocol/internal/crypto"
	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// Defaults mirror the limits the contract was deployed with.
const (
	DefaultCommitGasLimit   uint64 = 300_000
	DefaultRegisterGasLimit uint64 = 200_000
	DefaultMaxBlockRange    uint64 = 5_000
	DefaultReceiptTimeout          = 2 * time.Minute
	DefaultReceiptPoll             = 2 * time.Second
)

// backend is the slice of *ethclient.Client the agent uses.
type backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Options tunes transaction and scanning limits. Zero fields take the
// package defaults.
type Options struct {
	CommitGasLimit   uint64
	RegisterGasLimit uint64
	MaxBlockRange    uint64
	ReceiptTimeout   time.Duration
	ReceiptPoll      time.Duration
}

func (o Options) withDefaults() Options {
	if o.CommitGasLimit == 0 {
		o.CommitGasLimit = DefaultCommitGasLimit
	}
	if o.RegisterGasLimit == 0 {
		o.RegisterGasLimit = DefaultRegisterGasLimit
	}
	if o.MaxBlockRange == 0 {
		o.MaxBlockRange = DefaultMaxBlockRange
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = DefaultReceiptTimeout
	}
	if o.ReceiptPoll <= 0 {
		o.ReceiptPoll = DefaultReceiptPoll
	}
	return o
}

// Client implements domain.Chain over a JSON-RPC node.
type Client struct {
	rpc      backend
	contract common.Address
	signer   *crypto.Signer
	opts     Options
	logger   *slog.Logger

	// nonceMu serializes nonce selection through broadcast so concurrent
	// commits never reuse a nonce.
	nonceMu sync.Mutex
}

// Dial connects to rpcURL, reads the chain id and binds keyHex to it.
func Dial(ctx context.Context, rpcURL, contract, keyHex string, opts Options, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("chain: invalid contract address %q", contract)
	}
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain: read chain id: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex, chainID)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain: %w", err)
	}
	logger.Info("connected to chain",
		slog.String("component", "chain"),
		slog.String("chain_id", chainID.String()),
		slog.String("contract", common.HexToAddress(contract).Hex()),
		slog.String("agent", signer.Address().Hex()),
	)
	return newClient(ec, common.HexToAddress(contract), signer, opts, logger), nil
}

func newClient(be backend, contract common.Address, signer *crypto.Signer, opts Options, logger *slog.Logger) *Client {
	return &Client{
		rpc:      be,
		contract: contract,
		signer:   signer,
		opts:     opts.withDefaults(),
		logger:   logger.With(slog.String("component", "chain")),
	}
}

// Address returns the agent account as a checksummed hex string.
func (c *Client) Address() string { return c.signer.Address().Hex() }

// Close releases the RPC connection.
func (c *Client) Close() { c.rpc.Close() }

// Head returns the latest block number.
func (c *Client) Head(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// errCallRejected marks a view call the contract itself refused: a revert or
// an empty return. Transport failures are not wrapped with it.
var errCallRejected = errors.New("call rejected by contract")

// revertCode is the JSON-RPC error code geth-style nodes use for reverts.
const revertCode = 3

func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertCode {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{
		From: c.signer.Address(),
		To:   &c.contract,
		Data: data,
	}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("chain: call %s: %w: %w", method, errCallRejected, err)
		}
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chain: call %s: empty result: %w", method, errCallRejected)
	}
	vals, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return vals, nil
}

var _ domain.Chain = (*Client)(nil)
