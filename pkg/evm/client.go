package evm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
)

// Receipt is the destination-chain inclusion result. It is decoded from the
// raw eth_getTransactionReceipt response because the zk-rollup extends it
// with l1BatchNumber, which geth's types.Receipt silently drops.
type Receipt struct {
	TxHash        common.Hash
	Status        uint64
	BlockNumber   uint64
	GasUsed       uint64
	L1BatchNumber *int64
}

// Success reports whether the transaction executed without reverting.
func (r *Receipt) Success() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

type rpcReceipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	Status          hexutil.Uint64 `json:"status"`
	BlockNumber     *hexutil.Big   `json:"blockNumber"`
	GasUsed         hexutil.Uint64 `json:"gasUsed"`
	L1BatchNumber   *hexutil.Big   `json:"l1BatchNumber"`
}

// L1BatchDetails is the subset of the zks_getL1BatchDetails response the
// relayer inspects.
type L1BatchDetails struct {
	Number        uint64       `json:"number"`
	Status        string       `json:"status"`
	CommitTxHash  *common.Hash `json:"commitTxHash"`
	ProveTxHash   *common.Hash `json:"proveTxHash"`
	ExecuteTxHash *common.Hash `json:"executeTxHash"`
}

// Executed reports whether the batch settled on L1. A null or all-zero
// executeTxHash means it has not.
func (d *L1BatchDetails) Executed() bool {
	return d.ExecuteTxHash != nil && *d.ExecuteTxHash != (common.Hash{})
}

// Client is a typed JSON-RPC surface over the failover transport.
type Client struct {
	chain  Chain
	rpc    *FailoverClient
	logger *zap.Logger
}

// Dial builds the failover transport for a chain and wraps it.
func Dial(ctx context.Context, chain Chain, urls []string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	fo, err := DialFailover(ctx, chain, urls, timeout, logger)
	if err != nil {
		return nil, err
	}
	return &Client{chain: chain, rpc: fo, logger: logger}, nil
}

// Chain returns the chain this client talks to.
func (c *Client) Chain() Chain {
	return c.chain
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, wrapRPC(err, "eth_blockNumber")
	}
	return uint64(head), nil
}

// ChainID returns the chain identifier used for transaction signing.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.rpc.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, wrapRPC(err, "eth_chainId")
	}
	return (*big.Int)(&id), nil
}

// PendingNonce returns the account's next nonce including pending txs.
func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	var nonce hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &nonce, "eth_getTransactionCount", account, "pending"); err != nil {
		return 0, wrapRPC(err, "eth_getTransactionCount")
	}
	return uint64(nonce), nil
}

// SuggestGasPrice returns the node's gas price estimate.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price hexutil.Big
	if err := c.rpc.CallContext(ctx, &price, "eth_gasPrice"); err != nil {
		return nil, wrapRPC(err, "eth_gasPrice")
	}
	return (*big.Int)(&price), nil
}

type callMsg struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

// EstimateGas asks the node for a gas limit covering the given call.
func (c *Client) EstimateGas(ctx context.Context, from common.Address, to *common.Address, data []byte, value *big.Int) (uint64, error) {
	msg := callMsg{From: from, To: to, Data: data}
	if value != nil && value.Sign() > 0 {
		msg.Value = (*hexutil.Big)(value)
	}
	var gas hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &gas, "eth_estimateGas", msg); err != nil {
		return 0, wrapRPC(err, "eth_estimateGas")
	}
	return uint64(gas), nil
}

// SendRawTransaction broadcasts a signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return common.Hash{}, wrapRPC(err, "eth_sendRawTransaction")
	}
	return hash, nil
}

// TransactionReceipt fetches the inclusion receipt for a transaction.
// Returns (nil, nil) while the transaction is unknown or still pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var raw *rpcReceipt
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
		return nil, wrapRPC(err, "eth_getTransactionReceipt")
	}
	if raw == nil || raw.BlockNumber == nil {
		return nil, nil
	}

	receipt := &Receipt{
		TxHash:      raw.TransactionHash,
		Status:      uint64(raw.Status),
		BlockNumber: (*big.Int)(raw.BlockNumber).Uint64(),
		GasUsed:     uint64(raw.GasUsed),
	}
	if raw.L1BatchNumber != nil {
		batch := (*big.Int)(raw.L1BatchNumber).Int64()
		receipt.L1BatchNumber = &batch
	}
	return receipt, nil
}

// L1BatchDetails issues the zk-rollup zks_getL1BatchDetails call.
func (c *Client) L1BatchDetails(ctx context.Context, batch int64) (*L1BatchDetails, error) {
	var details *L1BatchDetails
	if err := c.rpc.CallContext(ctx, &details, "zks_getL1BatchDetails", batch); err != nil {
		return nil, wrapRPC(err, "zks_getL1BatchDetails")
	}
	return details, nil
}

// RawCall proxies an arbitrary JSON-RPC method through the failover pool.
func (c *Client) RawCall(ctx context.Context, result any, method string, params ...any) error {
	if err := c.rpc.CallContext(ctx, result, method, params...); err != nil {
		return wrapRPC(err, method)
	}
	return nil
}

// Close shuts the underlying transport down.
func (c *Client) Close() {
	c.rpc.Close()
}

// wrapRPC keeps already-classified transport errors intact and tags node-side
// JSON-RPC errors with the method that produced them.
func wrapRPC(err error, method string) error {
	if apperrors.Is(err, apperrors.CategoryRPC) || apperrors.Is(err, apperrors.CategoryConfig) {
		return err
	}
	return apperrors.RPCError(err, method)
}
