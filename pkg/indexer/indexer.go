// Package indexer reads bridge events from the external subgraph. Two
// interchangeable backends exist: a read-only relational mirror of the
// indexer's tables (pg.go) and a remote query endpoint (graph.go). Both
// return events ordered by (blockNumber ASC, id ASC).
package indexer

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Stream identifies one indexer event stream. Stream names double as the
// cursor keys persisted in event_cursors.
type Stream string

const (
	// StreamEthereumMessageSent are MessageSent events emitted by the L1 bridge.
	StreamEthereumMessageSent Stream = "ethereum_message_sent"
	// StreamViaMessageSent are MessageSent events emitted by the L2 bridge.
	StreamViaMessageSent Stream = "via_message_sent"
	// StreamDepositExecuted are DepositExecuted events on Via, emitted when an
	// Ethereum-origin deposit lands on L2.
	StreamDepositExecuted Stream = "deposit_executed"
	// StreamWithdrawalExecuted are MessageWithdrawalExecuted events on
	// Ethereum, emitted when a Via-origin withdrawal lands on L1.
	StreamWithdrawalExecuted Stream = "message_withdrawal_executed"
	// StreamWithdrawalStateUpdated are WithdrawalStateUpdated events emitted by
	// the L1 vault controller.
	StreamWithdrawalStateUpdated Stream = "withdrawal_state_updated"
)

// MessageSentEvent is a bridge message emitted on an origin chain.
type MessageSentEvent struct {
	ID              string
	BlockNumber     uint64
	TransactionHash common.Hash
	Payload         []byte
	BlockTimestamp  time.Time
}

// ExecutedEvent is the destination-chain execution of a bridge message.
// Vault fields are populated for withdrawal executions.
type ExecutedEvent struct {
	ID              string
	BlockNumber     uint64
	TransactionHash common.Hash
	VaultNonce      *big.Int
	Vault           common.Address
	Receiver        common.Address
	Shares          *big.Int
}

// WithdrawalStateEvent is the vault controller acknowledging a settled batch.
type WithdrawalStateEvent struct {
	ID              string
	BlockNumber     uint64
	TransactionHash common.Hash
	L1BatchNumber   int64
	ExchangeRate    decimal.Decimal
	MessageCount    int
}

// Source is the event-read capability the relayer stages consume. Callers
// pass the confirmation ceiling explicitly: toBlock must already be
// head − requiredConfirmations.
//
// fromBlock is inclusive for MessageSent streams and exclusive for the
// executed streams, whose consumers advance cursors by strictly greater-than.
type Source interface {
	// MessageSentEvents reads a MessageSent stream over [fromBlock, toBlock].
	MessageSentEvents(ctx context.Context, stream Stream, fromBlock, toBlock uint64, limit int) ([]MessageSentEvent, error)
	// ExecutedEvents reads an executed stream over (fromBlock, toBlock].
	ExecutedEvents(ctx context.Context, stream Stream, fromBlock, toBlock uint64, limit int) ([]ExecutedEvent, error)
	// ExecutedEventsByTxHashes resolves executed events by their transaction
	// hashes, in any order; unmatched hashes are simply absent.
	ExecutedEventsByTxHashes(ctx context.Context, stream Stream, hashes []common.Hash) ([]ExecutedEvent, error)
	// WithdrawalStateEvents reads vault controller acknowledgements for the
	// given batches up to maxBlock inclusive.
	WithdrawalStateEvents(ctx context.Context, l1BatchNumbers []int64, maxBlock uint64, limit int) ([]WithdrawalStateEvent, error)
	// Ping reports backend reachability for readiness checks.
	Ping(ctx context.Context) error
	Close() error
}

func isMessageSentStream(s Stream) bool {
	return s == StreamEthereumMessageSent || s == StreamViaMessageSent
}

func isExecutedStream(s Stream) bool {
	return s == StreamDepositExecuted || s == StreamWithdrawalExecuted
}
