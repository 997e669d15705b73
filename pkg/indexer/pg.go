package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
)

// Mirror table rows. The relayer never writes these tables; the indexer owns
// them and this backend reads them verbatim. Hashes and addresses are bytea.

type messageSentRow struct {
	bun.BaseModel `bun:"table:message_sent_events,alias:mse"`

	ID              string    `bun:"id,pk,type:varchar(128)"`
	Chain           string    `bun:"chain,notnull,type:varchar(16)"`
	BlockNumber     int64     `bun:"block_number,notnull"`
	TransactionHash []byte    `bun:"transaction_hash,notnull,type:bytea"`
	Payload         []byte    `bun:"payload,notnull,type:bytea"`
	BlockTimestamp  time.Time `bun:"block_timestamp,notnull"`
}

type executedRow struct {
	ID              string `bun:"id,pk,type:varchar(128)"`
	BlockNumber     int64  `bun:"block_number,notnull"`
	TransactionHash []byte `bun:"transaction_hash,notnull,type:bytea"`
	VaultNonce      string `bun:"vault_nonce,notnull,type:numeric(78,0)"`
	Vault           []byte `bun:"vault,notnull,type:bytea"`
	Receiver        []byte `bun:"receiver,notnull,type:bytea"`
	Shares          string `bun:"shares,notnull,type:numeric(78,0)"`
}

func (r executedRow) toEvent() (ExecutedEvent, error) {
	nonce, ok := new(big.Int).SetString(r.VaultNonce, 10)
	if !ok {
		return ExecutedEvent{}, fmt.Errorf("event %s: vault nonce %q is not an integer", r.ID, r.VaultNonce)
	}
	shares, ok := new(big.Int).SetString(r.Shares, 10)
	if !ok {
		return ExecutedEvent{}, fmt.Errorf("event %s: shares %q is not an integer", r.ID, r.Shares)
	}
	return ExecutedEvent{
		ID:              r.ID,
		BlockNumber:     uint64(r.BlockNumber),
		TransactionHash: common.BytesToHash(r.TransactionHash),
		VaultNonce:      nonce,
		Vault:           common.BytesToAddress(r.Vault),
		Receiver:        common.BytesToAddress(r.Receiver),
		Shares:          shares,
	}, nil
}

type depositExecutedRow struct {
	bun.BaseModel `bun:"table:deposit_executed_events,alias:dee"`
	executedRow
}

type withdrawalExecutedRow struct {
	bun.BaseModel `bun:"table:message_withdrawal_executed_events,alias:wee"`
	executedRow
}

type withdrawalStateRow struct {
	bun.BaseModel `bun:"table:withdrawal_state_updated_events,alias:wse"`

	ID              string          `bun:"id,pk,type:varchar(128)"`
	BlockNumber     int64           `bun:"block_number,notnull"`
	TransactionHash []byte          `bun:"transaction_hash,notnull,type:bytea"`
	L1BatchNumber   int64           `bun:"l1_batch_number,notnull"`
	ExchangeRate    decimal.Decimal `bun:"exchange_rate,notnull,type:numeric(78,18)"`
	MessageCount    int             `bun:"message_count,notnull"`
}

// PgSource reads events from a read-only relational mirror of the indexer's
// tables over the shared bun connection pool.
type PgSource struct {
	db *bun.DB
}

// NewPgSource wraps an already-connected mirror database.
func NewPgSource(db *bun.DB) *PgSource {
	return &PgSource{db: db}
}

// chainOf maps a message-sent stream to its chain discriminator column value.
func chainOf(stream Stream) (string, error) {
	switch stream {
	case StreamEthereumMessageSent:
		return "ethereum", nil
	case StreamViaMessageSent:
		return "via", nil
	default:
		return "", fmt.Errorf("stream %q is not a message-sent stream", stream)
	}
}

// MessageSentEvents reads MessageSent rows over [fromBlock, toBlock] for the
// stream's chain, ordered by (block_number, id).
func (s *PgSource) MessageSentEvents(ctx context.Context, stream Stream, fromBlock, toBlock uint64, limit int) ([]MessageSentEvent, error) {
	if toBlock < fromBlock {
		return nil, nil
	}
	chain, err := chainOf(stream)
	if err != nil {
		return nil, apperrors.IndexerError(err, "invalid stream")
	}

	var rows []messageSentRow
	err = s.db.NewSelect().
		Model(&rows).
		Where("chain = ?", chain).
		Where("block_number >= ?", int64(fromBlock)).
		Where("block_number <= ?", int64(toBlock)).
		Order("block_number ASC", "id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, apperrors.IndexerError(err, "query message sent events")
	}

	events := make([]MessageSentEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, MessageSentEvent{
			ID:              r.ID,
			BlockNumber:     uint64(r.BlockNumber),
			TransactionHash: common.BytesToHash(r.TransactionHash),
			Payload:         r.Payload,
			BlockTimestamp:  r.BlockTimestamp,
		})
	}
	return events, nil
}

// ExecutedEvents reads executed rows over (fromBlock, toBlock], ordered by
// (block_number, id). fromBlock is exclusive: the executed stream advances
// cursors by strictly greater-than.
func (s *PgSource) ExecutedEvents(ctx context.Context, stream Stream, fromBlock, toBlock uint64, limit int) ([]ExecutedEvent, error) {
	if toBlock < fromBlock {
		return nil, nil
	}

	apply := func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("block_number > ?", int64(fromBlock)).
			Where("block_number <= ?", int64(toBlock)).
			Order("block_number ASC", "id ASC").
			Limit(limit)
	}

	switch stream {
	case StreamDepositExecuted:
		var rows []depositExecutedRow
		if err := apply(s.db.NewSelect().Model(&rows)).Scan(ctx); err != nil {
			return nil, apperrors.IndexerError(err, "query deposit executed events")
		}
		out := make([]executedRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.executedRow)
		}
		return executedEvents(out)
	case StreamWithdrawalExecuted:
		var rows []withdrawalExecutedRow
		if err := apply(s.db.NewSelect().Model(&rows)).Scan(ctx); err != nil {
			return nil, apperrors.IndexerError(err, "query withdrawal executed events")
		}
		out := make([]executedRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.executedRow)
		}
		return executedEvents(out)
	default:
		return nil, apperrors.IndexerError(fmt.Errorf("stream %q is not an executed stream", stream), "invalid stream")
	}
}

// ExecutedEventsByTxHashes resolves executed rows by transaction hash.
func (s *PgSource) ExecutedEventsByTxHashes(ctx context.Context, stream Stream, hashes []common.Hash) ([]ExecutedEvent, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	raw := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		raw = append(raw, h.Bytes())
	}

	switch stream {
	case StreamDepositExecuted:
		var rows []depositExecutedRow
		err := s.db.NewSelect().Model(&rows).
			Where("transaction_hash IN (?)", bun.In(raw)).
			Order("block_number ASC", "id ASC").
			Scan(ctx)
		if err != nil {
			return nil, apperrors.IndexerError(err, "query deposit executed events by hash")
		}
		out := make([]executedRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.executedRow)
		}
		return executedEvents(out)
	case StreamWithdrawalExecuted:
		var rows []withdrawalExecutedRow
		err := s.db.NewSelect().Model(&rows).
			Where("transaction_hash IN (?)", bun.In(raw)).
			Order("block_number ASC", "id ASC").
			Scan(ctx)
		if err != nil {
			return nil, apperrors.IndexerError(err, "query withdrawal executed events by hash")
		}
		out := make([]executedRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.executedRow)
		}
		return executedEvents(out)
	default:
		return nil, apperrors.IndexerError(fmt.Errorf("stream %q is not an executed stream", stream), "invalid stream")
	}
}

// WithdrawalStateEvents reads vault controller acknowledgements for the given
// batches up to maxBlock inclusive.
func (s *PgSource) WithdrawalStateEvents(ctx context.Context, l1BatchNumbers []int64, maxBlock uint64, limit int) ([]WithdrawalStateEvent, error) {
	if len(l1BatchNumbers) == 0 {
		return nil, nil
	}

	var rows []withdrawalStateRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("l1_batch_number IN (?)", bun.In(l1BatchNumbers)).
		Where("block_number <= ?", int64(maxBlock)).
		Order("block_number ASC", "id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, apperrors.IndexerError(err, "query withdrawal state events")
	}

	events := make([]WithdrawalStateEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, WithdrawalStateEvent{
			ID:              r.ID,
			BlockNumber:     uint64(r.BlockNumber),
			TransactionHash: common.BytesToHash(r.TransactionHash),
			L1BatchNumber:   r.L1BatchNumber,
			ExchangeRate:    r.ExchangeRate,
			MessageCount:    r.MessageCount,
		})
	}
	return events, nil
}

// Ping reports mirror reachability.
func (s *PgSource) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.IndexerError(err, "indexer mirror unreachable")
	}
	return nil
}

// Close releases the mirror connection pool.
func (s *PgSource) Close() error {
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return apperrors.IndexerError(err, "close indexer mirror")
	}
	return nil
}

func executedEvents(rows []executedRow) ([]ExecutedEvent, error) {
	events := make([]ExecutedEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := r.toEvent()
		if err != nil {
			return nil, apperrors.IndexerError(err, "decode executed event")
		}
		events = append(events, ev)
	}
	return events, nil
}
