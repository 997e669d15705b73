package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
	"github.com/vianetwork/bridge-relayer/pkg/db/dao"
)

// Store provides the relayer's persistence operations over the owned tables.
// Every multi-row mutation runs in a single transaction.
type Store struct {
	db *bun.DB
}

// NewStore creates a store over an established bun connection
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.StoreError(err, apperrors.StoreNotConnected, "ping")
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// classify maps driver errors onto the coarse store error kinds.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
		return apperrors.StoreError(err, apperrors.StoreConflict, op)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return apperrors.StoreError(err, apperrors.StoreNotConnected, op)
	}
	return apperrors.StoreError(err, apperrors.StoreIo, op)
}

// UpsertMessage inserts the message unless its source hash is already known
// and returns the stored row either way.
func (s *Store) UpsertMessage(ctx context.Context, m *BridgeMessage) (*BridgeMessage, error) {
	d := toMessageDao(m)
	_, err := s.db.NewInsert().
		Model(d).
		On("CONFLICT (source_tx_hash) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, classify(err, "upsert message")
	}

	stored, err := s.FindBySourceHash(ctx, m.SourceTxHash)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, apperrors.StoreError(nil, apperrors.StoreIo, "upserted message not found")
	}
	return stored, nil
}

func (s *Store) findOne(ctx context.Context, column string, value any) (*BridgeMessage, error) {
	d := new(dao.BridgeMessageDao)
	err := s.db.NewSelect().
		Model(d).
		Where(column+" = ?", value).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "find message by "+column)
	}
	return toMessage(d), nil
}

// FindBySourceHash returns the message emitted by the given origin-chain
// transaction, nil when absent.
func (s *Store) FindBySourceHash(ctx context.Context, hash []byte) (*BridgeMessage, error) {
	return s.findOne(ctx, "source_tx_hash", hash)
}

// FindByDestHash returns the message whose relayer broadcast has the given
// hash, nil when absent.
func (s *Store) FindByDestHash(ctx context.Context, hash []byte) (*BridgeMessage, error) {
	return s.findOne(ctx, "dest_tx_hash", hash)
}

// FindBySubgraphID returns the message created from the given indexer event,
// nil when absent.
func (s *Store) FindBySubgraphID(ctx context.Context, id string) (*BridgeMessage, error) {
	return s.findOne(ctx, "subgraph_id", id)
}

// MessagesByStatus returns up to limit messages in createdAt order.
// maxOriginBlock of 0 disables the block ceiling.
func (s *Store) MessagesByStatus(ctx context.Context, status MessageStatus, origin Origin, limit int, maxOriginBlock uint64) ([]*BridgeMessage, error) {
	var daos []dao.BridgeMessageDao
	q := s.db.NewSelect().
		Model(&daos).
		Where("status = ?", string(status)).
		Where("origin = ?", string(origin))
	if maxOriginBlock > 0 {
		q = q.Where("origin_block <= ?", int64(maxOriginBlock))
	}
	err := q.Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, classify(err, "messages by status")
	}
	return toMessages(daos), nil
}

// CountByStatus reports how many messages of an origin sit in a status.
func (s *Store) CountByStatus(ctx context.Context, status MessageStatus, origin Origin) (int, error) {
	count, err := s.db.NewSelect().
		Model((*dao.BridgeMessageDao)(nil)).
		Where("status = ?", string(status)).
		Where("origin = ?", string(origin)).
		Count(ctx)
	if err != nil {
		return 0, classify(err, "count by status")
	}
	return count, nil
}

// LastOriginBlock returns the highest observed source block for an origin,
// 0 when no rows exist.
func (s *Store) LastOriginBlock(ctx context.Context, origin Origin) (uint64, error) {
	var last sql.NullInt64
	err := s.db.NewSelect().
		Model((*dao.BridgeMessageDao)(nil)).
		ColumnExpr("max(origin_block)").
		Where("origin = ?", string(origin)).
		Scan(ctx, &last)
	if err != nil {
		return 0, classify(err, "last origin block")
	}
	if !last.Valid || last.Int64 < 0 {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

// LastDestBlock returns the highest finalized destination block for an
// origin, 0 when no rows exist.
func (s *Store) LastDestBlock(ctx context.Context, origin Origin) (uint64, error) {
	var last sql.NullInt64
	err := s.db.NewSelect().
		Model((*dao.BridgeMessageDao)(nil)).
		ColumnExpr("max(dest_block)").
		Where("origin = ?", string(origin)).
		Where("status = ?", string(StatusFinalized)).
		Scan(ctx, &last)
	if err != nil {
		return 0, classify(err, "last dest block")
	}
	if !last.Valid || last.Int64 < 0 {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

// MessagesMissingBatchNumber returns finalized messages not yet stamped with
// an L1 batch number.
func (s *Store) MessagesMissingBatchNumber(ctx context.Context, origin Origin, limit int) ([]*BridgeMessage, error) {
	var daos []dao.BridgeMessageDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("status = ?", string(StatusFinalized)).
		Where("origin = ?", string(origin)).
		Where("l1_batch_number IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, classify(err, "messages missing batch number")
	}
	return toMessages(daos), nil
}

// MessagesWithBatchNumber returns finalized stamped messages in batch-number
// order, ready for vault settlement.
func (s *Store) MessagesWithBatchNumber(ctx context.Context, origin Origin, limit int) ([]*BridgeMessage, error) {
	var daos []dao.BridgeMessageDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("status = ?", string(StatusFinalized)).
		Where("origin = ?", string(origin)).
		Where("l1_batch_number IS NOT NULL").
		Order("l1_batch_number ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, classify(err, "messages with batch number")
	}
	return toMessages(daos), nil
}

// UpdateStatusBatch moves all given messages to newStatus atomically.
func (s *Store) UpdateStatusBatch(ctx context.Context, ids []int64, newStatus MessageStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.NewUpdate().
		Model((*dao.BridgeMessageDao)(nil)).
		Set("status = ?", string(newStatus)).
		Set("updated_at = now()").
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	return classify(err, "update status batch")
}

// Finalize records the destination inclusion block and advances the row.
func (s *Store) Finalize(ctx context.Context, id int64, destBlock uint64) error {
	_, err := s.db.NewUpdate().
		Model((*dao.BridgeMessageDao)(nil)).
		Set("status = ?", string(StatusFinalized)).
		Set("dest_block = ?", int64(destBlock)).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	return classify(err, "finalize message")
}

// SetL1BatchNumber stamps the L2 receipt's batch number onto the message.
func (s *Store) SetL1BatchNumber(ctx context.Context, id int64, batch int64) error {
	_, err := s.db.NewUpdate().
		Model((*dao.BridgeMessageDao)(nil)).
		Set("l1_batch_number = ?", batch).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	return classify(err, "set l1 batch number")
}

// LinkToBatch attaches the messages to a vault controller batch atomically.
func (s *Store) LinkToBatch(ctx context.Context, ids []int64, batchID int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.NewUpdate().
		Model((*dao.BridgeMessageDao)(nil)).
		Set("vault_batch_id = ?", batchID).
		Set("updated_at = now()").
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	return classify(err, "link to batch")
}

// MarkVaultUpdated links the messages to the batch and advances them to
// vault_updated in one transaction.
func (s *Store) MarkVaultUpdated(ctx context.Context, ids []int64, batchID int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model((*dao.BridgeMessageDao)(nil)).
			Set("vault_batch_id = ?", batchID).
			Set("updated_at = now()").
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*dao.BridgeMessageDao)(nil)).
			Set("status = ?", string(StatusVaultUpdated)).
			Set("updated_at = now()").
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		return err
	})
	return classify(err, "mark vault updated")
}

// StalePending returns pending messages older than the timeout in createdAt
// order. A zero timeout matches every pending row.
func (s *Store) StalePending(ctx context.Context, origin Origin, olderThan time.Duration, limit int) ([]*BridgeMessage, error) {
	var daos []dao.BridgeMessageDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("status = ?", string(StatusPending)).
		Where("origin = ?", string(origin)).
		Where("created_at <= ?", time.Now().UTC().Add(-olderThan)).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, classify(err, "stale pending")
	}
	return toMessages(daos), nil
}

// DistinctL1Batches returns the batch numbers carried by messages in the
// given statuses, ascending.
func (s *Store) DistinctL1Batches(ctx context.Context, origin Origin, statuses []MessageStatus, limit int) ([]int64, error) {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}
	var batches []int64
	err := s.db.NewSelect().
		Model((*dao.BridgeMessageDao)(nil)).
		ColumnExpr("DISTINCT l1_batch_number").
		Where("origin = ?", string(origin)).
		Where("status IN (?)", bun.In(vals)).
		Where("l1_batch_number IS NOT NULL").
		OrderExpr("l1_batch_number ASC").
		Limit(limit).
		Scan(ctx, &batches)
	if err != nil {
		return nil, classify(err, "distinct l1 batches")
	}
	return batches, nil
}

// MessagesInL1Batch returns the messages of one batch restricted to the
// given statuses.
func (s *Store) MessagesInL1Batch(ctx context.Context, origin Origin, batch int64, statuses []MessageStatus) ([]*BridgeMessage, error) {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}
	var daos []dao.BridgeMessageDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("origin = ?", string(origin)).
		Where("l1_batch_number = ?", batch).
		Where("status IN (?)", bun.In(vals)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err, "messages in l1 batch")
	}
	return toMessages(daos), nil
}

// CreateVaultBatch persists a new settlement batch and returns it with its
// assigned id.
func (s *Store) CreateVaultBatch(ctx context.Context, b *VaultControllerBatch) (*VaultControllerBatch, error) {
	d := toBatchDao(b)
	_, err := s.db.NewInsert().
		Model(d).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, classify(err, "create vault batch")
	}
	return toBatch(d)
}

// VaultBatchesByStatus returns batches in createdAt order.
func (s *Store) VaultBatchesByStatus(ctx context.Context, status BatchStatus, limit int) ([]*VaultControllerBatch, error) {
	var daos []dao.VaultControllerBatchDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("status = ?", string(status)).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, classify(err, "vault batches by status")
	}
	out := make([]*VaultControllerBatch, 0, len(daos))
	for i := range daos {
		b, err := toBatch(&daos[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// UpdateVaultBatchStatus moves one batch to the given status.
func (s *Store) UpdateVaultBatchStatus(ctx context.Context, id int64, status BatchStatus) error {
	_, err := s.db.NewUpdate().
		Model((*dao.VaultControllerBatchDao)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	return classify(err, "update vault batch status")
}

// StaleVaultBatches returns pending batches older than the timeout.
func (s *Store) StaleVaultBatches(ctx context.Context, olderThan time.Duration, limit int) ([]*VaultControllerBatch, error) {
	var daos []dao.VaultControllerBatchDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("status = ?", string(BatchStatusPending)).
		Where("created_at <= ?", time.Now().UTC().Add(-olderThan)).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, classify(err, "stale vault batches")
	}
	out := make([]*VaultControllerBatch, 0, len(daos))
	for i := range daos {
		b, err := toBatch(&daos[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Cursor returns the last processed ordinal of a stream, 0 when unset.
func (s *Store) Cursor(ctx context.Context, stream string) (int64, error) {
	d := new(dao.EventCursorDao)
	err := s.db.NewSelect().
		Model(d).
		Where("stream_name = ?", stream).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classify(err, "get cursor")
	}
	return d.LastOrdinal, nil
}

// UpdateCursor advances a stream cursor. Regressions are silently clamped:
// the stored ordinal never decreases.
func (s *Store) UpdateCursor(ctx context.Context, stream string, ordinal int64) error {
	d := &dao.EventCursorDao{StreamName: stream, LastOrdinal: ordinal}
	_, err := s.db.NewInsert().
		Model(d).
		On("CONFLICT (stream_name) DO UPDATE").
		Set("last_ordinal = GREATEST(ec.last_ordinal, EXCLUDED.last_ordinal)").
		Set("updated_at = now()").
		Exec(ctx)
	return classify(err, "update cursor")
}

func toMessageDao(m *BridgeMessage) *dao.BridgeMessageDao {
	d := &dao.BridgeMessageDao{
		ID:            m.ID,
		Origin:        string(m.Origin),
		Status:        string(m.Status),
		SourceTxHash:  m.SourceTxHash,
		DestTxHash:    m.DestTxHash,
		OriginBlock:   int64(m.OriginBlock),
		L1BatchNumber: m.L1BatchNumber,
		Payload:       m.Payload,
		EventType:     m.EventType,
		SubgraphID:    m.SubgraphID,
		VaultBatchID:  m.VaultBatchID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.DestBlock != nil {
		v := int64(*m.DestBlock)
		d.DestBlock = &v
	}
	return d
}

func toMessage(d *dao.BridgeMessageDao) *BridgeMessage {
	m := &BridgeMessage{
		ID:            d.ID,
		Origin:        Origin(d.Origin),
		Status:        MessageStatus(d.Status),
		SourceTxHash:  d.SourceTxHash,
		DestTxHash:    d.DestTxHash,
		OriginBlock:   uint64(d.OriginBlock),
		L1BatchNumber: d.L1BatchNumber,
		Payload:       d.Payload,
		EventType:     d.EventType,
		SubgraphID:    d.SubgraphID,
		VaultBatchID:  d.VaultBatchID,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if d.DestBlock != nil {
		v := uint64(*d.DestBlock)
		m.DestBlock = &v
	}
	return m
}

func toMessages(daos []dao.BridgeMessageDao) []*BridgeMessage {
	out := make([]*BridgeMessage, len(daos))
	for i := range daos {
		out[i] = toMessage(&daos[i])
	}
	return out
}

func toBatchDao(b *VaultControllerBatch) *dao.VaultControllerBatchDao {
	return &dao.VaultControllerBatchDao{
		ID:               b.ID,
		TransactionHash:  b.TransactionHash,
		L1BatchNumber:    b.L1BatchNumber,
		TotalShares:      b.TotalShares.String(),
		MessageHashCount: b.MessageHashCount,
		Status:           string(b.Status),
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func toBatch(d *dao.VaultControllerBatchDao) (*VaultControllerBatch, error) {
	shares, err := decimal.NewFromString(d.TotalShares)
	if err != nil {
		return nil, apperrors.StoreError(err, apperrors.StoreIo, "parse total shares")
	}
	return &VaultControllerBatch{
		ID:               d.ID,
		TransactionHash:  d.TransactionHash,
		L1BatchNumber:    d.L1BatchNumber,
		TotalShares:      shares,
		MessageHashCount: d.MessageHashCount,
		Status:           BatchStatus(d.Status),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}, nil
}
