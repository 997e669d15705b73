package relayer

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/pkg/db"
	"github.com/vianetwork/bridge-relayer/pkg/evm"
	"github.com/vianetwork/bridge-relayer/pkg/indexer"
)

// newStageContext wires one direction with fresh mocks.
func newStageContext(origin db.Origin) (*StageContext, *MockStore, *MockSource, *MockChain, *MockChain) {
	store := &MockStore{}
	source := &MockSource{}
	originChain := &MockChain{}
	destChain := &MockChain{}
	sc := &StageContext{
		Origin:                  origin,
		Store:                   store,
		Source:                  source,
		OriginChain:             originChain,
		DestChain:               destChain,
		DestBridge:              common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		OriginConfirmations:     6,
		DestConfirmations:       6,
		WithdrawalConfirmations: 6,
		BatchSize:               20,
		PendingTimeout:          30 * time.Minute,
		Logger:                  zap.NewNop(),
	}
	return sc, store, source, originChain, destChain
}

// MockStore is a func-field mock of the Store interface.
type MockStore struct {
	UpsertMessageFunc              func(ctx context.Context, m *db.BridgeMessage) (*db.BridgeMessage, error)
	FindBySourceHashFunc           func(ctx context.Context, hash []byte) (*db.BridgeMessage, error)
	FindByDestHashFunc             func(ctx context.Context, hash []byte) (*db.BridgeMessage, error)
	CountByStatusFunc              func(ctx context.Context, status db.MessageStatus, origin db.Origin) (int, error)
	LastOriginBlockFunc            func(ctx context.Context, origin db.Origin) (uint64, error)
	LastDestBlockFunc              func(ctx context.Context, origin db.Origin) (uint64, error)
	MessagesMissingBatchNumberFunc func(ctx context.Context, origin db.Origin, limit int) ([]*db.BridgeMessage, error)
	MessagesWithBatchNumberFunc    func(ctx context.Context, origin db.Origin, limit int) ([]*db.BridgeMessage, error)
	UpdateStatusBatchFunc          func(ctx context.Context, ids []int64, newStatus db.MessageStatus) error
	FinalizeFunc                   func(ctx context.Context, id int64, destBlock uint64) error
	SetL1BatchNumberFunc           func(ctx context.Context, id int64, batch int64) error
	MarkVaultUpdatedFunc           func(ctx context.Context, ids []int64, batchID int64) error
	StalePendingFunc               func(ctx context.Context, origin db.Origin, olderThan time.Duration, limit int) ([]*db.BridgeMessage, error)
	DistinctL1BatchesFunc          func(ctx context.Context, origin db.Origin, statuses []db.MessageStatus, limit int) ([]int64, error)
	MessagesInL1BatchFunc          func(ctx context.Context, origin db.Origin, batch int64, statuses []db.MessageStatus) ([]*db.BridgeMessage, error)
	CreateVaultBatchFunc           func(ctx context.Context, b *db.VaultControllerBatch) (*db.VaultControllerBatch, error)
	VaultBatchesByStatusFunc       func(ctx context.Context, status db.BatchStatus, limit int) ([]*db.VaultControllerBatch, error)
	UpdateVaultBatchStatusFunc     func(ctx context.Context, id int64, status db.BatchStatus) error
	StaleVaultBatchesFunc          func(ctx context.Context, olderThan time.Duration, limit int) ([]*db.VaultControllerBatch, error)
	CursorFunc                     func(ctx context.Context, stream string) (int64, error)
	UpdateCursorFunc               func(ctx context.Context, stream string, ordinal int64) error
}

func (m *MockStore) UpsertMessage(ctx context.Context, msg *db.BridgeMessage) (*db.BridgeMessage, error) {
	if m.UpsertMessageFunc != nil {
		return m.UpsertMessageFunc(ctx, msg)
	}
	return msg, nil
}

func (m *MockStore) FindBySourceHash(ctx context.Context, hash []byte) (*db.BridgeMessage, error) {
	if m.FindBySourceHashFunc != nil {
		return m.FindBySourceHashFunc(ctx, hash)
	}
	return nil, nil
}

func (m *MockStore) FindByDestHash(ctx context.Context, hash []byte) (*db.BridgeMessage, error) {
	if m.FindByDestHashFunc != nil {
		return m.FindByDestHashFunc(ctx, hash)
	}
	return nil, nil
}

func (m *MockStore) CountByStatus(ctx context.Context, status db.MessageStatus, origin db.Origin) (int, error) {
	if m.CountByStatusFunc != nil {
		return m.CountByStatusFunc(ctx, status, origin)
	}
	return 0, nil
}

func (m *MockStore) LastOriginBlock(ctx context.Context, origin db.Origin) (uint64, error) {
	if m.LastOriginBlockFunc != nil {
		return m.LastOriginBlockFunc(ctx, origin)
	}
	return 0, nil
}

func (m *MockStore) LastDestBlock(ctx context.Context, origin db.Origin) (uint64, error) {
	if m.LastDestBlockFunc != nil {
		return m.LastDestBlockFunc(ctx, origin)
	}
	return 0, nil
}

func (m *MockStore) MessagesMissingBatchNumber(ctx context.Context, origin db.Origin, limit int) ([]*db.BridgeMessage, error) {
	if m.MessagesMissingBatchNumberFunc != nil {
		return m.MessagesMissingBatchNumberFunc(ctx, origin, limit)
	}
	return nil, nil
}

func (m *MockStore) MessagesWithBatchNumber(ctx context.Context, origin db.Origin, limit int) ([]*db.BridgeMessage, error) {
	if m.MessagesWithBatchNumberFunc != nil {
		return m.MessagesWithBatchNumberFunc(ctx, origin, limit)
	}
	return nil, nil
}

func (m *MockStore) UpdateStatusBatch(ctx context.Context, ids []int64, newStatus db.MessageStatus) error {
	if m.UpdateStatusBatchFunc != nil {
		return m.UpdateStatusBatchFunc(ctx, ids, newStatus)
	}
	return nil
}

func (m *MockStore) Finalize(ctx context.Context, id int64, destBlock uint64) error {
	if m.FinalizeFunc != nil {
		return m.FinalizeFunc(ctx, id, destBlock)
	}
	return nil
}

func (m *MockStore) SetL1BatchNumber(ctx context.Context, id int64, batch int64) error {
	if m.SetL1BatchNumberFunc != nil {
		return m.SetL1BatchNumberFunc(ctx, id, batch)
	}
	return nil
}

func (m *MockStore) MarkVaultUpdated(ctx context.Context, ids []int64, batchID int64) error {
	if m.MarkVaultUpdatedFunc != nil {
		return m.MarkVaultUpdatedFunc(ctx, ids, batchID)
	}
	return nil
}

func (m *MockStore) StalePending(ctx context.Context, origin db.Origin, olderThan time.Duration, limit int) ([]*db.BridgeMessage, error) {
	if m.StalePendingFunc != nil {
		return m.StalePendingFunc(ctx, origin, olderThan, limit)
	}
	return nil, nil
}

func (m *MockStore) DistinctL1Batches(ctx context.Context, origin db.Origin, statuses []db.MessageStatus, limit int) ([]int64, error) {
	if m.DistinctL1BatchesFunc != nil {
		return m.DistinctL1BatchesFunc(ctx, origin, statuses, limit)
	}
	return nil, nil
}

func (m *MockStore) MessagesInL1Batch(ctx context.Context, origin db.Origin, batch int64, statuses []db.MessageStatus) ([]*db.BridgeMessage, error) {
	if m.MessagesInL1BatchFunc != nil {
		return m.MessagesInL1BatchFunc(ctx, origin, batch, statuses)
	}
	return nil, nil
}

func (m *MockStore) CreateVaultBatch(ctx context.Context, b *db.VaultControllerBatch) (*db.VaultControllerBatch, error) {
	if m.CreateVaultBatchFunc != nil {
		return m.CreateVaultBatchFunc(ctx, b)
	}
	return b, nil
}

func (m *MockStore) VaultBatchesByStatus(ctx context.Context, status db.BatchStatus, limit int) ([]*db.VaultControllerBatch, error) {
	if m.VaultBatchesByStatusFunc != nil {
		return m.VaultBatchesByStatusFunc(ctx, status, limit)
	}
	return nil, nil
}

func (m *MockStore) UpdateVaultBatchStatus(ctx context.Context, id int64, status db.BatchStatus) error {
	if m.UpdateVaultBatchStatusFunc != nil {
		return m.UpdateVaultBatchStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *MockStore) StaleVaultBatches(ctx context.Context, olderThan time.Duration, limit int) ([]*db.VaultControllerBatch, error) {
	if m.StaleVaultBatchesFunc != nil {
		return m.StaleVaultBatchesFunc(ctx, olderThan, limit)
	}
	return nil, nil
}

func (m *MockStore) Cursor(ctx context.Context, stream string) (int64, error) {
	if m.CursorFunc != nil {
		return m.CursorFunc(ctx, stream)
	}
	return 0, nil
}

func (m *MockStore) UpdateCursor(ctx context.Context, stream string, ordinal int64) error {
	if m.UpdateCursorFunc != nil {
		return m.UpdateCursorFunc(ctx, stream, ordinal)
	}
	return nil
}

// MockSource is a func-field mock of indexer.Source.
type MockSource struct {
	MessageSentEventsFunc        func(ctx context.Context, stream indexer.Stream, fromBlock, toBlock uint64, limit int) ([]indexer.MessageSentEvent, error)
	ExecutedEventsFunc           func(ctx context.Context, stream indexer.Stream, fromBlock, toBlock uint64, limit int) ([]indexer.ExecutedEvent, error)
	ExecutedEventsByTxHashesFunc func(ctx context.Context, stream indexer.Stream, hashes []common.Hash) ([]indexer.ExecutedEvent, error)
	WithdrawalStateEventsFunc    func(ctx context.Context, l1BatchNumbers []int64, maxBlock uint64, limit int) ([]indexer.WithdrawalStateEvent, error)
	PingFunc                     func(ctx context.Context) error
	CloseFunc                    func() error
}

func (m *MockSource) MessageSentEvents(ctx context.Context, stream indexer.Stream, fromBlock, toBlock uint64, limit int) ([]indexer.MessageSentEvent, error) {
	if m.MessageSentEventsFunc != nil {
		return m.MessageSentEventsFunc(ctx, stream, fromBlock, toBlock, limit)
	}
	return nil, nil
}

func (m *MockSource) ExecutedEvents(ctx context.Context, stream indexer.Stream, fromBlock, toBlock uint64, limit int) ([]indexer.ExecutedEvent, error) {
	if m.ExecutedEventsFunc != nil {
		return m.ExecutedEventsFunc(ctx, stream, fromBlock, toBlock, limit)
	}
	return nil, nil
}

func (m *MockSource) ExecutedEventsByTxHashes(ctx context.Context, stream indexer.Stream, hashes []common.Hash) ([]indexer.ExecutedEvent, error) {
	if m.ExecutedEventsByTxHashesFunc != nil {
		return m.ExecutedEventsByTxHashesFunc(ctx, stream, hashes)
	}
	return nil, nil
}

func (m *MockSource) WithdrawalStateEvents(ctx context.Context, l1BatchNumbers []int64, maxBlock uint64, limit int) ([]indexer.WithdrawalStateEvent, error) {
	if m.WithdrawalStateEventsFunc != nil {
		return m.WithdrawalStateEventsFunc(ctx, l1BatchNumbers, maxBlock, limit)
	}
	return nil, nil
}

func (m *MockSource) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockSource) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockChain is a func-field mock of ChainClient.
type MockChain struct {
	AddressFunc            func() common.Address
	BlockNumberFunc        func(ctx context.Context) (uint64, error)
	TransactionReceiptFunc func(ctx context.Context, hash common.Hash) (*evm.Receipt, error)
	L1BatchDetailsFunc     func(ctx context.Context, batch int64) (*evm.L1BatchDetails, error)
	SendRawFunc            func(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error)
	SendContractCallFunc   func(ctx context.Context, contract common.Address, method string, args ...any) (common.Hash, error)
	WaitMinedFunc          func(ctx context.Context, hash common.Hash) (*evm.Receipt, error)
}

func (m *MockChain) Address() common.Address {
	if m.AddressFunc != nil {
		return m.AddressFunc()
	}
	return common.Address{}
}

func (m *MockChain) BlockNumber(ctx context.Context) (uint64, error) {
	if m.BlockNumberFunc != nil {
		return m.BlockNumberFunc(ctx)
	}
	return 0, nil
}

func (m *MockChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
	if m.TransactionReceiptFunc != nil {
		return m.TransactionReceiptFunc(ctx, hash)
	}
	return nil, nil
}

func (m *MockChain) L1BatchDetails(ctx context.Context, batch int64) (*evm.L1BatchDetails, error) {
	if m.L1BatchDetailsFunc != nil {
		return m.L1BatchDetailsFunc(ctx, batch)
	}
	return nil, nil
}

func (m *MockChain) SendRaw(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	if m.SendRawFunc != nil {
		return m.SendRawFunc(ctx, to, data, value)
	}
	return common.Hash{}, nil
}

func (m *MockChain) SendContractCall(ctx context.Context, contract common.Address, method string, args ...any) (common.Hash, error) {
	if m.SendContractCallFunc != nil {
		return m.SendContractCallFunc(ctx, contract, method, args...)
	}
	return common.Hash{}, nil
}

func (m *MockChain) WaitMined(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
	if m.WaitMinedFunc != nil {
		return m.WaitMinedFunc(ctx, hash)
	}
	return nil, nil
}
