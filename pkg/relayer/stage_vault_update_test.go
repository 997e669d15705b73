package relayer

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vianetwork/bridge-relayer/pkg/db"
	"github.com/vianetwork/bridge-relayer/pkg/evm"
	"github.com/vianetwork/bridge-relayer/pkg/evm/contracts"
	"github.com/vianetwork/bridge-relayer/pkg/indexer"
)

func TestVaultControllerUpdate_SettlesGroupedWithdrawals(t *testing.T) {
	sc, store, source, _, dest := newStageContext(db.OriginVia)

	batch42, batch43 := int64(42), int64(43)
	vault1 := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	vault2 := common.HexToAddress("0x00000000000000000000000000000000000000f2")
	d1, d2, d3 := common.HexToHash("0xd1"), common.HexToHash("0xd2"), common.HexToHash("0xd3")

	store.MessagesWithBatchNumberFunc = func(ctx context.Context, origin db.Origin, limit int) ([]*db.BridgeMessage, error) {
		return []*db.BridgeMessage{
			{ID: 1, L1BatchNumber: &batch42, DestTxHash: d1.Bytes()},
			{ID: 2, L1BatchNumber: &batch42, DestTxHash: d2.Bytes()},
			{ID: 3, L1BatchNumber: &batch43, DestTxHash: d3.Bytes()},
		}, nil
	}
	receiver := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	source.ExecutedEventsByTxHashesFunc = func(ctx context.Context, stream indexer.Stream, hashes []common.Hash) ([]indexer.ExecutedEvent, error) {
		if stream != indexer.StreamWithdrawalExecuted {
			t.Errorf("Expected stream %s, got %s", indexer.StreamWithdrawalExecuted, stream)
		}
		if len(hashes) != 3 {
			t.Errorf("Expected 3 hashes, got %d", len(hashes))
		}
		return []indexer.ExecutedEvent{
			{TransactionHash: d1, VaultNonce: big.NewInt(7), Vault: vault1, Receiver: receiver, Shares: big.NewInt(500)},
			{TransactionHash: d2, VaultNonce: big.NewInt(8), Vault: vault1, Receiver: receiver, Shares: big.NewInt(250)},
			{TransactionHash: d3, VaultNonce: big.NewInt(9), Vault: vault2, Receiver: receiver, Shares: big.NewInt(100)},
		}, nil
	}

	type call struct {
		contract common.Address
		batch    *big.Int
		hashes   [][32]byte
		total    *big.Int
	}
	var calls []call
	txHashes := []common.Hash{common.HexToHash("0xe1"), common.HexToHash("0xe2")}
	dest.SendContractCallFunc = func(ctx context.Context, contract common.Address, method string, args ...any) (common.Hash, error) {
		if method != "updateWithdrawalState" {
			t.Errorf("Expected method updateWithdrawalState, got %s", method)
		}
		calls = append(calls, call{
			contract: contract,
			hashes:   args[0].([][32]byte),
			batch:    args[1].(*big.Int),
			total:    args[2].(*big.Int),
		})
		return txHashes[len(calls)-1], nil
	}
	dest.WaitMinedFunc = func(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
		return &evm.Receipt{TxHash: hash, Status: 1, BlockNumber: 500}, nil
	}

	var created []*db.VaultControllerBatch
	store.CreateVaultBatchFunc = func(ctx context.Context, b *db.VaultControllerBatch) (*db.VaultControllerBatch, error) {
		out := *b
		out.ID = int64(11 + len(created))
		created = append(created, &out)
		return &out, nil
	}
	type link struct {
		ids     []int64
		batchID int64
	}
	var links []link
	store.MarkVaultUpdatedFunc = func(ctx context.Context, ids []int64, batchID int64) error {
		links = append(links, link{ids: ids, batchID: batchID})
		return nil
	}

	progressed, err := NewVaultControllerUpdate(sc).Handle(context.Background())
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !progressed {
		t.Error("Expected progress")
	}

	if len(calls) != 2 {
		t.Fatalf("Expected 2 settlement calls, got %d", len(calls))
	}
	if calls[0].contract != vault1 || calls[0].batch.Int64() != 42 {
		t.Errorf("Expected first call to vault1 for batch 42, got %s batch %s", calls[0].contract.Hex(), calls[0].batch)
	}
	if len(calls[0].hashes) != 2 || calls[0].total.Int64() != 750 {
		t.Errorf("Expected 2 hashes totalling 750, got %d totalling %s", len(calls[0].hashes), calls[0].total)
	}
	if calls[1].contract != vault2 || calls[1].batch.Int64() != 43 {
		t.Errorf("Expected second call to vault2 for batch 43, got %s batch %s", calls[1].contract.Hex(), calls[1].batch)
	}
	if len(calls[1].hashes) != 1 || calls[1].total.Int64() != 100 {
		t.Errorf("Expected 1 hash totalling 100, got %d totalling %s", len(calls[1].hashes), calls[1].total)
	}

	wantHash, err := contracts.WithdrawalMessageHash(big.NewInt(7), vault1, receiver, big.NewInt(500))
	if err != nil {
		t.Fatalf("WithdrawalMessageHash failed: %v", err)
	}
	if calls[0].hashes[0] != [32]byte(wantHash) {
		t.Error("Expected the first message hash to match the event fields")
	}

	if len(created) != 2 {
		t.Fatalf("Expected 2 vault batches, got %d", len(created))
	}
	if created[0].L1BatchNumber != 42 || created[0].MessageHashCount != 2 {
		t.Errorf("Expected batch row {42, 2 hashes}, got {%d, %d}", created[0].L1BatchNumber, created[0].MessageHashCount)
	}
	if created[0].TotalShares.String() != "750" {
		t.Errorf("Expected total shares 750, got %s", created[0].TotalShares)
	}
	if created[0].Status != db.BatchStatusPending {
		t.Errorf("Expected status pending, got %s", created[0].Status)
	}
	if !bytes.Equal(created[0].TransactionHash, txHashes[0].Bytes()) {
		t.Error("Expected the batch row to carry the settlement tx hash")
	}
	if created[1].TotalShares.String() != "100" {
		t.Errorf("Expected total shares 100, got %s", created[1].TotalShares)
	}

	if len(links) != 2 {
		t.Fatalf("Expected 2 link calls, got %d", len(links))
	}
	if len(links[0].ids) != 2 || links[0].ids[0] != 1 || links[0].ids[1] != 2 || links[0].batchID != 11 {
		t.Errorf("Expected messages 1,2 linked to batch 11, got %v -> %d", links[0].ids, links[0].batchID)
	}
	if len(links[1].ids) != 1 || links[1].ids[0] != 3 || links[1].batchID != 12 {
		t.Errorf("Expected message 3 linked to batch 12, got %v -> %d", links[1].ids, links[1].batchID)
	}
}

func TestVaultControllerUpdate_RevertKeepsMessagesFinalized(t *testing.T) {
	sc, store, source, _, dest := newStageContext(db.OriginVia)

	batch := int64(42)
	d1 := common.HexToHash("0xd1")
	store.MessagesWithBatchNumberFunc = func(ctx context.Context, origin db.Origin, limit int) ([]*db.BridgeMessage, error) {
		return []*db.BridgeMessage{{ID: 1, L1BatchNumber: &batch, DestTxHash: d1.Bytes()}}, nil
	}
	source.ExecutedEventsByTxHashesFunc = func(ctx context.Context, stream indexer.Stream, hashes []common.Hash) ([]indexer.ExecutedEvent, error) {
		return []indexer.ExecutedEvent{{
			TransactionHash: d1,
			VaultNonce:      big.NewInt(7),
			Vault:           common.HexToAddress("0xf1"),
			Receiver:        common.HexToAddress("0xaa"),
			Shares:          big.NewInt(500),
		}}, nil
	}
	dest.SendContractCallFunc = func(ctx context.Context, contract common.Address, method string, args ...any) (common.Hash, error) {
		return common.HexToHash("0xe1"), nil
	}
	dest.WaitMinedFunc = func(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
		return &evm.Receipt{TxHash: hash, Status: 0, BlockNumber: 500}, nil
	}
	store.CreateVaultBatchFunc = func(ctx context.Context, b *db.VaultControllerBatch) (*db.VaultControllerBatch, error) {
		t.Error("Expected no batch row after a revert")
		return b, nil
	}
	store.MarkVaultUpdatedFunc = func(ctx context.Context, ids []int64, batchID int64) error {
		t.Error("Expected no status change after a revert")
		return nil
	}

	progressed, err := NewVaultControllerUpdate(sc).Handle(context.Background())
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if progressed {
		t.Error("Expected no progress after a revert")
	}
}

func TestVaultControllerUpdate_WaitsForUnindexedEvents(t *testing.T) {
	sc, store, source, _, dest := newStageContext(db.OriginVia)

	batch := int64(42)
	store.MessagesWithBatchNumberFunc = func(ctx context.Context, origin db.Origin, limit int) ([]*db.BridgeMessage, error) {
		return []*db.BridgeMessage{{ID: 1, L1BatchNumber: &batch, DestTxHash: common.HexToHash("0xd1").Bytes()}}, nil
	}
	source.ExecutedEventsByTxHashesFunc = func(ctx context.Context, stream indexer.Stream, hashes []common.Hash) ([]indexer.ExecutedEvent, error) {
		return nil, nil
	}
	dest.SendContractCallFunc = func(ctx context.Context, contract common.Address, method string, args ...any) (common.Hash, error) {
		t.Error("Expected no settlement without an executed event")
		return common.Hash{}, nil
	}

	progressed, err := NewVaultControllerUpdate(sc).Handle(context.Background())
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if progressed {
		t.Error("Expected no progress")
	}
}
