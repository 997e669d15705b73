package relayer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vianetwork/bridge-relayer/pkg/db"
	"github.com/vianetwork/bridge-relayer/pkg/evm"
)

func TestL1BatchNumber_StampsFromReceipt(t *testing.T) {
	sc, store, _, origin, _ := newStageContext(db.OriginVia)

	sourceTx := common.HexToHash("0xaa01")
	store.MessagesMissingBatchNumberFunc = func(ctx context.Context, o db.Origin, limit int) ([]*db.BridgeMessage, error) {
		if o != db.OriginVia {
			t.Errorf("Expected origin via, got %s", o)
		}
		return []*db.BridgeMessage{{ID: 3, SourceTxHash: sourceTx.Bytes()}}, nil
	}
	batch := int64(42)
	origin.TransactionReceiptFunc = func(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
		if hash != sourceTx {
			t.Errorf("Expected receipt for %s, got %s", sourceTx.Hex(), hash.Hex())
		}
		return &evm.Receipt{TxHash: hash, Status: 1, BlockNumber: 90, L1BatchNumber: &batch}, nil
	}
	stamped := false
	store.SetL1BatchNumberFunc = func(ctx context.Context, id int64, b int64) error {
		stamped = true
		if id != 3 {
			t.Errorf("Expected id 3, got %d", id)
		}
		if b != 42 {
			t.Errorf("Expected batch 42, got %d", b)
		}
		return nil
	}

	progressed, err := NewL1BatchNumber(sc).Handle(context.Background())
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !progressed {
		t.Error("Expected progress")
	}
	if !stamped {
		t.Error("Expected the batch number to be stamped")
	}
}

func TestL1BatchNumber_WaitsForSeal(t *testing.T) {
	for name, receipt := range map[string]*evm.Receipt{
		"no receipt":      nil,
		"no batch number": {TxHash: common.HexToHash("0xaa01"), Status: 1, BlockNumber: 90},
	} {
		t.Run(name, func(t *testing.T) {
			sc, store, _, origin, _ := newStageContext(db.OriginVia)

			store.MessagesMissingBatchNumberFunc = func(ctx context.Context, o db.Origin, limit int) ([]*db.BridgeMessage, error) {
				return []*db.BridgeMessage{{ID: 3, SourceTxHash: common.HexToHash("0xaa01").Bytes()}}, nil
			}
			origin.TransactionReceiptFunc = func(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
				return receipt, nil
			}
			store.SetL1BatchNumberFunc = func(ctx context.Context, id int64, b int64) error {
				t.Errorf("Expected no stamp, got batch %d", b)
				return nil
			}

			progressed, err := NewL1BatchNumber(sc).Handle(context.Background())
			if err != nil {
				t.Fatalf("Handle failed: %v", err)
			}
			if progressed {
				t.Error("Expected no progress while the batch is unsealed")
			}
		})
	}
}
