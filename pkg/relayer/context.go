// Package relayer drives bridge messages through their lifecycle: observe
// MessageSent on one chain, deliver the payload on the other, then track the
// result through L2 batching and L1 vault settlement. One worker runs per
// (origin, stage) pair.
package relayer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/pkg/db"
	"github.com/vianetwork/bridge-relayer/pkg/evm"
	"github.com/vianetwork/bridge-relayer/pkg/indexer"
)

// Store is the persistence surface the stages drive. *db.Store satisfies it.
type Store interface {
	UpsertMessage(ctx context.Context, m *db.BridgeMessage) (*db.BridgeMessage, error)
	FindBySourceHash(ctx context.Context, hash []byte) (*db.BridgeMessage, error)
	FindByDestHash(ctx context.Context, hash []byte) (*db.BridgeMessage, error)
	CountByStatus(ctx context.Context, status db.MessageStatus, origin db.Origin) (int, error)
	LastOriginBlock(ctx context.Context, origin db.Origin) (uint64, error)
	LastDestBlock(ctx context.Context, origin db.Origin) (uint64, error)
	MessagesMissingBatchNumber(ctx context.Context, origin db.Origin, limit int) ([]*db.BridgeMessage, error)
	MessagesWithBatchNumber(ctx context.Context, origin db.Origin, limit int) ([]*db.BridgeMessage, error)
	UpdateStatusBatch(ctx context.Context, ids []int64, newStatus db.MessageStatus) error
	Finalize(ctx context.Context, id int64, destBlock uint64) error
	SetL1BatchNumber(ctx context.Context, id int64, batch int64) error
	MarkVaultUpdated(ctx context.Context, ids []int64, batchID int64) error
	StalePending(ctx context.Context, origin db.Origin, olderThan time.Duration, limit int) ([]*db.BridgeMessage, error)
	DistinctL1Batches(ctx context.Context, origin db.Origin, statuses []db.MessageStatus, limit int) ([]int64, error)
	MessagesInL1Batch(ctx context.Context, origin db.Origin, batch int64, statuses []db.MessageStatus) ([]*db.BridgeMessage, error)
	CreateVaultBatch(ctx context.Context, b *db.VaultControllerBatch) (*db.VaultControllerBatch, error)
	VaultBatchesByStatus(ctx context.Context, status db.BatchStatus, limit int) ([]*db.VaultControllerBatch, error)
	UpdateVaultBatchStatus(ctx context.Context, id int64, status db.BatchStatus) error
	StaleVaultBatches(ctx context.Context, olderThan time.Duration, limit int) ([]*db.VaultControllerBatch, error)
	Cursor(ctx context.Context, stream string) (int64, error)
	UpdateCursor(ctx context.Context, stream string, ordinal int64) error
}

// ChainClient is the per-chain surface the stages consume: head and receipt
// reads plus signed broadcasts. *evm.Sender satisfies it.
type ChainClient interface {
	Address() common.Address
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*evm.Receipt, error)
	L1BatchDetails(ctx context.Context, batch int64) (*evm.L1BatchDetails, error)
	SendRaw(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error)
	SendContractCall(ctx context.Context, contract common.Address, method string, args ...any) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*evm.Receipt, error)
}

// Stage names one lifecycle step of the relay pipeline.
type Stage string

const (
	StageBridgeInitiated        Stage = "bridge_initiated"
	StageBridgeFinalize         Stage = "bridge_finalize"
	StageL1BatchNumber          Stage = "l1_batch_number"
	StageVaultControllerUpdate  Stage = "vault_controller_update"
	StageWithdrawalStateUpdated Stage = "withdrawal_state_updated"
	StageL1BatchFinalized       Stage = "l1_batch_finalized"
	StageStalePendingReconciler Stage = "stale_pending_reconciler"
)

// Handler is one relay stage bound to one origin. Handle reports whether it
// advanced at least one row; a progressing handler is polled again without
// sleeping. Per-item failures are isolated inside Handle: an error return
// means the whole iteration failed.
type Handler interface {
	Stage() Stage
	Origin() db.Origin
	Handle(ctx context.Context) (bool, error)
}

// StageContext aggregates the dependencies one pipeline direction shares.
// Origin is the chain whose MessageSent stream this direction consumes;
// DestChain is the opposite chain, where the relayer broadcasts.
type StageContext struct {
	Origin db.Origin
	Store  Store
	Source indexer.Source

	OriginChain ChainClient
	DestChain   ChainClient

	// DestBridge is the destination bridge contract receiving payloads.
	DestBridge common.Address

	OriginConfirmations     uint64
	DestConfirmations       uint64
	WithdrawalConfirmations uint64

	BatchSize      int
	PendingTimeout time.Duration

	Logger *zap.Logger
}

// NewHandler builds the handler for one (stage, origin) pair.
func NewHandler(stage Stage, sc *StageContext) (Handler, error) {
	switch stage {
	case StageBridgeInitiated:
		return NewBridgeInitiated(sc), nil
	case StageBridgeFinalize:
		return NewBridgeFinalize(sc), nil
	case StageL1BatchNumber:
		return NewL1BatchNumber(sc), nil
	case StageVaultControllerUpdate:
		return NewVaultControllerUpdate(sc), nil
	case StageWithdrawalStateUpdated:
		return NewWithdrawalStateUpdated(sc), nil
	case StageL1BatchFinalized:
		return NewL1BatchFinalized(sc), nil
	case StageStalePendingReconciler:
		return NewStalePendingReconciler(sc), nil
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

// messageSentStream maps an origin to its MessageSent stream.
func messageSentStream(origin db.Origin) indexer.Stream {
	if origin == db.OriginVia {
		return indexer.StreamViaMessageSent
	}
	return indexer.StreamEthereumMessageSent
}

// executedStream maps an origin to the destination-side executed stream:
// deposits execute on Via, withdrawals on Ethereum.
func executedStream(origin db.Origin) indexer.Stream {
	if origin == db.OriginVia {
		return indexer.StreamWithdrawalExecuted
	}
	return indexer.StreamDepositExecuted
}

func eventTypeFor(origin db.Origin) string {
	if origin == db.OriginVia {
		return db.EventTypeWithdrawal
	}
	return db.EventTypeDeposit
}

// confirmedCeiling clamps head − depth at zero for young chains.
func confirmedCeiling(head, depth uint64) uint64 {
	if head < depth {
		return 0
	}
	return head - depth
}
