package relayer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/internal/metrics"
	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
	"github.com/vianetwork/bridge-relayer/pkg/db"
	"github.com/vianetwork/bridge-relayer/pkg/evm"
)

// StalePendingReconciler settles messages stuck in Pending past the
// configured timeout by consulting the destination chain directly: a missing
// receipt means the transaction was dropped, a reverted one means it failed,
// a successful one means the executed event was simply never indexed. For
// the Via direction it applies the same classification to aged vault
// controller batches.
type StalePendingReconciler struct {
	sc *StageContext
}

// NewStalePendingReconciler builds the stage; it runs for both directions.
func NewStalePendingReconciler(sc *StageContext) *StalePendingReconciler {
	return &StalePendingReconciler{sc: sc}
}

func (h *StalePendingReconciler) Stage() Stage { return StageStalePendingReconciler }

func (h *StalePendingReconciler) Origin() db.Origin { return h.sc.Origin }

func (h *StalePendingReconciler) Handle(ctx context.Context) (bool, error) {
	sc := h.sc

	progressed, err := h.sweepMessages(ctx)
	if err != nil {
		return progressed, err
	}

	if sc.Origin == db.OriginVia {
		batchProgress, err := h.sweepVaultBatches(ctx)
		if err != nil {
			return progressed || batchProgress, err
		}
		progressed = progressed || batchProgress
	}

	if count, err := sc.Store.CountByStatus(ctx, db.StatusPending, sc.Origin); err == nil {
		metrics.PendingMessages.WithLabelValues(string(sc.Origin)).Set(float64(count))
	}
	return progressed, nil
}

func (h *StalePendingReconciler) sweepMessages(ctx context.Context) (bool, error) {
	sc := h.sc

	stale, err := sc.Store.StalePending(ctx, sc.Origin, sc.PendingTimeout, sc.BatchSize)
	if err != nil {
		return false, err
	}

	progressed := false
	for _, m := range stale {
		if ctx.Err() != nil {
			return progressed, nil
		}
		if err := h.settleMessage(ctx, m); err != nil {
			sc.Logger.Error("Failed to reconcile stale message",
				zap.Int64("id", m.ID),
				zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues(string(StageStalePendingReconciler), apperrors.CategoryOf(err).String()).Inc()
			continue
		}
		progressed = true
	}
	return progressed, nil
}

func (h *StalePendingReconciler) settleMessage(ctx context.Context, m *db.BridgeMessage) error {
	sc := h.sc

	destTx := common.BytesToHash(m.DestTxHash)
	receipt, err := sc.DestChain.TransactionReceipt(ctx, destTx)
	if err != nil {
		return err
	}

	switch {
	case receipt == nil:
		if err := sc.Store.UpdateStatusBatch(ctx, []int64{m.ID}, db.StatusFailed); err != nil {
			return err
		}
		metrics.MessagesTotal.WithLabelValues(string(sc.Origin), string(db.StatusFailed)).Inc()
		sc.Logger.Warn("Stale transaction dropped",
			zap.Int64("id", m.ID),
			zap.String("dest_tx", destTx.Hex()))
	case receipt.Success():
		if err := sc.Store.Finalize(ctx, m.ID, receipt.BlockNumber); err != nil {
			return err
		}
		metrics.MessagesTotal.WithLabelValues(string(sc.Origin), string(db.StatusFinalized)).Inc()
		sc.Logger.Info("Stale message settled as finalized",
			zap.Int64("id", m.ID),
			zap.String("dest_tx", destTx.Hex()),
			zap.Uint64("dest_block", receipt.BlockNumber))
	default:
		if err := sc.Store.UpdateStatusBatch(ctx, []int64{m.ID}, db.StatusFailed); err != nil {
			return err
		}
		metrics.MessagesTotal.WithLabelValues(string(sc.Origin), string(db.StatusFailed)).Inc()
		sc.Logger.Warn("Stale transaction reverted",
			zap.Int64("id", m.ID),
			zap.String("dest_tx", destTx.Hex()))
	}
	return nil
}

func (h *StalePendingReconciler) sweepVaultBatches(ctx context.Context) (bool, error) {
	sc := h.sc

	stale, err := sc.Store.StaleVaultBatches(ctx, sc.PendingTimeout, sc.BatchSize)
	if err != nil {
		return false, err
	}

	progressed := false
	for _, b := range stale {
		if ctx.Err() != nil {
			return progressed, nil
		}
		if err := h.settleVaultBatch(ctx, b); err != nil {
			sc.Logger.Error("Failed to reconcile stale vault batch",
				zap.Int64("vault_batch_id", b.ID),
				zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues(string(StageStalePendingReconciler), apperrors.CategoryOf(err).String()).Inc()
			continue
		}
		progressed = true
	}
	return progressed, nil
}

func (h *StalePendingReconciler) settleVaultBatch(ctx context.Context, b *db.VaultControllerBatch) error {
	sc := h.sc

	txHash := common.BytesToHash(b.TransactionHash)
	receipt, err := sc.DestChain.TransactionReceipt(ctx, txHash)
	if err != nil {
		return err
	}

	status := db.BatchStatusFailed
	if receipt != nil && receipt.Success() {
		status = db.BatchStatusConfirmed
	}
	if err := sc.Store.UpdateVaultBatchStatus(ctx, b.ID, status); err != nil {
		return err
	}
	metrics.VaultBatchesTotal.WithLabelValues(string(status)).Inc()
	logReceiptOutcome(sc.Logger, b, txHash, receipt)
	return nil
}

func logReceiptOutcome(logger *zap.Logger, b *db.VaultControllerBatch, txHash common.Hash, receipt *evm.Receipt) {
	fields := []zap.Field{
		zap.Int64("vault_batch_id", b.ID),
		zap.Int64("l1_batch_number", b.L1BatchNumber),
		zap.String("l1_tx", txHash.Hex()),
	}
	switch {
	case receipt == nil:
		logger.Warn("Stale vault batch dropped", fields...)
	case receipt.Success():
		logger.Info("Stale vault batch confirmed", fields...)
	default:
		logger.Warn("Stale vault batch reverted", fields...)
	}
}
