package relayer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/internal/metrics"
	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
	"github.com/vianetwork/bridge-relayer/pkg/db"
)

// L1BatchNumber stamps finalized Via withdrawals with the L2 batch their
// source transaction was sealed into. The batch number appears on the L2
// receipt some time after inclusion; rows without one are simply revisited.
type L1BatchNumber struct {
	sc *StageContext
}

// NewL1BatchNumber builds the stage; it only runs for the Via direction.
func NewL1BatchNumber(sc *StageContext) *L1BatchNumber {
	return &L1BatchNumber{sc: sc}
}

func (h *L1BatchNumber) Stage() Stage { return StageL1BatchNumber }

func (h *L1BatchNumber) Origin() db.Origin { return h.sc.Origin }

func (h *L1BatchNumber) Handle(ctx context.Context) (bool, error) {
	sc := h.sc

	msgs, err := sc.Store.MessagesMissingBatchNumber(ctx, sc.Origin, sc.BatchSize)
	if err != nil {
		return false, err
	}
	if len(msgs) == 0 {
		return false, nil
	}

	progressed := false
	for _, m := range msgs {
		if ctx.Err() != nil {
			return progressed, nil
		}
		stamped, err := h.stamp(ctx, m)
		if err != nil {
			sc.Logger.Error("Failed to stamp batch number",
				zap.Int64("id", m.ID),
				zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues(string(StageL1BatchNumber), apperrors.CategoryOf(err).String()).Inc()
			continue
		}
		if stamped {
			progressed = true
		}
	}
	return progressed, nil
}

// stamp fetches the L2 receipt of the source transaction and copies its batch
// number onto the row. A receipt without one means the batch is not sealed
// yet; not an error.
func (h *L1BatchNumber) stamp(ctx context.Context, m *db.BridgeMessage) (bool, error) {
	sc := h.sc

	receipt, err := sc.OriginChain.TransactionReceipt(ctx, common.BytesToHash(m.SourceTxHash))
	if err != nil {
		return false, err
	}
	if receipt == nil || receipt.L1BatchNumber == nil {
		return false, nil
	}

	if err := sc.Store.SetL1BatchNumber(ctx, m.ID, *receipt.L1BatchNumber); err != nil {
		return false, err
	}
	sc.Logger.Info("Batch number stamped",
		zap.Int64("id", m.ID),
		zap.Int64("l1_batch_number", *receipt.L1BatchNumber))
	return true, nil
}
