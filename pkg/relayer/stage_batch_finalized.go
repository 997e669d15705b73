package relayer

import (
	"context"

	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/internal/metrics"
	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
	"github.com/vianetwork/bridge-relayer/pkg/db"
)

// L1BatchFinalized promotes messages to their terminal state once their L2
// batch has been executed on L1. The rollup node exposes per-batch commit,
// prove and execute transactions; a batch counts as finalized only when the
// execute transaction is present.
type L1BatchFinalized struct {
	sc *StageContext
}

// NewL1BatchFinalized builds the stage; it only runs for the Via direction
// and only when batch finalization tracking is enabled.
func NewL1BatchFinalized(sc *StageContext) *L1BatchFinalized {
	return &L1BatchFinalized{sc: sc}
}

func (h *L1BatchFinalized) Stage() Stage { return StageL1BatchFinalized }

func (h *L1BatchFinalized) Origin() db.Origin { return h.sc.Origin }

func (h *L1BatchFinalized) Handle(ctx context.Context) (bool, error) {
	sc := h.sc

	statuses := []db.MessageStatus{db.StatusFinalized, db.StatusVaultUpdated}
	batches, err := sc.Store.DistinctL1Batches(ctx, sc.Origin, statuses, sc.BatchSize)
	if err != nil {
		return false, err
	}
	if len(batches) == 0 {
		return false, nil
	}

	progressed := false
	for _, batch := range batches {
		if ctx.Err() != nil {
			return progressed, nil
		}
		advanced, err := h.promote(ctx, batch, statuses)
		if err != nil {
			sc.Logger.Error("Failed to check batch finality",
				zap.Int64("l1_batch_number", batch),
				zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues(string(StageL1BatchFinalized), apperrors.CategoryOf(err).String()).Inc()
			continue
		}
		if advanced {
			progressed = true
		}
	}
	return progressed, nil
}

func (h *L1BatchFinalized) promote(ctx context.Context, batch int64, statuses []db.MessageStatus) (bool, error) {
	sc := h.sc

	details, err := sc.OriginChain.L1BatchDetails(ctx, batch)
	if err != nil {
		return false, err
	}
	// Unknown or not yet executed batches are simply not ready.
	if details == nil || !details.Executed() {
		return false, nil
	}

	msgs, err := sc.Store.MessagesInL1Batch(ctx, sc.Origin, batch, statuses)
	if err != nil {
		return false, err
	}
	if len(msgs) == 0 {
		return false, nil
	}
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if err := sc.Store.UpdateStatusBatch(ctx, ids, db.StatusL1BatchFinalized); err != nil {
		return false, err
	}

	metrics.MessagesTotal.WithLabelValues(string(sc.Origin), string(db.StatusL1BatchFinalized)).Add(float64(len(ids)))
	sc.Logger.Info("Batch finalized on L1",
		zap.Int64("l1_batch_number", batch),
		zap.String("execute_tx", details.ExecuteTxHash.Hex()),
		zap.Int("messages", len(ids)))
	return true, nil
}
