package relayer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/internal/metrics"
	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
	"github.com/vianetwork/bridge-relayer/pkg/db"
)

// BridgeFinalize matches destination-side executed events to pending rows and
// finalizes them. The window floor is the executed-stream cursor (exclusive),
// raised by the highest finalized destination block so a fresh cursor does
// not rescan history.
type BridgeFinalize struct {
	sc *StageContext
}

// NewBridgeFinalize builds the stage for one direction.
func NewBridgeFinalize(sc *StageContext) *BridgeFinalize {
	return &BridgeFinalize{sc: sc}
}

func (h *BridgeFinalize) Stage() Stage { return StageBridgeFinalize }

func (h *BridgeFinalize) Origin() db.Origin { return h.sc.Origin }

// Handle reads one confirmed window of executed events, finalizes the rows
// they belong to, and advances the stream cursor. The cursor moves only when
// every event in the window was handled, so a store failure replays the
// window on the next poll; finalization is idempotent under replay.
func (h *BridgeFinalize) Handle(ctx context.Context) (bool, error) {
	sc := h.sc

	head, err := sc.DestChain.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("destination head: %w", err)
	}
	ceiling := confirmedCeiling(head, sc.DestConfirmations)

	stream := executedStream(sc.Origin)
	cursor, err := sc.Store.Cursor(ctx, string(stream))
	if err != nil {
		return false, err
	}
	lastDest, err := sc.Store.LastDestBlock(ctx, sc.Origin)
	if err != nil {
		return false, err
	}
	floor := uint64(cursor)
	if lastDest > floor {
		floor = lastDest
	}

	events, err := sc.Source.ExecutedEvents(ctx, stream, floor, ceiling, sc.BatchSize)
	if err != nil {
		return false, err
	}
	metrics.LastProcessedBlock.WithLabelValues(string(stream)).Set(float64(ceiling))
	if len(events) > 0 {
		metrics.EventsObserved.WithLabelValues(string(stream)).Add(float64(len(events)))
	}

	progressed := false
	clean := true
	maxEventBlock := floor
	for _, ev := range events {
		if ctx.Err() != nil {
			return progressed, nil
		}
		if ev.BlockNumber > maxEventBlock {
			maxEventBlock = ev.BlockNumber
		}

		finalized, err := h.finalize(ctx, ev.TransactionHash.Bytes(), ev.BlockNumber)
		if err != nil {
			sc.Logger.Error("Failed to finalize message",
				zap.String("dest_tx", ev.TransactionHash.Hex()),
				zap.Uint64("block", ev.BlockNumber),
				zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues(string(StageBridgeFinalize), apperrors.CategoryOf(err).String()).Inc()
			clean = false
			continue
		}
		if finalized {
			progressed = true
		}
	}

	if clean {
		newCursor := ceiling
		if len(events) == sc.BatchSize && maxEventBlock > 0 {
			// The window may be truncated; only blocks strictly below the
			// last one seen are guaranteed complete.
			newCursor = maxEventBlock - 1
		}
		if newCursor > floor {
			if err := sc.Store.UpdateCursor(ctx, string(stream), int64(newCursor)); err != nil {
				return progressed, err
			}
		}
	}
	return progressed, nil
}

// finalize advances the matching row out of Pending. Events without a row
// belong to other relayers; rows already past Pending were settled by the
// reconciler.
func (h *BridgeFinalize) finalize(ctx context.Context, destTxHash []byte, block uint64) (bool, error) {
	sc := h.sc

	row, err := sc.Store.FindByDestHash(ctx, destTxHash)
	if err != nil {
		return false, err
	}
	if row == nil || row.Status != db.StatusPending {
		return false, nil
	}

	if err := sc.Store.Finalize(ctx, row.ID, block); err != nil {
		return false, err
	}
	metrics.MessagesTotal.WithLabelValues(string(sc.Origin), string(db.StatusFinalized)).Inc()
	sc.Logger.Info("Message finalized",
		zap.Int64("id", row.ID),
		zap.Uint64("dest_block", block))
	return true, nil
}
