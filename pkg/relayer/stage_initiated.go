package relayer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/internal/metrics"
	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
	"github.com/vianetwork/bridge-relayer/pkg/db"
	"github.com/vianetwork/bridge-relayer/pkg/evm/contracts"
	"github.com/vianetwork/bridge-relayer/pkg/indexer"
)

// BridgeInitiated observes MessageSent events on the origin chain and relays
// each payload to the destination bridge. The window floor is the highest
// origin block already stored, re-read inclusively: several messages can land
// in one block, and the source-hash lookup deduplicates the overlap.
type BridgeInitiated struct {
	sc *StageContext
}

// NewBridgeInitiated builds the stage for one direction.
func NewBridgeInitiated(sc *StageContext) *BridgeInitiated {
	return &BridgeInitiated{sc: sc}
}

func (h *BridgeInitiated) Stage() Stage { return StageBridgeInitiated }

func (h *BridgeInitiated) Origin() db.Origin { return h.sc.Origin }

// Handle reads one confirmed window of MessageSent events and relays the new
// ones. A broadcast failure leaves no row behind; the event is re-observed on
// the next poll.
func (h *BridgeInitiated) Handle(ctx context.Context) (bool, error) {
	sc := h.sc

	head, err := sc.OriginChain.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("origin head: %w", err)
	}
	ceiling := confirmedCeiling(head, sc.OriginConfirmations)

	floor, err := sc.Store.LastOriginBlock(ctx, sc.Origin)
	if err != nil {
		return false, err
	}

	stream := messageSentStream(sc.Origin)
	events, err := sc.Source.MessageSentEvents(ctx, stream, floor, ceiling, sc.BatchSize)
	if err != nil {
		return false, err
	}
	metrics.LastProcessedBlock.WithLabelValues(string(stream)).Set(float64(ceiling))
	if len(events) == 0 {
		return false, nil
	}
	metrics.EventsObserved.WithLabelValues(string(stream)).Add(float64(len(events)))

	progressed := false
	for _, ev := range events {
		if ctx.Err() != nil {
			return progressed, nil
		}
		relayed, err := h.relay(ctx, ev)
		if err != nil {
			sc.Logger.Error("Failed to relay message",
				zap.String("source_tx", ev.TransactionHash.Hex()),
				zap.Uint64("block", ev.BlockNumber),
				zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues(string(StageBridgeInitiated), apperrors.CategoryOf(err).String()).Inc()
			continue
		}
		if relayed {
			progressed = true
		}
	}
	return progressed, nil
}

// relay delivers one event. Returns false when the event is already known.
func (h *BridgeInitiated) relay(ctx context.Context, ev indexer.MessageSentEvent) (bool, error) {
	sc := h.sc

	existing, err := sc.Store.FindBySourceHash(ctx, ev.TransactionHash.Bytes())
	if err != nil {
		return false, err
	}
	if existing != nil {
		sc.Logger.Debug("Message already relayed",
			zap.String("source_tx", ev.TransactionHash.Hex()),
			zap.Int64("id", existing.ID))
		return false, nil
	}

	data, err := contracts.PackReceiveMessage(ev.Payload)
	if err != nil {
		return false, apperrors.UnexpectedError(err, "encode receiveMessage")
	}
	destTxHash, err := sc.DestChain.SendRaw(ctx, sc.DestBridge, data, nil)
	if err != nil {
		return false, err
	}

	msg := &db.BridgeMessage{
		Origin:       sc.Origin,
		Status:       db.StatusPending,
		SourceTxHash: ev.TransactionHash.Bytes(),
		DestTxHash:   destTxHash.Bytes(),
		OriginBlock:  ev.BlockNumber,
		Payload:      ev.Payload,
		EventType:    eventTypeFor(sc.Origin),
		SubgraphID:   ev.ID,
	}
	stored, err := sc.Store.UpsertMessage(ctx, msg)
	if err != nil {
		// The broadcast went out but no row records it; the next poll
		// re-observes the event and the destination contract dedupes the
		// second delivery.
		return false, err
	}

	metrics.MessagesTotal.WithLabelValues(string(sc.Origin), string(db.StatusPending)).Inc()
	sc.Logger.Info("Message relayed",
		zap.Int64("id", stored.ID),
		zap.String("source_tx", ev.TransactionHash.Hex()),
		zap.String("dest_tx", destTxHash.Hex()),
		zap.Uint64("origin_block", ev.BlockNumber))
	return true, nil
}
