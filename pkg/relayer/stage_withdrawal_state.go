package relayer

import (
	"context"

	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/internal/metrics"
	"github.com/vianetwork/bridge-relayer/pkg/db"
	"github.com/vianetwork/bridge-relayer/pkg/indexer"
)

// WithdrawalStateUpdated watches for the vault controller's
// WithdrawalStateUpdated events and promotes the matching batches to
// ReadyToClaim. Events are only trusted once they sit a configurable number
// of blocks below the L1 head.
type WithdrawalStateUpdated struct {
	sc *StageContext
}

// NewWithdrawalStateUpdated builds the stage; it only runs for the Via
// direction.
func NewWithdrawalStateUpdated(sc *StageContext) *WithdrawalStateUpdated {
	return &WithdrawalStateUpdated{sc: sc}
}

func (h *WithdrawalStateUpdated) Stage() Stage { return StageWithdrawalStateUpdated }

func (h *WithdrawalStateUpdated) Origin() db.Origin { return h.sc.Origin }

func (h *WithdrawalStateUpdated) Handle(ctx context.Context) (bool, error) {
	sc := h.sc

	// Pending batches may be promoted directly; Confirmed ones were settled
	// by the reconciler and still await their on-chain event.
	pending, err := sc.Store.VaultBatchesByStatus(ctx, db.BatchStatusPending, sc.BatchSize)
	if err != nil {
		return false, err
	}
	confirmed, err := sc.Store.VaultBatchesByStatus(ctx, db.BatchStatusConfirmed, sc.BatchSize)
	if err != nil {
		return false, err
	}
	batches := append(pending, confirmed...)
	if len(batches) == 0 {
		return false, nil
	}

	head, err := sc.DestChain.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	ceiling := confirmedCeiling(head, sc.WithdrawalConfirmations)
	if ceiling == 0 {
		return false, nil
	}

	seen := make(map[int64]bool, len(batches))
	numbers := make([]int64, 0, len(batches))
	for _, b := range batches {
		if !seen[b.L1BatchNumber] {
			seen[b.L1BatchNumber] = true
			numbers = append(numbers, b.L1BatchNumber)
		}
	}

	events, err := sc.Source.WithdrawalStateEvents(ctx, numbers, ceiling, sc.BatchSize)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}
	metrics.EventsObserved.WithLabelValues(string(indexer.StreamWithdrawalStateUpdated)).Add(float64(len(events)))

	settled := make(map[int64]indexer.WithdrawalStateEvent, len(events))
	for _, ev := range events {
		settled[ev.L1BatchNumber] = ev
	}

	progressed := false
	for _, b := range batches {
		ev, ok := settled[b.L1BatchNumber]
		if !ok {
			continue
		}
		if err := sc.Store.UpdateVaultBatchStatus(ctx, b.ID, db.BatchStatusReadyToClaim); err != nil {
			sc.Logger.Error("Failed to promote vault batch",
				zap.Int64("vault_batch_id", b.ID),
				zap.Error(err))
			continue
		}
		progressed = true
		metrics.VaultBatchesTotal.WithLabelValues(string(db.BatchStatusReadyToClaim)).Inc()
		sc.Logger.Info("Vault batch ready to claim",
			zap.Int64("vault_batch_id", b.ID),
			zap.Int64("l1_batch_number", b.L1BatchNumber),
			zap.String("exchange_rate", ev.ExchangeRate.String()),
			zap.Int("message_count", ev.MessageCount))
	}
	return progressed, nil
}
