package relayer

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vianetwork/bridge-relayer/internal/metrics"
	apperrors "github.com/vianetwork/bridge-relayer/pkg/app/errors"
	"github.com/vianetwork/bridge-relayer/pkg/db"
	"github.com/vianetwork/bridge-relayer/pkg/evm/contracts"
)

// settlementWaitTimeout bounds the inline inclusion wait for one vault
// controller transaction. A timeout leaves the group in Finalized and the
// next poll regroups identically; the contract dedupes message hashes.
const settlementWaitTimeout = 3 * time.Minute

// VaultControllerUpdate settles batched Via withdrawals against the L1 vault
// controller. Messages carrying a batch number are matched to their
// MessageWithdrawalExecuted events, grouped by (l1BatchNumber, vault), and
// each group becomes one updateWithdrawalState transaction plus a
// VaultControllerBatch row linking the contributors.
type VaultControllerUpdate struct {
	sc *StageContext
}

// NewVaultControllerUpdate builds the stage; it only runs for the Via
// direction.
func NewVaultControllerUpdate(sc *StageContext) *VaultControllerUpdate {
	return &VaultControllerUpdate{sc: sc}
}

func (h *VaultControllerUpdate) Stage() Stage { return StageVaultControllerUpdate }

func (h *VaultControllerUpdate) Origin() db.Origin { return h.sc.Origin }

type settlementGroup struct {
	batch  int64
	vault  common.Address
	ids    []int64
	hashes [][32]byte
	total  *big.Int
}

type groupKey struct {
	batch int64
	vault common.Address
}

func (h *VaultControllerUpdate) Handle(ctx context.Context) (bool, error) {
	sc := h.sc

	msgs, err := sc.Store.MessagesWithBatchNumber(ctx, sc.Origin, sc.BatchSize)
	if err != nil {
		return false, err
	}
	if len(msgs) == 0 {
		return false, nil
	}

	groups, err := h.group(ctx, msgs)
	if err != nil {
		return false, err
	}

	progressed := false
	for _, g := range groups {
		if ctx.Err() != nil {
			return progressed, nil
		}
		if err := h.settle(ctx, g); err != nil {
			sc.Logger.Error("Failed to settle withdrawal group",
				zap.Int64("l1_batch_number", g.batch),
				zap.String("vault", g.vault.Hex()),
				zap.Int("messages", len(g.ids)),
				zap.Error(err))
			metrics.ErrorsTotal.WithLabelValues(string(StageVaultControllerUpdate), apperrors.CategoryOf(err).String()).Inc()
			continue
		}
		progressed = true
	}
	return progressed, nil
}

// group resolves each message's executed event and buckets the results by
// (l1BatchNumber, vault). Grouping is deterministic: messages arrive in
// createdAt order and groups are emitted in (batch, vault) order, so a crash
// after broadcast regroups identically on retry.
func (h *VaultControllerUpdate) group(ctx context.Context, msgs []*db.BridgeMessage) ([]*settlementGroup, error) {
	sc := h.sc

	hashes := make([]common.Hash, 0, len(msgs))
	for _, m := range msgs {
		hashes = append(hashes, common.BytesToHash(m.DestTxHash))
	}
	events, err := sc.Source.ExecutedEventsByTxHashes(ctx, executedStream(sc.Origin), hashes)
	if err != nil {
		return nil, err
	}
	byTxHash := make(map[common.Hash]int, len(events))
	for i, ev := range events {
		byTxHash[ev.TransactionHash] = i
	}

	groups := make(map[groupKey]*settlementGroup)
	for _, m := range msgs {
		idx, ok := byTxHash[common.BytesToHash(m.DestTxHash)]
		if !ok {
			sc.Logger.Warn("No executed event for settled withdrawal yet",
				zap.Int64("id", m.ID),
				zap.String("dest_tx", common.BytesToHash(m.DestTxHash).Hex()))
			continue
		}
		ev := events[idx]

		msgHash, err := contracts.WithdrawalMessageHash(ev.VaultNonce, ev.Vault, ev.Receiver, ev.Shares)
		if err != nil {
			sc.Logger.Error("Failed to hash withdrawal message",
				zap.Int64("id", m.ID),
				zap.Error(err))
			continue
		}

		key := groupKey{batch: *m.L1BatchNumber, vault: ev.Vault}
		g, ok := groups[key]
		if !ok {
			g = &settlementGroup{batch: key.batch, vault: key.vault, total: new(big.Int)}
			groups[key] = g
		}
		g.ids = append(g.ids, m.ID)
		g.hashes = append(g.hashes, [32]byte(msgHash))
		g.total.Add(g.total, ev.Shares)
	}

	ordered := make([]*settlementGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].batch != ordered[j].batch {
			return ordered[i].batch < ordered[j].batch
		}
		return ordered[i].vault.Cmp(ordered[j].vault) < 0
	})
	return ordered, nil
}

// settle broadcasts one group's updateWithdrawalState, waits for inclusion,
// then records the batch row and advances the contributors — the last two
// writes in one store transaction.
func (h *VaultControllerUpdate) settle(ctx context.Context, g *settlementGroup) error {
	sc := h.sc

	txHash, err := sc.DestChain.SendContractCall(ctx, g.vault, "updateWithdrawalState",
		g.hashes, big.NewInt(g.batch), g.total)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, settlementWaitTimeout)
	receipt, err := sc.DestChain.WaitMined(waitCtx, txHash)
	cancel()
	if err != nil {
		return err
	}
	if !receipt.Success() {
		return apperrors.BroadcastRevertedError("updateWithdrawalState reverted in " + txHash.Hex())
	}

	batch, err := sc.Store.CreateVaultBatch(ctx, &db.VaultControllerBatch{
		TransactionHash:  txHash.Bytes(),
		L1BatchNumber:    g.batch,
		TotalShares:      decimal.NewFromBigInt(g.total, 0),
		MessageHashCount: len(g.hashes),
		Status:           db.BatchStatusPending,
	})
	if err != nil {
		return err
	}
	if err := sc.Store.MarkVaultUpdated(ctx, g.ids, batch.ID); err != nil {
		return err
	}

	metrics.VaultBatchesTotal.WithLabelValues(string(db.BatchStatusPending)).Inc()
	metrics.MessagesTotal.WithLabelValues(string(sc.Origin), string(db.StatusVaultUpdated)).Add(float64(len(g.ids)))
	sc.Logger.Info("Withdrawal group settled",
		zap.Int64("vault_batch_id", batch.ID),
		zap.Int64("l1_batch_number", g.batch),
		zap.String("vault", g.vault.Hex()),
		zap.String("l1_tx", txHash.Hex()),
		zap.Int("messages", len(g.ids)),
		zap.String("total_shares", g.total.String()))
	return nil
}
