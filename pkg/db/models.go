package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// Origin identifies the chain a bridge message was emitted on.
type Origin string

const (
	OriginEthereum Origin = "ethereum"
	OriginVia      Origin = "via"
)

// MessageStatus represents the current state of a bridge message
type MessageStatus string

const (
	// StatusNew is the conceptual pre-insert state; rows are persisted
	// directly as pending once the destination broadcast succeeded.
	StatusNew MessageStatus = "new"
	// StatusPending means the relayer transaction is broadcast but not yet
	// observed on the destination chain.
	StatusPending MessageStatus = "pending"
	// StatusFinalized means the destination chain executed the message.
	StatusFinalized MessageStatus = "finalized"
	// StatusFailed means the relayer transaction was dropped or reverted.
	StatusFailed MessageStatus = "failed"
	// StatusRefunded is set out-of-band when funds were returned on the
	// origin chain.
	StatusRefunded MessageStatus = "refunded"
	// StatusL1BatchFinalized means the message's L2 batch executed on L1.
	StatusL1BatchFinalized MessageStatus = "l1_batch_finalized"
	// StatusVaultUpdated means the withdrawal was settled against the L1
	// vault controller.
	StatusVaultUpdated MessageStatus = "vault_updated"
)

// ValidTransition reports whether a status change follows the lifecycle
// graph. Stages only ever perform legal transitions; this is the checkable
// form of that contract.
func ValidTransition(from, to MessageStatus) bool {
	switch from {
	case StatusNew:
		return to == StatusPending
	case StatusPending:
		return to == StatusFinalized || to == StatusFailed
	case StatusFinalized:
		return to == StatusVaultUpdated || to == StatusL1BatchFinalized || to == StatusRefunded
	case StatusVaultUpdated:
		return to == StatusL1BatchFinalized
	default:
		// failed, refunded and l1_batch_finalized are terminal
		return false
	}
}

// BatchStatus represents the current state of a vault controller batch
type BatchStatus string

const (
	BatchStatusPending      BatchStatus = "pending"
	BatchStatusConfirmed    BatchStatus = "confirmed"
	BatchStatusFailed       BatchStatus = "failed"
	BatchStatusReadyToClaim BatchStatus = "ready_to_claim"
)

// Event type tags carried on BridgeMessage rows.
const (
	EventTypeDeposit    = "DepositMessageSent"
	EventTypeWithdrawal = "WithdrawalSent"
)

// BridgeMessage is the central relayer record: one row per observed
// MessageSent event, retained forever once created.
type BridgeMessage struct {
	ID            int64
	Origin        Origin
	Status        MessageStatus
	SourceTxHash  []byte
	DestTxHash    []byte
	OriginBlock   uint64
	DestBlock     *uint64
	L1BatchNumber *int64
	Payload       []byte
	EventType     string
	SubgraphID    string
	VaultBatchID  *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// VaultControllerBatch aggregates the withdrawals of one
// (l1BatchNumber, vault) group into a single L1 settlement transaction.
type VaultControllerBatch struct {
	ID               int64
	TransactionHash  []byte
	L1BatchNumber    int64
	TotalShares      decimal.Decimal
	MessageHashCount int
	Status           BatchStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EventCursor tracks the last processed ordinal of one event stream.
// Cursors only move forward.
type EventCursor struct {
	StreamName  string
	LastOrdinal int64
	UpdatedAt   time.Time
}
