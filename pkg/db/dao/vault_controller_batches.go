package dao

import (
	"time"

	"github.com/uptrace/bun"
)

// VaultControllerBatchDao is a data access object that maps directly to the
// 'vault_controller_batches' table in PostgreSQL. total_shares is numeric(78,0):
// wide enough for a summed uint256.
type VaultControllerBatchDao struct {
	bun.BaseModel `bun:"table:vault_controller_batches,alias:vcb"`

	ID               int64     `bun:"id,pk,autoincrement"`
	TransactionHash  []byte    `bun:"transaction_hash,notnull,type:bytea"`
	L1BatchNumber    int64     `bun:"l1_batch_number,notnull,use_zero"`
	TotalShares      string    `bun:"total_shares,notnull,type:numeric(78,0)"`
	MessageHashCount int       `bun:"message_hash_count,notnull,use_zero"`
	Status           string    `bun:"status,notnull,type:varchar(32)"`
	CreatedAt        time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}
