package dao

import (
	"time"

	"github.com/uptrace/bun"
)

// BridgeMessageDao is a data access object that maps directly to the
// 'bridge_messages' table in PostgreSQL.
type BridgeMessageDao struct {
	bun.BaseModel `bun:"table:bridge_messages,alias:bm"`

	ID            int64     `bun:"id,pk,autoincrement"`
	Origin        string    `bun:"origin,notnull,type:varchar(16)"`
	Status        string    `bun:"status,notnull,type:varchar(32)"`
	SourceTxHash  []byte    `bun:"source_tx_hash,unique,notnull,type:bytea"`
	DestTxHash    []byte    `bun:"dest_tx_hash,type:bytea"`
	OriginBlock   int64     `bun:"origin_block,notnull,use_zero"`
	DestBlock     *int64    `bun:"dest_block"`
	L1BatchNumber *int64    `bun:"l1_batch_number"`
	Payload       []byte    `bun:"payload,notnull,type:bytea"`
	EventType     string    `bun:"event_type,notnull,type:varchar(64)"`
	SubgraphID    string    `bun:"subgraph_id,unique,notnull,type:varchar(128)"`
	VaultBatchID  *int64    `bun:"vault_batch_id"`
	CreatedAt     time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}
