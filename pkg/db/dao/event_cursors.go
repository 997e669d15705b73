package dao

import (
	"time"

	"github.com/uptrace/bun"
)

// EventCursorDao is a data access object that maps directly to the
// 'event_cursors' table in PostgreSQL.
type EventCursorDao struct {
	bun.BaseModel `bun:"table:event_cursors,alias:ec"`

	StreamName  string    `bun:"stream_name,pk,type:varchar(64)"`
	LastOrdinal int64     `bun:"last_ordinal,notnull,use_zero"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}
