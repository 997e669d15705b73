package relayerdb

import (
	"context"
	"log"

	"github.com/vianetwork/bridge-relayer/pkg/db/dao"
	mghelper "github.com/vianetwork/bridge-relayer/pkg/pgutil/migrations"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating event_cursors table...")
		return mghelper.CreateSchema(ctx, db, &dao.EventCursorDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping event_cursors table...")
		return mghelper.DropTables(ctx, db, &dao.EventCursorDao{})
	})
}
