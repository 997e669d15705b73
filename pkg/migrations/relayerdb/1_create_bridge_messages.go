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
		log.Println("creating bridge_messages table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.BridgeMessageDao{}); err != nil {
			return err
		}
		// Stage queries scan by (status, origin) ordered on created_at.
		if err := mghelper.CreateCompositeIndex(ctx, db, "bridge_messages", "status", "origin", "created_at"); err != nil {
			return err
		}
		return mghelper.CreateIndexes(ctx, db, "bridge_messages", "dest_tx_hash", "l1_batch_number", "vault_batch_id")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping bridge_messages table...")
		return mghelper.DropTables(ctx, db, &dao.BridgeMessageDao{})
	})
}
