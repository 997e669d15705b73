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
		log.Println("creating vault_controller_batches table...")
		if err := mghelper.CreateSchema(ctx, db, &dao.VaultControllerBatchDao{}); err != nil {
			return err
		}
		return mghelper.CreateIndexes(ctx, db, "vault_controller_batches", "status")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping vault_controller_batches table...")
		return mghelper.DropTables(ctx, db, &dao.VaultControllerBatchDao{})
	})
}
