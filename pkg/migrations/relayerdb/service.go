// Package relayerdb holds the migrations for the relayer database:
// bridge_messages, vault_controller_batches and event_cursors.
package relayerdb

import "github.com/uptrace/bun/migrate"

// Migrations is the ordered collection the migrate command and the tests run.
var Migrations = migrate.NewMigrations()
