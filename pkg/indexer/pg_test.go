package indexer

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/vianetwork/bridge-relayer/pkg/pgutil"
	mghelper "github.com/vianetwork/bridge-relayer/pkg/pgutil/migrations"
)

func setupMirror(t *testing.T) (context.Context, *PgSource, *bun.DB) {
	t.Helper()
	requireDockerAccess(t)

	ctx := context.Background()
	db, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	// The relayer only ever reads the mirror; tests stand in for the indexer
	// and create and fill its tables.
	err := mghelper.CreateSchema(ctx, db,
		&messageSentRow{},
		&depositExecutedRow{},
		&withdrawalExecutedRow{},
		&withdrawalStateRow{},
	)
	if err != nil {
		t.Fatalf("failed to create mirror schema: %v", err)
	}

	return ctx, NewPgSource(db), db
}

func requireDockerAccess(t *testing.T) {
	t.Helper()

	candidates := []string{
		"/var/run/docker.sock",
		filepath.Join(os.Getenv("HOME"), ".docker/run/docker.sock"),
	}

	for _, sock := range candidates {
		if sock == "" {
			continue
		}
		if _, err := os.Stat(sock); err != nil {
			continue
		}
		conn, err := (&net.Dialer{}).DialContext(context.Background(), "unix", sock)
		if err == nil {
			_ = conn.Close()
			return
		}
	}

	t.Skip("docker daemon socket is not accessible; skipping testcontainer-backed mirror tests")
}

func seedMessageSent(t *testing.T, ctx context.Context, db *bun.DB, id, chain string, block int64) {
	t.Helper()
	row := &messageSentRow{
		ID:              id,
		Chain:           chain,
		BlockNumber:     block,
		TransactionHash: common.Hash{0xaa, byte(block)}.Bytes(),
		Payload:         []byte{0xde, 0xad},
		BlockTimestamp:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(block) * time.Second),
	}
	if _, err := db.NewInsert().Model(row).Exec(ctx); err != nil {
		t.Fatalf("failed to seed message sent row %s: %v", id, err)
	}
}

func seedWithdrawalExecuted(t *testing.T, ctx context.Context, db *bun.DB, id string, block int64, txHash common.Hash) {
	t.Helper()
	row := &withdrawalExecutedRow{
		executedRow: executedRow{
			ID:              id,
			BlockNumber:     block,
			TransactionHash: txHash.Bytes(),
			VaultNonce:      "7",
			Vault:           common.HexToAddress("0x1111111111111111111111111111111111111111").Bytes(),
			Receiver:        common.HexToAddress("0x2222222222222222222222222222222222222222").Bytes(),
			Shares:          "500",
		},
	}
	if _, err := db.NewInsert().Model(row).Exec(ctx); err != nil {
		t.Fatalf("failed to seed withdrawal executed row %s: %v", id, err)
	}
}

func TestPgSource_MessageSentEvents(t *testing.T) {
	ctx, source, db := setupMirror(t)

	// Two events in one block probe the (block, id) tiebreak.
	seedMessageSent(t, ctx, db, "evt-b", "ethereum", 100)
	seedMessageSent(t, ctx, db, "evt-a", "ethereum", 100)
	seedMessageSent(t, ctx, db, "evt-c", "ethereum", 150)
	seedMessageSent(t, ctx, db, "evt-d", "ethereum", 250)
	seedMessageSent(t, ctx, db, "evt-via", "via", 120)

	events, err := source.MessageSentEvents(ctx, StreamEthereumMessageSent, 100, 200, 10)
	if err != nil {
		t.Fatalf("MessageSentEvents failed: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	wantOrder := []string{"evt-a", "evt-b", "evt-c"}
	for i, want := range wantOrder {
		if events[i].ID != want {
			t.Errorf("Expected event %d to be %s, got %s", i, want, events[i].ID)
		}
	}
	if events[0].BlockNumber != 100 {
		t.Errorf("Expected the window start to be inclusive, got block %d", events[0].BlockNumber)
	}
	if string(events[0].Payload) != "\xde\xad" {
		t.Errorf("Expected payload 0xdead, got %x", events[0].Payload)
	}
}

func TestPgSource_MessageSentEvents_Window(t *testing.T) {
	ctx, source, db := setupMirror(t)
	seedMessageSent(t, ctx, db, "evt-1", "via", 150)

	// Inverted window yields nothing without touching the database.
	events, err := source.MessageSentEvents(ctx, StreamViaMessageSent, 200, 100, 10)
	if err != nil {
		t.Fatalf("MessageSentEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected no events for an inverted window, got %d", len(events))
	}

	// A single-block window includes both bounds.
	events, err = source.MessageSentEvents(ctx, StreamViaMessageSent, 150, 150, 10)
	if err != nil {
		t.Fatalf("MessageSentEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Expected 1 event in the single-block window, got %d", len(events))
	}

	if _, err := source.MessageSentEvents(ctx, StreamDepositExecuted, 1, 10, 10); err == nil {
		t.Error("Expected an error for an executed stream on MessageSentEvents")
	}
}

func TestPgSource_ExecutedEvents_ExclusiveFrom(t *testing.T) {
	ctx, source, db := setupMirror(t)

	seedWithdrawalExecuted(t, ctx, db, "we-1", 100, common.Hash{0xe1})
	seedWithdrawalExecuted(t, ctx, db, "we-2", 101, common.Hash{0xe2})
	seedWithdrawalExecuted(t, ctx, db, "we-3", 150, common.Hash{0xe3})

	events, err := source.ExecutedEvents(ctx, StreamWithdrawalExecuted, 100, 150, 10)
	if err != nil {
		t.Fatalf("ExecutedEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events above the exclusive floor, got %d", len(events))
	}
	if events[0].ID != "we-2" || events[1].ID != "we-3" {
		t.Errorf("Expected we-2 then we-3, got %s then %s", events[0].ID, events[1].ID)
	}

	limited, err := source.ExecutedEvents(ctx, StreamWithdrawalExecuted, 100, 150, 1)
	if err != nil {
		t.Fatalf("ExecutedEvents failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "we-2" {
		t.Errorf("Expected the limit to keep the earliest event, got %v", limited)
	}

	// The deposit stream reads a different table.
	deposits, err := source.ExecutedEvents(ctx, StreamDepositExecuted, 0, 1000, 10)
	if err != nil {
		t.Fatalf("ExecutedEvents failed: %v", err)
	}
	if len(deposits) != 0 {
		t.Errorf("Expected no deposit events, got %d", len(deposits))
	}
}

func TestPgSource_ExecutedEventsByTxHashes(t *testing.T) {
	ctx, source, db := setupMirror(t)

	seedWithdrawalExecuted(t, ctx, db, "we-1", 100, common.Hash{0xe1})
	seedWithdrawalExecuted(t, ctx, db, "we-2", 110, common.Hash{0xe2})
	seedWithdrawalExecuted(t, ctx, db, "we-3", 120, common.Hash{0xe3})

	events, err := source.ExecutedEventsByTxHashes(ctx, StreamWithdrawalExecuted, []common.Hash{{0xe3}, {0xe1}})
	if err != nil {
		t.Fatalf("ExecutedEventsByTxHashes failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].ID != "we-1" || events[1].ID != "we-3" {
		t.Errorf("Expected we-1 then we-3, got %s then %s", events[0].ID, events[1].ID)
	}

	ev := events[0]
	if ev.VaultNonce.Int64() != 7 || ev.Shares.Int64() != 500 {
		t.Errorf("Expected nonce 7 and shares 500, got %v and %v", ev.VaultNonce, ev.Shares)
	}
	if ev.Vault != common.HexToAddress("0x1111111111111111111111111111111111111111") {
		t.Errorf("Unexpected vault address %s", ev.Vault.Hex())
	}

	empty, err := source.ExecutedEventsByTxHashes(ctx, StreamWithdrawalExecuted, nil)
	if err != nil || empty != nil {
		t.Errorf("Expected (nil, nil) for an empty hash list, got (%v, %v)", empty, err)
	}
}

func TestPgSource_WithdrawalStateEvents(t *testing.T) {
	ctx, source, db := setupMirror(t)

	rows := []withdrawalStateRow{
		{ID: "ws-1", BlockNumber: 90, TransactionHash: common.Hash{0xf1}.Bytes(), L1BatchNumber: 42, ExchangeRate: decimal.RequireFromString("1.05"), MessageCount: 3},
		{ID: "ws-2", BlockNumber: 95, TransactionHash: common.Hash{0xf2}.Bytes(), L1BatchNumber: 43, ExchangeRate: decimal.RequireFromString("1.06"), MessageCount: 1},
		{ID: "ws-3", BlockNumber: 300, TransactionHash: common.Hash{0xf3}.Bytes(), L1BatchNumber: 42, ExchangeRate: decimal.RequireFromString("1.07"), MessageCount: 2},
		{ID: "ws-4", BlockNumber: 80, TransactionHash: common.Hash{0xf4}.Bytes(), L1BatchNumber: 77, ExchangeRate: decimal.RequireFromString("1.00"), MessageCount: 5},
	}
	for i := range rows {
		if _, err := db.NewInsert().Model(&rows[i]).Exec(ctx); err != nil {
			t.Fatalf("failed to seed withdrawal state row: %v", err)
		}
	}

	events, err := source.WithdrawalStateEvents(ctx, []int64{42, 43}, 100, 10)
	if err != nil {
		t.Fatalf("WithdrawalStateEvents failed: %v", err)
	}

	// ws-3 sits above maxBlock, ws-4 belongs to a foreign batch.
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].ID != "ws-1" || events[1].ID != "ws-2" {
		t.Errorf("Expected ws-1 then ws-2, got %s then %s", events[0].ID, events[1].ID)
	}
	if events[0].L1BatchNumber != 42 || events[0].MessageCount != 3 {
		t.Errorf("Unexpected event decode: %+v", events[0])
	}
	if !events[0].ExchangeRate.Equal(decimal.RequireFromString("1.05")) {
		t.Errorf("Expected exchange rate 1.05, got %s", events[0].ExchangeRate)
	}

	empty, err := source.WithdrawalStateEvents(ctx, nil, 100, 10)
	if err != nil || empty != nil {
		t.Errorf("Expected (nil, nil) for no batches, got (%v, %v)", empty, err)
	}
}

func TestPgSource_Ping(t *testing.T) {
	ctx, source, _ := setupMirror(t)
	if err := source.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
