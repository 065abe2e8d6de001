package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/angelmondragon/packfinderz-settlement/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %q", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := migrate.Validate(migrate.Migrations()); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
	embedded, err := fs.Glob(migrate.Migrations(), "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob disk: %v", err)
	}
	if len(embedded) != len(onDisk) {
		t.Fatalf("embedded %d migrations, found %d on disk", len(embedded), len(onDisk))
	}
}

func TestValidateRejectsBadSources(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"empty":        {},
		"bad name":     {"create_orders.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")}},
		"missing down": {"20260101000000_orders.sql": {Data: []byte("-- +goose Up\n")}},
		"duplicate version": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"20260101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
	}
	for name, fsys := range cases {
		if err := migrate.Validate(fsys); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Payout Index!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_payout_index.sql") {
		t.Fatalf("unexpected file name %s", path)
	}
	if err := migrate.Validate(os.DirFS(dir)); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func TestPaymentTransactionsMigrationEnforcesLedgerInvariants(t *testing.T) {
	sql := readMigration(t, "create_payment_transactions_table")
	for _, fragment := range []string{
		"UNIQUE (order_id, seller_id)",
		"numeric(12,2)",
		"days_to_hold integer NOT NULL DEFAULT 30",
		"payed_out boolean NOT NULL DEFAULT false",
		"planned_release_date = hold_start_date + make_interval(hours => days_to_hold * 24)",
		"status transaction_status NOT NULL DEFAULT 'held'",
	} {
		if !strings.Contains(sql, fragment) {
			t.Fatalf("payment_transactions migration missing %q", fragment)
		}
	}
	// Calendar days follow the session time zone across DST changes; the hold is
	// a fixed number of 24h periods.
	if strings.Contains(sql, "days => days_to_hold") {
		t.Fatal("planned release check must not add calendar days")
	}
}

func TestPayoutsMigrationContainsSchemas(t *testing.T) {
	sql := readMigration(t, "create_payouts_table")
	for _, fragment := range []string{
		"external_payout_id text NOT NULL UNIQUE",
		"REFERENCES payouts(id) ON DELETE CASCADE",
		"REFERENCES payment_transactions(id)",
		"item_names jsonb",
	} {
		if !strings.Contains(sql, fragment) {
			t.Fatalf("payouts migration missing %q", fragment)
		}
	}
}

func TestEnumMigrationMatchesStatuses(t *testing.T) {
	sql := readMigration(t, "create_settlement_enums")
	for _, fragment := range []string{"'in_transit'", "'manual_review'", "'awaiting_shipment'", "'processing'"} {
		if !strings.Contains(sql, fragment) {
			t.Fatalf("enum migration missing %s", fragment)
		}
	}
}
