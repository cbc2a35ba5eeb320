package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_widgets.up.sql": {Data: []byte(
			"CREATE TABLE widgets (id TEXT PRIMARY KEY);")},
		"20260102_000000_widget_names.up.sql": {Data: []byte(
			"ALTER TABLE widgets ADD COLUMN name TEXT;")},
		"20260102_000000_widget_names.down.sql": {Data: []byte(
			"this is not applied")},
		"README.md": {Data: []byte("ignored")},
	}
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx, testMigrations())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO widgets (id, name) VALUES ('w1', 'one')"); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}

	// Re-running is idempotent.
	n, err = db.Migrate(ctx, testMigrations())
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied %d, want 0", n)
	}
}

func TestMigrate_FailureRollsBackOnlyFailing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260101_000000_ok.up.sql":  {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"20260102_000000_bad.up.sql": {Data: []byte("CREATE TABLE broken (;")},
	}

	n, err := db.Migrate(ctx, fsys)
	if err == nil {
		t.Fatal("Migrate() expected error for invalid SQL, got nil")
	}
	if n != 1 {
		t.Errorf("Migrate() applied %d before failing, want 1", n)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if count != 1 {
		t.Errorf("recorded migrations = %d, want 1", count)
	}
}

func TestLoadMigrations_Sorted(t *testing.T) {
	migrations, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("LoadMigrations() returned %d, want 2", len(migrations))
	}
	if migrations[0].Version != "20260101_000000" || migrations[1].Version != "20260102_000000" {
		t.Errorf("versions = %s, %s; want ascending", migrations[0].Version, migrations[1].Version)
	}
	if migrations[1].Name != "widget_names" {
		t.Errorf("Name = %q, want %q", migrations[1].Name, "widget_names")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"20261017_120000_engine_events.up.sql", "20261017_120000", "engine_events", true},
		{"20261017_120000.up.sql", "20261017_120000", "", true},
		{"20261017_120000_engine_events.down.sql", "", "", false},
		{"20261017_120000_engine_events.sql", "", "", false},
		{"nounderscore.up.sql", "", "", false},
		{"notes.txt", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK || version != tt.wantVersion || name != tt.wantName {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v; want %q, %q, %v",
					tt.filename, version, name, ok, tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}
