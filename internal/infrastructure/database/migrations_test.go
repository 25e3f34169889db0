package database

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
)

var sessionMigrations = fstest.MapFS{
	"testdata/20261017_090000_create_test_sessions.up.sql": &fstest.MapFile{
		Data: []byte("CREATE TABLE test_sessions (id TEXT PRIMARY KEY, outcome TEXT NOT NULL);"),
	},
	"testdata/20261017_090000_create_test_sessions.down.sql": &fstest.MapFile{
		Data: []byte("DROP TABLE test_sessions;"),
	},
	"testdata/README.md": &fstest.MapFile{Data: []byte("ignored")},
}

// withMigrations swaps the registered migrations for the duration of a test.
func withMigrations(t *testing.T, fsys fstest.MapFS, dir string) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	if fsys == nil {
		MigrationsFS = nil
	} else {
		MigrationsFS = fsys
	}
	MigrationsDir = dir
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("checking table %s: %v", name, err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	withMigrations(t, sessionMigrations, "testdata")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_sessions") {
		t.Fatal("table test_sessions not created")
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 1 and 0", len(applied), len(pending))
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}

	// Second run is a no-op.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	withMigrations(t, sessionMigrations, "testdata")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_sessions") {
		t.Error("table test_sessions should have been dropped")
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != "" {
		t.Errorf("SchemaVersion() after rollback = %q, want empty", version)
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() on empty schema error = %v", err)
	}
}

func TestMigrateDown_NoDownSQL(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20261017_090000_one_way.up.sql": &fstest.MapFile{Data: []byte("CREATE TABLE one_way (id INTEGER);")},
	}, ".")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	err := db.MigrateDown(ctx)
	if err == nil || !strings.Contains(err.Error(), "no down SQL") {
		t.Errorf("MigrateDown() error = %v, want missing down SQL", err)
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	withMigrations(t, nil, ".")
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestMigrate_FailureKeepsEarlierMigrations(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20261017_090000_good.up.sql": &fstest.MapFile{Data: []byte("CREATE TABLE good (id INTEGER);")},
		"20261017_100000_bad.up.sql":  &fstest.MapFile{Data: []byte("CREATE TABLE nonsense (;")},
	}, ".")
	db := openTestDB(t)
	ctx := context.Background()

	err := db.Migrate(ctx)
	if err == nil || !strings.Contains(err.Error(), "20261017_100000 (bad)") {
		t.Fatalf("Migrate() error = %v, want failure naming the bad migration", err)
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != "20261017_090000" {
		t.Errorf("SchemaVersion() = %q, want the migration before the failure", version)
	}
}

func TestMigrationStatus_Pending(t *testing.T) {
	withMigrations(t, sessionMigrations, "testdata")
	db := openTestDB(t)

	applied, pending, err := db.MigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 0 || len(pending) != 1 {
		t.Fatalf("applied=%d pending=%d, want 0 and 1", len(applied), len(pending))
	}
	if pending[0].Name != "create_test_sessions" || pending[0].DownSQL == "" {
		t.Errorf("pending[0] = %+v", pending[0])
	}
}

func TestMigrate_VersionOrder(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20261018_100000_add_column.up.sql": &fstest.MapFile{
			Data: []byte("ALTER TABLE ordered ADD COLUMN note TEXT;"),
		},
		"20261017_100000_create_ordered.up.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE ordered (id INTEGER PRIMARY KEY);"),
		},
	}, ".")
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO ordered (note) VALUES (?)", "ok"); err != nil {
		t.Errorf("INSERT after migrations error = %v", err)
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != "20261018_100000" {
		t.Errorf("SchemaVersion() = %q, want newest", version)
	}
}

func TestParseMigrationFile(t *testing.T) {
	tests := []struct {
		filename string
		want     migrationFile
		wantOK   bool
	}{
		{"20261017_090000_utterance_journal.up.sql", migrationFile{"20261017_090000", "utterance_journal", true}, true},
		{"20261017_090000_utterance_journal.down.sql", migrationFile{"20261017_090000", "utterance_journal", false}, true},
		{"20261020_080000_add_journal_source.up.sql", migrationFile{"20261020_080000", "add_journal_source", true}, true},
		{"20261017_090000.up.sql", migrationFile{"20261017_090000", "", true}, true},
		{"readme.txt", migrationFile{}, false},
		{"20261017_090000_utterance_journal.sql", migrationFile{}, false},
		{"invalid.up.sql", migrationFile{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := parseMigrationFile(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("parseMigrationFile() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
