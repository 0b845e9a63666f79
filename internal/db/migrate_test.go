package db

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestLoadMigrationsSortsAndSkipsUnnumbered(t *testing.T) {
	files := fstest.MapFS{
		"010_indexes.sql":      {Data: []byte("CREATE INDEX x ON y (z);")},
		"002_slots.sql":        {Data: []byte("CREATE TABLE slots ();")},
		"README.md":            {Data: []byte("docs")},
		"draft_notes.sql":      {Data: []byte("SELECT 1;")},
		"001_availability.sql": {Data: []byte("CREATE TABLE a ();")},
	}

	got, err := LoadMigrations(files)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(got))
	}
	wantVersions := []int{1, 2, 10}
	for i, v := range wantVersions {
		if got[i].Version != v {
			t.Fatalf("migration %d: expected version %d, got %d", i, v, got[i].Version)
		}
	}
}

func TestEmbeddedMigrationsCreateCoreTables(t *testing.T) {
	m := NewMigrator(nil)
	migrations, err := LoadMigrations(m.files)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected embedded migrations")
	}
	sql := migrations[0].SQL
	for _, table := range []string{"provider_availability", "appointment_slots", "outbox_events"} {
		if !strings.Contains(sql, table) {
			t.Fatalf("expected first migration to create %s", table)
		}
	}
}

func TestHasSQLState(t *testing.T) {
	err := &pgconn.PgError{Code: SQLStateExclusionViolation}
	wrapped := errors.Join(errors.New("save window"), err)
	if !HasSQLState(wrapped, SQLStateUniqueViolation, SQLStateExclusionViolation) {
		t.Fatal("expected exclusion violation to match")
	}
	if HasSQLState(errors.New("plain"), SQLStateExclusionViolation) {
		t.Fatal("plain error must not match")
	}
}
