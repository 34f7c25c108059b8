package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already migrated, so a second run changes nothing.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
	if result.Dirty {
		t.Error("schema left dirty")
	}
}

func TestMigrateFreshDBReportsChange(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if !result.Changed {
		t.Error("first Migrate() should report Changed=true")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("got %v, want ErrNoToken", err)
	}
	if err := db.SetToken(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetToken(ctx, "second"); err != nil {
		t.Fatal(err)
	}
	got, err := db.Token(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != "second" {
		t.Fatalf("token = %q, want second", got)
	}

	if err := db.ClearToken(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.ClearToken(ctx); err != nil {
		t.Fatalf("clearing a missing token: %v", err)
	}
	if _, err := db.Token(ctx); !errors.Is(err, ErrNoToken) {
		t.Fatalf("got %v after clear, want ErrNoToken", err)
	}
}

func TestTokenPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.SetToken(ctx, "keep"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	got, err := db.Token(ctx)
	if err != nil || got != "keep" {
		t.Fatalf("got %q, %v, want keep", got, err)
	}
}
