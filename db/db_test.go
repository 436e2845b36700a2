package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/song-tender/db"
	"github.com/onnwee/song-tender/testutil"
)

func TestOAuthTokenRoundtrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := db.UpsertOAuthToken(ctx, database, "spotify", "acc-1", "ref-1", expiry, "scope-a"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	access, refresh, gotExpiry, scope, err := db.GetOAuthToken(ctx, database, "spotify")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "acc-1" || refresh != "ref-1" || scope != "scope-a" {
		t.Fatalf("got %q/%q/%q", access, refresh, scope)
	}
	if !gotExpiry.Equal(expiry) {
		t.Fatalf("expiry = %v, want %v", gotExpiry, expiry)
	}

	// Upsert replaces in place.
	if err := db.UpsertOAuthToken(ctx, database, "spotify", "acc-2", "ref-2", expiry, ""); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	access, _, _, _, err = db.GetOAuthToken(ctx, database, "spotify")
	if err != nil {
		t.Fatal(err)
	}
	if access != "acc-2" {
		t.Fatalf("access = %q after upsert", access)
	}
}

func TestGetOAuthTokenMissingProvider(t *testing.T) {
	database := testutil.SetupTestDB(t)

	access, refresh, _, _, err := db.GetOAuthToken(context.Background(), database, "never-stored")
	if err != nil {
		t.Fatalf("missing row should not error: %v", err)
	}
	if access != "" || refresh != "" {
		t.Fatalf("got %q/%q, want zero values", access, refresh)
	}
}

func TestKVRoundtrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	if v, err := db.GetKV(ctx, database, "absent"); err != nil || v != "" {
		t.Fatalf("absent key: %q, %v", v, err)
	}
	if err := db.SetKV(ctx, database, "settings_yaml", "usage_types: [command]"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetKV(ctx, database, "settings_yaml", "usage_types: [bits]"); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetKV(ctx, database, "settings_yaml")
	if err != nil {
		t.Fatal(err)
	}
	if v != "usage_types: [bits]" {
		t.Fatalf("value = %q, want last write", v)
	}
}
