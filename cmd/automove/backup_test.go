package main

import (
	"context"
	"encoding/json"
	"testing"

	"automove/internal/config"
	"automove/internal/store"
)

func TestSnapshot_RoundTripAcrossStores(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemoryStore("prod")
	cats := store.NewCategories(src)
	if err := cats.EnsureDefaults(ctx); err != nil {
		t.Fatal(err)
	}
	cats.Set(ctx, store.FieldWaitingUser, "111")
	cats.Set(ctx, store.FieldClosing, "333")

	snap, err := exportSnapshot(ctx, src, config.StorageConfig{Driver: "memory", Scope: "prod"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Values) != 4 {
		t.Fatalf("expected 4 keys, got %d", len(snap.Values))
	}
	if snap.Values[store.KeyRecruitment] != nil {
		t.Errorf("unset key should export as null")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var decoded snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	dst := store.NewMemoryStore("prod")
	written, skipped, err := importSnapshot(ctx, dst, &decoded, false)
	if err != nil {
		t.Fatal(err)
	}
	if written != 2 || skipped != 0 {
		t.Errorf("written=%d skipped=%d, want 2/0", written, skipped)
	}

	got, err := store.NewCategories(dst).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.WaitingUser != "111" || got.Closing != "333" || got.Recruitment != "" {
		t.Errorf("unexpected restored config: %+v", got)
	}
	keys, _ := dst.Keys(ctx)
	if len(keys) != 4 {
		t.Errorf("restore should create every key, got %v", keys)
	}
}

func TestSnapshot_ImportKeepsExistingUnlessForced(t *testing.T) {
	ctx := context.Background()
	v := "new"
	snap := &snapshot{Version: snapshotVersion, Values: map[string]*string{store.KeyClosing: &v}}

	dst := store.NewMemoryStore("prod")
	dst.Set(ctx, store.KeyClosing, "old")

	written, skipped, err := importSnapshot(ctx, dst, snap, false)
	if err != nil {
		t.Fatal(err)
	}
	if written != 0 || skipped != 1 {
		t.Errorf("written=%d skipped=%d, want 0/1", written, skipped)
	}
	if got, _, _ := dst.Get(ctx, store.KeyClosing); got != "old" {
		t.Errorf("existing value overwritten without --force: %q", got)
	}

	if _, _, err := importSnapshot(ctx, dst, snap, true); err != nil {
		t.Fatal(err)
	}
	if got, _, _ := dst.Get(ctx, store.KeyClosing); got != "new" {
		t.Errorf("forced restore did not overwrite: %q", got)
	}
}
