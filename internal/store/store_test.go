package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"automove/internal/config"
	"automove/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func backends(t *testing.T) map[string]domain.ConfigStore {
	t.Helper()

	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "config.db"), "test", testLogger())
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	mr := miniredis.RunT(t)
	redisStore := newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test", testLogger())
	t.Cleanup(func() { redisStore.Close() })

	return map[string]domain.ConfigStore{
		"memory": NewMemoryStore("test"),
		"sqlite": sqliteStore,
		"redis":  redisStore,
	}
}

func TestStore_MissingKeyIsNotAnError(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			v, ok, err := s.Get(context.Background(), "never_set")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok || v != "" {
				t.Errorf("expected absent, got %q ok=%v", v, ok)
			}
		})
	}
}

func TestStore_SetUpsertsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, KeyClosing, "111"); err != nil {
				t.Fatal(err)
			}
			if err := s.Set(ctx, KeyClosing, "222"); err != nil {
				t.Fatal(err)
			}
			v, ok, err := s.Get(ctx, KeyClosing)
			if err != nil {
				t.Fatal(err)
			}
			if !ok || v != "222" {
				t.Errorf("expected 222, got %q ok=%v", v, ok)
			}
		})
	}
}

func TestStore_SetEmptyClears(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s.Set(ctx, KeyRecruitment, "999")
			if err := s.Set(ctx, KeyRecruitment, ""); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := s.Get(ctx, KeyRecruitment); ok {
				t.Error("expected cleared key to read as unset")
			}
			keys, _ := s.Keys(ctx)
			if !reflect.DeepEqual(keys, []string{KeyRecruitment}) {
				t.Errorf("cleared key should stay present, got %v", keys)
			}
		})
	}
}

func TestStore_EnsureDefaultsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.EnsureDefaults(ctx, CategoryKeys); err != nil {
				t.Fatal(err)
			}
			once, err := s.Keys(ctx)
			if err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 3; i++ {
				if err := s.EnsureDefaults(ctx, CategoryKeys); err != nil {
					t.Fatalf("ensure #%d: %v", i+2, err)
				}
			}
			again, _ := s.Keys(ctx)
			if !reflect.DeepEqual(once, again) {
				t.Errorf("key set changed: %v -> %v", once, again)
			}
			if len(once) != len(CategoryKeys) {
				t.Errorf("expected %d keys, got %v", len(CategoryKeys), once)
			}
			for _, k := range CategoryKeys {
				if _, ok, _ := s.Get(ctx, k); ok {
					t.Errorf("default for %s should be unset", k)
				}
			}
		})
	}
}

func TestStore_EnsureDefaultsKeepsExistingValues(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s.Set(ctx, KeyWaitingUser, "42")
			if err := s.EnsureDefaults(ctx, CategoryKeys); err != nil {
				t.Fatal(err)
			}
			v, ok, _ := s.Get(ctx, KeyWaitingUser)
			if !ok || v != "42" {
				t.Errorf("existing value overwritten: %q ok=%v", v, ok)
			}
		})
	}
}

func TestSQLiteStore_ScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	a, err := NewSQLiteStore(path, "guild-a", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	a.Set(ctx, KeyClosing, "1")
	a.Close()

	b, err := NewSQLiteStore(path, "guild-b", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if _, ok, _ := b.Get(ctx, KeyClosing); ok {
		t.Error("scope guild-b should not see guild-a's value")
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := NewSQLiteStore(path, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.Set(ctx, KeyWaitingStaff, "77")
	s.Close()

	s, err = NewSQLiteStore(path, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	v, ok, err := s.Get(ctx, KeyWaitingStaff)
	if err != nil || !ok || v != "77" {
		t.Errorf("expected 77 after reopen, got %q ok=%v err=%v", v, ok, err)
	}
}

func TestSQLiteStore_ClosedDBIsUnavailable(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "closed.db"), "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, _, err = s.Get(context.Background(), KeyClosing)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestSQLiteStore_RelocationLog(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"), "", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.LogRelocation(ctx, domain.RelocationRecord{ChannelID: "c1", From: "X", To: "A", Reason: domain.ReasonStaffReply, Result: "moved"})
	s.LogRelocation(ctx, domain.RelocationRecord{ChannelID: "c1", From: "A", To: "B", Reason: domain.ReasonUserReplyAfterStaff, Result: "failed", Error: "403"})

	recs, err := s.RecentRelocations(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].To != "B" || recs[0].Error != "403" {
		t.Errorf("expected newest first, got %+v", recs[0])
	}
}

func TestRedisStore_UnreachableIsUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStore(context.Background(), RedisConfig{Addr: addr})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Driver: "etcd"}, testLogger())
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{Driver: "memory"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}
}

func TestMongoStore_Contract(t *testing.T) {
	uri := os.Getenv("AUTOMOVE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("AUTOMOVE_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := NewMongoStore(ctx, MongoConfig{URI: uri, Database: "automove_test", Scope: t.Name()})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		s.coll.Drop(ctx)
		s.Close()
	}()

	if err := s.EnsureDefaults(ctx, CategoryKeys); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureDefaults(ctx, CategoryKeys); err != nil {
		t.Fatal(err)
	}
	keys, _ := s.Keys(ctx)
	if len(keys) != len(CategoryKeys) {
		t.Errorf("expected %d keys, got %v", len(CategoryKeys), keys)
	}
	s.Set(ctx, KeyClosing, "5")
	if v, ok, _ := s.Get(ctx, KeyClosing); !ok || v != "5" {
		t.Errorf("expected 5, got %q", v)
	}
}
