package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/soundmirror/soundmirror/pkg/cache"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Connect(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func trackSettings() *cache.EndpointSettings {
	return &cache.EndpointSettings{
		RepositoryName: "tracks",
		IDFunc:         cache.PathID("tracks"),
	}
}

func albumTrackSettings() *cache.PaginatedEndpointSettings {
	return &cache.PaginatedEndpointSettings{
		EndpointSettings: cache.EndpointSettings{
			RepositoryName: "album_tracks",
			IDFunc:         cache.PathID("albums"),
		},
	}
}

func mustCreate(t *testing.T, store *Store, settings cache.RequestSettings) {
	t.Helper()
	if err := store.CreateRepository(context.Background(), settings); err != nil {
		t.Fatalf("CreateRepository() failed: %v", err)
	}
}

func TestConnect_AppendsSuffix(t *testing.T) {
	store := newTestStore(t)
	if !strings.HasSuffix(store.Path(), ".sqlite") {
		t.Errorf("Path() = %q, want .sqlite suffix", store.Path())
	}
}

func TestConnectInMemory(t *testing.T) {
	store, err := ConnectInMemory()
	if err != nil {
		t.Fatalf("ConnectInMemory() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mustCreate(t, store, trackSettings())
}

func TestStore_CreateRepository_Idempotent(t *testing.T) {
	store := newTestStore(t)
	settings := trackSettings()

	mustCreate(t, store, settings)
	mustCreate(t, store, settings)
}

func TestStore_CreateRepository_InvalidName(t *testing.T) {
	store := newTestStore(t)
	settings := &cache.EndpointSettings{RepositoryName: "tracks; DROP TABLE x"}

	if err := store.CreateRepository(context.Background(), settings); err == nil {
		t.Error("expected error for invalid repository name")
	}
}

func TestStore_SetAndGet(t *testing.T) {
	store := newTestStore(t)
	settings := trackSettings()
	mustCreate(t, store, settings)
	ctx := context.Background()

	key := cache.Key{Method: "GET", ID: "abc"}
	if err := store.Set(ctx, settings, key, "song", `{"id": "abc"}`, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	value, found, err := store.Get(ctx, settings, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !found {
		t.Fatal("expected a hit")
	}
	if value != `{"id": "abc"}` {
		t.Errorf("Get() = %q", value)
	}

	ok, err := store.Contains(ctx, settings, key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("Contains() = false, want true")
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	settings := trackSettings()
	mustCreate(t, store, settings)

	_, found, err := store.Get(context.Background(), settings, cache.Key{Method: "GET", ID: "missing"})
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found {
		t.Error("expected a miss for an absent key")
	}
}

func TestStore_ExpiredRowsReadAsMissing(t *testing.T) {
	store := newTestStore(t)
	settings := trackSettings()
	mustCreate(t, store, settings)
	ctx := context.Background()

	key := cache.Key{Method: "GET", ID: "stale"}
	if err := store.Set(ctx, settings, key, "", `{"id": "stale"}`, time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	if _, found, err := store.Get(ctx, settings, key); err != nil || found {
		t.Errorf("Get(expired) = found %v, err %v; want miss", found, err)
	}
	if ok, err := store.Contains(ctx, settings, key); err != nil || ok {
		t.Errorf("Contains(expired) = %v, err %v; want false", ok, err)
	}
}

func TestStore_OverwriteResetsExpiry(t *testing.T) {
	store := newTestStore(t)
	settings := trackSettings()
	mustCreate(t, store, settings)
	ctx := context.Background()

	key := cache.Key{Method: "GET", ID: "abc"}
	if err := store.Set(ctx, settings, key, "", `{"v": 1}`, time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, settings, key, "", `{"v": 2}`, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	value, found, err := store.Get(ctx, settings, key)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected the overwritten row to be live again")
	}
	if value != `{"v": 2}` {
		t.Errorf("Get() = %q, want the replaced value", value)
	}

	count, err := store.Count(ctx, settings, true)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1 after overwrite", count)
	}
}

func TestStore_CountExpiryFilter(t *testing.T) {
	store := newTestStore(t)
	settings := trackSettings()
	mustCreate(t, store, settings)
	ctx := context.Background()

	fresh := cache.Key{Method: "GET", ID: "fresh"}
	stale := cache.Key{Method: "GET", ID: "stale"}
	if err := store.Set(ctx, settings, fresh, "", "{}", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, settings, stale, "", "{}", time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	live, err := store.Count(ctx, settings, false)
	if err != nil {
		t.Fatal(err)
	}
	if live != 1 {
		t.Errorf("Count(live) = %d, want 1", live)
	}

	all, err := store.Count(ctx, settings, true)
	if err != nil {
		t.Fatal(err)
	}
	if all != 2 {
		t.Errorf("Count(all) = %d, want 2", all)
	}
}

func TestStore_ClearExpiredOnly(t *testing.T) {
	store := newTestStore(t)
	settings := trackSettings()
	mustCreate(t, store, settings)
	ctx := context.Background()

	fresh := cache.Key{Method: "GET", ID: "fresh"}
	stale := cache.Key{Method: "GET", ID: "stale"}
	if err := store.Set(ctx, settings, fresh, "", "{}", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, settings, stale, "", "{}", time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Clear(ctx, settings, true)
	if err != nil {
		t.Fatalf("Clear(expiredOnly) failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Clear(expiredOnly) = %d, want 1", removed)
	}

	removed, err = store.Clear(ctx, settings, false)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("Clear(all) = %d, want the remaining fresh row", removed)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	settings := trackSettings()
	mustCreate(t, store, settings)
	ctx := context.Background()

	key := cache.Key{Method: "GET", ID: "abc"}
	if err := store.Set(ctx, settings, key, "", "{}", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Delete(ctx, settings, key)
	if err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if !removed {
		t.Error("Delete() = false for an existing row")
	}

	removed, err = store.Delete(ctx, settings, key)
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Error("Delete() = true for an absent row")
	}
}

func TestStore_PaginatedKeysAreDistinct(t *testing.T) {
	store := newTestStore(t)
	settings := albumTrackSettings()
	mustCreate(t, store, settings)
	ctx := context.Background()

	pages := []cache.Key{
		{Method: "GET", ID: "xyz", Offset: 0, Size: 50},
		{Method: "GET", ID: "xyz", Offset: 50, Size: 50},
	}
	for i, key := range pages {
		if err := store.Set(ctx, settings, key, "", `{"page": `+string(rune('0'+i))+`}`, time.Now().Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	count, err := store.Count(ctx, settings, false)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want one row per page", count)
	}

	value, found, err := store.Get(ctx, settings, pages[1])
	if err != nil || !found {
		t.Fatalf("Get(page 2) = found %v, err %v", found, err)
	}
	if value != `{"page": 1}` {
		t.Errorf("Get(page 2) = %q", value)
	}
}

func TestStore_UseAfterClose(t *testing.T) {
	store := newTestStore(t)
	settings := trackSettings()
	mustCreate(t, store, settings)

	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}

	ctx := context.Background()
	if _, _, err := store.Get(ctx, settings, cache.Key{Method: "GET", ID: "abc"}); !errors.Is(err, cache.ErrClosed) {
		t.Errorf("Get after close error = %v, want ErrClosed", err)
	}
	if err := store.Set(ctx, settings, cache.Key{Method: "GET", ID: "abc"}, "", "{}", time.Now()); !errors.Is(err, cache.ErrClosed) {
		t.Errorf("Set after close error = %v, want ErrClosed", err)
	}
}
