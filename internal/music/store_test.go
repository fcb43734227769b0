package music

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreQueueSnapshot(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	entries, hash, err := store.LoadQueue(ctx)
	if err != nil || entries != nil || hash != "" {
		t.Fatalf("Expected empty snapshot, got %v %q %v", entries, hash, err)
	}

	want := []QueueEntry{{File: "/s/a.mp4", Title: "a", User: "u1"}, {File: "/s/b.mp4", Title: "b", User: "u2"}}
	if err := store.SaveQueue(ctx, want, HashEntries(want)); err != nil {
		t.Fatalf("SaveQueue failed: %v", err)
	}
	if got := mr.HGet(queueSnapshotKey, "hash"); got != HashEntries(want) {
		t.Errorf("Expected stored hash %q, got %q", HashEntries(want), got)
	}

	entries, hash, err = store.LoadQueue(ctx)
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	if len(entries) != 2 || entries[1] != want[1] || hash != HashEntries(want) {
		t.Errorf("Unexpected snapshot: %+v %q", entries, hash)
	}

	if err := store.SaveQueue(ctx, nil, HashEntries(nil)); err != nil {
		t.Fatal(err)
	}
	if got := mr.HGet(queueSnapshotKey, "entries"); got != "[]" {
		t.Errorf("Expected empty queue serialized as [], got %q", got)
	}
}

func TestRedisStoreDownloadStatuses(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	_ = store.SetDownloadStatus(ctx, "u1", DownloadPending)
	_ = store.SetDownloadStatus(ctx, "u1", DownloadEnqueued)
	_ = store.SetDownloadStatus(ctx, "u2", DownloadFailed)

	statuses, err := store.DownloadStatuses(ctx)
	if err != nil {
		t.Fatalf("DownloadStatuses failed: %v", err)
	}
	if statuses["u1"] != DownloadEnqueued || statuses["u2"] != DownloadFailed {
		t.Errorf("Unexpected statuses: %v", statuses)
	}
}

func TestRedisStoreSettings(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	def := Settings{UseDNN: true, VocalMode: VocalModeMixed}

	got, err := store.GetSettings(ctx, def)
	if err != nil || got != def {
		t.Fatalf("Expected defaults, got %+v (%v)", got, err)
	}

	if err := store.SetSettings(ctx, Settings{UseDNN: false, NormalizeVolume: true, VocalMode: VocalModeNonvocal}); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetSettings(ctx, def)
	if got.UseDNN || !got.NormalizeVolume || got.VocalMode != VocalModeNonvocal {
		t.Errorf("Unexpected settings: %+v", got)
	}

	mr.HSet(settingsKey, "use_dnn", "garbage")
	got, _ = store.GetSettings(ctx, def)
	if !got.UseDNN {
		t.Error("Expected unparsable value to fall back to the default")
	}
}

func TestNilRedisStore(t *testing.T) {
	var store *RedisStore
	if err := store.SaveQueue(context.Background(), nil, ""); !errors.Is(err, ErrStoreNil) {
		t.Errorf("Expected ErrStoreNil, got %v", err)
	}
}
