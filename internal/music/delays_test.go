package music

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDelayStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".delays")
	store := NewDelayStore(path, zerolog.Nop())

	store.SetDelay("song.mp4", FieldAudioDelay, 2.5, 0)
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	reloaded := NewDelayStore(path, zerolog.Nop())
	rec, ok := reloaded.Get("song.mp4")
	if !ok {
		t.Fatal("Expected record after reload")
	}
	if got := rec.AudioDelayOr(0); got != 2.5 {
		t.Errorf("Expected audio delay 2.5, got %v", got)
	}
	if rec.SubtitleDelay != nil {
		t.Errorf("Expected subtitle delay to stay unset, got %v", *rec.SubtitleDelay)
	}
}

func TestDelayStoreDefaultRemovesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".delays")
	store := NewDelayStore(path, zerolog.Nop())

	store.SetDelay("song.mp4", FieldAudioDelay, 2.5, 0)
	store.SetShowSubtitle("song.mp4", false, true)
	store.SetDelay("song.mp4", FieldAudioDelay, 0, 0)

	rec, ok := store.Get("song.mp4")
	if !ok {
		t.Fatal("Expected record to survive while show_subtitle is set")
	}
	if rec.AudioDelay != nil {
		t.Error("Expected audio_delay key removed")
	}

	store.SetShowSubtitle("song.mp4", true, true)
	if _, ok := store.Get("song.mp4"); ok {
		t.Error("Expected empty record to be removed entirely")
	}

	if err := store.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if strings.Contains(string(data), "song.mp4") {
		t.Errorf("Expected flushed file to omit removed song, got %q", data)
	}
}

func TestDelayStoreFlushOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".delays")
	store := NewDelayStore(path, zerolog.Nop())

	if err := store.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("Expected clean store not to create a file")
	}

	store.SetDelay("a.mp4", FieldSubtitleDelay, -0.3, 0)
	if !store.Dirty() {
		t.Fatal("Expected store to be dirty after a change")
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if store.Dirty() {
		t.Error("Expected store to be clean after flush")
	}

	store.SetDelay("a.mp4", FieldSubtitleDelay, -0.3, 0)
	if store.Dirty() {
		t.Error("Expected identical value not to mark the store dirty")
	}
}

func TestDelayStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".delays")
	if err := os.WriteFile(path, []byte("this is = = not toml [["), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewDelayStore(path, zerolog.Nop())
	if _, ok := store.Get("anything"); ok {
		t.Fatal("Expected empty map from corrupt file")
	}

	store.SetDelay("b.mp4", FieldAudioDelay, 1, 0)
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	reloaded := NewDelayStore(path, zerolog.Nop())
	if rec, ok := reloaded.Get("b.mp4"); !ok || rec.AudioDelayOr(0) != 1 {
		t.Errorf("Expected rewritten file to be readable, got %+v (%v)", rec, ok)
	}
}

func TestDelayStoreInMemoryWhenPathEmpty(t *testing.T) {
	store := NewDelayStore("", zerolog.Nop())
	if store.Enabled() {
		t.Fatal("Expected store without path to be disabled")
	}
	store.SetDelay("c.mp4", FieldAudioDelay, 0.5, 0)
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func TestDelayStoreSetPathReloads(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")

	store := NewDelayStore(first, zerolog.Nop())
	store.SetDelay("d.mp4", FieldAudioDelay, 0.2, 0)
	if err := store.SetPath(second); err != nil {
		t.Fatalf("SetPath failed: %v", err)
	}
	if _, ok := store.Get("d.mp4"); ok {
		t.Error("Expected second file to start empty")
	}

	reloaded := NewDelayStore(first, zerolog.Nop())
	if _, ok := reloaded.Get("d.mp4"); !ok {
		t.Error("Expected pending changes flushed to the first file on switch")
	}
}
