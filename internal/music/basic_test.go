package music

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBasicBackendSendsKeys(t *testing.T) {
	keysFile := filepath.Join(t.TempDir(), "keys")
	script := fakePlayerScript(t, "exec cat > "+keysFile)

	b := NewBasicBackend(script, nil, zerolog.Nop())
	defer b.Kill()

	ctx := context.Background()
	status, err := b.Launch(ctx, LaunchOptions{File: "song.mp4", StartPaused: true})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if !status.Paused() {
		t.Errorf("Expected start-paused launch to report paused, got %q", status.State)
	}

	if err := b.Play(ctx); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if err := b.AdjustVolume(ctx, 10); err != nil {
		t.Fatalf("AdjustVolume failed: %v", err)
	}

	status, err = b.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Paused() || status.Volume != basicVolumeStep {
		t.Errorf("Unexpected status after play and volume up: %+v", status)
	}

	var keys []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		keys, _ = os.ReadFile(keysFile)
		if string(keys) == "pp+" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if string(keys) != "pp+" {
		t.Errorf("Expected keys %q, got %q", "pp+", keys)
	}
}

func TestBasicBackendCapabilities(t *testing.T) {
	b := NewBasicBackend("", nil, zerolog.Nop())
	ctx := context.Background()

	if b.Capabilities().Has(CapSeek) || b.Capabilities().Has(CapTranspose) {
		t.Error("Expected basic backend to lack seek and transpose")
	}
	if err := b.Seek(ctx, 10); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported from Seek, got %v", err)
	}
	if err := b.SetRate(ctx, 1.1); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported from SetRate, got %v", err)
	}
	if _, err := b.Status(ctx); !errors.Is(err, ErrBackendNotRunning) {
		t.Errorf("Expected ErrBackendNotRunning before launch, got %v", err)
	}
	if err := b.AdjustVolume(ctx, 1); !errors.Is(err, ErrBackendNotRunning) {
		t.Errorf("Expected ErrBackendNotRunning before launch, got %v", err)
	}
}
