package music

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	basicStopGrace  = 2 * time.Second
	basicVolumeStep = 3 // dB per key press
)

// BasicBackend drives a player that only understands single-key commands on
// stdin (omxplayer and similar). It cannot report position or seek.
type BasicBackend struct {
	path   string
	args   []string
	logger zerolog.Logger

	mu           sync.Mutex
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	done         chan struct{}
	paused       bool
	volumeOffset int
}

func NewBasicBackend(path string, args []string, logger zerolog.Logger) *BasicBackend {
	if path == "" {
		path = "omxplayer"
	}
	return &BasicBackend{path: path, args: args, logger: logger}
}

func (b *BasicBackend) Name() string {
	return "basic"
}

func (b *BasicBackend) Capabilities() Capability {
	return CapAdjustVolume
}

func (b *BasicBackend) Launch(ctx context.Context, opts LaunchOptions) (BackendStatus, error) {
	if err := b.Stop(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("failed to stop previous player")
	}

	args := append([]string{}, b.args...)
	args = append(args, opts.File)
	cmd := exec.Command(b.path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return BackendStatus{}, fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return BackendStatus{}, fmt.Errorf("start %s: %w", b.path, err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	b.mu.Lock()
	b.cmd = cmd
	b.stdin = stdin
	b.done = done
	b.paused = false
	offset := b.volumeOffset
	b.mu.Unlock()

	// re-apply the session volume offset to the fresh process
	for i := 0; i < abs(offset)/basicVolumeStep; i++ {
		key := "+"
		if offset < 0 {
			key = "-"
		}
		if err := b.send(key); err != nil {
			break
		}
	}

	if opts.StartPaused {
		if err := b.Pause(ctx); err != nil {
			return BackendStatus{}, err
		}
	}

	b.logger.Info().Str("file", opts.File).Msg("player launched")
	return b.Status(ctx)
}

func (b *BasicBackend) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aliveLocked()
}

func (b *BasicBackend) aliveLocked() bool {
	if b.done == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func (b *BasicBackend) Status(ctx context.Context) (BackendStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.aliveLocked() {
		return BackendStatus{}, ErrBackendNotRunning
	}
	state := "playing"
	if b.paused {
		state = "paused"
	}
	return BackendStatus{
		State:    state,
		Volume:   b.volumeOffset,
		Rate:     1,
		HasVideo: true,
	}, nil
}

func (b *BasicBackend) Play(ctx context.Context) error {
	b.mu.Lock()
	paused := b.paused
	b.mu.Unlock()
	if !paused {
		return nil
	}
	return b.togglePause()
}

func (b *BasicBackend) Pause(ctx context.Context) error {
	b.mu.Lock()
	paused := b.paused
	b.mu.Unlock()
	if paused {
		return nil
	}
	return b.togglePause()
}

func (b *BasicBackend) togglePause() error {
	if err := b.send("p"); err != nil {
		return err
	}
	b.mu.Lock()
	b.paused = !b.paused
	b.mu.Unlock()
	return nil
}

func (b *BasicBackend) Stop(ctx context.Context) error {
	b.mu.Lock()
	cmd, done := b.cmd, b.done
	b.mu.Unlock()
	if cmd == nil || done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	if err := b.send("q"); err != nil {
		b.logger.Debug().Err(err).Msg("quit key failed, killing")
	}

	select {
	case <-done:
	case <-ctx.Done():
		_ = b.Kill()
		<-done
	case <-time.After(basicStopGrace):
		_ = b.Kill()
		<-done
	}
	return nil
}

func (b *BasicBackend) AdjustVolume(ctx context.Context, delta int) error {
	if delta == 0 {
		return nil
	}
	key := "+"
	if delta < 0 {
		key = "-"
	}
	if err := b.send(key); err != nil {
		return err
	}
	b.mu.Lock()
	if delta > 0 {
		b.volumeOffset += basicVolumeStep
	} else {
		b.volumeOffset -= basicVolumeStep
	}
	b.mu.Unlock()
	return nil
}

func (b *BasicBackend) Seek(ctx context.Context, sec float64) error {
	return ErrUnsupported
}

func (b *BasicBackend) SetVolume(ctx context.Context, volume int) error {
	return ErrUnsupported
}

func (b *BasicBackend) SetRate(ctx context.Context, rate float64) error {
	return ErrUnsupported
}

func (b *BasicBackend) SetAudioDelay(ctx context.Context, sec float64) error {
	return ErrUnsupported
}

func (b *BasicBackend) SetSubtitleDelay(ctx context.Context, sec float64) error {
	return ErrUnsupported
}

func (b *BasicBackend) Kill() error {
	b.mu.Lock()
	cmd := b.cmd
	b.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (b *BasicBackend) send(key string) error {
	b.mu.Lock()
	stdin := b.stdin
	alive := b.aliveLocked()
	b.mu.Unlock()
	if stdin == nil || !alive {
		return ErrBackendNotRunning
	}
	if _, err := io.WriteString(stdin, key); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnresponsive, err)
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
