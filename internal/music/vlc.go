package music

import (
	"context"
	"crypto/rand"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	vlcVolumeStep       = 10
	vlcStopGrace        = 2 * time.Second
	vlcRequestTimeout   = 2 * time.Second
	vlcReadyBackoffMin  = 100 * time.Millisecond
	vlcReadyBackoffMax  = time.Second
	vlcPasswordLength   = 32
	vlcPasswordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

type VLCOptions struct {
	Path         string
	Port         int
	ReadyTimeout time.Duration
	// Endpoint overrides the status URL derived from Port.
	Endpoint string
	// ExtraArgs are appended to the base command line, e.g. window embedding flags.
	ExtraArgs []string
}

// VLCBackend runs VLC with its HTTP interface enabled and drives it through
// requests/status.xml.
type VLCBackend struct {
	opts     VLCOptions
	endpoint string
	password string
	client   *http.Client
	logger   zerolog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

func NewVLCBackend(opts VLCOptions, logger zerolog.Logger) (*VLCBackend, error) {
	if opts.Path == "" {
		opts.Path = "cvlc"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}

	password, err := randomPassword(vlcPasswordLength)
	if err != nil {
		return nil, fmt.Errorf("generate vlc password: %w", err)
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("http://localhost:%d/requests/status.xml", opts.Port)
	}

	return &VLCBackend{
		opts:     opts,
		endpoint: endpoint,
		password: password,
		client:   &http.Client{Timeout: vlcRequestTimeout},
		logger:   logger,
	}, nil
}

func (b *VLCBackend) Name() string {
	return "vlc"
}

func (b *VLCBackend) Capabilities() Capability {
	return CapStatus | CapSeek | CapSetVolume | CapAdjustVolume | CapSetRate | CapTranspose | CapDelays | CapSidecar
}

func (b *VLCBackend) baseArgs() []string {
	args := []string{
		"--fullscreen",
		"--play-and-exit",
		"--extraintf", "http",
		"--http-port", strconv.Itoa(b.opts.Port),
		"--http-password", b.password,
		"--no-embedded-video",
		"--no-keyboard-events",
		"--no-mouse-events",
		"--video-on-top",
		"--volume-save",
		"--no-video-title",
		"--no-loop",
		"--no-repeat",
		"--mouse-hide-timeout", "0",
		"--intf", "dummy",
	}
	return append(args, b.opts.ExtraArgs...)
}

func launchArgs(opts LaunchOptions) []string {
	var args []string
	if opts.Transpose != 0 {
		args = append(args,
			"--audio-filter", "scaletempo_pitch",
			"--pitch-shift", strconv.Itoa(opts.Transpose),
			"--speex-resampler-quality", "10",
		)
	}
	if opts.StartTime > 0 {
		args = append(args, "--start-time="+formatFloat(opts.StartTime))
	}
	if opts.StartPaused {
		args = append(args, "--start-paused")
	}
	if opts.Sidecar != "" {
		args = append(args, "--input-slave="+opts.Sidecar, "--audio-track=1")
	}
	if opts.AudioDelay != 0 {
		args = append(args, "--audio-desync="+formatFloat(opts.AudioDelay*1000))
	}
	if opts.SubtitleDelay != 0 {
		// VLC takes subtitle delay in tenths of a second
		args = append(args, "--sub-delay="+formatFloat(opts.SubtitleDelay*10))
	}
	if opts.ShowSubtitle {
		args = append(args, "--sub-track=0")
	} else {
		args = append(args, "--no-spu")
	}
	if opts.Rate > 0 && opts.Rate != 1 {
		args = append(args, "--rate="+formatFloat(opts.Rate))
	}
	return append(args, opts.File)
}

func (b *VLCBackend) Launch(ctx context.Context, opts LaunchOptions) (BackendStatus, error) {
	b.stopProcess(ctx)

	args := append(b.baseArgs(), launchArgs(opts)...)
	cmd := exec.Command(b.opts.Path, args...)
	if err := cmd.Start(); err != nil {
		return BackendStatus{}, fmt.Errorf("start vlc: %w", err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	b.mu.Lock()
	b.cmd = cmd
	b.done = done
	b.mu.Unlock()

	b.logger.Info().Str("file", opts.File).Float64("start", opts.StartTime).Int("transpose", opts.Transpose).Msg("vlc launched")

	readyCtx, cancel := context.WithTimeout(ctx, b.opts.ReadyTimeout)
	defer cancel()

	status, err := b.waitReady(readyCtx, done)
	if err != nil {
		return BackendStatus{}, err
	}

	if opts.Volume > 0 {
		status, err = b.applyVolume(readyCtx, opts.Volume)
		if err != nil {
			b.logger.Warn().Err(err).Int("volume", opts.Volume).Msg("failed to apply start volume")
		}
	}
	return status, nil
}

// waitReady polls the control channel with growing backoff. Refused
// connections mean VLC is still starting.
func (b *VLCBackend) waitReady(ctx context.Context, done <-chan struct{}) (BackendStatus, error) {
	backoff := vlcReadyBackoffMin
	for {
		status, ready, err := b.fetchStatus(ctx, "")
		if err == nil && ready {
			return status, nil
		}

		select {
		case <-done:
			return BackendStatus{}, fmt.Errorf("%w: vlc exited during startup", ErrBackendNotRunning)
		case <-ctx.Done():
			return BackendStatus{}, fmt.Errorf("%w: not ready: %v", ErrBackendUnresponsive, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, vlcReadyBackoffMax)
	}
}

func (b *VLCBackend) applyVolume(ctx context.Context, volume int) (BackendStatus, error) {
	var last BackendStatus
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		status, _, err := b.fetchStatus(ctx, "volume&val="+strconv.Itoa(volume))
		if err == nil && status.Volume == volume {
			return status, nil
		}
		last, lastErr = status, err
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(vlcReadyBackoffMin):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("volume reported %d", last.Volume)
	}
	return last, lastErr
}

func (b *VLCBackend) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
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

func (b *VLCBackend) Status(ctx context.Context) (BackendStatus, error) {
	return b.command(ctx, "")
}

func (b *VLCBackend) Play(ctx context.Context) error {
	_, err := b.command(ctx, "pl_play")
	return err
}

// Pause toggles pause in VLC; callers check state first.
func (b *VLCBackend) Pause(ctx context.Context) error {
	_, err := b.command(ctx, "pl_pause")
	return err
}

func (b *VLCBackend) Stop(ctx context.Context) error {
	b.stopProcess(ctx)
	return nil
}

func (b *VLCBackend) Seek(ctx context.Context, sec float64) error {
	_, err := b.command(ctx, "seek&val="+formatFloat(math.Max(sec, 0)))
	return err
}

func (b *VLCBackend) SetVolume(ctx context.Context, volume int) error {
	_, err := b.command(ctx, "volume&val="+strconv.Itoa(max(volume, 0)))
	return err
}

func (b *VLCBackend) AdjustVolume(ctx context.Context, delta int) error {
	if delta == 0 {
		return nil
	}
	val := strconv.Itoa(delta)
	if delta > 0 {
		val = "+" + val
	}
	_, err := b.command(ctx, "volume&val="+url.QueryEscape(val))
	return err
}

func (b *VLCBackend) SetRate(ctx context.Context, rate float64) error {
	_, err := b.command(ctx, "rate&val="+formatFloat(rate))
	return err
}

func (b *VLCBackend) SetAudioDelay(ctx context.Context, sec float64) error {
	_, err := b.command(ctx, "audiodelay&val="+formatFloat(sec))
	return err
}

func (b *VLCBackend) SetSubtitleDelay(ctx context.Context, sec float64) error {
	_, err := b.command(ctx, "subdelay&val="+formatFloat(sec))
	return err
}

func (b *VLCBackend) Kill() error {
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

// stopProcess asks VLC to stop and force-kills it if it does not exit in
// time. VLC's HTTP server misbehaves if a new instance starts on top.
func (b *VLCBackend) stopProcess(ctx context.Context) {
	b.mu.Lock()
	cmd, done := b.cmd, b.done
	b.mu.Unlock()
	if cmd == nil || done == nil {
		return
	}

	select {
	case <-done:
		return
	default:
	}

	stopCtx, cancel := context.WithTimeout(ctx, vlcRequestTimeout)
	_, _, err := b.fetchStatus(stopCtx, "pl_stop")
	cancel()
	if err != nil {
		b.logger.Debug().Err(err).Msg("vlc stop request failed, killing")
	}

	select {
	case <-done:
	case <-time.After(vlcStopGrace):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	}
}

func (b *VLCBackend) command(ctx context.Context, command string) (BackendStatus, error) {
	if !b.Alive() {
		return BackendStatus{}, ErrBackendNotRunning
	}
	status, _, err := b.fetchStatus(ctx, command)
	return status, err
}

// fetchStatus issues one request and reports whether a media stream is loaded.
func (b *VLCBackend) fetchStatus(ctx context.Context, command string) (BackendStatus, bool, error) {
	endpoint := b.endpoint
	if command != "" {
		endpoint += "?command=" + command
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return BackendStatus{}, false, err
	}
	req.SetBasicAuth("", b.password)

	resp, err := b.client.Do(req)
	if err != nil {
		return BackendStatus{}, false, fmt.Errorf("%w: %v", ErrBackendUnresponsive, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return BackendStatus{}, false, fmt.Errorf("%w: read status: %v", ErrBackendUnresponsive, err)
	}
	if resp.StatusCode != http.StatusOK {
		return BackendStatus{}, false, fmt.Errorf("%w: status %d", ErrBackendUnresponsive, resp.StatusCode)
	}

	return parseVLCStatus(body)
}

type vlcInfo struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type vlcCategory struct {
	Name  string    `xml:"name,attr"`
	Infos []vlcInfo `xml:"info"`
}

type vlcStatusDoc struct {
	XMLName       xml.Name      `xml:"root"`
	State         string        `xml:"state"`
	Position      float64       `xml:"position"`
	Length        float64       `xml:"length"`
	Time          float64       `xml:"time"`
	Volume        float64       `xml:"volume"`
	Rate          float64       `xml:"rate"`
	AudioDelay    float64       `xml:"audiodelay"`
	SubtitleDelay float64       `xml:"subtitledelay"`
	Categories    []vlcCategory `xml:"information>category"`
}

func parseVLCStatus(body []byte) (BackendStatus, bool, error) {
	var doc vlcStatusDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return BackendStatus{}, false, fmt.Errorf("%w: parse status: %v", ErrBackendUnresponsive, err)
	}

	status := BackendStatus{
		State:         doc.State,
		Length:        doc.Length,
		Volume:        int(math.Round(doc.Volume)),
		Rate:          doc.Rate,
		AudioDelay:    doc.AudioDelay,
		SubtitleDelay: doc.SubtitleDelay,
		Position:      doc.Position * doc.Length,
	}
	if status.Position == 0 && doc.Time > 0 {
		status.Position = doc.Time
	}

	hasMedia := false
	for _, cat := range doc.Categories {
		for _, info := range cat.Infos {
			if !strings.EqualFold(info.Name, "Type") {
				continue
			}
			switch strings.TrimSpace(info.Value) {
			case "Video":
				status.HasVideo = true
				hasMedia = true
			case "Audio":
				hasMedia = true
			case "Subtitle":
				status.HasSubtitle = true
			}
		}
	}
	return status, hasMedia, nil
}

func randomPassword(n int) (string, error) {
	var sb strings.Builder
	limit := big.NewInt(int64(len(vlcPasswordAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(vlcPasswordAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
