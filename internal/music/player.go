package music

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNotPlaying = errors.New("nothing is playing")
)

const (
	delayStep  = 0.1
	volumeStep = 10
)

type ControllerOptions struct {
	SplashDelay     time.Duration
	RunLoopInterval time.Duration
	UseDNN          bool
	NormalizeVolume bool
}

// Controller owns the now-playing state and is the only caller of the
// player backend.
type Controller struct {
	backend Backend
	caps    Capability
	queue   *QueueManager
	vocals  *VocalResolver
	delays  *DelayStore
	meter   LoudnessMeter
	opts    ControllerOptions
	logger  zerolog.Logger

	mu            sync.Mutex
	state         PlayerState
	generation    uint64
	sidecar       string
	vocalPref     VocalMode
	volume        int
	useDNN        bool
	normalize     bool
	logicalVolume float64
	mediaLoudness float64

	wakeCh chan struct{}
}

func NewController(backend Backend, queue *QueueManager, vocals *VocalResolver, delays *DelayStore, meter LoudnessMeter, opts ControllerOptions, logger zerolog.Logger) *Controller {
	if opts.RunLoopInterval <= 0 {
		opts.RunLoopInterval = 500 * time.Millisecond
	}
	c := &Controller{
		backend:   backend,
		caps:      backend.Capabilities(),
		queue:     queue,
		vocals:    vocals,
		delays:    delays,
		meter:     meter,
		opts:      opts,
		logger:    logger,
		vocalPref: VocalModeMixed,
		useDNN:    opts.UseDNN,
		normalize: opts.NormalizeVolume && meter != nil,
		wakeCh:    make(chan struct{}, 1),
	}
	c.resetLocked()
	return c
}

// Snapshot returns the cached state without touching the backend.
func (c *Controller) Snapshot() PlayerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Sidecar() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sidecar
}

func (c *Controller) IsPlaying() bool {
	return c.Snapshot().Active()
}

func (c *Controller) UseDNN() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.useDNN
}

// SetUseDNN switches the preferred split; it takes effect on the next
// launch or vocal mode change.
func (c *Controller) SetUseDNN(enabled bool) {
	c.mu.Lock()
	c.useDNN = enabled
	c.mu.Unlock()
}

// VocalPreference is the mode applied to the next song that has a sidecar.
func (c *Controller) VocalPreference() VocalMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vocalPref
}

func (c *Controller) SetVocalPreference(mode VocalMode) {
	if mode == VocalModeCurrent {
		return
	}
	c.mu.Lock()
	c.vocalPref = mode
	c.mu.Unlock()
}

func (c *Controller) Normalizing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.normalize
}

func (c *Controller) LogicalVolume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logicalVolume
}

func (c *Controller) resetLocked() {
	c.state = PlayerState{
		Status:       StatusIdle,
		Paused:       true,
		Volume:       c.volume,
		Rate:         1,
		ShowSubtitle: true,
		HasVideo:     true,
		VocalMode:    VocalModeMixed,
	}
	c.sidecar = ""
}

// Play launches entry, replacing whatever is loaded.
func (c *Controller) Play(ctx context.Context, entry QueueEntry) bool {
	if entry.Title == "" {
		entry.Title = TitleFromPath(entry.File)
	}
	rec, _ := c.delays.Get(Basename(entry.File))

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.resetLocked()
	c.state.Filename = entry.File
	c.state.Title = entry.Title
	c.state.User = entry.User
	c.state.Status = StatusLoading
	c.state.AudioDelay = rec.AudioDelayOr(defaultAudioDelay)
	c.state.SubtitleDelay = rec.SubtitleDelayOr(defaultSubtitleDelay)
	c.state.ShowSubtitle = rec.ShowSubtitleOr(defaultShowSubtitle)
	opts := c.launchOptionsLocked(0, false)
	c.mu.Unlock()

	c.logger.Info().Str("file", entry.File).Str("user", entry.User).Msg("playing")
	return c.launch(ctx, gen, opts)
}

// launchOptionsLocked re-resolves the sidecar, since split files can appear
// while a song waits in the queue.
func (c *Controller) launchOptionsLocked(startTime float64, startPaused bool) LaunchOptions {
	st := &c.state
	if c.caps.Has(CapSidecar) {
		c.sidecar, st.VocalMode = c.vocals.Resolve(st.Filename, c.vocalPref, c.sidecar, c.useDNN)
		c.vocalPref = st.VocalMode
	}
	opts := LaunchOptions{
		File:         st.Filename,
		StartTime:    startTime,
		StartPaused:  startPaused,
		Sidecar:      c.sidecar,
		ShowSubtitle: st.ShowSubtitle,
		Rate:         st.Rate,
		Transpose:    st.Transpose,
		Volume:       c.volume,
	}
	if c.caps.Has(CapDelays) {
		opts.AudioDelay = st.AudioDelay
		opts.SubtitleDelay = st.SubtitleDelay
	}
	return opts
}

func (c *Controller) launch(ctx context.Context, gen uint64, opts LaunchOptions) bool {
	var media float64
	normalize := c.Normalizing()
	if normalize {
		m, err := c.meter.Loudness(ctx, opts.File)
		if err != nil {
			c.logger.Warn().Err(err).Msg("loudness unavailable, disabling volume normalization")
			c.mu.Lock()
			c.normalize = false
			c.mu.Unlock()
			normalize = false
		} else {
			media = m
			c.mu.Lock()
			if c.logicalVolume > 0 {
				opts.Volume = int(math.Round(c.logicalVolume / math.Sqrt(m)))
			}
			c.mu.Unlock()
		}
	}

	status, err := c.backend.Launch(ctx, opts)

	c.mu.Lock()
	if gen != c.generation {
		// skipped while launching
		stale := !c.state.Active()
		c.mu.Unlock()
		if err == nil && stale {
			if stopErr := c.backend.Stop(ctx); stopErr != nil {
				c.logger.Warn().Err(stopErr).Msg("failed to stop superseded player")
			}
		}
		return false
	}
	if err != nil {
		c.generation++
		c.resetLocked()
		c.mu.Unlock()
		c.logger.Error().Err(err).Str("file", opts.File).Msg("failed to launch player")
		_ = c.backend.Kill()
		return false
	}

	st := &c.state
	st.Paused = opts.StartPaused || status.Paused()
	st.Status = StatusPlaying
	if st.Paused {
		st.Status = StatusPaused
	}
	st.Position = opts.StartTime
	if c.caps.Has(CapStatus) {
		if status.Position > 0 {
			st.Position = status.Position
		}
		st.Length = status.Length
		st.HasVideo = status.HasVideo
		st.HasSubtitle = status.HasSubtitle
		if status.Rate > 0 {
			st.Rate = status.Rate
		}
	}
	if status.Volume > 0 || !c.caps.Has(CapSetVolume) {
		c.volume = status.Volume
	} else if opts.Volume > 0 {
		c.volume = opts.Volume
	}
	st.Volume = c.volume
	if normalize {
		c.mediaLoudness = media
		c.logicalVolume = float64(c.volume) * math.Sqrt(media)
	}
	c.mu.Unlock()
	return true
}

// relaunch restarts the current song at its current position with the same
// pause state after apply has adjusted the desired parameters.
func (c *Controller) relaunch(ctx context.Context, reason string, apply func()) bool {
	c.mu.Lock()
	if !c.state.Active() || c.state.Status == StatusTransposing || c.state.Status == StatusLoading {
		c.mu.Unlock()
		return false
	}
	gen := c.generation
	wasPaused := c.state.Paused
	pos := c.state.Position
	c.state.Status = StatusTransposing
	c.mu.Unlock()

	if !wasPaused {
		if err := c.backend.Pause(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("failed to pause before relaunch")
		}
	}
	if c.caps.Has(CapStatus) {
		if status, err := c.backend.Status(ctx); err == nil {
			pos = status.Position
		} else {
			c.logger.Warn().Err(err).Float64("position", pos).Msg("using cached position for relaunch")
		}
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return false
	}
	apply()
	c.state.Position = pos
	opts := c.launchOptionsLocked(pos, wasPaused)
	c.mu.Unlock()

	c.logger.Info().Str("reason", reason).Float64("start", pos).Bool("paused", wasPaused).Msg("relaunching player")
	return c.launch(ctx, gen, opts)
}

// Transpose shifts pitch by relaunching. Asking for the current value is a
// no-op that still succeeds.
func (c *Controller) Transpose(ctx context.Context, semitones int) bool {
	if !c.caps.Has(CapTranspose) {
		c.logger.Warn().Str("backend", c.backend.Name()).Msg("backend cannot transpose")
		return false
	}
	st := c.Snapshot()
	if !st.Active() {
		return false
	}
	if st.Transpose == semitones {
		return true
	}
	return c.relaunch(ctx, "transpose", func() {
		c.state.Transpose = semitones
	})
}

// SetVocalMode attaches the sidecar for mode. VocalModeCurrent re-resolves
// the attached mode, which picks up a split that finished meanwhile.
func (c *Controller) SetVocalMode(ctx context.Context, mode VocalMode, force bool) bool {
	if !c.caps.Has(CapSidecar) {
		c.logger.Warn().Str("backend", c.backend.Name()).Msg("backend cannot attach vocal tracks")
		return false
	}

	c.mu.Lock()
	if !c.state.Active() {
		c.mu.Unlock()
		return false
	}
	file, current, useDNN := c.state.Filename, c.sidecar, c.useDNN
	c.mu.Unlock()

	sidecar, resolved := c.vocals.Resolve(file, mode, current, useDNN)
	if !force && sidecar == current {
		c.mu.Lock()
		c.vocalPref = resolved
		c.mu.Unlock()
		return true
	}

	ok := c.relaunch(ctx, "vocal mode", func() {
		c.vocalPref = resolved
	})
	c.vocals.Invalidate(file)
	return ok
}

func (c *Controller) ToggleSubtitle(ctx context.Context) bool {
	var show bool
	var file string
	ok := c.relaunch(ctx, "subtitle", func() {
		c.state.ShowSubtitle = !c.state.ShowSubtitle
		show, file = c.state.ShowSubtitle, c.state.Filename
	})
	if ok && c.delays.Enabled() {
		c.delays.SetShowSubtitle(Basename(file), show, defaultShowSubtitle)
	}
	return ok
}

func (c *Controller) TogglePause(ctx context.Context) bool {
	st := c.Snapshot()
	if st.Status != StatusPlaying && st.Status != StatusPaused {
		c.logger.Warn().Msg("tried to pause, but no file is playing")
		return false
	}

	paused := st.Paused
	if c.caps.Has(CapStatus) {
		if status, err := c.backend.Status(ctx); err == nil {
			paused = status.Paused()
		}
	}

	var err error
	if paused {
		err = c.backend.Play(ctx)
	} else {
		err = c.backend.Pause(ctx)
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to toggle pause")
		return false
	}

	c.mu.Lock()
	if c.state.Filename == st.Filename && c.state.Status != StatusTransposing {
		c.state.Paused = !paused
		c.state.Status = StatusPlaying
		if c.state.Paused {
			c.state.Status = StatusPaused
		}
	}
	c.mu.Unlock()
	return true
}

// Skip stops the current song. The state is idle when Skip returns, without
// waiting for the process to exit.
func (c *Controller) Skip(ctx context.Context) bool {
	c.mu.Lock()
	if !c.state.Active() {
		c.mu.Unlock()
		c.logger.Warn().Msg("tried to skip, but no file is playing")
		return false
	}
	title := c.state.Title
	c.generation++
	c.resetLocked()
	c.mu.Unlock()

	c.logger.Info().Str("title", title).Msg("skipping")
	if err := c.backend.Stop(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to stop player")
	}
	c.flushDelays()
	c.Wake()
	return true
}

func (c *Controller) Seek(ctx context.Context, sec float64) bool {
	if !c.requirePlaying("seek") {
		return false
	}
	if err := c.backend.Seek(ctx, sec); err != nil {
		c.logger.Warn().Err(err).Float64("sec", sec).Msg("seek failed")
		return false
	}
	c.mu.Lock()
	c.state.Position = sec
	c.mu.Unlock()
	return true
}

func (c *Controller) Restart(ctx context.Context) bool {
	if !c.requirePlaying("restart") {
		return false
	}
	if err := c.backend.Seek(ctx, 0); err != nil {
		c.logger.Warn().Err(err).Msg("restart failed")
		return false
	}
	if err := c.backend.Play(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("resume after restart failed")
	}
	c.mu.Lock()
	c.state.Position = 0
	c.state.Paused = false
	c.state.Status = StatusPlaying
	c.mu.Unlock()
	return true
}

func (c *Controller) SetRate(ctx context.Context, rate float64) bool {
	if rate <= 0 || !c.requirePlaying("set rate") {
		return false
	}
	if err := c.backend.SetRate(ctx, rate); err != nil {
		c.logger.Warn().Err(err).Float64("rate", rate).Msg("failed to set playback rate")
		return false
	}
	if c.caps.Has(CapStatus) {
		if status, err := c.backend.Status(ctx); err == nil && status.Rate > 0 {
			rate = status.Rate
		}
	}
	c.mu.Lock()
	c.state.Rate = rate
	c.mu.Unlock()
	return true
}

func (c *Controller) VolumeUp(ctx context.Context) (int, bool) {
	return c.adjustVolume(ctx, volumeStep)
}

func (c *Controller) VolumeDown(ctx context.Context) (int, bool) {
	return c.adjustVolume(ctx, -volumeStep)
}

func (c *Controller) adjustVolume(ctx context.Context, delta int) (int, bool) {
	if !c.requirePlaying("adjust volume") {
		return 0, false
	}
	if err := c.backend.AdjustVolume(ctx, delta); err != nil {
		c.logger.Warn().Err(err).Int("delta", delta).Msg("failed to adjust volume")
		return 0, false
	}
	return c.readBackVolume(ctx), true
}

func (c *Controller) SetVolume(ctx context.Context, volume int) (int, bool) {
	if !c.requirePlaying("set volume") {
		return 0, false
	}
	if err := c.backend.SetVolume(ctx, volume); err != nil {
		c.logger.Warn().Err(err).Int("volume", volume).Msg("failed to set volume")
		return 0, false
	}
	c.mu.Lock()
	c.volume = volume
	c.mu.Unlock()
	return c.readBackVolume(ctx), true
}

func (c *Controller) readBackVolume(ctx context.Context) int {
	status, err := c.backend.Status(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.volume = status.Volume
	}
	c.state.Volume = c.volume
	c.updateLogicalVolumeLocked()
	return c.volume
}

func (c *Controller) updateLogicalVolumeLocked() {
	if c.normalize && c.mediaLoudness > 0 {
		c.logicalVolume = float64(c.volume) * math.Sqrt(c.mediaLoudness)
	}
}

// SetNormalization toggles loudness normalization. Enabling it while a song
// plays anchors the logical volume to the current volume and that song's
// loudness.
func (c *Controller) SetNormalization(ctx context.Context, enabled bool) bool {
	if !enabled || c.meter == nil {
		c.mu.Lock()
		c.normalize = false
		c.mu.Unlock()
		return !enabled
	}

	st := c.Snapshot()
	if !st.Active() {
		c.mu.Lock()
		c.normalize = true
		c.mu.Unlock()
		return true
	}

	media, err := c.meter.Loudness(ctx, st.Filename)
	if err != nil {
		c.logger.Warn().Err(err).Msg("loudness unavailable, volume normalization stays off")
		c.mu.Lock()
		c.normalize = false
		c.mu.Unlock()
		return false
	}

	volume := st.Volume
	if c.caps.Has(CapStatus) {
		if status, err := c.backend.Status(ctx); err == nil {
			volume = status.Volume
		}
	}

	c.mu.Lock()
	c.normalize = true
	c.mediaLoudness = media
	c.volume = volume
	c.state.Volume = volume
	c.updateLogicalVolumeLocked()
	c.mu.Unlock()
	return true
}

func (c *Controller) SetAudioDelay(ctx context.Context, arg string) (float64, bool) {
	return c.setDelay(ctx, FieldAudioDelay, arg)
}

func (c *Controller) SetSubtitleDelay(ctx context.Context, arg string) (float64, bool) {
	return c.setDelay(ctx, FieldSubtitleDelay, arg)
}

func (c *Controller) setDelay(ctx context.Context, field DelayField, arg string) (float64, bool) {
	c.mu.Lock()
	if !c.state.Active() {
		c.mu.Unlock()
		c.logger.Warn().Stringer("field", field).Msg("tried to set delay, but no file is playing")
		return 0, false
	}
	target := &c.state.AudioDelay
	def := defaultAudioDelay
	if field == FieldSubtitleDelay {
		target = &c.state.SubtitleDelay
		def = defaultSubtitleDelay
	}
	next, ok := nextDelay(*target, arg)
	if !ok {
		cur := *target
		c.mu.Unlock()
		c.logger.Warn().Stringer("field", field).Str("value", arg).Msg("invalid delay ignored")
		return cur, false
	}
	*target = next
	file := c.state.Filename
	c.mu.Unlock()

	var err error
	switch {
	case !c.caps.Has(CapDelays):
		c.logger.Warn().Str("backend", c.backend.Name()).Msg("backend cannot apply delays live")
	case field == FieldAudioDelay:
		err = c.backend.SetAudioDelay(ctx, next)
	default:
		err = c.backend.SetSubtitleDelay(ctx, next)
	}
	if err != nil {
		c.logger.Warn().Err(err).Stringer("field", field).Msg("failed to push delay")
	}

	if c.delays.Enabled() {
		c.delays.SetDelay(Basename(file), field, next, def)
	}
	return next, true
}

// nextDelay applies a delay command: "+"/"-" step, "" resets, anything else
// is an absolute value in seconds.
func nextDelay(cur float64, arg string) (float64, bool) {
	var v float64
	switch arg = strings.TrimSpace(arg); arg {
	case "+":
		v = cur + delayStep
	case "-":
		v = cur - delayStep
	case "":
		v = 0
	default:
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return cur, false
		}
		v = f
	}
	return math.Round(v*1000) / 1000, true
}

func (c *Controller) requirePlaying(op string) bool {
	st := c.Snapshot()
	if st.Status == StatusPlaying || st.Status == StatusPaused {
		return true
	}
	c.logger.Warn().Str("op", op).Msg("no file is playing")
	return false
}

// Refresh polls the backend and returns the updated state. A dead process
// resets the controller to idle; a slow one leaves the cached state.
func (c *Controller) Refresh(ctx context.Context) PlayerState {
	c.mu.Lock()
	st, gen := c.state, c.generation
	c.mu.Unlock()

	if !st.Active() || st.Status == StatusTransposing || st.Status == StatusLoading {
		return st
	}

	if !c.backend.Alive() {
		c.mu.Lock()
		if gen == c.generation {
			c.generation++
			c.resetLocked()
		}
		st = c.state
		c.mu.Unlock()
		c.logger.Info().Str("file", st.Filename).Msg("player exited")
		c.flushDelays()
		return st
	}

	if !c.caps.Has(CapStatus) {
		return st
	}
	status, err := c.backend.Status(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("status poll failed, keeping cached state")
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.state.Status == StatusTransposing {
		return c.state
	}
	s := &c.state
	s.Paused = status.Paused()
	s.Status = StatusPlaying
	if s.Paused {
		s.Status = StatusPaused
	}
	s.Position = status.Position
	if status.Length > 0 {
		s.Length = status.Length
	}
	if status.Rate > 0 {
		s.Rate = status.Rate
	}
	c.volume = status.Volume
	s.Volume = status.Volume
	return c.state
}

func (c *Controller) Wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// Run pulls the next queued song whenever the player is idle.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.RunLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.wakeCh:
		}
		c.step(ctx)
	}
}

func (c *Controller) step(ctx context.Context) {
	if st := c.Refresh(ctx); st.Active() || c.queue.Len() == 0 {
		return
	}
	c.flushDelays()

	if c.opts.SplashDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.SplashDelay):
		}
	}
	if c.IsPlaying() {
		return
	}
	entry, ok := c.queue.PopFront()
	if !ok {
		return
	}
	c.Play(ctx, entry)
}

func (c *Controller) flushDelays() {
	if err := c.delays.Flush(); err != nil {
		c.logger.Error().Err(err).Msg("failed to save delays")
	}
}

// Shutdown stops the player and saves pending delay changes.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.generation++
	c.resetLocked()
	c.mu.Unlock()

	if err := c.backend.Stop(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to stop player")
		_ = c.backend.Kill()
	}
	c.flushDelays()
}
