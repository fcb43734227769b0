package music

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrSongPlaying      = errors.New("song is currently playing")
	ErrDelaysPathNotSet = errors.New("delays path resolver is not configured")
)

const defaultMirrorInterval = time.Second

// Components are the collaborators a Service coordinates.
type Components struct {
	Catalog    *Catalog
	Queue      *QueueManager
	Vocals     *VocalResolver
	Delays     *DelayStore
	Controller *Controller
	Downloads  *DownloadCoordinator
}

type ServiceOptions struct {
	HighQuality    bool
	MirrorInterval time.Duration
	// DelaysPath maps a save-delays mode (auto, yes, no or a file name) to a path.
	DelaysPath      func(mode string) string
	SplitterProcess string
	StalePlayer     *ProcessMatcher
}

// Service is the single entry point front-ends talk to.
type Service struct {
	catalog    *Catalog
	queue      *QueueManager
	vocals     *VocalResolver
	delays     *DelayStore
	controller *Controller
	downloads  *DownloadCoordinator
	store      *RedisStore

	opts   ServiceOptions
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func NewService(c Components, opts ServiceOptions, logger zerolog.Logger) *Service {
	if opts.MirrorInterval <= 0 {
		opts.MirrorInterval = defaultMirrorInterval
	}
	return &Service{
		catalog:    c.Catalog,
		queue:      c.Queue,
		vocals:     c.Vocals,
		delays:     c.Delays,
		controller: c.Controller,
		downloads:  c.Downloads,
		opts:       opts,
		logger:     logger,
	}
}

// WithStore mirrors queue, settings and download statuses into redis.
func (s *Service) WithStore(store *RedisStore) *Service {
	s.store = store
	if store != nil {
		s.downloads.WithMirror(store)
	}
	return s
}

func (s *Service) Catalog() *Catalog {
	return s.catalog
}

func (s *Service) Queue() *QueueManager {
	return s.queue
}

func (s *Service) Controller() *Controller {
	return s.controller
}

func (s *Service) Downloads() *DownloadCoordinator {
	return s.downloads
}

// Start scans the library, restores persisted state and launches the
// background loops. It returns once they are running.
func (s *Service) Start(ctx context.Context) error {
	if s.opts.StalePlayer != nil {
		if n, err := ReapStale(ctx, *s.opts.StalePlayer, s.logger); err != nil {
			s.logger.Warn().Err(err).Msg("failed to reap stale player processes")
		} else if n > 0 {
			s.logger.Info().Int("count", n).Msg("reaped stale player processes")
		}
	}

	if err := s.catalog.Refresh(); err != nil {
		return fmt.Errorf("scan library: %w", err)
	}
	s.restore(ctx)

	s.goLoop("controller", func() error { return s.controller.Run(ctx) })
	s.goLoop("catalog watcher", func() error { return s.catalog.Watch(ctx) })
	if s.store != nil {
		s.goLoop("queue mirror", func() error { return s.mirrorQueue(ctx) })
	}
	return nil
}

func (s *Service) goLoop(name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Str("loop", name).Msg("background loop stopped")
		}
	}()
}

// Shutdown waits for the loops started by Start (their context must already
// be cancelled), then stops playback and saves the queue one last time.
func (s *Service) Shutdown(ctx context.Context) {
	s.wg.Wait()
	s.downloads.Close()
	s.controller.Shutdown(ctx)

	if s.store != nil {
		entries, hash := s.queue.Snapshot()
		if err := s.store.SaveQueue(ctx, entries, hash); err != nil {
			s.logger.Warn().Err(err).Msg("failed to save queue on shutdown")
		}
	}
}

func (s *Service) restore(ctx context.Context) {
	if s.store == nil {
		return
	}

	def := Settings{
		UseDNN:          s.controller.UseDNN(),
		NormalizeVolume: s.controller.Normalizing(),
		VocalMode:       s.controller.VocalPreference(),
	}
	settings, err := s.store.GetSettings(ctx, def)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load settings, using defaults")
	}
	s.controller.SetUseDNN(settings.UseDNN)
	s.controller.SetNormalization(ctx, settings.NormalizeVolume)
	s.controller.SetVocalPreference(settings.VocalMode)

	if statuses, err := s.store.DownloadStatuses(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to load download statuses")
	} else if n := s.downloads.Seed(statuses); n > 0 {
		s.logger.Debug().Int("count", n).Msg("download statuses restored")
	}

	entries, _, err := s.store.LoadQueue(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load queue snapshot")
		return
	}
	if len(entries) > 0 {
		restored := s.queue.Restore(entries)
		s.logger.Info().Int("restored", restored).Int("saved", len(entries)).Msg("queue restored")
	}
}

func (s *Service) mirrorQueue(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.MirrorInterval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		entries, hash, changed := s.queue.PollChanged(last)
		if !changed {
			continue
		}
		if err := s.store.SaveQueue(ctx, entries, hash); err != nil {
			s.logger.Warn().Err(err).Msg("failed to mirror queue")
			continue
		}
		last = hash
	}
}

func (s *Service) persistSettings(ctx context.Context) {
	if s.store == nil {
		return
	}
	settings := Settings{
		UseDNN:          s.controller.UseDNN(),
		NormalizeVolume: s.controller.Normalizing(),
		VocalMode:       s.controller.VocalPreference(),
	}
	if err := s.store.SetSettings(ctx, settings); err != nil {
		s.logger.Warn().Err(err).Msg("failed to save settings")
	}
}

// NowPlaying builds the client payload from cached state only.
func (s *Service) NowPlaying() NowPlaying {
	st := s.controller.Snapshot()
	np := NowPlaying{
		IsPaused:       st.Paused,
		Volume:         st.Volume,
		TransposeValue: st.Transpose,
		SeektrackValue: st.Position,
		SeektrackMax:   st.Length,
		AudioDelay:     st.AudioDelay,
		VolNorm:        s.controller.Normalizing(),
		PlaySpeed:      st.Rate,
	}
	if st.Active() {
		np.NowPlaying = st.Title
		np.NowPlayingUser = st.User
		np.VocalInfo = s.vocals.Info(st.Filename, s.controller.Sidecar(), s.controller.UseDNN())
		if st.HasSubtitle {
			delay, show := st.SubtitleDelay, st.ShowSubtitle
			np.SubtitleDelay = &delay
			np.ShowSubtitle = &show
		}
	}
	if next, ok := s.queue.Peek(); ok {
		np.UpNext = next.Title
		np.NextUser = next.User
	}
	return np
}

func (s *Service) QueueSnapshot() ([]QueueEntry, string) {
	return s.queue.Snapshot()
}

// VocalTodo lists the songs the vocal splitter should work on. Names in
// lastRenamed were handled by the worker and leave the rename history.
func (s *Service) VocalTodo(lastRenamed []string) VocalTodo {
	s.catalog.AckRenames(lastRenamed)

	var files []string
	if st := s.controller.Snapshot(); st.Active() {
		files = append(files, st.Filename)
	}
	entries, _ := s.queue.Snapshot()
	for _, e := range entries {
		files = append(files, e.File)
	}

	return VocalTodo{
		DownloadPath: s.catalog.Dir(),
		Queue:        files,
		UseDNN:       s.controller.UseDNN(),
		Renamed:      s.catalog.Renames(),
	}
}

func (s *Service) VocalSplitterAlive(ctx context.Context) bool {
	if s.opts.SplitterProcess == "" {
		return false
	}
	running, err := ProcessRunning(ctx, s.opts.SplitterProcess)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to list processes")
		return false
	}
	return running
}

func (s *Service) Enqueue(file, user string) (bool, string) {
	ok, reason := s.queue.EnqueueFile(file, user)
	if ok {
		s.controller.Wake()
	}
	return ok, reason
}

func (s *Service) AddRandom(n int) bool {
	ok := s.queue.AddRandom(n)
	s.controller.Wake()
	return ok
}

// Download starts fetching req.URL and returns the job id.
func (s *Service) Download(req DownloadRequest) string {
	req.HighQuality = req.HighQuality || s.opts.HighQuality
	return s.downloads.Start(req)
}

func (s *Service) DownloadJobs() []DownloadJob {
	return s.downloads.Jobs()
}

func (s *Service) DownloadStatus(url string) DownloadStatus {
	return s.downloads.Status(url)
}

// RenameSong renames a library file and rewrites its queue entry.
func (s *Service) RenameSong(file, newName string) (string, error) {
	if s.controller.Snapshot().Filename == file {
		return "", ErrSongPlaying
	}
	newFile, err := s.catalog.Rename(file, newName)
	if err != nil {
		return "", err
	}
	s.queue.Rename(file, newFile)
	s.vocals.Invalidate(file)
	return newFile, nil
}

func (s *Service) DeleteSong(file string) error {
	if s.controller.Snapshot().Filename == file {
		return ErrSongPlaying
	}
	s.queue.Delete(file)
	s.vocals.Invalidate(file)
	return s.catalog.Delete(file)
}

func (s *Service) SetUseDNN(ctx context.Context, enabled bool) {
	s.controller.SetUseDNN(enabled)
	s.persistSettings(ctx)
}

func (s *Service) SetNormalization(ctx context.Context, enabled bool) bool {
	ok := s.controller.SetNormalization(ctx, enabled)
	s.persistSettings(ctx)
	return ok
}

func (s *Service) SetVocalMode(ctx context.Context, mode VocalMode, force bool) bool {
	ok := s.controller.SetVocalMode(ctx, mode, force)
	if ok {
		s.persistSettings(ctx)
	}
	return ok
}

// SetSaveDelays switches where per-song delays are stored; mode "no" stops saving.
func (s *Service) SetSaveDelays(mode string) error {
	if s.opts.DelaysPath == nil {
		return ErrDelaysPathNotSet
	}
	return s.delays.SetPath(s.opts.DelaysPath(mode))
}

func (s *Service) TogglePause(ctx context.Context) bool {
	return s.controller.TogglePause(ctx)
}

func (s *Service) Skip(ctx context.Context) bool {
	return s.controller.Skip(ctx)
}

func (s *Service) VolumeUp(ctx context.Context) (int, bool) {
	return s.controller.VolumeUp(ctx)
}

func (s *Service) VolumeDown(ctx context.Context) (int, bool) {
	return s.controller.VolumeDown(ctx)
}

func (s *Service) Transpose(ctx context.Context, semitones int) bool {
	return s.controller.Transpose(ctx, semitones)
}

func (s *Service) Seek(ctx context.Context, sec float64) bool {
	return s.controller.Seek(ctx, sec)
}

func (s *Service) Restart(ctx context.Context) bool {
	return s.controller.Restart(ctx)
}

func (s *Service) SetRate(ctx context.Context, rate float64) bool {
	return s.controller.SetRate(ctx, rate)
}

func (s *Service) ToggleSubtitle(ctx context.Context) bool {
	return s.controller.ToggleSubtitle(ctx)
}

func (s *Service) SetVolume(ctx context.Context, volume int) (int, bool) {
	return s.controller.SetVolume(ctx, volume)
}

// SetAudioDelay takes a value in seconds, "+" or "-" to nudge, or "" to reset.
func (s *Service) SetAudioDelay(ctx context.Context, arg string) (float64, bool) {
	return s.controller.SetAudioDelay(ctx, arg)
}

func (s *Service) SetSubtitleDelay(ctx context.Context, arg string) (float64, bool) {
	return s.controller.SetSubtitleDelay(ctx, arg)
}

// MoveQueue relocates one entry; clientSize is the queue length the caller saw.
func (s *Service) MoveQueue(from, to, clientSize int) bool {
	return s.queue.Move(from, to, clientSize)
}

func (s *Service) BumpQueue(file, direction string) bool {
	return s.queue.Bump(file, direction)
}

func (s *Service) RemoveFromQueue(file string) bool {
	return s.queue.Delete(file)
}

// ClearQueue empties the queue and skips the current song, ending the session.
func (s *Service) ClearQueue(ctx context.Context) {
	s.queue.Clear()
	s.controller.Skip(ctx)
}
