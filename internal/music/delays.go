package music

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

type DelayField int

const (
	FieldAudioDelay DelayField = iota
	FieldSubtitleDelay
)

func (f DelayField) String() string {
	switch f {
	case FieldAudioDelay:
		return "audio_delay"
	case FieldSubtitleDelay:
		return "subtitle_delay"
	default:
		return "unknown"
	}
}

const (
	defaultAudioDelay    = 0.0
	defaultSubtitleDelay = 0.0
	defaultShowSubtitle  = true
)

// DelayRecord holds per-song overrides. Nil fields mean "use the default".
type DelayRecord struct {
	AudioDelay    *float64 `toml:"audio_delay,omitempty"`
	SubtitleDelay *float64 `toml:"subtitle_delay,omitempty"`
	ShowSubtitle  *bool    `toml:"show_subtitle,omitempty"`
}

func (r DelayRecord) empty() bool {
	return r.AudioDelay == nil && r.SubtitleDelay == nil && r.ShowSubtitle == nil
}

func (r DelayRecord) AudioDelayOr(def float64) float64 {
	if r.AudioDelay == nil {
		return def
	}
	return *r.AudioDelay
}

func (r DelayRecord) SubtitleDelayOr(def float64) float64 {
	if r.SubtitleDelay == nil {
		return def
	}
	return *r.SubtitleDelay
}

func (r DelayRecord) ShowSubtitleOr(def bool) bool {
	if r.ShowSubtitle == nil {
		return def
	}
	return *r.ShowSubtitle
}

// DelayStore persists delay overrides keyed by song basename. The file is read
// lazily and rewritten whole, and only when something changed.
type DelayStore struct {
	logger zerolog.Logger

	mu      sync.Mutex
	path    string
	records map[string]DelayRecord
	loaded  bool
	dirty   bool
}

// NewDelayStore creates a store backed by path. An empty path keeps records in
// memory only.
func NewDelayStore(path string, logger zerolog.Logger) *DelayStore {
	return &DelayStore{
		path:    path,
		logger:  logger,
		records: make(map[string]DelayRecord),
	}
}

func (s *DelayStore) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path != ""
}

func (s *DelayStore) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// SetPath switches the backing file. Unflushed changes for the old file are
// written first and the new file is loaded on next access.
func (s *DelayStore) SetPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == s.path {
		return nil
	}
	err := s.flushLocked()
	s.path = path
	s.records = make(map[string]DelayRecord)
	s.loaded = false
	s.dirty = false
	return err
}

func (s *DelayStore) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.records = make(map[string]DelayRecord)
	if s.path == "" {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("failed to read delay file, starting empty")
		}
		return
	}

	records := make(map[string]DelayRecord)
	if err := toml.Unmarshal(data, &records); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("delay file is corrupt, starting empty")
		return
	}
	for bn, rec := range records {
		if !rec.empty() {
			s.records[bn] = rec
		}
	}
}

func (s *DelayStore) Get(basename string) (DelayRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	rec, ok := s.records[basename]
	return rec, ok
}

// SetDelay stores a delay value. A value equal to def removes the field.
func (s *DelayStore) SetDelay(basename string, field DelayField, value, def float64) {
	s.update(basename, func(rec *DelayRecord) {
		var target **float64
		switch field {
		case FieldAudioDelay:
			target = &rec.AudioDelay
		case FieldSubtitleDelay:
			target = &rec.SubtitleDelay
		default:
			return
		}
		if value == def {
			*target = nil
			return
		}
		v := value
		*target = &v
	})
}

func (s *DelayStore) SetShowSubtitle(basename string, value, def bool) {
	s.update(basename, func(rec *DelayRecord) {
		if value == def {
			rec.ShowSubtitle = nil
			return
		}
		v := value
		rec.ShowSubtitle = &v
	})
}

func (s *DelayStore) update(basename string, fn func(*DelayRecord)) {
	if basename == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	before, existed := s.records[basename]
	rec := before
	fn(&rec)

	if rec.empty() {
		if existed {
			delete(s.records, basename)
			s.dirty = true
		}
		return
	}
	if existed && sameRecord(before, rec) {
		return
	}
	s.records[basename] = rec
	s.dirty = true
}

func (s *DelayStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Flush writes the whole map back when dirty.
func (s *DelayStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *DelayStore) flushLocked() error {
	if !s.dirty || s.path == "" {
		return nil
	}

	data, err := toml.Marshal(s.records)
	if err != nil {
		return fmt.Errorf("encode delays: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create delay dir: %w", err)
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock delay file: %w", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release delay file lock")
		}
	}()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write delays: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace delay file: %w", err)
	}

	s.dirty = false
	s.logger.Debug().Int("songs", len(s.records)).Str("path", s.path).Msg("delays flushed")
	return nil
}

func sameRecord(a, b DelayRecord) bool {
	return eqPtr(a.AudioDelay, b.AudioDelay) && eqPtr(a.SubtitleDelay, b.SubtitleDelay) && eqPtr(a.ShowSubtitle, b.ShowSubtitle)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
