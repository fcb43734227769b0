package music

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	redislib "github.com/redis/go-redis/v9"
)

var ErrStoreNil = errors.New("redis store is not configured")

const (
	queueSnapshotKey  = "karaoke:queue"
	downloadStatusKey = "karaoke:downloads"
	settingsKey       = "karaoke:settings"
)

// Settings are the runtime toggles that survive a restart.
type Settings struct {
	UseDNN          bool
	NormalizeVolume bool
	VocalMode       VocalMode
}

// RedisStore mirrors the queue, download statuses and settings into redis so
// a restarted process and other readers see the same state.
type RedisStore struct {
	client *redislib.Client
}

func NewRedisStore(client *redislib.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) ensureClient() error {
	if s == nil || s.client == nil {
		return ErrStoreNil
	}
	return nil
}

func (s *RedisStore) SaveQueue(ctx context.Context, entries []QueueEntry, hash string) error {
	if err := s.ensureClient(); err != nil {
		return err
	}
	if entries == nil {
		entries = []QueueEntry{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, queueSnapshotKey, map[string]interface{}{
		"entries": string(payload),
		"hash":    hash,
	}).Err()
}

// LoadQueue returns the last saved snapshot, or nothing if none was saved.
func (s *RedisStore) LoadQueue(ctx context.Context) ([]QueueEntry, string, error) {
	if err := s.ensureClient(); err != nil {
		return nil, "", err
	}
	data, err := s.client.HGetAll(ctx, queueSnapshotKey).Result()
	if err != nil {
		return nil, "", err
	}
	raw, ok := data["entries"]
	if !ok || raw == "" {
		return nil, "", nil
	}

	var entries []QueueEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, "", fmt.Errorf("decode queue snapshot: %w", err)
	}
	return entries, data["hash"], nil
}

func (s *RedisStore) SetDownloadStatus(ctx context.Context, url string, status DownloadStatus) error {
	if err := s.ensureClient(); err != nil {
		return err
	}
	return s.client.HSet(ctx, downloadStatusKey, url, string(status)).Err()
}

func (s *RedisStore) DownloadStatuses(ctx context.Context) (map[string]DownloadStatus, error) {
	if err := s.ensureClient(); err != nil {
		return nil, err
	}
	data, err := s.client.HGetAll(ctx, downloadStatusKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]DownloadStatus, len(data))
	for url, status := range data {
		out[url] = DownloadStatus(status)
	}
	return out, nil
}

// GetSettings falls back to def for fields never saved.
func (s *RedisStore) GetSettings(ctx context.Context, def Settings) (Settings, error) {
	if err := s.ensureClient(); err != nil {
		return def, err
	}
	data, err := s.client.HGetAll(ctx, settingsKey).Result()
	if err != nil {
		return def, err
	}

	settings := def
	if v, ok := data["use_dnn"]; ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			settings.UseDNN = parsed
		}
	}
	if v, ok := data["normalize_volume"]; ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			settings.NormalizeVolume = parsed
		}
	}
	if v, ok := data["vocal_mode"]; ok {
		if mode, valid := ParseVocalMode(v); valid && mode != VocalModeCurrent {
			settings.VocalMode = mode
		}
	}
	return settings, nil
}

func (s *RedisStore) SetSettings(ctx context.Context, settings Settings) error {
	if err := s.ensureClient(); err != nil {
		return err
	}
	values := map[string]interface{}{
		"use_dnn":          strconv.FormatBool(settings.UseDNN),
		"normalize_volume": strconv.FormatBool(settings.NormalizeVolume),
		"vocal_mode":       string(settings.VocalMode),
	}
	return s.client.HSet(ctx, settingsKey, values).Err()
}
