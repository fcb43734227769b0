package music

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var (
	ErrMissingQuery = errors.New("search query is required")
	ErrSearchFailed = errors.New("search failed")
)

const (
	defaultSearchLimit = 10
	searchCacheTTL     = 5 * time.Minute
)

type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	ID    string `json:"id"`
}

type searchCacheEntry struct {
	results   []SearchResult
	expiresAt time.Time
}

// Searcher looks songs up on YouTube through yt-dlp. Results are cached per
// normalized query for a few minutes.
type Searcher struct {
	Binary string
	Limit  int

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]searchCacheEntry
}

func NewSearcher(binary string) *Searcher {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &Searcher{
		Binary: binary,
		Limit:  defaultSearchLimit,
		run:    runOutput,
		now:    time.Now,
		cache:  make(map[string]searchCacheEntry),
	}
}

func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// KaraokeSearch searches for karaoke versions of a song title.
func (s *Searcher) KaraokeSearch(ctx context.Context, title string) ([]SearchResult, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrMissingQuery
	}
	return s.Search(ctx, title+" karaoke")
}

func (s *Searcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrMissingQuery
	}

	key := strings.ToLower(query)
	if cached, ok := s.cached(key); ok {
		return cached, nil
	}

	target := fmt.Sprintf("ytsearch%d:%q", s.Limit, query)
	out, err := s.run(ctx, s.Binary, "-j", "--no-playlist", "--flat-playlist", target)
	if err != nil {
		return nil, fmt.Errorf("%w: yt-dlp: %v", ErrSearchFailed, err)
	}

	results, err := parseSearchOutput(out)
	if err != nil {
		return nil, err
	}
	s.store(key, results)
	return results, nil
}

// parseSearchOutput reads one JSON object per line, skipping items that lack
// a title or url.
func parseSearchOutput(out []byte) ([]SearchResult, error) {
	var results []SearchResult
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) <= 2 {
			continue
		}
		var item struct {
			Title string `json:"title"`
			URL   string `json:"url"`
			ID    string `json:"id"`
		}
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, fmt.Errorf("%w: invalid json: %v", ErrSearchFailed, err)
		}
		if item.Title == "" || item.URL == "" {
			continue
		}
		results = append(results, SearchResult(item))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	return results, nil
}

func (s *Searcher) cached(key string) ([]SearchResult, bool) {
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.cache, key)
		s.mu.Unlock()
		return nil, false
	}
	return entry.results, true
}

func (s *Searcher) store(key string, results []SearchResult) {
	s.mu.Lock()
	s.cache[key] = searchCacheEntry{
		results:   results,
		expiresAt: s.now().Add(searchCacheTTL),
	}
	s.mu.Unlock()
}
