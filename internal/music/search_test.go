package music

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

const sampleSearchOutput = `{"id": "abc", "title": "Song A (Karaoke)", "url": "https://www.youtube.com/watch?v=abc"}
{"id": "def", "title": "no url"}

{"id": "ghi", "title": "Song B", "url": "https://www.youtube.com/watch?v=ghi"}
`

func TestSearchParsesAndCaches(t *testing.T) {
	s := NewSearcher("yt-dlp")
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	var calls [][]string
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, args)
		return []byte(sampleSearchOutput), nil
	}

	results, err := s.KaraokeSearch(context.Background(), "Song")
	if err != nil {
		t.Fatalf("KaraokeSearch failed: %v", err)
	}
	if len(results) != 2 || results[0].ID != "abc" || results[1].Title != "Song B" {
		t.Errorf("Unexpected results: %+v", results)
	}
	if len(calls) != 1 || !slices.Contains(calls[0], `ytsearch10:"Song karaoke"`) {
		t.Errorf("Unexpected yt-dlp invocation: %v", calls)
	}

	if _, err := s.Search(context.Background(), "  SONG karaoke "); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 {
		t.Errorf("Expected cached results, yt-dlp ran %d times", len(calls))
	}

	now = now.Add(searchCacheTTL + time.Second)
	if _, err := s.Search(context.Background(), "song karaoke"); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Errorf("Expected cache expiry to rerun yt-dlp, ran %d times", len(calls))
	}
}

func TestSearchErrors(t *testing.T) {
	s := NewSearcher("")
	if _, err := s.Search(context.Background(), " "); !errors.Is(err, ErrMissingQuery) {
		t.Errorf("Expected ErrMissingQuery, got %v", err)
	}

	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("not json\n"), nil
	}
	if _, err := s.Search(context.Background(), "x"); !errors.Is(err, ErrSearchFailed) {
		t.Errorf("Expected ErrSearchFailed for bad output, got %v", err)
	}

	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}
	if _, err := s.Search(context.Background(), "y"); !errors.Is(err, ErrSearchFailed) {
		t.Errorf("Expected ErrSearchFailed, got %v", err)
	}
}
