package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hxnx/karaoke/internal/music"
	"github.com/rs/zerolog"
)

type fakeService struct {
	entries   []music.QueueEntry
	requests  []music.DownloadRequest
	enqueued  []string
	acked     []string
	statusFor map[string]music.DownloadStatus
	playing   string
	useDNN    *bool
	delays    string
	deleted   []string
	active    bool
	calls     []string
}

func (f *fakeService) NowPlaying() music.NowPlaying {
	return music.NowPlaying{NowPlaying: "Song", NowPlayingUser: "alice", Volume: 85}
}

func (f *fakeService) QueueSnapshot() ([]music.QueueEntry, string) {
	return f.entries, music.HashEntries(f.entries)
}

func (f *fakeService) Enqueue(file, user string) (bool, string) {
	f.enqueued = append(f.enqueued, file+"|"+user)
	return true, ""
}

func (f *fakeService) Download(req music.DownloadRequest) string {
	f.requests = append(f.requests, req)
	return "job-1"
}

func (f *fakeService) DownloadStatus(url string) music.DownloadStatus {
	if s, ok := f.statusFor[url]; ok {
		return s
	}
	return music.DownloadPending
}

func (f *fakeService) DownloadJobs() []music.DownloadJob {
	jobs := []music.DownloadJob{}
	for url, status := range f.statusFor {
		jobs = append(jobs, music.DownloadJob{URL: url, Status: status})
	}
	return jobs
}

func (f *fakeService) VocalTodo(lastRenamed []string) music.VocalTodo {
	f.acked = append(f.acked, lastRenamed...)
	return music.VocalTodo{DownloadPath: "/songs", Queue: []string{"/songs/a.mp4"}, UseDNN: true}
}

func (f *fakeService) VocalSplitterAlive(context.Context) bool {
	return true
}

func (f *fakeService) RenameSong(file, newName string) (string, error) {
	if file == f.playing {
		return "", music.ErrSongPlaying
	}
	if file == "/s/missing.mp4" {
		return "", fmt.Errorf("%w: %s", music.ErrSongNotFound, file)
	}
	return "/s/" + newName + ".mp4", nil
}

func (f *fakeService) DeleteSong(file string) error {
	if file == f.playing {
		return music.ErrSongPlaying
	}
	f.deleted = append(f.deleted, file)
	return nil
}

func (f *fakeService) SetUseDNN(_ context.Context, enabled bool) {
	f.useDNN = &enabled
}

func (f *fakeService) SetNormalization(context.Context, bool) bool {
	return false
}

func (f *fakeService) SetSaveDelays(mode string) error {
	f.delays = mode
	return nil
}

type fakeSearcher struct {
	queries []string
}

func (s *fakeSearcher) Search(ctx context.Context, query string) ([]music.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, music.ErrMissingQuery
	}
	s.queries = append(s.queries, query)
	return []music.SearchResult{{Title: "Hit", URL: "https://youtu.be/1", ID: "1"}}, nil
}

func (s *fakeSearcher) KaraokeSearch(ctx context.Context, title string) ([]music.SearchResult, error) {
	if title == "" {
		return nil, music.ErrMissingQuery
	}
	return s.Search(ctx, title+" karaoke")
}

func serve(t *testing.T, h http.Handler, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndNowPlaying(t *testing.T) {
	r := NewRouter(&fakeService{}, nil, nil, zerolog.Nop())

	if rec := serve(t, r, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("Unexpected health response %d %q", rec.Code, rec.Body.String())
	}

	rec := serve(t, r, http.MethodGet, "/nowplaying", nil)
	var np music.NowPlaying
	if err := json.Unmarshal(rec.Body.Bytes(), &np); err != nil {
		t.Fatal(err)
	}
	if np.NowPlaying != "Song" || np.Volume != 85 {
		t.Errorf("Unexpected payload: %+v", np)
	}
	if strings.Contains(rec.Body.String(), "subtitle_delay") {
		t.Errorf("Expected subtitle fields omitted, got %s", rec.Body.String())
	}
}

func TestQueuePollByHash(t *testing.T) {
	svc := &fakeService{entries: []music.QueueEntry{{File: "/s/a.mp4", Title: "a", User: "u"}}}
	r := NewRouter(svc, nil, nil, zerolog.Nop())

	rec := serve(t, r, http.MethodGet, "/queue/stale", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body struct {
		Queue []music.QueueEntry `json:"queue"`
		Hash  string             `json:"hash"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Queue) != 1 || body.Hash != music.HashEntries(svc.entries) {
		t.Errorf("Unexpected queue body: %+v", body)
	}

	rec = serve(t, r, http.MethodGet, "/queue/"+body.Hash, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for current hash, got %d", rec.Code)
	}
}

func TestDownloadFlow(t *testing.T) {
	svc := &fakeService{statusFor: map[string]music.DownloadStatus{"https://done": music.DownloadEnqueued}}
	r := NewRouter(svc, nil, nil, zerolog.Nop())

	rec := serve(t, r, http.MethodPost, "/download", url.Values{
		"song_url": {"https://youtu.be/x"},
		"user":     {"bob"},
		"enqueue":  {"on"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.requests) != 1 || !svc.requests[0].Enqueue || svc.requests[0].HighQuality || svc.requests[0].User != "bob" {
		t.Errorf("Unexpected download request: %+v", svc.requests)
	}

	if rec := serve(t, r, http.MethodPost, "/download", url.Values{}); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without url, got %d", rec.Code)
	}

	if rec := serve(t, r, http.MethodPost, "/check_download", url.Values{"url": {"https://done"}}); rec.Body.String() != "00" {
		t.Errorf("Expected enqueued code, got %q", rec.Body.String())
	}
	if rec := serve(t, r, http.MethodGet, "/check_download?url=unknown", nil); rec.Body.String() != "1" {
		t.Errorf("Expected pending for unknown url, got %q", rec.Body.String())
	}

	rec = serve(t, r, http.MethodGet, "/downloads", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `{"id":"","url":"https://done","status":"00"}`) {
		t.Errorf("Unexpected job listing %d %s", rec.Code, rec.Body.String())
	}
}

func TestEnqueueAndVocalTodo(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(svc, nil, nil, zerolog.Nop())

	rec := serve(t, r, http.MethodPost, "/enqueue", url.Values{"song": {"/s/Song---1.mp4"}, "user": {"amy"}})
	if !strings.Contains(rec.Body.String(), `"song":"Song"`) || len(svc.enqueued) != 1 || svc.enqueued[0] != "/s/Song---1.mp4|amy" {
		t.Errorf("Unexpected enqueue: %s %v", rec.Body.String(), svc.enqueued)
	}

	req := httptest.NewRequest(http.MethodGet, "/vocal_todo?renamed=a.mp4", nil)
	req.Header.Set("last_completed", "b.mp4")
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)

	var todo music.VocalTodo
	if err := json.Unmarshal(res.Body.Bytes(), &todo); err != nil {
		t.Fatal(err)
	}
	if todo.DownloadPath != "/songs" || !todo.UseDNN || len(todo.Queue) != 1 {
		t.Errorf("Unexpected todo: %+v", todo)
	}
	if len(svc.acked) != 2 || svc.acked[0] != "a.mp4" || svc.acked[1] != "b.mp4" {
		t.Errorf("Expected both acknowledgements, got %v", svc.acked)
	}
}

func TestSearch(t *testing.T) {
	searcher := &fakeSearcher{}
	r := NewRouter(&fakeService{}, searcher, nil, zerolog.Nop())

	rec := serve(t, r, http.MethodGet, "/search?q=Yesterday", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"title":"Hit"`) {
		t.Fatalf("Unexpected search response %d %s", rec.Code, rec.Body.String())
	}
	serve(t, r, http.MethodGet, "/search?q=Yesterday&non_karaoke=true", nil)
	if len(searcher.queries) != 2 || searcher.queries[0] != "Yesterday karaoke" || searcher.queries[1] != "Yesterday" {
		t.Errorf("Unexpected queries: %v", searcher.queries)
	}

	if rec := serve(t, r, http.MethodGet, "/search", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty query, got %d", rec.Code)
	}

	r = NewRouter(&fakeService{}, nil, nil, zerolog.Nop())
	if rec := serve(t, r, http.MethodGet, "/search?q=x", nil); rec.Code != http.StatusNotImplemented {
		t.Errorf("Expected 501 without searcher, got %d", rec.Code)
	}
}

func TestLibraryManagement(t *testing.T) {
	svc := &fakeService{playing: "/s/now.mp4"}
	r := NewRouter(svc, nil, nil, zerolog.Nop())

	rec := serve(t, r, http.MethodPost, "/rename", url.Values{"song": {"/s/old.mp4"}, "new_name": {"New"}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/s/New.mp4") {
		t.Errorf("Unexpected rename response %d %s", rec.Code, rec.Body.String())
	}
	if rec := serve(t, r, http.MethodPost, "/rename", url.Values{"song": {"/s/now.mp4"}, "new_name": {"X"}}); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for the playing song, got %d", rec.Code)
	}
	if rec := serve(t, r, http.MethodPost, "/rename", url.Values{"song": {"/s/missing.mp4"}, "new_name": {"X"}}); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for a missing song, got %d", rec.Code)
	}
	if rec := serve(t, r, http.MethodPost, "/rename", url.Values{"song": {"/s/old.mp4"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without a new name, got %d", rec.Code)
	}

	if rec := serve(t, r, http.MethodPost, "/delete", url.Values{"song": {"/s/old.mp4"}}); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 on delete, got %d", rec.Code)
	}
	if len(svc.deleted) != 1 {
		t.Errorf("Expected one deletion, got %v", svc.deleted)
	}
}

func TestSettings(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(svc, nil, nil, zerolog.Nop())

	rec := serve(t, r, http.MethodPost, "/settings", url.Values{"use_dnn": {"false"}, "save_delays": {"no"}})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}
	if svc.useDNN == nil || *svc.useDNN || svc.delays != "no" {
		t.Errorf("Unexpected settings applied: dnn=%v delays=%q", svc.useDNN, svc.delays)
	}

	if rec := serve(t, r, http.MethodPost, "/settings", url.Values{"normalize": {"on"}}); rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 when normalization is unavailable, got %d", rec.Code)
	}

	if rec := serve(t, r, http.MethodGet, "/vocal_splitter", nil); !strings.Contains(rec.Body.String(), `"alive":true`) {
		t.Errorf("Unexpected splitter response %s", rec.Body.String())
	}
}
