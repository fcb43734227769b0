package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/hxnx/karaoke/internal/music"
	"github.com/rs/zerolog"
)

func (f *fakeService) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeService) TogglePause(context.Context) bool    { f.record("pause"); return f.active }
func (f *fakeService) Skip(context.Context) bool           { f.record("skip"); return f.active }
func (f *fakeService) Restart(context.Context) bool        { f.record("restart"); return f.active }
func (f *fakeService) ToggleSubtitle(context.Context) bool { f.record("subtitle"); return f.active }
func (f *fakeService) Seek(_ context.Context, sec float64) bool {
	f.record("seek %g", sec)
	return f.active
}
func (f *fakeService) Transpose(_ context.Context, n int) bool {
	f.record("transpose %d", n)
	return f.active
}
func (f *fakeService) SetVocalMode(_ context.Context, mode music.VocalMode, force bool) bool {
	f.record("vocal %s %t", mode, force)
	return f.active
}
func (f *fakeService) SetRate(_ context.Context, rate float64) bool {
	f.record("rate %g", rate)
	return f.active
}
func (f *fakeService) VolumeUp(context.Context) (int, bool)   { return 95, f.active }
func (f *fakeService) VolumeDown(context.Context) (int, bool) { return 75, f.active }
func (f *fakeService) SetVolume(_ context.Context, v int) (int, bool) {
	return v, f.active
}
func (f *fakeService) SetAudioDelay(_ context.Context, arg string) (float64, bool) {
	f.record("audio %q", arg)
	if arg == "+" {
		return 0.1, f.active
	}
	return 0, f.active
}
func (f *fakeService) SetSubtitleDelay(_ context.Context, arg string) (float64, bool) {
	f.record("subtitle_delay %q", arg)
	return 0, f.active
}

func (f *fakeService) AddRandom(n int) bool {
	f.record("random %d", n)
	return n <= 3
}
func (f *fakeService) MoveQueue(from, to, size int) bool {
	f.record("move %d %d %d", from, to, size)
	return true
}
func (f *fakeService) BumpQueue(file, direction string) bool {
	f.record("bump %s %s", file, direction)
	return true
}
func (f *fakeService) RemoveFromQueue(file string) bool {
	f.record("remove %s", file)
	return true
}
func (f *fakeService) ClearQueue(context.Context) { f.record("clear") }

func TestPlayerControls(t *testing.T) {
	svc := &fakeService{active: true}
	r := NewRouter(svc, nil, nil, zerolog.Nop())

	tests := []struct {
		target string
		form   url.Values
		want   string
		call   string
	}{
		{target: "/skip", want: `"success":true`, call: "skip"},
		{target: "/restart", want: `"success":true`, call: "restart"},
		{target: "/toggle_subtitle", want: `"success":true`, call: "subtitle"},
		{target: "/seek/42.5", want: `"success":true`, call: "seek 42.5"},
		{target: "/transpose/-3", want: `"success":true`, call: "transpose -3"},
		{target: "/play_vocal/nonvocal", form: url.Values{"force": {"true"}}, want: `"success":true`, call: "vocal nonvocal true"},
		{target: "/play_speed/1.1", want: `"success":true`, call: "rate 1.1"},
		{target: "/vol_up", want: `"volume":95`},
		{target: "/vol/60", want: `"volume":60`},
		{target: "/audio_delay", form: url.Values{"value": {"+"}}, want: `"delay":0.1`, call: `audio "+"`},
		{target: "/subtitle_delay", form: url.Values{}, want: `"success":true`, call: `subtitle_delay ""`},
	}

	for _, tt := range tests {
		svc.calls = nil
		rec := serve(t, r, http.MethodPost, tt.target, tt.form)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), tt.want) {
			t.Errorf("%s: unexpected response %d %s", tt.target, rec.Code, rec.Body.String())
		}
		if tt.call != "" && (len(svc.calls) != 1 || svc.calls[0] != tt.call) {
			t.Errorf("%s: expected call %q, got %v", tt.target, tt.call, svc.calls)
		}
	}
}

func TestPlayerControlsWhileIdle(t *testing.T) {
	r := NewRouter(&fakeService{}, nil, nil, zerolog.Nop())

	rec := serve(t, r, http.MethodPost, "/audio_delay", url.Values{"value": {"+"}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Errorf("Expected a failed delay change while idle, got %d %s", rec.Code, rec.Body.String())
	}
	rec = serve(t, r, http.MethodPost, "/pause", nil)
	if !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Errorf("Expected pause to fail while idle, got %s", rec.Body.String())
	}
}

func TestPlayerControlsRejectBadInput(t *testing.T) {
	r := NewRouter(&fakeService{active: true}, nil, nil, zerolog.Nop())

	for _, target := range []string{"/seek/abc", "/seek/-1", "/transpose/up", "/play_vocal/karaoke", "/play_speed/0", "/vol/loud"} {
		if rec := serve(t, r, http.MethodPost, target, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestQueueEdit(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(svc, nil, nil, zerolog.Nop())

	edits := []struct {
		form url.Values
		call string
	}{
		{form: url.Values{"action": {"move"}, "from": {"3"}, "to": {"0"}, "size": {"4"}}, call: "move 3 0 4"},
		{form: url.Values{"action": {"up"}, "song": {"/s/b.mp4"}}, call: "bump /s/b.mp4 up"},
		{form: url.Values{"action": {"down"}, "song": {"/s/a.mp4"}}, call: "bump /s/a.mp4 down"},
		{form: url.Values{"action": {"delete"}, "song": {"/s/a.mp4"}}, call: "remove /s/a.mp4"},
		{form: url.Values{"action": {"clear"}}, call: "clear"},
	}
	for _, e := range edits {
		svc.calls = nil
		rec := serve(t, r, http.MethodPost, "/queue/edit", e.form)
		if rec.Code != http.StatusOK || len(svc.calls) != 1 || svc.calls[0] != e.call {
			t.Errorf("%v: got %d %v", e.form, rec.Code, svc.calls)
		}
	}

	for _, form := range []url.Values{
		{"action": {"move"}, "from": {"x"}, "to": {"0"}, "size": {"1"}},
		{"action": {"up"}},
		{"action": {"shuffle"}},
	} {
		if rec := serve(t, r, http.MethodPost, "/queue/edit", form); rec.Code != http.StatusBadRequest {
			t.Errorf("%v: expected 400, got %d", form, rec.Code)
		}
	}
}

func TestAddRandom(t *testing.T) {
	svc := &fakeService{}
	r := NewRouter(svc, nil, nil, zerolog.Nop())

	if rec := serve(t, r, http.MethodPost, "/queue/addrandom", url.Values{"amount": {"2"}}); !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Errorf("Unexpected response %s", rec.Body.String())
	}
	if rec := serve(t, r, http.MethodPost, "/queue/addrandom", url.Values{"amount": {"9"}}); !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Errorf("Expected failure when the catalog runs out, got %s", rec.Body.String())
	}
	if rec := serve(t, r, http.MethodPost, "/queue/addrandom", url.Values{"amount": {"0"}}); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero amount, got %d", rec.Code)
	}
}
