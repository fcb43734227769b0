package music

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestProcessMatcher(t *testing.T) {
	vlc := PlayerProcessMatcher("vlc", "/usr/bin/cvlc")
	tests := []struct {
		name    string
		m       ProcessMatcher
		proc    string
		cmdline []string
		want    bool
	}{
		{"our vlc", vlc, "vlc", []string{"/usr/bin/vlc", "--fullscreen", "--play-and-exit", "--extraintf", "http", "a.mp4"}, true},
		{"user vlc", vlc, "vlc", []string{"/usr/bin/vlc", "movie.mkv"}, false},
		{"other binary", vlc, "mpv", []string{"mpv", "--play-and-exit", "--extraintf"}, false},
		{"basic by name", PlayerProcessMatcher("basic", "/usr/bin/omxplayer"), "omxplayer.bin", []string{"omxplayer.bin", "a.mp4"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.Match(tt.proc, tt.cmdline); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessRunningFindsSelf(t *testing.T) {
	ctx := context.Background()
	self, err := os.Executable()
	if err != nil {
		t.Skip("cannot resolve test executable")
	}

	running, err := ProcessRunning(ctx, filepath.Base(self))
	if err != nil {
		t.Skipf("process listing unavailable: %v", err)
	}
	if !running {
		t.Error("Expected the test binary to be found")
	}

	running, err = ProcessRunning(ctx, "definitely-not-a-real-process-9f1c")
	if err != nil {
		t.Fatal(err)
	}
	if running {
		t.Error("Expected no match for a made-up command line")
	}
}
