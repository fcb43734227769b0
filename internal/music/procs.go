package music

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMatcher selects processes by executable name and required
// command line arguments.
type ProcessMatcher struct {
	Name string
	Args []string
}

// PlayerProcessMatcher matches players started by a previous run of this
// service for the given backend.
func PlayerProcessMatcher(backend, path string) ProcessMatcher {
	name := filepath.Base(path)
	if backend == "vlc" {
		// cvlc re-execs as vlc
		return ProcessMatcher{Name: "vlc", Args: []string{"--play-and-exit", "--extraintf"}}
	}
	return ProcessMatcher{Name: name}
}

func (m ProcessMatcher) Match(name string, cmdline []string) bool {
	if m.Name != "" && !strings.HasPrefix(name, m.Name) {
		return false
	}
	for _, arg := range m.Args {
		if !slices.Contains(cmdline, arg) {
			return false
		}
	}
	return true
}

// ReapStale kills leftover processes matching m, skipping this process.
func ReapStale(ctx context.Context, m ProcessMatcher, logger zerolog.Logger) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	self := int32(os.Getpid())
	killed := 0
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		cmdline, _ := p.CmdlineSliceWithContext(ctx)
		if !m.Match(name, cmdline) {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			logger.Warn().Err(err).Int32("pid", p.Pid).Str("name", name).Msg("failed to kill stale player")
			continue
		}
		logger.Info().Int32("pid", p.Pid).Str("name", name).Msg("killed stale player")
		killed++
	}
	return killed, nil
}

// ProcessRunning reports whether any process has fragment in its command line.
func ProcessRunning(ctx context.Context, fragment string) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list processes: %w", err)
	}
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.Contains(cmdline, fragment) {
			return true, nil
		}
	}
	return false, nil
}
