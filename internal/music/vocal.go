package music

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const vocalInfoTTL = 2 * time.Second

// Vocal info bits.
const (
	VocalInfoNonvocalDNN = 1 << 0
	VocalInfoVocalDNN    = 1 << 1
	VocalInfoNonvocalAlt = 1 << 2
	VocalInfoVocalAlt    = 1 << 3
	VocalInfoUseDNN      = 1 << 6
	VocalInfoAltAttached = 1 << 7
	vocalInfoModeShift   = 4
)

// hidden prefix marks the cheaper channel-difference split
const altSplitPrefix = "."

type vocalCacheEntry struct {
	mask    int
	expires time.Time
}

// VocalResolver maps songs to vocal/nonvocal sidecar files written by the
// separation worker under the download directory.
type VocalResolver struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	cache map[string]vocalCacheEntry
}

func NewVocalResolver(dir string) *VocalResolver {
	return &VocalResolver{
		dir:   dir,
		now:   time.Now,
		cache: make(map[string]vocalCacheEntry),
	}
}

// SidecarPath is the candidate path for mode, whether or not it exists.
func (r *VocalResolver) SidecarPath(file string, mode VocalMode, useDNN bool) string {
	if mode != VocalModeVocal && mode != VocalModeNonvocal {
		return ""
	}
	prefix := altSplitPrefix
	if useDNN {
		prefix = ""
	}
	return filepath.Join(r.dir, string(mode), prefix+filepath.Base(file)+".m4a")
}

// Resolve picks the sidecar for mode. VocalModeCurrent keeps the mode implied
// by currentSidecar. Missing files fall back to mixed with no sidecar.
func (r *VocalResolver) Resolve(file string, mode VocalMode, currentSidecar string, useDNN bool) (string, VocalMode) {
	if mode == VocalModeCurrent {
		mode = ModeFromSidecar(currentSidecar)
	}
	sidecar := r.SidecarPath(file, mode, useDNN)
	if sidecar == "" || !fileExists(sidecar) {
		return "", VocalModeMixed
	}
	return sidecar, mode
}

// ModeFromSidecar derives the vocal mode from an attached sidecar path.
func ModeFromSidecar(sidecar string) VocalMode {
	p := filepath.ToSlash(sidecar)
	switch {
	case strings.Contains(p, "/nonvocal/"):
		return VocalModeNonvocal
	case strings.Contains(p, "/vocal/"):
		return VocalModeVocal
	default:
		return VocalModeMixed
	}
}

func vocalModeCode(mode VocalMode) int {
	switch mode {
	case VocalModeNonvocal:
		return 1
	case VocalModeVocal:
		return 3
	default:
		return 2
	}
}

// Info packs sidecar availability, current mode and DNN flags for the song.
// Filesystem checks are cached per file for two seconds.
func (r *VocalResolver) Info(file, currentSidecar string, useDNN bool) int {
	if file == "" {
		return 0
	}

	mask := r.availability(file)
	if strings.Contains(filepath.ToSlash(currentSidecar), "vocal/"+altSplitPrefix) {
		mask |= VocalInfoAltAttached
	}
	if useDNN {
		mask |= VocalInfoUseDNN
	}
	mask |= vocalModeCode(ModeFromSidecar(currentSidecar)) << vocalInfoModeShift
	return mask
}

// Invalidate drops the cached availability for file.
func (r *VocalResolver) Invalidate(file string) {
	r.mu.Lock()
	delete(r.cache, file)
	r.mu.Unlock()
}

func (r *VocalResolver) availability(file string) int {
	now := r.now()

	r.mu.Lock()
	if entry, ok := r.cache[file]; ok && now.Before(entry.expires) {
		r.mu.Unlock()
		return entry.mask
	}
	r.mu.Unlock()

	mask := 0
	checks := []struct {
		mode   VocalMode
		useDNN bool
		bit    int
	}{
		{VocalModeNonvocal, true, VocalInfoNonvocalDNN},
		{VocalModeVocal, true, VocalInfoVocalDNN},
		{VocalModeNonvocal, false, VocalInfoNonvocalAlt},
		{VocalModeVocal, false, VocalInfoVocalAlt},
	}
	for _, c := range checks {
		if fileExists(r.SidecarPath(file, c.mode, c.useDNN)) {
			mask |= c.bit
		}
	}

	r.mu.Lock()
	r.cache[file] = vocalCacheEntry{mask: mask, expires: now.Add(vocalInfoTTL)}
	r.mu.Unlock()
	return mask
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ModeFromInfo decodes the mode packed into a vocal info mask. Zero means
// nothing is playing.
func ModeFromInfo(info int) (VocalMode, bool) {
	switch (info >> vocalInfoModeShift) & 3 {
	case 1:
		return VocalModeNonvocal, true
	case 2:
		return VocalModeMixed, true
	case 3:
		return VocalModeVocal, true
	}
	return "", false
}

// SplitAvailable reports whether any separated track exists for the song.
func SplitAvailable(info int) bool {
	return info&(VocalInfoNonvocalDNN|VocalInfoVocalDNN|VocalInfoNonvocalAlt|VocalInfoVocalAlt) != 0
}
