package music

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrSongNotFound = errors.New("song not found")
	ErrInvalidName  = errors.New("invalid song name")
)

var mediaExtensions = []string{".mp4", ".mkv", ".avi", ".mpg", ".mpeg", ".mp3", ".m4a", ".webm", ".mov"}

const catalogRescanDebounce = 500 * time.Millisecond

// Catalog is the set of songs available in the download directory.
type Catalog struct {
	dir    string
	logger zerolog.Logger

	mu      sync.RWMutex
	songs   []string
	renamed map[string]string
}

func NewCatalog(dir string, logger zerolog.Logger) *Catalog {
	return &Catalog{
		dir:     dir,
		logger:  logger,
		renamed: make(map[string]string),
	}
}

func (c *Catalog) Dir() string {
	return c.dir
}

// Refresh rescans the download directory. Dotfiles and non-media files are skipped.
func (c *Catalog) Refresh() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.mu.Lock()
			c.songs = nil
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("scan %s: %w", c.dir, err)
	}

	songs := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !isMediaFile(name) {
			continue
		}
		songs = append(songs, filepath.Join(c.dir, name))
	}

	sort.SliceStable(songs, func(i, j int) bool {
		return sortKey(TitleFromPath(songs[i])) < sortKey(TitleFromPath(songs[j]))
	})

	c.mu.Lock()
	c.songs = songs
	c.mu.Unlock()

	c.logger.Debug().Int("songs", len(songs)).Msg("catalog refreshed")
	return nil
}

func (c *Catalog) Songs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.songs))
	copy(out, c.songs)
	return out
}

func (c *Catalog) Contains(file string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.Contains(c.songs, file)
}

// Rename moves a song and its associated files to newName (without extension)
// and records the rename for the vocal worker.
func (c *Catalog) Rename(file, newName string) (string, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" || strings.ContainsRune(newName, os.PathSeparator) || strings.HasPrefix(newName, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, newName)
	}
	if _, err := os.Stat(file); err != nil {
		return "", fmt.Errorf("%w: %s", ErrSongNotFound, file)
	}

	ext := filepath.Ext(file)
	target := filepath.Join(filepath.Dir(file), newName+ext)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("%w: %s already exists", ErrInvalidName, filepath.Base(target))
	}

	if err := os.Rename(file, target); err != nil {
		return "", fmt.Errorf("rename %s: %w", file, err)
	}

	oldAssoc := associatedFiles(c.dir, file)
	newAssoc := associatedFiles(c.dir, target)
	for i, src := range oldAssoc {
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, newAssoc[i]); err != nil {
			c.logger.Warn().Err(err).Str("file", src).Msg("failed to rename associated file")
		}
	}

	oldBase, newBase := filepath.Base(file), filepath.Base(target)
	c.mu.Lock()
	c.renamed[oldBase] = newBase
	// a song renamed twice while the worker still holds the first name
	for k, v := range c.renamed {
		if v == oldBase {
			c.renamed[k] = newBase
		}
	}
	c.mu.Unlock()

	if err := c.Refresh(); err != nil {
		c.logger.Warn().Err(err).Msg("catalog refresh after rename failed")
	}
	return target, nil
}

// Delete removes a song together with its .cdg and vocal sidecars.
func (c *Catalog) Delete(file string) error {
	if err := os.Remove(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSongNotFound, file)
		}
		return fmt.Errorf("delete %s: %w", file, err)
	}

	for _, assoc := range associatedFiles(c.dir, file) {
		if err := os.Remove(assoc); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Str("file", assoc).Msg("failed to delete associated file")
		}
	}

	return c.Refresh()
}

// Renames returns the rename history without clearing it.
func (c *Catalog) Renames() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.renamed))
	for k, v := range c.renamed {
		out[k] = v
	}
	return out
}

// AckRenames drops history entries the vocal worker has processed.
func (c *Catalog) AckRenames(oldNames []string) {
	c.mu.Lock()
	for _, name := range oldNames {
		delete(c.renamed, name)
	}
	c.mu.Unlock()
}

// Watch rescans the catalog whenever the download directory changes.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if isMediaFile(event.Name) {
				pending = time.After(catalogRescanDebounce)
			}
		case <-pending:
			pending = nil
			if err := c.Refresh(); err != nil {
				c.logger.Warn().Err(err).Msg("catalog rescan failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn().Err(err).Msg("catalog watcher error")
		}
	}
}

func associatedFiles(dir, file string) []string {
	base := filepath.Base(file)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return []string{
		filepath.Join(filepath.Dir(file), stem+".cdg"),
		filepath.Join(dir, string(VocalModeNonvocal), base+".m4a"),
		filepath.Join(dir, string(VocalModeNonvocal), "."+base+".m4a"),
		filepath.Join(dir, string(VocalModeVocal), base+".m4a"),
		filepath.Join(dir, string(VocalModeVocal), "."+base+".m4a"),
	}
}

func isMediaFile(name string) bool {
	return lo.Contains(mediaExtensions, strings.ToLower(filepath.Ext(name)))
}

// sortKey folds case and strips combining marks so "Édith" sorts next to "Edith".
func sortKey(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	return strings.ToLower(folded)
}
