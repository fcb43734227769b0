package music

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	BumpUp   = "up"
	BumpDown = "down"
)

const (
	reasonAlreadyQueued = "already in queue"
	reasonEmptyFile     = "empty file path"

	defaultRandomQueueUser = "Randomizer"
)

// SongSource lists songs eligible for random picks.
type SongSource interface {
	Songs() []string
}

// QueueManager owns the pending-song list. The hash is recomputed inside the
// same critical section as every mutation.
type QueueManager struct {
	songs SongSource

	mu      sync.Mutex
	entries []QueueEntry
	hash    string
	rng     *rand.Rand
}

func NewQueueManager(songs SongSource) *QueueManager {
	q := &QueueManager{
		songs:   songs,
		entries: []QueueEntry{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	q.rehashLocked()
	return q
}

// HashEntries is the digest clients compare against.
func HashEntries(entries []QueueEntry) string {
	if entries == nil {
		entries = []QueueEntry{}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}

func (q *QueueManager) rehashLocked() {
	q.hash = HashEntries(q.entries)
}

func (q *QueueManager) indexLocked(file string) int {
	_, idx, ok := lo.FindIndexOf(q.entries, func(e QueueEntry) bool {
		return e.File == file
	})
	if !ok {
		return -1
	}
	return idx
}

// Enqueue appends an entry unless its file is already queued.
func (q *QueueManager) Enqueue(entry QueueEntry) (bool, string) {
	if entry.File == "" {
		return false, reasonEmptyFile
	}
	if entry.Title == "" {
		entry.Title = TitleFromPath(entry.File)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexLocked(entry.File) >= 0 {
		return false, reasonAlreadyQueued
	}
	q.entries = append(q.entries, entry)
	q.rehashLocked()
	return true, ""
}

func (q *QueueManager) EnqueueFile(file, user string) (bool, string) {
	return q.Enqueue(QueueEntry{File: file, Title: TitleFromPath(file), User: user})
}

// AddRandom queues up to n songs not already queued. Songs added before the
// catalog runs out are kept and false is returned.
func (q *QueueManager) AddRandom(n int) bool {
	if n <= 0 {
		return true
	}
	var catalog []string
	if q.songs != nil {
		catalog = q.songs.Songs()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	candidates := lo.Filter(catalog, func(file string, _ int) bool {
		return q.indexLocked(file) < 0
	})
	q.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	added := min(n, len(candidates))
	for _, file := range candidates[:added] {
		q.entries = append(q.entries, QueueEntry{File: file, Title: TitleFromPath(file), User: defaultRandomQueueUser})
	}
	if added > 0 {
		q.rehashLocked()
	}
	return added == n
}

// Move relocates the entry at from to index to. clientSize is the queue length
// the caller last saw; when the queue has since shrunk, both indices shift by
// the difference. A queue that grew is not corrected.
func (q *QueueManager) Move(from, to, clientSize int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if drift := clientSize - len(q.entries); drift > 0 {
		from -= drift
		to -= drift
	}
	if from < 0 || from >= len(q.entries) || to < 0 || to >= len(q.entries) {
		return false
	}
	if from == to {
		return true
	}

	entry := q.entries[from]
	rest := append(q.entries[:from:from], q.entries[from+1:]...)
	moved := make([]QueueEntry, 0, len(q.entries))
	moved = append(moved, rest[:to]...)
	moved = append(moved, entry)
	moved = append(moved, rest[to:]...)
	q.entries = moved
	q.rehashLocked()
	return true
}

// Bump swaps a song with its neighbour. The first song cannot go up and the
// last cannot go down.
func (q *QueueManager) Bump(file, direction string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(file)
	if idx < 0 {
		return false
	}

	var other int
	switch direction {
	case BumpUp:
		if idx == 0 {
			return false
		}
		other = idx - 1
	case BumpDown:
		if idx == len(q.entries)-1 {
			return false
		}
		other = idx + 1
	default:
		return false
	}

	q.entries[idx], q.entries[other] = q.entries[other], q.entries[idx]
	q.rehashLocked()
	return true
}

func (q *QueueManager) Delete(file string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(file)
	if idx < 0 {
		return false
	}
	q.entries = append(q.entries[:idx:idx], q.entries[idx+1:]...)
	q.rehashLocked()
	return true
}

func (q *QueueManager) Clear() {
	q.mu.Lock()
	q.entries = []QueueEntry{}
	q.rehashLocked()
	q.mu.Unlock()
}

// Rename rewrites the file of a queued entry after the song was renamed on disk.
func (q *QueueManager) Rename(oldFile, newFile string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(oldFile)
	if idx < 0 {
		return false
	}
	q.entries[idx].File = newFile
	q.entries[idx].Title = TitleFromPath(newFile)
	q.rehashLocked()
	return true
}

// Restore appends entries loaded from a snapshot, dropping songs that are no
// longer in the catalog or already queued. It returns how many were kept.
func (q *QueueManager) Restore(entries []QueueEntry) int {
	available := lo.KeyBy(q.songs.Songs(), func(file string) string { return file })
	restored := 0
	for _, entry := range entries {
		if _, ok := available[entry.File]; !ok {
			continue
		}
		if ok, _ := q.Enqueue(entry); ok {
			restored++
		}
	}
	return restored
}

// PopFront removes and returns the head of the queue.
func (q *QueueManager) PopFront() (QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return QueueEntry{}, false
	}
	head := q.entries[0]
	q.entries = append([]QueueEntry{}, q.entries[1:]...)
	q.rehashLocked()
	return head, true
}

func (q *QueueManager) Peek() (QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return QueueEntry{}, false
	}
	return q.entries[0], true
}

func (q *QueueManager) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *QueueManager) Contains(file string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(file) >= 0
}

// Snapshot returns a copy of the queue together with its hash.
func (q *QueueManager) Snapshot() ([]QueueEntry, string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out, q.hash
}

func (q *QueueManager) Hash() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hash
}

// PollChanged returns the queue only when its hash differs from lastKnownHash.
func (q *QueueManager) PollChanged(lastKnownHash string) ([]QueueEntry, string, bool) {
	entries, hash := q.Snapshot()
	if hash == lastKnownHash {
		return nil, "", false
	}
	return entries, hash, true
}
