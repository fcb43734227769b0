package broadcast

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/hxnx/karaoke/internal/music"
	"github.com/rs/zerolog"
)

type View string

const (
	ViewNowPlaying View = "nowplaying"
	ViewQueue      View = "queue"
)

func ParseView(s string) (View, bool) {
	switch View(s) {
	case ViewNowPlaying, ViewQueue:
		return View(s), true
	}
	return "", false
}

const (
	TypeNowPlaying = "now_playing"
	TypePosition   = "position"
	TypeQueue      = "queue"
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type PositionUpdate struct {
	Position float64 `json:"position"`
}

type QueueUpdate struct {
	Queue []music.QueueEntry `json:"queue"`
	Hash  string             `json:"hash"`
}

// Client receives pushes for the view it is on. Send must not block; a
// client that returns an error is dropped.
type Client interface {
	ID() string
	View() View
	Send(msg Message) error
}

// Sink receives every message regardless of view.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
}

// Source is sampled once per tick.
type Source interface {
	NowPlaying() music.NowPlaying
	QueueSnapshot() ([]music.QueueEntry, string)
}

// Broadcaster samples the source on a fixed interval and pushes a full
// payload when anything but the position changed, and a position update
// otherwise.
type Broadcaster struct {
	source   Source
	interval time.Duration
	logger   zerolog.Logger

	mu           sync.Mutex
	clients      map[string]Client
	sinks        []Sink
	lastContent  string
	lastPosition float64
}

func New(source Source, interval time.Duration, logger zerolog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = time.Second
	}
	return &Broadcaster{
		source:   source,
		interval: interval,
		logger:   logger,
		clients:  make(map[string]Client),
	}
}

func (b *Broadcaster) AddSink(sink Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Register adds c and sends it the full payload for its view right away.
func (b *Broadcaster) Register(c Client) {
	b.mu.Lock()
	b.clients[c.ID()] = c
	b.mu.Unlock()
	b.Resync(c)
}

func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Resync sends c the full payload for its current view, used after a client
// joins or switches view.
func (b *Broadcaster) Resync(c Client) {
	var msg Message
	switch c.View() {
	case ViewQueue:
		entries, hash := b.source.QueueSnapshot()
		msg = queueMessage(entries, hash)
	default:
		msg = Message{Type: TypeNowPlaying, Payload: b.source.NowPlaying()}
	}
	b.send(c, msg)
}

func (b *Broadcaster) send(c Client, msg Message) {
	if err := c.Send(msg); err != nil {
		b.logger.Debug().Err(err).Str("client", c.ID()).Msg("dropping client")
		b.Unregister(c.ID())
	}
}

func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

// Tick runs one sampling round.
func (b *Broadcaster) Tick(ctx context.Context) {
	np := b.source.NowPlaying()
	entries, queueHash := b.source.QueueSnapshot()
	content := contentHash(np, queueHash)

	b.mu.Lock()
	changed := content != b.lastContent
	moved := np.SeektrackValue != b.lastPosition
	b.lastContent = content
	b.lastPosition = np.SeektrackValue
	clients := make([]Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()

	var out []Message
	switch {
	case changed:
		full := Message{Type: TypeNowPlaying, Payload: np}
		queue := queueMessage(entries, queueHash)
		for _, c := range clients {
			if c.View() == ViewQueue {
				b.send(c, queue)
			} else {
				b.send(c, full)
			}
		}
		out = []Message{full, queue}
	case moved:
		pos := Message{Type: TypePosition, Payload: PositionUpdate{Position: np.SeektrackValue}}
		for _, c := range clients {
			if c.View() == ViewNowPlaying {
				b.send(c, pos)
			}
		}
		out = []Message{pos}
	}

	for _, sink := range sinks {
		for _, msg := range out {
			if err := sink.Publish(ctx, msg); err != nil {
				b.logger.Warn().Err(err).Str("type", msg.Type).Msg("failed to publish update")
			}
		}
	}
}

func queueMessage(entries []music.QueueEntry, hash string) Message {
	if entries == nil {
		entries = []music.QueueEntry{}
	}
	return Message{Type: TypeQueue, Payload: QueueUpdate{Queue: entries, Hash: hash}}
}

// contentHash covers everything clients render except the playback position.
func contentHash(np music.NowPlaying, queueHash string) string {
	payload, err := json.Marshal(np.WithoutPosition())
	if err != nil {
		return ""
	}
	sum := md5.Sum(append(payload, queueHash...))
	return hex.EncodeToString(sum[:])
}
