package broadcast

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/hxnx/karaoke/internal/music"
	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readWire(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wireMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func TestHubViewsAndSwitching(t *testing.T) {
	src := &fakeSource{
		np:      music.NowPlaying{NowPlaying: "Song", NowPlayingUser: "alice"},
		entries: []music.QueueEntry{{File: "/s/next.mp4", Title: "next", User: "bob"}},
	}
	b := New(src, 0, zerolog.Nop())
	server := httptest.NewServer(NewHub(b, zerolog.Nop()))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?view=queue"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	msg := readWire(t, conn)
	if msg.Type != TypeQueue {
		t.Fatalf("Expected queue snapshot first, got %s", msg.Type)
	}
	var update QueueUpdate
	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		t.Fatal(err)
	}
	if len(update.Queue) != 1 || update.Queue[0].User != "bob" || update.Hash != music.HashEntries(src.entries) {
		t.Errorf("Unexpected queue payload: %+v", update)
	}

	if err := conn.WriteJSON(map[string]string{"view": "nowplaying"}); err != nil {
		t.Fatal(err)
	}
	msg = readWire(t, conn)
	if msg.Type != TypeNowPlaying {
		t.Fatalf("Expected now playing after switching view, got %s", msg.Type)
	}
	var np music.NowPlaying
	if err := json.Unmarshal(msg.Payload, &np); err != nil {
		t.Fatal(err)
	}
	if np.NowPlaying != "Song" || np.NowPlayingUser != "alice" {
		t.Errorf("Unexpected now playing payload: %+v", np)
	}

	src.update(func(s *fakeSource) { s.np.SeektrackValue = 12.5 })
	b.Tick(context.Background())
	msg = readWire(t, conn)
	// the first tick always counts as a content change
	if msg.Type != TypeNowPlaying {
		t.Fatalf("Expected full update on first tick, got %s", msg.Type)
	}

	src.update(func(s *fakeSource) { s.np.SeektrackValue = 13.5 })
	b.Tick(context.Background())
	msg = readWire(t, conn)
	var pos PositionUpdate
	if err := json.Unmarshal(msg.Payload, &pos); err != nil {
		t.Fatal(err)
	}
	if msg.Type != TypePosition || pos.Position != 13.5 {
		t.Errorf("Expected position 13.5, got %s %+v", msg.Type, pos)
	}
}

func TestHubUnregistersOnClose(t *testing.T) {
	b := New(&fakeSource{}, 0, zerolog.Nop())
	server := httptest.NewServer(NewHub(b, zerolog.Nop()))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	readWire(t, conn)
	if b.ClientCount() != 1 {
		t.Fatalf("Expected one client, got %d", b.ClientCount())
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected client to be unregistered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRedisSinkPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	sub := client.Subscribe(ctx, QueueChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	sink := NewRedisSink(client)
	if err := sink.Publish(ctx, queueMessage(nil, "h")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := sub.ReceiveMessage(recvCtx)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if got.Channel != QueueChannel || !strings.Contains(got.Payload, `"hash":"h"`) || !strings.Contains(got.Payload, `"queue":[]`) {
		t.Errorf("Unexpected published message on %s: %s", got.Channel, got.Payload)
	}

	var nilSink *RedisSink
	if err := nilSink.Publish(ctx, Message{}); err != ErrRedisClientNil {
		t.Errorf("Expected ErrRedisClientNil, got %v", err)
	}
}
