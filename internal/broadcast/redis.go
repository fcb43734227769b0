package broadcast

import (
	"context"
	"encoding/json"
	"errors"

	redislib "github.com/redis/go-redis/v9"
)

var ErrRedisClientNil = errors.New("redis client is not configured")

const (
	NowPlayingChannel = "karaoke:nowplaying"
	QueueChannel      = "karaoke:queue"
)

// RedisSink publishes every update on a pub/sub channel so other processes can
// follow playback without holding a websocket.
type RedisSink struct {
	client *redislib.Client
}

func NewRedisSink(client *redislib.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Publish(ctx context.Context, msg Message) error {
	if s == nil || s.client == nil {
		return ErrRedisClientNil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channelFor(msg.Type), payload).Err()
}

func channelFor(msgType string) string {
	if msgType == TypeQueue {
		return QueueChannel
	}
	return NowPlayingChannel
}
