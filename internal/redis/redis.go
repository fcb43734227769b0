package redis

import (
	"context"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

const (
	defaultAttempts = 5
	defaultBackoff  = 200 * time.Millisecond
	pingTimeout     = 3 * time.Second
)

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Attempts and Backoff tune the startup ping; zero means the defaults.
	Attempts int
	Backoff  time.Duration
}

func (cfg Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// Connect opens a client and pings it with doubling backoff until the server
// answers or the attempts run out.
func Connect(ctx context.Context, cfg Config) (*redislib.Client, error) {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	client := redislib.NewClient(&redislib.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return client, nil
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("redis at %s unreachable after %d attempts: %w", cfg.Addr(), attempts, err)
}
