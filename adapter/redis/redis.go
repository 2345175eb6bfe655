// Package redis publishes batch completion events to a Redis pub/sub
// channel.
//
// When KeyTTL is set, the latest event of each session is also kept under
// "<channel>:<session_id>" so late subscribers can catch up; the key
// expires with the session.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/shortlist/adapter"
)

const (
	// DefaultChannel is the default pub/sub channel name.
	DefaultChannel = "shortlist:batch_completed"
	// DefaultTimeout is the default per-publish timeout.
	DefaultTimeout = 5 * time.Second
	// DefaultRetries is the default number of retry attempts.
	DefaultRetries = 3
	// DefaultBackoff is the delay before the first retry; it doubles after.
	DefaultBackoff = 500 * time.Millisecond
)

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default shortlist:batch_completed).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Backoff is the initial retry delay (default 500ms).
	Backoff time.Duration
	// KeyTTL keeps the latest event per session when positive.
	KeyTTL time.Duration
	// Clock drives retry backoff. Nil uses the real clock.
	Clock clockwork.Clock
}

// Adapter publishes batch completion events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// LatestKey returns the key holding the latest event of a session.
func (a *Adapter) LatestKey(sessionID string) string {
	return a.config.Channel + ":" + sessionID
}

// Publish sends the event as JSON to the configured channel, retrying
// failures with exponential backoff.
func (a *Adapter) Publish(ctx context.Context, event *adapter.BatchCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	attempts := 1 + a.config.Retries
	backoff := a.config.Backoff
	var lastErr error
	for i := range attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: canceled during backoff: %w", ctx.Err())
			case <-a.config.Clock.After(backoff):
			}
			backoff *= 2
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}

		lastErr = a.send(ctx, event.SessionID, body)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

func (a *Adapter) send(ctx context.Context, sessionID string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	if a.config.KeyTTL <= 0 || sessionID == "" {
		return a.client.Publish(ctx, a.config.Channel, body).Err()
	}
	_, err := a.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, a.LatestKey(sessionID), body, a.config.KeyTTL)
		p.Publish(ctx, a.config.Channel, body)
		return nil
	})
	return err
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
