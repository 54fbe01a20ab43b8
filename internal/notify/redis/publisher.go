// Package redis mirrors surfaced-set snapshots to a Redis pub/sub channel so
// other processes can follow review state without polling the API.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"

	"github.com/thebtf/photodedup/pkg/models"
)

// DefaultChannel is the pub/sub channel snapshots are published on.
const DefaultChannel = "photodedup:sets"

// Snapshot is the published message.
type Snapshot struct {
	Sets      []models.SimilarSet `json:"sets"`
	Count     int                 `json:"count"`
	Published int64               `json:"published_at"`
}

// Publisher publishes snapshots through a connection pool.
type Publisher struct {
	pool    *redis.Pool
	channel string
	logger  zerolog.Logger
}

// NewPool creates a pool dialing the given redis:// URL.
func NewPool(url string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(url,
				redis.DialConnectTimeout(5*time.Second),
				redis.DialWriteTimeout(5*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// NewPublisher creates a publisher. An empty channel uses DefaultChannel.
func NewPublisher(pool *redis.Pool, channel string, logger zerolog.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{
		pool:    pool,
		channel: channel,
		logger:  logger.With().Str("component", "redis-publisher").Logger(),
	}
}

// Publish sends one snapshot and returns the number of receivers.
func (p *Publisher) Publish(ctx context.Context, sets []models.SimilarSet) (int, error) {
	payload, err := json.Marshal(Snapshot{
		Sets:      sets,
		Count:     len(sets),
		Published: time.Now().UnixMilli(),
	})
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("get redis connection: %w", err)
	}
	defer conn.Close()

	n, err := redis.Int(conn.Do("PUBLISH", p.channel, payload))
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return n, nil
}

// Run publishes every value received on updates until ctx is done or updates
// is closed. Failures are logged and the loop continues.
func (p *Publisher) Run(ctx context.Context, updates <-chan []models.SimilarSet) {
	for {
		select {
		case <-ctx.Done():
			return
		case sets, ok := <-updates:
			if !ok {
				return
			}
			n, err := p.Publish(ctx, sets)
			if err != nil {
				p.logger.Warn().Err(err).Msg("Failed to mirror sets to Redis")
				continue
			}
			p.logger.Debug().Int("sets", len(sets)).Int("receivers", n).Msg("Published sets")
		}
	}
}

// Close releases pooled connections.
func (p *Publisher) Close() error {
	return p.pool.Close()
}
