package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisBus publishes domain events to Redis: the latest state of each event
// category is kept in a hash, and a message on the matching channel notifies
// subscribers of the change.
type RedisBus struct {
	client *redis.Client
	logger *logrus.Logger
	ctx    context.Context
	prefix string
}

// NewRedisBus connects to Redis and verifies the link with a ping.
func NewRedisBus(addr, password string, db int, logger *logrus.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = logrus.New()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBus{
		client: client,
		logger: logger,
		ctx:    ctx,
		prefix: "zmk-central",
	}, nil
}

func (b *RedisBus) Publish(ev Event) {
	key := fmt.Sprintf("%s:%s", b.prefix, ev.EventName())

	fields := ev.Fields()
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	pipe := b.client.Pipeline()
	if len(args) > 0 {
		pipe.HSet(b.ctx, key, args...)
	}
	pipe.Publish(b.ctx, key, ev.EventName())
	if _, err := pipe.Exec(b.ctx); err != nil {
		b.logger.WithFields(logrus.Fields{
			"event": ev.EventName(),
			"error": err,
		}).Warn("Failed to publish event to Redis")
	}
}

// Close releases the Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
