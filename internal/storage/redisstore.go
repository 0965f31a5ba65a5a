package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roberthayford/nutlip-transaction-bus/pkg/logger"
	"github.com/roberthayford/nutlip-transaction-bus/pkg/redis"
)

// RedisStore keeps the shared feed in Redis and broadcasts every write on a
// pub/sub channel, the closest server-side analog of the browser's storage
// event: the notification carries the new serialized value so observers skip
// the read round-trip.
type RedisStore struct {
	client  *redis.Client
	channel string
	log     *logger.Logger
}

// NewRedisStore wraps an established client.
func NewRedisStore(client *redis.Client, log *logger.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisStore{
		client:  client,
		channel: redis.Key("bus", "changes"),
		log:     log,
	}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.storageKey(key))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, key, err)
	}
	return []byte(raw), nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.storageKey(key), value); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrUnavailable, key, err)
	}
	r.publish(ctx, Change{Key: key, Value: value})
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.storageKey(key)); err != nil {
		return fmt.Errorf("%w: removing %s: %v", ErrUnavailable, key, err)
	}
	r.publish(ctx, Change{Key: key, Removed: true})
	return nil
}

func (r *RedisStore) Watch(ctx context.Context) (<-chan Change, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					if r.log != nil {
						r.log.Warn(ctx, "dropping malformed change notification")
					}
					continue
				}
				select {
				case out <- change:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Notification loss is tolerable; the poll fallback converges anyway.
func (r *RedisStore) publish(ctx context.Context, change Change) {
	payload, err := json.Marshal(change)
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload); err != nil && r.log != nil {
		r.log.Warn(r.log.WithField(ctx, "key", change.Key), "change notification publish failed")
	}
}

func (r *RedisStore) storageKey(key string) string {
	return redis.Key("bus", "key", key)
}
