// Package store defines the Redis-shaped key-value contract spec.md §6
// requires ("SET-with-TTL, GET, DEL, pub/sub for blacklist invalidation")
// and a go-redis backed implementation. The decision cache, the blacklist
// cache and its invalidation channel, and the threat-intel result cache all
// consume this same interface, matching the teacher's read-mostly/copy-on-write pattern
// but against a real external store rather than an in-process map.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key does not exist. Callers in the
// decision path must treat this identically to any other StoreUnavailable
// condition: a cache miss, never a request-visible error.
var ErrMiss = errors.New("store: key miss")

// Message is a pub/sub payload delivered to a Subscription.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live pub/sub channel subscription.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}

// Store is the minimal Redis-shaped contract the decision core depends on.
// Every method takes a context so callers can bound suspension points per
// §5 (store reads are one of the three suspension-point categories).
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) Subscription
	Ping(ctx context.Context) error
	Close() error
}

// RedisStore implements Store against a real Redis (or Redis-protocol
// compatible) server via go-redis.
type RedisStore struct {
	client *redis.Client
}

// New dials a Redis server at addr/db. It does not block on connectivity;
// callers should Ping during startup to fail fast on a misconfigured store
// per spec.md §7 ("Configuration invalid at startup: process aborts").
func New(addr string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     50,
	})
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *RedisStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

// Scan returns every key matching pattern (a Redis glob), walking the
// keyspace with a cursor rather than KEYS so it never blocks the server on
// a large keyspace. Used sparingly, off the decision path, for bulk
// invalidation (e.g. busting every cached decision for a campaign).
func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan Message
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) Subscription {
	ps := s.client.Subscribe(ctx, channel)
	out := make(chan Message, 64)
	sub := &redisSubscription{pubsub: ps, ch: out}

	go func() {
		defer close(out)
		redisCh := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
				default:
					// Slow subscriber: drop rather than block the fan-out.
				}
			}
		}
	}()

	return sub
}

func (s *redisSubscription) Channel() <-chan Message { return s.ch }
func (s *redisSubscription) Close() error            { return s.pubsub.Close() }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
