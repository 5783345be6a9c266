package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bankruptcy-console/internal/backend"
)

const (
	keyPrefix = "bkconsole:"

	// Optimistic transactions are retried this many times when another
	// request for the same session wins the race.
	maxTxAttempts = 8
)

// ErrConflict is returned when an update kept losing the optimistic lock.
var ErrConflict = errors.New("session update conflict")

// RedisOptions configures the redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps sessions in redis so several console replicas can share
// them. State is stored as JSON and expires after ttl of inactivity.
type RedisStore struct {
	client    *redis.Client
	baseline  backend.Metrics
	ttl       time.Duration
	flightTTL time.Duration
}

// NewRedisStore connects and pings redis.
func NewRedisStore(ctx context.Context, opts RedisOptions, baseline backend.Metrics, ttl, flightTTL time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return NewRedisStoreWithClient(client, baseline, ttl, flightTTL), nil
}

// NewRedisStoreWithClient wraps an existing client. The store owns it and
// closes it on Close.
func NewRedisStoreWithClient(client *redis.Client, baseline backend.Metrics, ttl, flightTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		baseline:  baseline,
		ttl:       ttl,
		flightTTL: flightTTL,
	}
}

func stateKey(id string) string {
	return keyPrefix + "session:" + id
}

func flightKeyName(id string, op backend.Op) string {
	return keyPrefix + "inflight:" + id + ":" + string(op)
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, id string) (State, error) {
	raw, err := c.Get(ctx, stateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewState(id, s.baseline), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load session: %w", err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode session: %w", err)
	}
	return st, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (State, error) {
	return s.load(ctx, s.client, id)
}

// Update runs fn inside a WATCH/MULTI transaction. fn may run more than
// once if the key changes underneath it.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*State) error) (State, error) {
	key := stateKey(id)
	var out State

	txf := func(tx *redis.Tx) error {
		st, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(&st); err != nil {
			return err
		}
		st.UpdatedAt = time.Now()

		raw, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return nil
		})
		if err == nil {
			out = st
		}
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return State{}, err
	}
	return State{}, ErrConflict
}

func (s *RedisStore) Reset(ctx context.Context, id string) error {
	return s.client.Del(ctx, stateKey(id)).Err()
}

// Begin uses SET NX with the flight TTL, so a replica that dies mid-call
// cannot block the session forever.
func (s *RedisStore) Begin(ctx context.Context, id string, op backend.Op) error {
	ok, err := s.client.SetNX(ctx, flightKeyName(id, op), time.Now().UnixMilli(), s.flightTTL).Result()
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	if !ok {
		return busy(op)
	}
	return nil
}

func (s *RedisStore) End(ctx context.Context, id string, op backend.Op) error {
	return s.client.Del(ctx, flightKeyName(id, op)).Err()
}

func (s *RedisStore) InFlight(ctx context.Context, id string, op backend.Op) (bool, error) {
	n, err := s.client.Exists(ctx, flightKeyName(id, op)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
