// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/gridjam/internal/domain/session/model"
)

// RedisStore persists sessions as "gridjam:sess:<id>" string values.
// Records carry no TTL: sessions are permanent and publish is the terminal
// state, so expiry would silently destroy user work.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the given redis address.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func redisKey(id string) string { return "gridjam:sess:" + id }

func (s *RedisStore) Load(ctx context.Context, id string) (*model.Session, error) {
	val, err := s.client.Get(ctx, redisKey(id)).Result()
	if err != nil {
		return nil, missToNotFound(err, redis.Nil)
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *model.Session) error {
	buf, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sess.ID, err)
	}
	if err := s.client.Set(ctx, redisKey(sess.ID), buf, 0).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
