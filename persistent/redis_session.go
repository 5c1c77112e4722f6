package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/buzkaaclicker/chatgate"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// RedisSessionStore keeps sessions in redis under the same key layout as
// SessionStore.
type RedisSessionStore struct {
	Client redis.UniversalClient
}

var _ chatgate.SessionStore = (*RedisSessionStore)(nil)

func (s *RedisSessionStore) Get(ctx context.Context, token string) (chatgate.Session, error) {
	val, err := s.Client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return chatgate.Session{}, chatgate.ErrSessionNotFound
		}
		return chatgate.Session{}, fmt.Errorf("redis get: %w", err)
	}
	var session chatgate.Session
	if err := json.Unmarshal(val, &session); err != nil {
		return chatgate.Session{}, fmt.Errorf("deserialize session: %w", err)
	}
	return session, nil
}

func (s *RedisSessionStore) Set(ctx context.Context, session chatgate.Session) error {
	data, err := json.Marshal(&session)
	if err != nil {
		return fmt.Errorf("session serialize: %w", err)
	}
	ttl := chatgate.StoreTTL(session, time.Now())
	if err := s.Client.Set(ctx, sessionKeyPrefix+session.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Update uses SET XX so a session deleted in the meantime stays deleted.
func (s *RedisSessionStore) Update(ctx context.Context, session chatgate.Session) error {
	data, err := json.Marshal(&session)
	if err != nil {
		return fmt.Errorf("session serialize: %w", err)
	}
	ttl := chatgate.StoreTTL(session, time.Now())
	updated, err := s.Client.SetXX(ctx, sessionKeyPrefix+session.Token, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis set xx: %w", err)
	}
	if !updated {
		return chatgate.ErrSessionNotFound
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.Client.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) ScanTokens(ctx context.Context) ([]string, error) {
	tokens := make([]string, 0, 10)
	// SCAN may return a key more than once.
	seen := make(map[string]struct{})
	iter := s.Client.Scan(ctx, 0, sessionKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		token := strings.TrimPrefix(iter.Val(), sessionKeyPrefix)
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return tokens, nil
}
