package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tz-rubeho/internal/annotate"
	"tz-rubeho/internal/logger"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix：Redis 键前缀
const KeyPrefix = "annotate:session:"

// RedisStore：会话以 JSON 存于 Redis，每次保存刷新 TTL
type RedisStore struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRedisStore(rc *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rc: rc, ttl: ttl}
}

func (r *RedisStore) Load(ctx context.Context, id string) (annotate.Session, error) {
	b, err := r.rc.Get(ctx, KeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return annotate.NewSession(), nil
	}
	if err != nil {
		return annotate.Session{}, fmt.Errorf("session load: %w", err)
	}
	var s annotate.Session
	if err := json.Unmarshal(b, &s); err != nil {
		// 损坏的会话视为不存在
		logger.L().Warn("session_decode_error", "id", id, "err", err)
		return annotate.NewSession(), nil
	}
	if s.Mode == "" {
		s.Mode = annotate.ModeTreatment
	}
	if s.Annotations == nil {
		s.Annotations = []annotate.Annotation{}
	}
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, id string, s annotate.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.rc.Set(ctx, KeyPrefix+id, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("session save: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.rc.Del(ctx, KeyPrefix+id).Err()
}
