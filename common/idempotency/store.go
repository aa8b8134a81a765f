package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store 멱등성 키 저장소 인터페이스
type Store interface {
	// Reserve 멱등성 키를 예약 (이미 존재하면 false 반환)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// IsProcessed 이미 처리된 키인지 확인
	IsProcessed(ctx context.Context, key string) (bool, error)
	// Release 멱등성 키 해제
	Release(ctx context.Context, key string) error
}

// RedisStore Redis 기반 멱등성 저장소
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore Redis 기반 멱등성 저장소 생성
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Reserve 멱등성 키 예약
func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetNX(ctx, s.fullKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return result, nil
}

// IsProcessed 이미 처리된 키인지 확인
func (s *RedisStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.fullKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists > 0, nil
}

// Release 멱등성 키 해제
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) fullKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// MemoryStore 프로세스 내 멱등성 저장소 (Redis 미설정 환경 및 테스트용)
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

// NewMemoryStore 메모리 기반 멱등성 저장소 생성
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.liveLocked(key) {
		return false, nil
	}
	var expiry time.Time
	if ttl > 0 {
		expiry = s.now().Add(ttl)
	}
	s.keys[key] = expiry
	return true, nil
}

func (s *MemoryStore) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(key), nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func (s *MemoryStore) liveLocked(key string) bool {
	expiry, ok := s.keys[key]
	if !ok {
		return false
	}
	if !expiry.IsZero() && !s.now().Before(expiry) {
		delete(s.keys, key)
		return false
	}
	return true
}
