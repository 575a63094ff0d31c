package middleware

import (
	"context"
	"sync"
	"time"

	"receipts/cache"
)

const revokedTokenKeyPrefix = "blacklist:access_token:"

// TokenBlacklist 已注销 token 的存储，条目在 token 过期后失效
type TokenBlacklist interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

var tokenBlacklist TokenBlacklist = NewMemoryTokenBlacklist()

// SetTokenBlacklist 替换注销列表实现（启用 Redis 时调用）
func SetTokenBlacklist(b TokenBlacklist) {
	tokenBlacklist = b
}

// RevokeToken 注销 token，直到其过期
func RevokeToken(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ID == "" {
		return nil
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	return tokenBlacklist.Revoke(ctx, claims.ID, ttl)
}

// RedisTokenBlacklist 基于 Redis 的注销列表，多实例共享
type RedisTokenBlacklist struct {
	cache *cache.Client
}

var _ TokenBlacklist = (*RedisTokenBlacklist)(nil)

func NewRedisTokenBlacklist(c *cache.Client) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{cache: c}
}

func (b *RedisTokenBlacklist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	return b.cache.Set(ctx, revokedTokenKeyPrefix+tokenID, []byte("1"), ttl)
}

// IsRevoked Redis 不可用时视为未注销
func (b *RedisTokenBlacklist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	data, err := b.cache.Get(ctx, revokedTokenKeyPrefix+tokenID)
	if err != nil {
		return false, nil
	}
	return data != nil, nil
}

// MemoryTokenBlacklist 单进程注销列表
type MemoryTokenBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

var _ TokenBlacklist = (*MemoryTokenBlacklist)(nil)

func NewMemoryTokenBlacklist() *MemoryTokenBlacklist {
	return &MemoryTokenBlacklist{entries: make(map[string]time.Time)}
}

func (b *MemoryTokenBlacklist) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for id, exp := range b.entries {
		if now.After(exp) {
			delete(b.entries, id)
		}
	}
	b.entries[tokenID] = now.Add(ttl)
	return nil
}

func (b *MemoryTokenBlacklist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.entries[tokenID]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(b.entries, tokenID)
		return false, nil
	}
	return true, nil
}
