package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client 封装 redis.Client，连接异常时按缓存未命中处理
// nil Client 的所有方法都是安全的空操作
type Client struct {
	client *redis.Client
}

// New 创建 Redis 客户端
func New(addr, password string, db int) *Client {
	return &Client{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewFromRedis 使用已有的 redis.Client，主要用于测试
func NewFromRedis(rc *redis.Client) *Client {
	return &Client{client: rc}
}

// Ping 检查连接
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("redis 未启用")
	}
	return c.client.Ping(ctx).Err()
}

// Get 返回值；不存在或 redis 不可用时返回 nil
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	res, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		// redis.Nil 与连接错误一样按未命中处理
		return nil, nil
	}
	return res, nil
}

// Set 写入带 TTL 的值，忽略 redis 错误
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	_ = c.client.Set(ctx, key, value, ttl).Err()
	return nil
}

// Delete 删除 key，忽略 redis 错误
func (c *Client) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return nil
	}
	_ = c.client.Del(ctx, key).Err()
	return nil
}

// Publish 向频道发布消息；与读写缓存不同，发布失败需要调用方感知
func (c *Client) Publish(ctx context.Context, channel, message string) error {
	if c == nil || c.client == nil {
		return errors.New("redis 未启用")
	}
	return c.client.Publish(ctx, channel, message).Err()
}

// Subscribe 订阅频道，并等待服务端确认订阅生效
func (c *Client) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("redis 未启用")
	}
	ps := c.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return ps, nil
}

// Close 关闭连接
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
