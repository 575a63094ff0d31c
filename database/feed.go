package database

import (
	"context"
	"log"
	"sync"

	"receipts/cache"
)

// ChangeFeed 集合变更通知
// 通知只表示“有变化”，订阅方自行重新查询完整集合
type ChangeFeed interface {
	Publish(ctx context.Context, topic string)
	// Subscribe 返回通知通道与取消函数；返回时订阅已生效
	Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error)
}

// MemoryFeed 单进程内的变更通知
type MemoryFeed struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan struct{}
}

// NewMemoryFeed 创建进程内变更通知
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[int]chan struct{})}
}

// Publish 通知 topic 的全部订阅者，多次通知会合并为一次
func (f *MemoryFeed) Publish(_ context.Context, topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[topic] {
		notify(ch)
	}
}

// Subscribe 订阅 topic
func (f *MemoryFeed) Subscribe(_ context.Context, topic string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	id := f.next
	f.next++
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[int]chan struct{})
	}
	f.subs[topic][id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[topic], id)
			if len(f.subs[topic]) == 0 {
				delete(f.subs, topic)
			}
			f.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// subscribers 当前 topic 的订阅数
func (f *MemoryFeed) subscribers(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[topic])
}

// RedisFeed 基于 Redis Pub/Sub 的变更通知，多实例部署时使用
type RedisFeed struct {
	cache *cache.Client
}

// NewRedisFeed 创建 Redis 变更通知
func NewRedisFeed(c *cache.Client) *RedisFeed {
	return &RedisFeed{cache: c}
}

// Publish 发布变更；失败只记录日志，写操作本身已经成功
func (f *RedisFeed) Publish(ctx context.Context, topic string) {
	if err := f.cache.Publish(ctx, topic, "changed"); err != nil {
		log.Printf("发布变更通知失败 topic=%s: %v", topic, err)
	}
}

// Subscribe 订阅 topic
func (f *RedisFeed) Subscribe(ctx context.Context, topic string) (<-chan struct{}, func(), error) {
	ps, err := f.cache.Subscribe(ctx, topic)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		for range ps.Channel() {
			notify(out)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = ps.Close() })
	}
	return out, cancel, nil
}

// notify 非阻塞写入；已有未处理的通知时直接合并
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
