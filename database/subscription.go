package database

import (
	"context"
	"log"
	"sync"
)

// Subscription 实时快照订阅
// 每个快照都是完整集合；消费慢时只保留最新的一份
type Subscription[T any] struct {
	snapshots chan []T
	cancel    context.CancelFunc
	done      chan struct{}

	mu  sync.Mutex
	err error
}

// Snapshots 快照通道，订阅关闭后通道关闭
func (s *Subscription[T]) Snapshots() <-chan []T {
	return s.snapshots
}

// Close 取消订阅并等待后台协程退出，可重复调用
func (s *Subscription[T]) Close() {
	s.cancel()
	<-s.done
}

// Done 订阅结束时关闭
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Err 最近一次重新加载失败的原因
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription[T]) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// publish 投递最新快照，通道满时替换旧快照
func (s *Subscription[T]) publish(snapshot []T) {
	select {
	case s.snapshots <- snapshot:
		return
	default:
	}
	select {
	case <-s.snapshots:
	default:
	}
	s.snapshots <- snapshot
}

// watchCollection 先订阅变更再加载首个快照，保证两者之间的变更不会丢失
func watchCollection[T any](ctx context.Context, feed ChangeFeed, topic string, load func(context.Context) ([]T, error)) (*Subscription[T], error) {
	ctx, cancel := context.WithCancel(ctx)

	changes, unsubscribe, err := feed.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, err
	}

	initial, err := load(ctx)
	if err != nil {
		unsubscribe()
		cancel()
		return nil, err
	}

	sub := &Subscription[T]{
		snapshots: make(chan []T, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	sub.publish(initial)

	go func() {
		defer close(sub.done)
		defer close(sub.snapshots)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				snapshot, err := load(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("刷新订阅快照失败 topic=%s: %v", topic, err)
					sub.setErr(err)
					continue
				}
				sub.setErr(nil)
				sub.publish(snapshot)
			}
		}
	}()

	return sub, nil
}
