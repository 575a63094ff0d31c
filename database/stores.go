package database

import (
	"fmt"
	"log"

	"receipts/cache"
	"receipts/config"

	"gorm.io/gorm"
)

// Stores 按配置选出的存储实现
type Stores struct {
	Expenses   ExpenseStore
	Categories CategoryStore
	Feed       ChangeFeed
}

// NewFeed 启用 Redis 时使用 Redis 通知，否则使用进程内通知
func NewFeed(rc *cache.Client) ChangeFeed {
	if rc != nil {
		return NewRedisFeed(rc)
	}
	return NewMemoryFeed()
}

// NewStores 根据 storage.backend 创建存储
func NewStores(cfg *config.Config, db *gorm.DB, feed ChangeFeed) (*Stores, error) {
	switch cfg.Storage.Backend {
	case "", "gorm":
		if db == nil {
			return nil, fmt.Errorf("数据库未初始化")
		}
		log.Printf("使用 gorm 存储 (%s)", cfg.Database.Driver)
		return &Stores{
			Expenses:   NewGormExpenseStore(db, feed),
			Categories: NewGormCategoryStore(db, feed),
			Feed:       feed,
		}, nil
	case "supabase":
		client, err := NewSupabaseClient(cfg.Supabase.URL, cfg.Supabase.Key)
		if err != nil {
			return nil, err
		}
		log.Printf("使用 Supabase 存储: %s", cfg.Supabase.URL)
		return &Stores{
			Expenses:   NewSupabaseExpenseStore(client, feed),
			Categories: NewSupabaseCategoryStore(client, feed),
			Feed:       feed,
		}, nil
	case "memory":
		log.Printf("使用内存存储，重启后数据丢失")
		return &Stores{
			Expenses:   NewMemoryExpenseStore(feed),
			Categories: NewMemoryCategoryStore(feed),
			Feed:       feed,
		}, nil
	default:
		return nil, fmt.Errorf("不支持的存储后端: %s", cfg.Storage.Backend)
	}
}
