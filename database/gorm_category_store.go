package database

import (
	"context"
	"fmt"
	"strings"

	"receipts/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormCategoryStore 基于 gorm 的类别存储
type GormCategoryStore struct {
	db   *gorm.DB
	feed ChangeFeed
}

var _ CategoryStore = (*GormCategoryStore)(nil)

func NewGormCategoryStore(db *gorm.DB, feed ChangeFeed) *GormCategoryStore {
	return &GormCategoryStore{db: db, feed: feed}
}

func (s *GormCategoryStore) Watch(ctx context.Context, userID string) (*Subscription[models.Category], error) {
	return watchCollection(ctx, s.feed, CategoryTopic(userID), func(ctx context.Context) ([]models.Category, error) {
		return s.List(ctx, userID)
	})
}

func (s *GormCategoryStore) List(ctx context.Context, userID string) ([]models.Category, error) {
	var list []models.Category
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("查询类别失败: %w", err)
	}
	return list, nil
}

// Add 新建类别，颜色为空时使用默认颜色
func (s *GormCategoryStore) Add(ctx context.Context, userID, name, color string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyCategoryName
	}
	if color == "" {
		color = models.DefaultCategoryColor
	}
	category := models.Category{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		Color:  color,
	}
	if err := s.db.WithContext(ctx).Create(&category).Error; err != nil {
		return "", fmt.Errorf("创建类别失败: %w", err)
	}
	s.feed.Publish(ctx, CategoryTopic(userID))
	return category.ID, nil
}

func (s *GormCategoryStore) Update(ctx context.Context, userID string, category models.Category) error {
	if category.ID == "" {
		return ErrMissingID
	}
	name := strings.TrimSpace(category.Name)
	if name == "" {
		return ErrEmptyCategoryName
	}
	color := category.Color
	if color == "" {
		color = models.DefaultCategoryColor
	}
	result := s.db.WithContext(ctx).Model(&models.Category{}).
		Where("id = ? AND user_id = ?", category.ID, userID).
		Updates(map[string]interface{}{"name": name, "color": color})
	if result.Error != nil {
		return fmt.Errorf("更新类别失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Category{}).
			Where("id = ? AND user_id = ?", category.ID, userID).Count(&count).Error; err != nil {
			return fmt.Errorf("查询类别失败: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
	}
	s.feed.Publish(ctx, CategoryTopic(userID))
	return nil
}

// Delete 删除类别，引用它的消费记录保持不变
func (s *GormCategoryStore) Delete(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Category{})
	if result.Error != nil {
		return fmt.Errorf("删除类别失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.feed.Publish(ctx, CategoryTopic(userID))
	return nil
}

// SeedDefaultCategories 为新用户写入默认类别
func SeedDefaultCategories(ctx context.Context, store CategoryStore, userID string) error {
	for _, c := range models.GetDefaultCategories() {
		if _, err := store.Add(ctx, userID, c.Name, c.Color); err != nil {
			return err
		}
	}
	return nil
}
