package database

import (
	"context"
	"errors"
	"fmt"

	"receipts/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormExpenseStore 基于 gorm 的消费记录存储
type GormExpenseStore struct {
	db   *gorm.DB
	feed ChangeFeed
}

var _ ExpenseStore = (*GormExpenseStore)(nil)

// NewGormExpenseStore 创建消费记录存储
func NewGormExpenseStore(db *gorm.DB, feed ChangeFeed) *GormExpenseStore {
	return &GormExpenseStore{db: db, feed: feed}
}

// Watch 订阅用户的消费记录集合
func (s *GormExpenseStore) Watch(ctx context.Context, userID string) (*Subscription[models.Expense], error) {
	return watchCollection(ctx, s.feed, ExpenseTopic(userID), func(ctx context.Context) ([]models.Expense, error) {
		return s.List(ctx, userID)
	})
}

// List 查询用户全部消费记录
func (s *GormExpenseStore) List(ctx context.Context, userID string) ([]models.Expense, error) {
	var expenses []models.Expense
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&expenses).Error; err != nil {
		return nil, fmt.Errorf("查询消费记录失败: %w", err)
	}
	return expenses, nil
}

// Get 查询单条记录
func (s *GormExpenseStore) Get(ctx context.Context, userID, id string) (*models.Expense, error) {
	var expense models.Expense
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&expense).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询消费记录失败: %w", err)
	}
	return &expense, nil
}

// Add 新增记录，ID 由存储层生成
func (s *GormExpenseStore) Add(ctx context.Context, userID string, draft models.ExpenseDraft) (string, error) {
	if draft.Amount == nil {
		return "", ErrAmountRequired
	}
	expense := models.Expense{
		ID:         uuid.NewString(),
		UserID:     userID,
		Amount:     *draft.Amount,
		Category:   draft.Category,
		CategoryID: draft.CategoryID,
		ShopName:   draft.ShopName,
		Date:       draft.Date,
		Note:       draft.Note,
	}
	if err := s.db.WithContext(ctx).Create(&expense).Error; err != nil {
		return "", fmt.Errorf("保存消费记录失败: %w", err)
	}
	s.feed.Publish(ctx, ExpenseTopic(userID))
	return expense.ID, nil
}

// Update 以完整字段覆盖记录；UserID 以调用方身份为准
func (s *GormExpenseStore) Update(ctx context.Context, userID string, expense models.Expense) error {
	if expense.ID == "" {
		return ErrMissingID
	}
	result := s.db.WithContext(ctx).Model(&models.Expense{}).
		Where("id = ? AND user_id = ?", expense.ID, userID).
		Updates(map[string]interface{}{
			"amount":      expense.Amount,
			"category":    expense.Category,
			"category_id": expense.CategoryID,
			"shop_name":   expense.ShopName,
			"date":        expense.Date,
			"note":        expense.Note,
		})
	if result.Error != nil {
		return fmt.Errorf("更新消费记录失败: %w", result.Error)
	}
	// MySQL 对未变化的行返回 0，需要再确认记录是否存在
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, userID, expense.ID); err != nil {
			return err
		}
	}
	s.feed.Publish(ctx, ExpenseTopic(userID))
	return nil
}

// Delete 软删除记录
func (s *GormExpenseStore) Delete(ctx context.Context, userID, id string) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Expense{})
	if result.Error != nil {
		return fmt.Errorf("删除消费记录失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.feed.Publish(ctx, ExpenseTopic(userID))
	return nil
}
