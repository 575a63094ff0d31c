package database

import (
	"context"
	"errors"

	"receipts/models"
)

var (
	// ErrNotFound 记录不存在或不属于当前用户
	ErrNotFound = errors.New("记录不存在")
	// ErrMissingID 更新时缺少 ID
	ErrMissingID = errors.New("缺少记录 ID")
	// ErrAmountRequired 持久化时金额不能为空
	ErrAmountRequired = errors.New("金额不能为空")
	// ErrEmptyCategoryName 类别名称去除空白后为空
	ErrEmptyCategoryName = errors.New("类别名称不能为空")
)

// ExpenseStore 按用户隔离的消费记录存储
// 不保证返回顺序，排序由调用方负责
type ExpenseStore interface {
	// Watch 返回实时快照流：立即推送一次当前集合，之后每次变更推送完整集合
	Watch(ctx context.Context, userID string) (*Subscription[models.Expense], error)
	List(ctx context.Context, userID string) ([]models.Expense, error)
	Get(ctx context.Context, userID, id string) (*models.Expense, error)
	// Add 由存储层分配 ID 并返回
	Add(ctx context.Context, userID string, draft models.ExpenseDraft) (string, error)
	// Update 不修改 UserID；重复调用结果一致
	Update(ctx context.Context, userID string, expense models.Expense) error
	Delete(ctx context.Context, userID, id string) error
}

// CategoryStore 按用户隔离的类别存储
// 删除类别不会级联修改引用它的消费记录
type CategoryStore interface {
	Watch(ctx context.Context, userID string) (*Subscription[models.Category], error)
	List(ctx context.Context, userID string) ([]models.Category, error)
	Add(ctx context.Context, userID, name, color string) (string, error)
	Update(ctx context.Context, userID string, category models.Category) error
	Delete(ctx context.Context, userID, id string) error
}

// ExpenseTopic 某用户消费记录的变更主题
func ExpenseTopic(userID string) string {
	return "expenses:" + userID
}

// CategoryTopic 某用户类别的变更主题
func CategoryTopic(userID string) string {
	return "categories:" + userID
}
