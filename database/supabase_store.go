package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"receipts/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/supabase-community/supabase-go"
)

const (
	expensesTable   = "expenses"
	categoriesTable = "categories"
)

// NewSupabaseClient 创建 Supabase 客户端
func NewSupabaseClient(url, key string) (*supabase.Client, error) {
	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("创建 Supabase 客户端失败: %w", err)
	}
	return client, nil
}

// expenseRow expenses 表的行结构
type expenseRow struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Category   string          `json:"category"`
	CategoryID *string         `json:"category_id"`
	ShopName   string          `json:"shop_name"`
	Date       time.Time       `json:"date"`
	Note       string          `json:"note"`
	CreatedAt  *time.Time      `json:"created_at,omitempty"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
}

func (r expenseRow) toModel() models.Expense {
	e := models.Expense{
		ID:         r.ID,
		UserID:     r.UserID,
		Amount:     r.Amount,
		Category:   r.Category,
		CategoryID: r.CategoryID,
		ShopName:   r.ShopName,
		Date:       r.Date,
		Note:       r.Note,
	}
	if r.CreatedAt != nil {
		e.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		e.UpdatedAt = *r.UpdatedAt
	}
	return e
}

type categoryRow struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	Color     string     `json:"color"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (r categoryRow) toModel() models.Category {
	c := models.Category{ID: r.ID, UserID: r.UserID, Name: r.Name, Color: r.Color}
	if r.CreatedAt != nil {
		c.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		c.UpdatedAt = *r.UpdatedAt
	}
	return c
}

// SupabaseExpenseStore 使用 Supabase（PostgREST）作为文档存储
type SupabaseExpenseStore struct {
	client *supabase.Client
	feed   ChangeFeed
}

var _ ExpenseStore = (*SupabaseExpenseStore)(nil)

func NewSupabaseExpenseStore(client *supabase.Client, feed ChangeFeed) *SupabaseExpenseStore {
	return &SupabaseExpenseStore{client: client, feed: feed}
}

func (s *SupabaseExpenseStore) Watch(ctx context.Context, userID string) (*Subscription[models.Expense], error) {
	return watchCollection(ctx, s.feed, ExpenseTopic(userID), func(ctx context.Context) ([]models.Expense, error) {
		return s.List(ctx, userID)
	})
}

func (s *SupabaseExpenseStore) List(ctx context.Context, userID string) ([]models.Expense, error) {
	data, _, err := s.client.From(expensesTable).
		Select("*", "", false).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("查询消费记录失败: %w", err)
	}
	var rows []expenseRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("解析消费记录失败: %w", err)
	}
	expenses := make([]models.Expense, 0, len(rows))
	for _, r := range rows {
		expenses = append(expenses, r.toModel())
	}
	return expenses, nil
}

func (s *SupabaseExpenseStore) Get(ctx context.Context, userID, id string) (*models.Expense, error) {
	data, _, err := s.client.From(expensesTable).
		Select("*", "", false).
		Eq("id", id).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("查询消费记录失败: %w", err)
	}
	var rows []expenseRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("解析消费记录失败: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	e := rows[0].toModel()
	return &e, nil
}

func (s *SupabaseExpenseStore) Add(ctx context.Context, userID string, draft models.ExpenseDraft) (string, error) {
	if draft.Amount == nil {
		return "", ErrAmountRequired
	}
	row := expenseRow{
		ID:         uuid.NewString(),
		UserID:     userID,
		Amount:     *draft.Amount,
		Category:   draft.Category,
		CategoryID: draft.CategoryID,
		ShopName:   draft.ShopName,
		Date:       draft.Date,
		Note:       draft.Note,
	}
	if _, _, err := s.client.From(expensesTable).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return "", fmt.Errorf("保存消费记录失败: %w", err)
	}
	s.feed.Publish(ctx, ExpenseTopic(userID))
	return row.ID, nil
}

func (s *SupabaseExpenseStore) Update(ctx context.Context, userID string, expense models.Expense) error {
	if expense.ID == "" {
		return ErrMissingID
	}
	values := map[string]interface{}{
		"amount":      expense.Amount,
		"category":    expense.Category,
		"category_id": expense.CategoryID,
		"shop_name":   expense.ShopName,
		"date":        expense.Date,
		"note":        expense.Note,
	}
	data, _, err := s.client.From(expensesTable).
		Update(values, "representation", "").
		Eq("id", expense.ID).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("更新消费记录失败: %w", err)
	}
	if err := requireAffected(data); err != nil {
		return err
	}
	s.feed.Publish(ctx, ExpenseTopic(userID))
	return nil
}

func (s *SupabaseExpenseStore) Delete(ctx context.Context, userID, id string) error {
	data, _, err := s.client.From(expensesTable).
		Delete("representation", "").
		Eq("id", id).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("删除消费记录失败: %w", err)
	}
	if err := requireAffected(data); err != nil {
		return err
	}
	s.feed.Publish(ctx, ExpenseTopic(userID))
	return nil
}

// SupabaseCategoryStore 使用 Supabase 存储类别
type SupabaseCategoryStore struct {
	client *supabase.Client
	feed   ChangeFeed
}

var _ CategoryStore = (*SupabaseCategoryStore)(nil)

func NewSupabaseCategoryStore(client *supabase.Client, feed ChangeFeed) *SupabaseCategoryStore {
	return &SupabaseCategoryStore{client: client, feed: feed}
}

func (s *SupabaseCategoryStore) Watch(ctx context.Context, userID string) (*Subscription[models.Category], error) {
	return watchCollection(ctx, s.feed, CategoryTopic(userID), func(ctx context.Context) ([]models.Category, error) {
		return s.List(ctx, userID)
	})
}

func (s *SupabaseCategoryStore) List(ctx context.Context, userID string) ([]models.Category, error) {
	data, _, err := s.client.From(categoriesTable).
		Select("*", "", false).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("查询类别失败: %w", err)
	}
	var rows []categoryRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("解析类别失败: %w", err)
	}
	list := make([]models.Category, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.toModel())
	}
	return list, nil
}

func (s *SupabaseCategoryStore) Add(ctx context.Context, userID, name, color string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyCategoryName
	}
	if color == "" {
		color = models.DefaultCategoryColor
	}
	row := categoryRow{ID: uuid.NewString(), UserID: userID, Name: name, Color: color}
	if _, _, err := s.client.From(categoriesTable).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return "", fmt.Errorf("创建类别失败: %w", err)
	}
	s.feed.Publish(ctx, CategoryTopic(userID))
	return row.ID, nil
}

func (s *SupabaseCategoryStore) Update(ctx context.Context, userID string, category models.Category) error {
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
	data, _, err := s.client.From(categoriesTable).
		Update(map[string]interface{}{"name": name, "color": color}, "representation", "").
		Eq("id", category.ID).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("更新类别失败: %w", err)
	}
	if err := requireAffected(data); err != nil {
		return err
	}
	s.feed.Publish(ctx, CategoryTopic(userID))
	return nil
}

func (s *SupabaseCategoryStore) Delete(ctx context.Context, userID, id string) error {
	data, _, err := s.client.From(categoriesTable).
		Delete("representation", "").
		Eq("id", id).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return fmt.Errorf("删除类别失败: %w", err)
	}
	if err := requireAffected(data); err != nil {
		return err
	}
	s.feed.Publish(ctx, CategoryTopic(userID))
	return nil
}

// requireAffected 根据 representation 返回的行数判断记录是否存在
func requireAffected(data []byte) error {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("解析返回结果失败: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}
