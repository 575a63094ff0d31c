package database

import (
	"context"
	"strings"
	"sync"
	"time"

	"receipts/models"

	"github.com/google/uuid"
)

// MemoryExpenseStore 进程内存储（storage.backend=memory），重启后数据丢失
type MemoryExpenseStore struct {
	feed ChangeFeed

	mu   sync.RWMutex
	rows map[string]models.Expense
}

var _ ExpenseStore = (*MemoryExpenseStore)(nil)

func NewMemoryExpenseStore(feed ChangeFeed) *MemoryExpenseStore {
	return &MemoryExpenseStore{feed: feed, rows: make(map[string]models.Expense)}
}

func (s *MemoryExpenseStore) Watch(ctx context.Context, userID string) (*Subscription[models.Expense], error) {
	return watchCollection(ctx, s.feed, ExpenseTopic(userID), func(ctx context.Context) ([]models.Expense, error) {
		return s.List(ctx, userID)
	})
}

func (s *MemoryExpenseStore) List(_ context.Context, userID string) ([]models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.Expense, 0)
	for _, e := range s.rows {
		if e.UserID == userID {
			list = append(list, e)
		}
	}
	return list, nil
}

func (s *MemoryExpenseStore) Get(_ context.Context, userID, id string) (*models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rows[id]
	if !ok || e.UserID != userID {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *MemoryExpenseStore) Add(ctx context.Context, userID string, draft models.ExpenseDraft) (string, error) {
	if draft.Amount == nil {
		return "", ErrAmountRequired
	}
	now := time.Now()
	e := models.Expense{
		ID:         uuid.NewString(),
		UserID:     userID,
		Amount:     *draft.Amount,
		Category:   draft.Category,
		CategoryID: draft.CategoryID,
		ShopName:   draft.ShopName,
		Date:       draft.Date,
		Note:       draft.Note,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.mu.Lock()
	s.rows[e.ID] = e
	s.mu.Unlock()

	s.feed.Publish(ctx, ExpenseTopic(userID))
	return e.ID, nil
}

func (s *MemoryExpenseStore) Update(ctx context.Context, userID string, expense models.Expense) error {
	if expense.ID == "" {
		return ErrMissingID
	}
	s.mu.Lock()
	current, ok := s.rows[expense.ID]
	if !ok || current.UserID != userID {
		s.mu.Unlock()
		return ErrNotFound
	}
	current.Amount = expense.Amount
	current.Category = expense.Category
	current.CategoryID = expense.CategoryID
	current.ShopName = expense.ShopName
	current.Date = expense.Date
	current.Note = expense.Note
	current.UpdatedAt = time.Now()
	s.rows[expense.ID] = current
	s.mu.Unlock()

	s.feed.Publish(ctx, ExpenseTopic(userID))
	return nil
}

func (s *MemoryExpenseStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	current, ok := s.rows[id]
	if !ok || current.UserID != userID {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.rows, id)
	s.mu.Unlock()

	s.feed.Publish(ctx, ExpenseTopic(userID))
	return nil
}

// MemoryCategoryStore 进程内类别存储
type MemoryCategoryStore struct {
	feed ChangeFeed

	mu    sync.RWMutex
	order []string
	rows  map[string]models.Category
}

var _ CategoryStore = (*MemoryCategoryStore)(nil)

func NewMemoryCategoryStore(feed ChangeFeed) *MemoryCategoryStore {
	return &MemoryCategoryStore{feed: feed, rows: make(map[string]models.Category)}
}

func (s *MemoryCategoryStore) Watch(ctx context.Context, userID string) (*Subscription[models.Category], error) {
	return watchCollection(ctx, s.feed, CategoryTopic(userID), func(ctx context.Context) ([]models.Category, error) {
		return s.List(ctx, userID)
	})
}

// List 按创建顺序返回
func (s *MemoryCategoryStore) List(_ context.Context, userID string) ([]models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.Category, 0)
	for _, id := range s.order {
		if c, ok := s.rows[id]; ok && c.UserID == userID {
			list = append(list, c)
		}
	}
	return list, nil
}

func (s *MemoryCategoryStore) Add(ctx context.Context, userID, name, color string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyCategoryName
	}
	if color == "" {
		color = models.DefaultCategoryColor
	}
	now := time.Now()
	c := models.Category{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Color:     color,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.rows[c.ID] = c
	s.order = append(s.order, c.ID)
	s.mu.Unlock()

	s.feed.Publish(ctx, CategoryTopic(userID))
	return c.ID, nil
}

func (s *MemoryCategoryStore) Update(ctx context.Context, userID string, category models.Category) error {
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
	s.mu.Lock()
	current, ok := s.rows[category.ID]
	if !ok || current.UserID != userID {
		s.mu.Unlock()
		return ErrNotFound
	}
	current.Name = name
	current.Color = color
	current.UpdatedAt = time.Now()
	s.rows[category.ID] = current
	s.mu.Unlock()

	s.feed.Publish(ctx, CategoryTopic(userID))
	return nil
}

// Delete 不级联修改消费记录
func (s *MemoryCategoryStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	current, ok := s.rows[id]
	if !ok || current.UserID != userID {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.rows, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.feed.Publish(ctx, CategoryTopic(userID))
	return nil
}
