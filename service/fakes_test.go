package service

import (
	"context"
	"sync"

	"receipts/models"

	"github.com/google/uuid"
)

// fakeExpenseStore 记录调用的内存存储
type fakeExpenseStore struct {
	mu      sync.Mutex
	adds    []models.ExpenseDraft
	updates []models.Expense
	stored  map[string]models.Expense
	err     error
	// block 不为 nil 时写操作阻塞到通道关闭
	block chan struct{}
}

func newFakeExpenseStore() *fakeExpenseStore {
	return &fakeExpenseStore{stored: make(map[string]models.Expense)}
}

func (f *fakeExpenseStore) Add(ctx context.Context, userID string, draft models.ExpenseDraft) (string, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, draft)
	if f.err != nil {
		return "", f.err
	}
	id := uuid.NewString()
	f.stored[id] = models.Expense{
		ID:         id,
		UserID:     userID,
		Amount:     *draft.Amount,
		Category:   draft.Category,
		CategoryID: draft.CategoryID,
		ShopName:   draft.ShopName,
		Date:       draft.Date,
		Note:       draft.Note,
	}
	return id, nil
}

func (f *fakeExpenseStore) Update(ctx context.Context, userID string, expense models.Expense) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, expense)
	if f.err != nil {
		return f.err
	}
	expense.UserID = userID
	f.stored[expense.ID] = expense
	return nil
}

func (f *fakeExpenseStore) addCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adds)
}

func (f *fakeExpenseStore) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// stubExtractor 返回预设结果；wait 不为 nil 时等待 ctx 结束或通道关闭
type stubExtractor struct {
	result *models.AnalyzedExpenseDraft
	err    error
	wait   chan struct{}
}

func (s *stubExtractor) Extract(ctx context.Context, base64Image string) (*models.AnalyzedExpenseDraft, error) {
	if s.wait != nil {
		select {
		case <-s.wait:
		case <-ctx.Done():
			return nil, ErrExtractionCanceled
		}
	}
	return s.result, s.err
}
