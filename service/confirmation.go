package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"receipts/models"

	"github.com/shopspring/decimal"
)

// FlowState 确认流程状态
type FlowState int

const (
	StatePopulating FlowState = iota
	StateEditing
	StateValidating
	StatePersisting
	StateSaved
	StateAbandoned
)

func (s FlowState) String() string {
	switch s {
	case StatePopulating:
		return "populating"
	case StateEditing:
		return "editing"
	case StateValidating:
		return "validating"
	case StatePersisting:
		return "persisting"
	case StateSaved:
		return "saved"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

var (
	// ErrSaveInProgress 保存进行中，重复提交被忽略
	ErrSaveInProgress = errors.New("正在保存，请稍候")
	// ErrNotEditable 当前状态不允许修改
	ErrNotEditable = errors.New("当前状态不可编辑")
	// ErrCannotAbandon 已开始保存后不能放弃
	ErrCannotAbandon = errors.New("保存已开始，无法取消")
)

// ValidationError 保存前的字段校验失败，未调用存储
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// StoreError 存储层拒绝写入，已填写的内容保留
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("保存失败，请重试: %v", e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ExpenseWriter 确认流程需要的存储能力
type ExpenseWriter interface {
	Add(ctx context.Context, userID string, draft models.ExpenseDraft) (string, error)
	Update(ctx context.Context, userID string, expense models.Expense) error
}

// FlowFields 表单字段，金额保持文本形式直到校验
type FlowFields struct {
	AmountText string    `json:"amount_text"`
	ShopName   string    `json:"shop_name"`
	Date       time.Time `json:"date"`
	Category   string    `json:"category"`
	CategoryID *string   `json:"category_id"`
	Note       string    `json:"note"`
}

// FlowSnapshot 流程状态的只读视图
type FlowSnapshot struct {
	State     string     `json:"state"`
	Fields    FlowFields `json:"fields"`
	Message   string     `json:"message,omitempty"`
	ExpenseID string     `json:"expense_id,omitempty"`
	EditMode  bool       `json:"edit_mode"`
}

// ConfirmationFlow 小票确认/编辑流程
// 状态: Populating → Editing → Validating → Persisting → Saved，失败回到 Editing
type ConfirmationFlow struct {
	mu     sync.Mutex
	state  FlowState
	fields FlowFields
	msg    string

	userID    string
	store     ExpenseWriter
	original  *models.Expense
	expenseID string

	cancelExtraction context.CancelFunc
}

// NewConfirmationFlow 以识别得到的草稿创建新增流程
// cancel 为识别阶段的取消函数，放弃流程时一并调用
func NewConfirmationFlow(userID string, draft models.ExpenseDraft, store ExpenseWriter, cancel context.CancelFunc) *ConfirmationFlow {
	f := &ConfirmationFlow{
		state:            StatePopulating,
		userID:           userID,
		store:            store,
		cancelExtraction: cancel,
	}
	f.populate(draft)
	return f
}

// NewEditFlow 以已有记录创建编辑流程，保存时走 Update
func NewEditFlow(userID string, expense models.Expense, store ExpenseWriter) *ConfirmationFlow {
	original := expense
	f := &ConfirmationFlow{
		state:     StatePopulating,
		userID:    userID,
		store:     store,
		original:  &original,
		expenseID: expense.ID,
	}
	f.populate(expense.Draft())
	return f
}

func (f *ConfirmationFlow) populate(draft models.ExpenseDraft) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fields = FlowFields{
		ShopName:   draft.ShopName,
		Date:       draft.Date,
		Category:   draft.Category,
		CategoryID: draft.CategoryID,
		Note:       draft.Note,
	}
	if draft.Amount != nil {
		f.fields.AmountText = draft.Amount.String()
	}
	if f.fields.Date.IsZero() {
		f.fields.Date = time.Now()
	}
	f.state = StateEditing
}

// State 当前状态快照
func (f *ConfirmationFlow) State() FlowSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *ConfirmationFlow) snapshotLocked() FlowSnapshot {
	fields := f.fields
	if fields.CategoryID != nil {
		id := *fields.CategoryID
		fields.CategoryID = &id
	}
	return FlowSnapshot{
		State:     f.state.String(),
		Fields:    fields,
		Message:   f.msg,
		ExpenseID: f.expenseID,
		EditMode:  f.original != nil,
	}
}

func (f *ConfirmationFlow) edit(apply func(*FlowFields)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateEditing {
		return ErrNotEditable
	}
	apply(&f.fields)
	return nil
}

func (f *ConfirmationFlow) SetAmountText(text string) error {
	return f.edit(func(ff *FlowFields) { ff.AmountText = text })
}

func (f *ConfirmationFlow) SetShopName(name string) error {
	return f.edit(func(ff *FlowFields) { ff.ShopName = name })
}

func (f *ConfirmationFlow) SetDate(date time.Time) error {
	return f.edit(func(ff *FlowFields) { ff.Date = date })
}

// SetCategory id 为 nil 表示未分类
func (f *ConfirmationFlow) SetCategory(id *string, label string) error {
	return f.edit(func(ff *FlowFields) {
		ff.CategoryID = id
		ff.Category = label
	})
}

func (f *ConfirmationFlow) SetNote(note string) error {
	return f.edit(func(ff *FlowFields) { ff.Note = note })
}

// maxAmount 存储列为 decimal(12,2)，整数部分最多 10 位
var maxAmount = decimal.New(1, 10)

// ValidateAmount 金额必须大于 0、最多两位小数且不超过存储范围
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("金额必须大于 0")
	}
	if !d.Equal(d.Truncate(2)) {
		return fmt.Errorf("金额最多两位小数")
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("金额超出范围")
	}
	return nil
}

// ParseAmount 解析金额文本
// 最后出现的逗号或点且其后为 1~2 位数字时视为小数点，另一种符号视为千分位
// 只有逗号时逗号视为小数点；不接受科学计数法
func ParseAmount(text string) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)
	if s == "" || strings.ContainsAny(s, "eE") {
		return decimal.Decimal{}, fmt.Errorf("无效的金额: %s", text)
	}

	lastComma, lastDot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		sep, group := ".", ","
		last := lastDot
		if lastComma > lastDot {
			sep, group, last = ",", ".", lastComma
		}
		if n := len(s) - last - 1; n < 1 || n > 2 {
			return decimal.Decimal{}, fmt.Errorf("无效的金额: %s", text)
		}
		if strings.Count(s, sep) > 1 {
			return decimal.Decimal{}, fmt.Errorf("无效的金额: %s", text)
		}
		s = strings.ReplaceAll(s, group, "")
		s = strings.Replace(s, sep, ".", 1)
	case lastComma >= 0:
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("无效的金额: %s", text)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Decimal{}, err
	}
	return d, nil
}

// Save 校验并保存；返回记录 ID
// 保存中重复调用返回 ErrSaveInProgress，已保存后重复调用直接返回原 ID
func (f *ConfirmationFlow) Save(ctx context.Context) (string, error) {
	f.mu.Lock()
	switch f.state {
	case StatePersisting, StateValidating:
		f.mu.Unlock()
		return "", ErrSaveInProgress
	case StateSaved:
		id := f.expenseID
		f.mu.Unlock()
		return id, nil
	case StateEditing:
	default:
		f.mu.Unlock()
		return "", ErrNotEditable
	}

	f.state = StateValidating
	if strings.TrimSpace(f.fields.ShopName) == "" {
		return "", f.rejectLocked("shop_name", "请填写商家名称")
	}
	if strings.TrimSpace(f.fields.AmountText) == "" {
		return "", f.rejectLocked("amount", "请填写金额")
	}
	amount, err := ParseAmount(f.fields.AmountText)
	if err != nil {
		return "", f.rejectLocked("amount", "请输入有效的金额")
	}

	f.state = StatePersisting
	f.msg = ""
	fields := f.fields
	original := f.original
	f.mu.Unlock()

	id, err := f.persist(ctx, fields, amount, original)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = StateEditing
		f.msg = "保存失败，请重试"
		return "", &StoreError{Err: err}
	}
	f.state = StateSaved
	f.expenseID = id
	return id, nil
}

func (f *ConfirmationFlow) persist(ctx context.Context, fields FlowFields, amount decimal.Decimal, original *models.Expense) (string, error) {
	shopName := strings.TrimSpace(fields.ShopName)
	if original == nil {
		return f.store.Add(ctx, f.userID, models.ExpenseDraft{
			Amount:     &amount,
			Category:   fields.Category,
			CategoryID: fields.CategoryID,
			ShopName:   shopName,
			Date:       fields.Date,
			Note:       fields.Note,
		})
	}

	updated := *original
	updated.Amount = amount
	updated.Category = fields.Category
	updated.CategoryID = fields.CategoryID
	updated.ShopName = shopName
	updated.Date = fields.Date
	updated.Note = fields.Note
	if err := f.store.Update(ctx, f.userID, updated); err != nil {
		return "", err
	}
	return updated.ID, nil
}

// rejectLocked 校验失败回到 Editing；调用时持有锁，返回前释放
func (f *ConfirmationFlow) rejectLocked(field, message string) error {
	f.state = StateEditing
	f.msg = message
	f.mu.Unlock()
	return &ValidationError{Field: field, Message: message}
}

// Abandon 放弃流程，同时取消仍在进行的识别
func (f *ConfirmationFlow) Abandon() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StatePersisting, StateSaved:
		return ErrCannotAbandon
	case StateAbandoned:
		return nil
	}
	f.state = StateAbandoned
	if f.cancelExtraction != nil {
		f.cancelExtraction()
	}
	return nil
}
