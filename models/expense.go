package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func init() {
	// API 中金额以数字而非字符串输出
	decimal.MarshalJSONWithoutQuotes = true
}

// UncategorizedLabel 引用的类别不存在时展示的名称
const UncategorizedLabel = "未分类"

// Expense 消费记录模型
// ID 与 UserID 仅由存储层在创建时写入
type Expense struct {
	ID         string          `json:"id" gorm:"primaryKey;size:36"`
	UserID     string          `json:"user_id" gorm:"index;size:36;not null"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	Category   string          `json:"category" gorm:"size:50"`
	CategoryID *string         `json:"category_id" gorm:"size:36;index"`
	ShopName   string          `json:"shop_name" gorm:"size:255"`
	Date       time.Time       `json:"date" gorm:"not null;index"`
	Note       string          `json:"note,omitempty" gorm:"size:500"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  gorm.DeletedAt  `json:"-" gorm:"index"`
}

// TableName 设置表名
func (Expense) TableName() string {
	return "expenses"
}

// ExpenseDraft 尚未持久化的消费记录（无 ID、无所属用户）
// 金额在草稿阶段可以为空
type ExpenseDraft struct {
	Amount     *decimal.Decimal `json:"amount"`
	Category   string           `json:"category"`
	CategoryID *string          `json:"category_id"`
	ShopName   string           `json:"shop_name"`
	Date       time.Time        `json:"date"`
	Note       string           `json:"note,omitempty"`
}

// AnalyzedExpenseDraft 识别接口返回的结构化结果，每个字段都可能缺失
type AnalyzedExpenseDraft struct {
	TotalAmount     *decimal.Decimal `json:"totalAmount"`
	ShopName        *string          `json:"shopName"`
	TransactionDate *string          `json:"transactionDate"`
}

// Draft 以已有记录构造草稿，用于编辑流程
func (e Expense) Draft() ExpenseDraft {
	amount := e.Amount
	return ExpenseDraft{
		Amount:     &amount,
		Category:   e.Category,
		CategoryID: e.CategoryID,
		ShopName:   e.ShopName,
		Date:       e.Date,
		Note:       e.Note,
	}
}
