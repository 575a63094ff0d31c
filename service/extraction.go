package service

import (
	"context"
	"strings"
	"time"

	"receipts/models"
)

// DraftAnalyzer 图片 → 消费草稿
type DraftAnalyzer interface {
	Analyze(ctx context.Context, base64Image string) (models.ExpenseDraft, error)
}

// ReceiptAnalyzer 将识别结果整理为待确认的消费草稿
// 类别留空由用户选择；日期缺失或无法解析时使用当前时间
type ReceiptAnalyzer struct {
	extractor ReceiptExtractor
	now       func() time.Time
}

var _ DraftAnalyzer = (*ReceiptAnalyzer)(nil)

func NewReceiptAnalyzer(extractor ReceiptExtractor) *ReceiptAnalyzer {
	return &ReceiptAnalyzer{extractor: extractor, now: time.Now}
}

// Analyze 识别错误原样返回
func (a *ReceiptAnalyzer) Analyze(ctx context.Context, base64Image string) (models.ExpenseDraft, error) {
	data, err := a.extractor.Extract(ctx, base64Image)
	if err != nil {
		return models.ExpenseDraft{}, err
	}

	draft := models.ExpenseDraft{
		Amount: data.TotalAmount,
		Date:   a.now(),
	}
	if data.ShopName != nil {
		draft.ShopName = strings.TrimSpace(*data.ShopName)
	}
	if data.TransactionDate != nil {
		if t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(*data.TransactionDate), time.Local); err == nil {
			draft.Date = t
		}
	}
	return draft, nil
}
