package service

import (
	"fmt"
	"sort"

	"receipts/models"
)

// SortField 列表排序字段
type SortField string

const (
	SortByDate   SortField = "date"
	SortByAmount SortField = "amount"
)

// ParseSort 解析排序参数，缺省为按日期倒序
func ParseSort(field, order string) (SortField, bool, error) {
	f := SortField(field)
	switch f {
	case "":
		f = SortByDate
	case SortByDate, SortByAmount:
	default:
		return "", false, fmt.Errorf("不支持的排序字段: %s", field)
	}

	switch order {
	case "", "desc":
		return f, true, nil
	case "asc":
		return f, false, nil
	default:
		return "", false, fmt.Errorf("不支持的排序方向: %s", order)
	}
}

// SortExpenses 返回排序后的副本，不修改入参
func SortExpenses(expenses []models.Expense, field SortField, desc bool) []models.Expense {
	sorted := make([]models.Expense, len(expenses))
	copy(sorted, expenses)

	less := func(a, b models.Expense) bool {
		if field == SortByAmount {
			if c := a.Amount.Cmp(b.Amount); c != 0 {
				return c < 0
			}
		} else if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if desc {
			return less(sorted[j], sorted[i])
		}
		return less(sorted[i], sorted[j])
	})
	return sorted
}

// ResolveCategoryLabels 用类别名称填充消费记录的类别显示
// 引用的类别已删除时显示为未分类
func ResolveCategoryLabels(expenses []models.Expense, categories []models.Category) []models.Expense {
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	for i := range expenses {
		if expenses[i].CategoryID == nil {
			continue
		}
		if name, ok := names[*expenses[i].CategoryID]; ok {
			expenses[i].Category = name
		} else {
			expenses[i].Category = models.UncategorizedLabel
		}
	}
	return expenses
}
