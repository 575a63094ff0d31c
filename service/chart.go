package service

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"receipts/models"

	"github.com/shopspring/decimal"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ErrNoChartData 没有可绘制的消费记录
var ErrNoChartData = errors.New("没有消费记录")

var hexColorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// CategoryTotal 单个类别的消费合计
type CategoryTotal struct {
	Label string          `json:"label"`
	Color string          `json:"color,omitempty"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// SummarizeByCategory 按类别汇总，结果按金额倒序
// expenses 需已经过 ResolveCategoryLabels 处理
func SummarizeByCategory(expenses []models.Expense, categories []models.Category) []CategoryTotal {
	colors := make(map[string]string, len(categories))
	for _, c := range categories {
		colors[c.Name] = c.Color
	}

	totals := make(map[string]*CategoryTotal)
	var order []string
	for _, e := range expenses {
		label := e.Category
		if label == "" {
			label = models.UncategorizedLabel
		}
		t, ok := totals[label]
		if !ok {
			t = &CategoryTotal{Label: label, Color: colors[label]}
			totals[label] = t
			order = append(order, label)
		}
		t.Total = t.Total.Add(e.Amount)
		t.Count++
	}

	result := make([]CategoryTotal, 0, len(order))
	for _, label := range order {
		result = append(result, *totals[label])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Total.GreaterThan(result[j].Total)
	})
	return result
}

// RenderSpendingChart 绘制按类别的消费环形图（PNG）
func RenderSpendingChart(totals []CategoryTotal) ([]byte, error) {
	values := make([]chart.Value, 0, len(totals))
	for _, t := range totals {
		if !t.Total.IsPositive() {
			continue
		}
		v := chart.Value{
			Label: fmt.Sprintf("%s %s", t.Label, t.Total.StringFixed(2)),
			Value: t.Total.InexactFloat64(),
		}
		if hexColorPattern.MatchString(t.Color) {
			v.Style = chart.Style{FillColor: drawing.ColorFromHex(t.Color)}
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil, ErrNoChartData
	}

	graph := chart.DonutChart{
		Width:  600,
		Height: 600,
		Background: chart.Style{
			FillColor: chart.ColorWhite,
		},
		Values: values,
	}

	buf := new(bytes.Buffer)
	if err := graph.Render(chart.PNG, buf); err != nil {
		return nil, fmt.Errorf("生成图表失败: %w", err)
	}
	return buf.Bytes(), nil
}
