package service

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"receipts/models"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var exportHeaders = []string{"ID", "金额", "类别", "商家", "备注", "消费时间", "创建时间"}

// BuildExpensesCSV 生成 CSV，带 BOM 以便 Excel 正确显示中文
func BuildExpensesCSV(expenses []models.Expense) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteString("\xEF\xBB\xBF")

	writer := csv.NewWriter(buf)
	if err := writer.Write(exportHeaders); err != nil {
		return nil, err
	}
	for _, e := range expenses {
		row := []string{
			e.ID,
			e.Amount.StringFixed(2),
			categoryLabel(e),
			e.ShopName,
			e.Note,
			e.Date.Format("2006-01-02 15:04:05"),
			e.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildExpensesExcel 生成带合计行的 xlsx
func BuildExpensesExcel(expenses []models.Expense) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "消费记录"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}

	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4F81BD"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border,
	})
	dataStyle, _ := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border,
	})
	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"FFC000"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border,
	})

	widths := []float64{38, 12, 12, 24, 30, 20, 20}
	for i, w := range widths {
		col := string(rune('A' + i))
		_ = f.SetColWidth(sheetName, col, col, w)
	}

	for i, header := range exportHeaders {
		cell := fmt.Sprintf("%c1", 'A'+i)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	total := decimal.Zero
	for i, e := range expenses {
		row := i + 2
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), e.ID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), e.Amount.InexactFloat64())
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), categoryLabel(e))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), e.ShopName)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), e.Note)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), e.Date.Format("2006-01-02 15:04:05"))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), e.CreatedAt.Format("2006-01-02 15:04:05"))
		_ = f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("G%d", row), dataStyle)
		total = total.Add(e.Amount)
	}

	summaryRow := len(expenses) + 2
	_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", summaryRow), "合计")
	_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", summaryRow), total.InexactFloat64())
	_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", summaryRow), fmt.Sprintf("共 %d 条记录", len(expenses)))
	_ = f.MergeCell(sheetName, fmt.Sprintf("C%d", summaryRow), fmt.Sprintf("G%d", summaryRow))
	_ = f.SetCellStyle(sheetName, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("G%d", summaryRow), summaryStyle)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("生成 Excel 失败: %w", err)
	}
	return buf.Bytes(), nil
}

func categoryLabel(e models.Expense) string {
	if e.Category == "" {
		return models.UncategorizedLabel
	}
	return e.Category
}
