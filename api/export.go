package api

import (
	"fmt"
	"net/http"
	"time"

	"receipts/database"
	"receipts/middleware"
	"receipts/models"
	"receipts/service"

	"github.com/gin-gonic/gin"
)

// ExportHandler 导出处理器
type ExportHandler struct {
	expenses   database.ExpenseStore
	categories database.CategoryStore
}

// NewExportHandler 创建导出处理器
func NewExportHandler(expenses database.ExpenseStore, categories database.CategoryStore) *ExportHandler {
	return &ExportHandler{expenses: expenses, categories: categories}
}

// loadRange 读取时间范围内的记录（按日期倒序）
// start_time / end_time 可选，缺省时导出全部
func (h *ExportHandler) loadRange(c *gin.Context) ([]models.Expense, string, bool) {
	userID := middleware.GetCurrentUserID(c)
	startStr, endStr := c.Query("start_time"), c.Query("end_time")

	var start, end time.Time
	if startStr != "" {
		t, err := time.ParseInLocation(dateLayout, startStr, time.Local)
		if err != nil {
			BadRequest(c, "开始时间格式错误，应为: 2006-01-02")
			return nil, "", false
		}
		start = t
	}
	if endStr != "" {
		t, err := time.ParseInLocation(dateLayout, endStr, time.Local)
		if err != nil {
			BadRequest(c, "结束时间格式错误，应为: 2006-01-02")
			return nil, "", false
		}
		end = t.Add(24*time.Hour - time.Second)
	}

	ctx := c.Request.Context()
	all, err := h.expenses.List(ctx, userID)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "查询数据失败"))
		return nil, "", false
	}
	categories, err := h.categories.List(ctx, userID)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "查询数据失败"))
		return nil, "", false
	}

	filtered := make([]models.Expense, 0, len(all))
	for _, e := range all {
		if !start.IsZero() && e.Date.Before(start) {
			continue
		}
		if !end.IsZero() && e.Date.After(end) {
			continue
		}
		filtered = append(filtered, e)
	}
	filtered = service.SortExpenses(service.ResolveCategoryLabels(filtered, categories), service.SortByDate, true)

	suffix := time.Now().Format("20060102")
	if startStr != "" || endStr != "" {
		suffix = startStr + "_" + endStr
	}
	return filtered, suffix, true
}

// ExportCSV 导出消费记录为 CSV
// @Summary 导出消费记录
// @Description 导出消费记录为 CSV 文件，可按时间范围筛选
// @Tags 导出
// @Produce text/csv
// @Security BearerAuth
// @Param start_time query string false "开始时间 (2024-01-01)"
// @Param end_time query string false "结束时间 (2024-12-31)"
// @Success 200 {file} file "CSV 文件"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/export/csv [get]
func (h *ExportHandler) ExportCSV(c *gin.Context) {
	expenses, suffix, ok := h.loadRange(c)
	if !ok {
		return
	}

	data, err := service.BuildExpensesCSV(expenses)
	if err != nil {
		InternalError(c, "生成 CSV 失败")
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=expenses_%s.csv", suffix))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// ExportExcel 导出消费记录为 Excel
// @Summary 导出消费记录为 Excel
// @Description 导出消费记录为 xlsx 文件，末行为金额合计
// @Tags 导出
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param start_time query string false "开始时间 (2024-01-01)"
// @Param end_time query string false "结束时间 (2024-12-31)"
// @Success 200 {file} file "Excel 文件"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/export/excel [get]
func (h *ExportHandler) ExportExcel(c *gin.Context) {
	expenses, suffix, ok := h.loadRange(c)
	if !ok {
		return
	}

	data, err := service.BuildExpensesExcel(expenses)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "生成 Excel 失败"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=expenses_%s.xlsx", suffix))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
