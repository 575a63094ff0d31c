package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"receipts/database"
	"receipts/middleware"
	"receipts/models"
	"receipts/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// ExpenseHandler 消费记录处理器
type ExpenseHandler struct {
	expenses   database.ExpenseStore
	categories database.CategoryStore
	scans      *service.ScanManager
}

// NewExpenseHandler 创建消费记录处理器
func NewExpenseHandler(expenses database.ExpenseStore, categories database.CategoryStore, scans *service.ScanManager) *ExpenseHandler {
	return &ExpenseHandler{expenses: expenses, categories: categories, scans: scans}
}

// ExpenseRequest 新增/修改消费记录请求
type ExpenseRequest struct {
	Amount     *decimal.Decimal `json:"amount" swaggertype:"number" example:"99.99"`
	ShopName   string           `json:"shop_name" example:"全家便利店"`
	Date       string           `json:"date" example:"2024-01-15"`
	CategoryID *string          `json:"category_id" example:"6f1c..."`
	Note       string           `json:"note" example:"午餐"`
}

// ExpenseListQuery 列表排序参数
type ExpenseListQuery struct {
	Sort  string `form:"sort" example:"date"`
	Order string `form:"order" example:"desc"`
}

// toDraft 校验请求并解析类别名称
func (h *ExpenseHandler) toDraft(ctx context.Context, userID string, req ExpenseRequest) (models.ExpenseDraft, string) {
	if req.Amount == nil || service.ValidateAmount(*req.Amount) != nil {
		return models.ExpenseDraft{}, "请输入有效的金额"
	}
	shopName := strings.TrimSpace(req.ShopName)
	if shopName == "" {
		return models.ExpenseDraft{}, "请填写商家名称"
	}

	date := time.Now()
	if req.Date != "" {
		d, err := time.ParseInLocation(dateLayout, req.Date, time.Local)
		if err != nil {
			return models.ExpenseDraft{}, "日期格式错误，应为: 2006-01-02"
		}
		date = d
	}

	draft := models.ExpenseDraft{
		Amount:   req.Amount,
		ShopName: shopName,
		Date:     date,
		Note:     strings.TrimSpace(req.Note),
	}
	if req.CategoryID != nil && *req.CategoryID != "" {
		categories, err := h.categories.List(ctx, userID)
		if err != nil {
			return models.ExpenseDraft{}, "读取类别失败"
		}
		for _, cat := range categories {
			if cat.ID == *req.CategoryID {
				id := cat.ID
				draft.CategoryID = &id
				draft.Category = cat.Name
				break
			}
		}
		if draft.CategoryID == nil {
			return models.ExpenseDraft{}, "类别不存在"
		}
	}
	return draft, ""
}

// labeled 为记录补齐当前类别名称
func (h *ExpenseHandler) labeled(ctx context.Context, userID string, expenses []models.Expense) ([]models.Expense, error) {
	categories, err := h.categories.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	return service.ResolveCategoryLabels(expenses, categories), nil
}

// Create 手动新增消费记录
// @Summary 新增消费记录
// @Description 手动新增一条消费记录
// @Tags 消费记录
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ExpenseRequest true "消费记录"
// @Success 200 {object} Response{data=models.Expense} "创建成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/expenses [post]
func (h *ExpenseHandler) Create(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	var req ExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}
	draft, msg := h.toDraft(c.Request.Context(), userID, req)
	if msg != "" {
		BadRequest(c, msg)
		return
	}

	id, err := h.expenses.Add(c.Request.Context(), userID, draft)
	if err != nil {
		storeError(c, err, "消费记录不存在", "创建消费记录失败")
		return
	}
	expense, err := h.expenses.Get(c.Request.Context(), userID, id)
	if err != nil {
		storeError(c, err, "消费记录不存在", "创建消费记录失败")
		return
	}

	SuccessWithMessage(c, "创建成功", expense)
}

// List 获取消费记录列表
// @Summary 获取消费记录列表
// @Description 获取当前用户的全部消费记录，默认按日期倒序
// @Tags 消费记录
// @Produce json
// @Security BearerAuth
// @Param sort query string false "排序字段 date|amount" default(date)
// @Param order query string false "排序方向 asc|desc" default(desc)
// @Success 200 {object} Response{data=[]models.Expense} "获取成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/expenses [get]
func (h *ExpenseHandler) List(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	var q ExpenseListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}
	field, desc, err := service.ParseSort(q.Sort, q.Order)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	expenses, err := h.expenses.List(c.Request.Context(), userID)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "获取消费记录失败"))
		return
	}
	expenses, err = h.labeled(c.Request.Context(), userID, expenses)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "获取类别失败"))
		return
	}

	Success(c, service.SortExpenses(expenses, field, desc))
}

// Stream 实时同步消费记录
// @Summary 实时同步消费记录
// @Description SSE 推送，连接后立即推送一次完整列表，之后每次变更推送完整列表
// @Tags 消费记录
// @Produce text/event-stream
// @Security BearerAuth
// @Param sort query string false "排序字段 date|amount" default(date)
// @Param order query string false "排序方向 asc|desc" default(desc)
// @Success 200 {string} string "SSE流：data: {\"type\":\"snapshot\",\"data\":[...]}"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/expenses/stream [get]
func (h *ExpenseHandler) Stream(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	field, desc, err := service.ParseSort(c.Query("sort"), c.Query("order"))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	sub, err := h.expenses.Watch(ctx, userID)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "订阅失败"))
		return
	}

	streamSnapshots(c, sub, func(expenses []models.Expense) (interface{}, error) {
		labeled, err := h.labeled(ctx, userID, expenses)
		if err != nil {
			return nil, err
		}
		return service.SortExpenses(labeled, field, desc), nil
	})
}

// Get 获取消费记录详情
// @Summary 获取消费记录详情
// @Tags 消费记录
// @Produce json
// @Security BearerAuth
// @Param id path string true "记录ID"
// @Success 200 {object} Response{data=models.Expense} "获取成功"
// @Failure 404 {object} Response "记录不存在"
// @Router /api/v1/expenses/{id} [get]
func (h *ExpenseHandler) Get(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	expense, err := h.expenses.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		storeError(c, err, "消费记录不存在", "获取消费记录失败")
		return
	}
	labeled, err := h.labeled(c.Request.Context(), userID, []models.Expense{*expense})
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "获取类别失败"))
		return
	}

	Success(c, labeled[0])
}

// Update 修改消费记录
// @Summary 修改消费记录
// @Description 整体替换记录内容，所属用户不变
// @Tags 消费记录
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "记录ID"
// @Param request body ExpenseRequest true "消费记录"
// @Success 200 {object} Response{data=models.Expense} "更新成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 404 {object} Response "记录不存在"
// @Router /api/v1/expenses/{id} [put]
func (h *ExpenseHandler) Update(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)
	id := c.Param("id")

	var req ExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}
	draft, msg := h.toDraft(c.Request.Context(), userID, req)
	if msg != "" {
		BadRequest(c, msg)
		return
	}

	expense := models.Expense{
		ID:         id,
		UserID:     userID,
		Amount:     *draft.Amount,
		Category:   draft.Category,
		CategoryID: draft.CategoryID,
		ShopName:   draft.ShopName,
		Date:       draft.Date,
		Note:       draft.Note,
	}
	if err := h.expenses.Update(c.Request.Context(), userID, expense); err != nil {
		storeError(c, err, "消费记录不存在", "更新消费记录失败")
		return
	}

	SuccessWithMessage(c, "更新成功", expense)
}

// Delete 删除消费记录
// @Summary 删除消费记录
// @Tags 消费记录
// @Produce json
// @Security BearerAuth
// @Param id path string true "记录ID"
// @Success 200 {object} Response "删除成功"
// @Failure 404 {object} Response "记录不存在"
// @Router /api/v1/expenses/{id} [delete]
func (h *ExpenseHandler) Delete(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	if err := h.expenses.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		storeError(c, err, "消费记录不存在", "删除消费记录失败")
		return
	}

	SuccessWithMessage(c, "删除成功", nil)
}

// Edit 打开已有记录的编辑流程
// @Summary 编辑消费记录
// @Description 以已有记录创建确认会话，之后通过 /scans/{id} 修改并保存
// @Tags 消费记录
// @Produce json
// @Security BearerAuth
// @Param id path string true "记录ID"
// @Success 200 {object} Response{data=service.ScanView} "会话已创建"
// @Failure 404 {object} Response "记录不存在"
// @Router /api/v1/expenses/{id}/edit [post]
func (h *ExpenseHandler) Edit(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	expense, err := h.expenses.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		storeError(c, err, "消费记录不存在", "获取消费记录失败")
		return
	}
	labeled, err := h.labeled(c.Request.Context(), userID, []models.Expense{*expense})
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "获取类别失败"))
		return
	}

	Success(c, h.scans.OpenEdit(userID, labeled[0]))
}

// Chart 消费分布图
// @Summary 消费分布图
// @Description 按类别汇总的环形图（PNG）
// @Tags 消费记录
// @Produce png
// @Security BearerAuth
// @Success 200 {file} file "PNG 图片"
// @Failure 404 {object} Response "暂无消费数据"
// @Router /api/v1/expenses/chart [get]
func (h *ExpenseHandler) Chart(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)
	ctx := c.Request.Context()

	expenses, err := h.expenses.List(ctx, userID)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "获取消费记录失败"))
		return
	}
	categories, err := h.categories.List(ctx, userID)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "获取类别失败"))
		return
	}

	totals := service.SummarizeByCategory(service.ResolveCategoryLabels(expenses, categories), categories)
	png, err := service.RenderSpendingChart(totals)
	if errors.Is(err, service.ErrNoChartData) {
		NotFound(c, "暂无消费数据")
		return
	}
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "生成图表失败"))
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}
