package api

import (
	"strings"

	"receipts/database"
	"receipts/middleware"
	"receipts/models"

	"github.com/gin-gonic/gin"
)

// CategoryHandler 消费类别管理（按用户隔离）
type CategoryHandler struct {
	categories database.CategoryStore
}

func NewCategoryHandler(categories database.CategoryStore) *CategoryHandler {
	return &CategoryHandler{categories: categories}
}

type CategoryRequest struct {
	Name  string `json:"name" binding:"max=50" example:"餐饮"`
	Color string `json:"color" binding:"omitempty,hexcolor" example:"#ef4444"` // 为空时使用默认颜色
}

// List 列出当前用户的类别
// @Summary 获取消费类别列表
// @Tags 消费类别
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=[]models.Category} "获取成功"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/categories [get]
func (h *CategoryHandler) List(c *gin.Context) {
	list, err := h.categories.List(c.Request.Context(), middleware.GetCurrentUserID(c))
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "查询失败"))
		return
	}
	Success(c, list)
}

// Stream 实时同步类别
// @Summary 实时同步消费类别
// @Description SSE 推送，连接后立即推送一次完整列表，之后每次变更推送完整列表
// @Tags 消费类别
// @Produce text/event-stream
// @Security BearerAuth
// @Success 200 {string} string "SSE流：data: {\"type\":\"snapshot\",\"data\":[...]}"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/categories/stream [get]
func (h *CategoryHandler) Stream(c *gin.Context) {
	sub, err := h.categories.Watch(c.Request.Context(), middleware.GetCurrentUserID(c))
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "订阅失败"))
		return
	}
	streamSnapshots(c, sub, func(list []models.Category) (interface{}, error) {
		return list, nil
	})
}

// Create 创建类别
// @Summary 创建消费类别
// @Description 名称去除首尾空白后不能为空；颜色为空时使用默认颜色
// @Tags 消费类别
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CategoryRequest true "类别信息"
// @Success 200 {object} Response{data=models.Category} "创建成功"
// @Failure 400 {object} Response "参数错误"
// @Router /api/v1/categories [post]
func (h *CategoryHandler) Create(c *gin.Context) {
	var req CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误，颜色格式如 #ef4444")
		return
	}

	userID := middleware.GetCurrentUserID(c)
	id, err := h.categories.Add(c.Request.Context(), userID, req.Name, req.Color)
	if err != nil {
		storeError(c, err, "类别不存在", "创建类别失败")
		return
	}

	color := req.Color
	if color == "" {
		color = models.DefaultCategoryColor
	}
	SuccessWithMessage(c, "创建成功", models.Category{ID: id, UserID: userID, Name: strings.TrimSpace(req.Name), Color: color})
}

// Update 更新类别
// @Summary 更新消费类别
// @Description 修改名称不会改写已有消费记录中保存的类别名称
// @Tags 消费类别
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "类别ID"
// @Param request body CategoryRequest true "类别信息"
// @Success 200 {object} Response "更新成功"
// @Failure 400 {object} Response "参数错误"
// @Failure 404 {object} Response "类别不存在"
// @Router /api/v1/categories/{id} [put]
func (h *CategoryHandler) Update(c *gin.Context) {
	var req CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误，颜色格式如 #ef4444")
		return
	}

	category := models.Category{ID: c.Param("id"), Name: req.Name, Color: req.Color}
	if err := h.categories.Update(c.Request.Context(), middleware.GetCurrentUserID(c), category); err != nil {
		storeError(c, err, "类别不存在", "更新类别失败")
		return
	}
	SuccessWithMessage(c, "更新成功", nil)
}

// Delete 删除类别
// @Summary 删除消费类别
// @Description 不级联修改引用该类别的消费记录，这些记录显示为未分类
// @Tags 消费类别
// @Produce json
// @Security BearerAuth
// @Param id path string true "类别ID"
// @Success 200 {object} Response "删除成功"
// @Failure 404 {object} Response "类别不存在"
// @Router /api/v1/categories/{id} [delete]
func (h *CategoryHandler) Delete(c *gin.Context) {
	if err := h.categories.Delete(c.Request.Context(), middleware.GetCurrentUserID(c), c.Param("id")); err != nil {
		storeError(c, err, "类别不存在", "删除类别失败")
		return
	}
	SuccessWithMessage(c, "删除成功", nil)
}
