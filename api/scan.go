package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"receipts/database"
	"receipts/middleware"
	"receipts/service"

	"github.com/gin-gonic/gin"
)

const (
	maxScanWait = 30 * time.Second
	// maxScanBody 图片请求体上限
	maxScanBody = 10 << 20
)

// ScanHandler 小票识别与确认
type ScanHandler struct {
	scans      *service.ScanManager
	categories database.CategoryStore
}

// NewScanHandler 创建小票识别处理器
func NewScanHandler(scans *service.ScanManager, categories database.CategoryStore) *ScanHandler {
	return &ScanHandler{scans: scans, categories: categories}
}

// StartScanRequest 开始识别请求
type StartScanRequest struct {
	Image string `json:"image" binding:"required" example:"data:image/jpeg;base64,/9j/4AAQ..."` // base64 或 data URI
}

// PatchScanRequest 修改表单，未提供的字段保持不变
type PatchScanRequest struct {
	AmountText    *string `json:"amount_text" example:"150,75"`
	ShopName      *string `json:"shop_name" example:"全家便利店"`
	Date          *string `json:"date" example:"2024-01-15"`
	CategoryID    *string `json:"category_id"`
	ClearCategory bool    `json:"clear_category"`
	Note          *string `json:"note" example:"午餐"`
}

func scanError(c *gin.Context, view service.ScanView, err error) {
	var ve *service.ValidationError
	var se *service.StoreError
	switch {
	case errors.Is(err, service.ErrScanNotFound):
		NotFound(c, "扫描会话不存在或已过期")
	case errors.Is(err, service.ErrSaveInProgress):
		Conflict(c, "正在保存，请稍候")
	case errors.Is(err, service.ErrNotEditable):
		Conflict(c, "当前状态不可编辑")
	case errors.Is(err, service.ErrCannotAbandon):
		Conflict(c, "正在保存，无法取消")
	case errors.As(err, &ve):
		ErrorWithData(c, 400, ve.Message, view)
	case errors.As(err, &se):
		ErrorWithData(c, 500, "保存失败，请重试", view)
	default:
		InternalError(c, SafeErrorMessage(err, "操作失败"))
	}
}

// Start 开始识别小票
// @Summary 开始识别小票
// @Description 上传小票图片后立即返回 analyzing 状态的会话，识别完成后进入 confirming 或 failed
// @Tags 小票识别
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body StartScanRequest true "图片"
// @Success 200 {object} Response{data=service.ScanView} "已开始识别"
// @Failure 400 {object} Response "请求参数错误或图片数据无效"
// @Failure 413 {object} Response "图片过大"
// @Failure 429 {object} Response "识别次数过多"
// @Router /api/v1/scans [post]
func (h *ScanHandler) Start(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxScanBody)

	var req StartScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, "图片过大，请压缩后重试")
			return
		}
		BadRequest(c, "请上传小票图片")
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		BadRequest(c, "请上传小票图片")
		return
	}
	if err := service.ValidateReceiptImage(req.Image); err != nil {
		BadRequest(c, "图片数据无效，请重新拍摄")
		return
	}
	Success(c, h.scans.Start(middleware.GetCurrentUserID(c), req.Image))
}

// Get 查询识别会话
// @Summary 查询识别会话
// @Description wait 大于 0 时最多等待该秒数直到识别结束
// @Tags 小票识别
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param wait query int false "长轮询秒数（最多 30）"
// @Success 200 {object} Response{data=service.ScanView} "获取成功"
// @Failure 404 {object} Response "会话不存在"
// @Router /api/v1/scans/{id} [get]
func (h *ScanHandler) Get(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)
	id := c.Param("id")

	wait, _ := strconv.Atoi(c.Query("wait"))
	if wait <= 0 {
		view, err := h.scans.Get(userID, id)
		if err != nil {
			scanError(c, view, err)
			return
		}
		Success(c, view)
		return
	}

	timeout := time.Duration(wait) * time.Second
	if timeout > maxScanWait {
		timeout = maxScanWait
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	view, err := h.scans.Wait(ctx, userID, id)
	if err != nil {
		scanError(c, view, err)
		return
	}
	Success(c, view)
}

// Patch 修改识别结果
// @Summary 修改识别结果
// @Tags 小票识别
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Param request body PatchScanRequest true "修改内容"
// @Success 200 {object} Response{data=service.ScanView} "修改成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 404 {object} Response "会话不存在"
// @Failure 409 {object} Response "当前状态不可编辑"
// @Router /api/v1/scans/{id} [patch]
func (h *ScanHandler) Patch(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	var req PatchScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}

	patch := service.DraftPatch{
		AmountText:    req.AmountText,
		ShopName:      req.ShopName,
		ClearCategory: req.ClearCategory,
		Note:          req.Note,
	}
	if req.Date != nil {
		d, err := time.ParseInLocation(dateLayout, *req.Date, time.Local)
		if err != nil {
			BadRequest(c, "日期格式错误，应为: 2006-01-02")
			return
		}
		patch.Date = &d
	}
	if !req.ClearCategory && req.CategoryID != nil {
		if *req.CategoryID == "" {
			patch.ClearCategory = true
		} else {
			label, err := h.categoryName(c.Request.Context(), userID, *req.CategoryID)
			if err != nil {
				storeError(c, err, "类别不存在", "读取类别失败")
				return
			}
			patch.CategoryID = req.CategoryID
			patch.Category = &label
		}
	}

	view, err := h.scans.Edit(userID, c.Param("id"), patch)
	if err != nil {
		scanError(c, view, err)
		return
	}
	Success(c, view)
}

func (h *ScanHandler) categoryName(ctx context.Context, userID, id string) (string, error) {
	categories, err := h.categories.List(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, cat := range categories {
		if cat.ID == id {
			return cat.Name, nil
		}
	}
	return "", database.ErrNotFound
}

// Save 保存识别结果
// @Summary 保存识别结果
// @Description 校验表单后保存；校验失败或保存失败时返回当前会话，已填写内容保持不变
// @Tags 小票识别
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} Response{data=service.ScanView} "保存成功"
// @Failure 400 {object} Response{data=service.ScanView} "校验失败"
// @Failure 404 {object} Response "会话不存在"
// @Failure 409 {object} Response "正在保存或不可编辑"
// @Failure 500 {object} Response{data=service.ScanView} "保存失败"
// @Router /api/v1/scans/{id}/save [post]
func (h *ScanHandler) Save(c *gin.Context) {
	// 客户端断开不应中断已发出的写入
	ctx := context.WithoutCancel(c.Request.Context())
	view, err := h.scans.Save(ctx, middleware.GetCurrentUserID(c), c.Param("id"))
	if err != nil {
		scanError(c, view, err)
		return
	}
	SuccessWithMessage(c, "保存成功", view)
}

// Cancel 取消识别或放弃编辑
// @Summary 取消识别
// @Description 识别中取消时迟到的识别结果会被丢弃；确认阶段放弃时不写入任何记录
// @Tags 小票识别
// @Produce json
// @Security BearerAuth
// @Param id path string true "会话ID"
// @Success 200 {object} Response{data=service.ScanView} "已取消"
// @Failure 404 {object} Response "会话不存在"
// @Failure 409 {object} Response "正在保存"
// @Router /api/v1/scans/{id} [delete]
func (h *ScanHandler) Cancel(c *gin.Context) {
	view, err := h.scans.Cancel(middleware.GetCurrentUserID(c), c.Param("id"))
	if err != nil {
		scanError(c, view, err)
		return
	}
	SuccessWithMessage(c, "已取消", view)
}
