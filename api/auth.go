package api

import (
	"context"
	"errors"
	"log"
	"strings"

	"receipts/config"
	"receipts/database"
	"receipts/middleware"
	"receipts/models"
	"receipts/service"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	cfg          *config.Config
	categories   database.CategoryStore
	emailService *service.EmailService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(cfg *config.Config, categories database.CategoryStore) *AuthHandler {
	return &AuthHandler{
		cfg:          cfg,
		categories:   categories,
		emailService: service.NewEmailService(&cfg.Email),
	}
}

// CredentialsRequest 注册/登录请求
type CredentialsRequest struct {
	Email    string `json:"email" binding:"required,email" example:"test@example.com"`
	Password string `json:"password" binding:"required,min=6,max=50" example:"password123"`
}

// AuthResponse 注册/登录响应
type AuthResponse struct {
	Token string                   `json:"token"`
	User  models.AuthenticatedUser `json:"user"`
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required" example:"oldpassword123"`
	NewPassword string `json:"new_password" binding:"required,min=6,max=50" example:"newpassword123"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register 用户注册
// @Summary 用户注册
// @Description 使用邮箱和密码注册，注册成功即登录，并为新用户初始化默认类别
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body CredentialsRequest true "注册信息"
// @Success 200 {object} Response{data=AuthResponse} "注册成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 409 {object} Response "邮箱已注册"
// @Failure 500 {object} Response "服务器错误"
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请输入有效的邮箱和至少 6 位的密码")
		return
	}
	email := normalizeEmail(req.Email)

	var existing models.User
	if err := database.DB.Where("email = ?", email).First(&existing).Error; err == nil {
		Conflict(c, "该邮箱已被注册")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		InternalError(c, SafeErrorMessage(err, "注册失败"))
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		InternalError(c, "密码加密失败")
		return
	}

	user := models.User{
		Email:    email,
		Password: string(hashedPassword),
	}
	if err := database.DB.Create(&user).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "创建用户失败"))
		return
	}

	// 默认类别初始化失败不影响注册，用户可以自行添加
	if h.categories != nil {
		if err := database.SeedDefaultCategories(c.Request.Context(), h.categories, user.ID); err != nil {
			log.Printf("初始化默认类别失败 user=%s: %v", user.ID, err)
		}
	}

	if h.emailService.Enabled() {
		go func(to string) {
			if err := h.emailService.SendWelcomeEmail(to); err != nil {
				log.Printf("发送欢迎邮件失败 %s: %v", to, err)
			}
		}(user.Email)
	}

	token, err := middleware.GenerateToken(user.ID, user.Email, h.cfg.JWT.ExpireTime)
	if err != nil {
		InternalError(c, "生成 token 失败")
		return
	}

	SuccessWithMessage(c, "注册成功", AuthResponse{Token: token, User: user.Identity()})
}

// Login 用户登录
// @Summary 用户登录
// @Description 邮箱密码登录获取 JWT token
// @Tags 认证
// @Accept json
// @Produce json
// @Param request body CredentialsRequest true "登录信息"
// @Success 200 {object} Response{data=AuthResponse} "登录成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "邮箱或密码错误"
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请输入有效的邮箱和密码")
		return
	}

	var user models.User
	if err := database.DB.Where("email = ?", normalizeEmail(req.Email)).First(&user).Error; err != nil {
		Unauthorized(c, "邮箱或密码错误")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		Unauthorized(c, "邮箱或密码错误")
		return
	}

	token, err := middleware.GenerateToken(user.ID, user.Email, h.cfg.JWT.ExpireTime)
	if err != nil {
		InternalError(c, "生成 token 失败")
		return
	}

	Success(c, AuthResponse{Token: token, User: user.Identity()})
}

// Logout 退出登录
// @Summary 退出登录
// @Description 注销当前 token，之后使用该 token 的请求返回 401
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response "已退出"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := middleware.RevokeToken(context.WithoutCancel(c.Request.Context()), middleware.GetCurrentClaims(c)); err != nil {
		InternalError(c, SafeErrorMessage(err, "退出登录失败"))
		return
	}
	log.Printf("用户退出登录: %s", middleware.GetCurrentEmail(c))
	SuccessWithMessage(c, "已退出登录", nil)
}

// GetProfile 获取当前用户信息
// @Summary 获取当前用户信息
// @Description 校验 token 并返回当前登录用户
// @Tags 认证
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response{data=models.AuthenticatedUser} "获取成功"
// @Failure 401 {object} Response "未授权"
// @Router /api/v1/auth/profile [get]
func (h *AuthHandler) GetProfile(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	var user models.User
	if err := database.DB.Where("id = ?", userID).First(&user).Error; err != nil {
		// 账号已不存在时按未登录处理
		Unauthorized(c, "用户不存在")
		return
	}

	Success(c, user.Identity())
}

// ChangePassword 修改密码
// @Summary 修改密码
// @Description 修改当前用户密码
// @Tags 认证
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "密码信息"
// @Success 200 {object} Response "修改成功"
// @Failure 400 {object} Response "请求参数错误"
// @Failure 401 {object} Response "原密码错误"
// @Router /api/v1/auth/password [put]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID := middleware.GetCurrentUserID(c)

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "新密码至少 6 位")
		return
	}

	var user models.User
	if err := database.DB.Where("id = ?", userID).First(&user).Error; err != nil {
		NotFound(c, "用户不存在")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.OldPassword)); err != nil {
		Unauthorized(c, "原密码错误")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		InternalError(c, "密码加密失败")
		return
	}
	if err := database.DB.Model(&user).Update("password", string(hashedPassword)).Error; err != nil {
		InternalError(c, "更新密码失败")
		return
	}

	SuccessWithMessage(c, "密码修改成功", nil)
}
