// Package client 是小票记账服务的 Go 客户端，供命令行工具或其他服务调用
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"receipts/models"

	"github.com/shopspring/decimal"
)

// ErrUnauthorized 令牌缺失、过期或已注销
var ErrUnauthorized = errors.New("未登录或登录已过期")

// APIError 服务端返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Message    string
	Data       json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("请求失败: %d, %s", e.StatusCode, e.Message)
}

// AuthProvider 认证提供方
// OnAuthStateChanged 返回取消订阅函数
type AuthProvider interface {
	SignUp(ctx context.Context, email, password string) (*models.AuthenticatedUser, error)
	SignIn(ctx context.Context, email, password string) (*models.AuthenticatedUser, error)
	SignOut(ctx context.Context) error
	OnAuthStateChanged(fn func(*models.AuthenticatedUser)) (unsubscribe func())
}

// Client 通过 HTTP 接口访问服务
type Client struct {
	baseURL    string
	httpClient *http.Client
	prefs      *Preferences

	mu        sync.Mutex
	token     string
	user      *models.AuthenticatedUser
	resolved  bool
	nextID    int
	listeners map[int]func(*models.AuthenticatedUser)
}

var _ AuthProvider = (*Client)(nil)

// NewClient 创建客户端，prefs 为 nil 时令牌只保存在内存中
func NewClient(baseURL string, prefs *Preferences) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 90 * time.Second},
		prefs:      prefs,
		listeners:  make(map[int]func(*models.AuthenticatedUser)),
	}
	if prefs != nil {
		c.token = prefs.Token()
	}
	return c
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type authResponse struct {
	Token string                   `json:"token"`
	User  models.AuthenticatedUser `json:"user"`
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("构建请求失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do 发送请求并解析 {code, message, data} 响应，out 为 nil 时忽略 data
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求服务失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, env.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message, Data: env.Data}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("解析响应失败: %w", err)
		}
	}
	return nil
}

// setSession 更新当前用户并通知订阅者
func (c *Client) setSession(token string, user *models.AuthenticatedUser) {
	c.mu.Lock()
	c.token = token
	c.user = user
	c.resolved = true
	listeners := make([]func(*models.AuthenticatedUser), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	if c.prefs != nil {
		if err := c.prefs.SetToken(token); err != nil {
			// 只影响下次启动时的自动登录
			log.Printf("保存登录状态失败: %v", err)
		}
	}
	for _, fn := range listeners {
		fn(user)
	}
}

// Restore 校验本地保存的令牌并触发首次状态回调
// 服务不可达时返回错误且状态保持未知，可以重试
func (c *Client) Restore(ctx context.Context) error {
	if c.currentToken() == "" {
		c.setSession("", nil)
		return nil
	}
	user, err := c.Profile(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.setSession("", nil)
			return nil
		}
		return err
	}
	c.setSession(c.currentToken(), user)
	return nil
}

// OnAuthStateChanged 订阅登录状态变化
// 状态已确定时立即以当前用户回调一次
func (c *Client) OnAuthStateChanged(fn func(*models.AuthenticatedUser)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	resolved, user := c.resolved, c.user
	c.mu.Unlock()

	if resolved {
		fn(user)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) authenticate(ctx context.Context, path, email, password string) (*models.AuthenticatedUser, error) {
	var res authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	user := res.User
	c.setSession(res.Token, &user)
	return &user, nil
}

// SignUp 注册并登录
func (c *Client) SignUp(ctx context.Context, email, password string) (*models.AuthenticatedUser, error) {
	return c.authenticate(ctx, "/api/v1/auth/register", email, password)
}

// SignIn 邮箱密码登录
func (c *Client) SignIn(ctx context.Context, email, password string) (*models.AuthenticatedUser, error) {
	return c.authenticate(ctx, "/api/v1/auth/login", email, password)
}

// SignOut 注销令牌，服务端失败时本地仍然退出
func (c *Client) SignOut(ctx context.Context) error {
	var err error
	if c.currentToken() != "" {
		err = c.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
		if errors.Is(err, ErrUnauthorized) {
			err = nil
		}
	}
	c.setSession("", nil)
	return err
}

// Profile 当前登录用户
func (c *Client) Profile(ctx context.Context) (*models.AuthenticatedUser, error) {
	var user models.AuthenticatedUser
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/profile", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ExpenseInput 手动记账或修改记录
type ExpenseInput struct {
	Amount     decimal.Decimal `json:"amount"`
	ShopName   string          `json:"shop_name"`
	Date       string          `json:"date"`
	CategoryID *string         `json:"category_id,omitempty"`
	Note       string          `json:"note,omitempty"`
}

// ListExpenses 获取消费记录，sort 为 date 或 amount
func (c *Client) ListExpenses(ctx context.Context, sort, order string) ([]models.Expense, error) {
	q := url.Values{}
	if sort != "" {
		q.Set("sort", sort)
	}
	if order != "" {
		q.Set("order", order)
	}
	path := "/api/v1/expenses"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list []models.Expense
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) AddExpense(ctx context.Context, in ExpenseInput) (*models.Expense, error) {
	var e models.Expense
	if err := c.do(ctx, http.MethodPost, "/api/v1/expenses", in, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) UpdateExpense(ctx context.Context, id string, in ExpenseInput) error {
	return c.do(ctx, http.MethodPut, "/api/v1/expenses/"+url.PathEscape(id), in, nil)
}

func (c *Client) DeleteExpense(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/expenses/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListCategories(ctx context.Context) ([]models.Category, error) {
	var list []models.Category
	if err := c.do(ctx, http.MethodGet, "/api/v1/categories", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AddCategory 创建类别，color 为空时服务端使用默认颜色
func (c *Client) AddCategory(ctx context.Context, name, color string) (*models.Category, error) {
	var cat models.Category
	body := map[string]string{"name": name, "color": color}
	if err := c.do(ctx, http.MethodPost, "/api/v1/categories", body, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// UpdateCategory 修改类别名称与颜色，不改写已有记录中保存的类别名称
func (c *Client) UpdateCategory(ctx context.Context, id, name, color string) error {
	body := map[string]string{"name": name, "color": color}
	return c.do(ctx, http.MethodPut, "/api/v1/categories/"+url.PathEscape(id), body, nil)
}

func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/categories/"+url.PathEscape(id), nil, nil)
}

// ScanFields 确认表单
type ScanFields struct {
	AmountText string    `json:"amount_text"`
	ShopName   string    `json:"shop_name"`
	Date       time.Time `json:"date"`
	Category   string    `json:"category"`
	CategoryID *string   `json:"category_id"`
	Note       string    `json:"note"`
}

// ScanFlow 确认流程状态
type ScanFlow struct {
	State     string     `json:"state"`
	Fields    ScanFields `json:"fields"`
	Message   string     `json:"message,omitempty"`
	ExpenseID string     `json:"expense_id,omitempty"`
	EditMode  bool       `json:"edit_mode"`
}

// Scan 识别会话
type Scan struct {
	ID      string    `json:"id"`
	Phase   string    `json:"phase"`
	Failure string    `json:"failure,omitempty"`
	Message string    `json:"message,omitempty"`
	Flow    *ScanFlow `json:"flow,omitempty"`
}

// ScanPatch 表单修改，nil 字段保持不变
type ScanPatch struct {
	AmountText    *string `json:"amount_text,omitempty"`
	ShopName      *string `json:"shop_name,omitempty"`
	Date          *string `json:"date,omitempty"`
	CategoryID    *string `json:"category_id,omitempty"`
	ClearCategory bool    `json:"clear_category,omitempty"`
	Note          *string `json:"note,omitempty"`
}

// scanResult 校验或保存失败时服务端同时返回会话
func scanResult(scan *Scan, err error) (*Scan, error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && len(apiErr.Data) > 0 {
		var s Scan
		if json.Unmarshal(apiErr.Data, &s) == nil && s.ID != "" {
			return &s, err
		}
	}
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// StartScan 上传小票图片（base64 或 data URI）
func (c *Client) StartScan(ctx context.Context, image string) (*Scan, error) {
	var s Scan
	err := c.do(ctx, http.MethodPost, "/api/v1/scans", map[string]string{"image": image}, &s)
	return scanResult(&s, err)
}

// WaitScan 长轮询直到识别结束或超过 wait
func (c *Client) WaitScan(ctx context.Context, id string, wait time.Duration) (*Scan, error) {
	var s Scan
	path := fmt.Sprintf("/api/v1/scans/%s?wait=%d", url.PathEscape(id), int(wait/time.Second))
	err := c.do(ctx, http.MethodGet, path, nil, &s)
	return scanResult(&s, err)
}

func (c *Client) PatchScan(ctx context.Context, id string, patch ScanPatch) (*Scan, error) {
	var s Scan
	err := c.do(ctx, http.MethodPatch, "/api/v1/scans/"+url.PathEscape(id), patch, &s)
	return scanResult(&s, err)
}

// SaveScan 保存识别结果；校验失败时同时返回会话与错误
func (c *Client) SaveScan(ctx context.Context, id string) (*Scan, error) {
	var s Scan
	err := c.do(ctx, http.MethodPost, "/api/v1/scans/"+url.PathEscape(id)+"/save", nil, &s)
	return scanResult(&s, err)
}

func (c *Client) CancelScan(ctx context.Context, id string) (*Scan, error) {
	var s Scan
	err := c.do(ctx, http.MethodDelete, "/api/v1/scans/"+url.PathEscape(id), nil, &s)
	return scanResult(&s, err)
}

// EditExpense 以已有记录打开确认流程
func (c *Client) EditExpense(ctx context.Context, id string) (*Scan, error) {
	var s Scan
	err := c.do(ctx, http.MethodPost, "/api/v1/expenses/"+url.PathEscape(id)+"/edit", nil, &s)
	return scanResult(&s, err)
}

type streamEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WatchExpenses 订阅消费记录，每次变更收到完整列表
// ctx 结束或连接断开时通道关闭
func (c *Client) WatchExpenses(ctx context.Context) (<-chan []models.Expense, error) {
	out := make(chan []models.Expense)
	err := c.watch(ctx, "/api/v1/expenses/stream", func(raw json.RawMessage) bool {
		var list []models.Expense
		if json.Unmarshal(raw, &list) != nil {
			return true
		}
		select {
		case out <- list:
			return true
		case <-ctx.Done():
			return false
		}
	}, func() { close(out) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WatchCategories 订阅类别
func (c *Client) WatchCategories(ctx context.Context) (<-chan []models.Category, error) {
	out := make(chan []models.Category)
	err := c.watch(ctx, "/api/v1/categories/stream", func(raw json.RawMessage) bool {
		var list []models.Category
		if json.Unmarshal(raw, &list) != nil {
			return true
		}
		select {
		case out <- list:
			return true
		case <-ctx.Done():
			return false
		}
	}, func() { close(out) })
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) watch(ctx context.Context, path string, emit func(json.RawMessage) bool, done func()) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// 长连接不使用整体超时
	stream := &http.Client{Transport: c.httpClient.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("订阅失败: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	go func() {
		defer done()
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev streamEvent
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev) != nil {
				continue
			}
			if ev.Type != "snapshot" {
				continue
			}
			if !emit(ev.Data) {
				return
			}
		}
	}()
	return nil
}
