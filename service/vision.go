package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"receipts/config"
	"receipts/models"

	"github.com/shopspring/decimal"
)

// receiptPrompt 固定的识别指令
const receiptPrompt = `这是一张购物小票的图片。请分析小票，只返回一个合法的 JSON 对象，不要附带任何说明，包含以下字段：
- "totalAmount": 小票的合计金额（数字）。
- "shopName": 商家或店铺名称（字符串）。
- "transactionDate": 小票日期（YYYY-MM-DD 格式）。
如果某项信息无法识别，该字段返回 null。`

// ErrExtractionCanceled 识别被调用方取消，不应作为错误展示给用户
var ErrExtractionCanceled = errors.New("识别已取消")

// TransportError 网络异常或识别接口返回非 2xx
// 网络层失败时 StatusCode 为 0
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("请求识别服务失败: %v", e.Err)
	}
	return fmt.Sprintf("识别服务返回错误: %d, %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError 响应中找不到 JSON 对象或 JSON 无法解析
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("解析识别结果失败: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ReceiptExtractor 将小票图片转换为结构化结果
type ReceiptExtractor interface {
	Extract(ctx context.Context, base64Image string) (*models.AnalyzedExpenseDraft, error)
}

// VisionClient 生成式视觉接口客户端（generateContent 协议）
type VisionClient struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ ReceiptExtractor = (*VisionClient)(nil)

// NewVisionClient 创建识别客户端
func NewVisionClient(cfg *config.VisionConfig) *VisionClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &VisionClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type visionInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type visionPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *visionInlineData `json:"inline_data,omitempty"`
}

type visionContent struct {
	Parts []visionPart `json:"parts"`
}

type visionRequest struct {
	Contents []visionContent `json:"contents"`
}

type visionResponse struct {
	Candidates []struct {
		Content visionContent `json:"content"`
	} `json:"candidates"`
}

// Extract 上传图片并解析识别结果
func (v *VisionClient) Extract(ctx context.Context, base64Image string) (*models.AnalyzedExpenseDraft, error) {
	reqBody := visionRequest{
		Contents: []visionContent{{
			Parts: []visionPart{
				{Text: receiptPrompt},
				{InlineData: &visionInlineData{MimeType: "image/jpeg", Data: stripDataURIPrefix(base64Image)}},
			},
		}},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", v.baseURL, v.model, url.QueryEscape(v.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ErrExtractionCanceled
		}
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ErrExtractionCanceled
		}
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var vr visionResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, &ParseError{Raw: string(body), Err: err}
	}
	var text strings.Builder
	if len(vr.Candidates) > 0 {
		for _, p := range vr.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	return ParseAnalyzedExpense(text.String())
}

// ErrInvalidImage 图片不是合法的 base64 数据
var ErrInvalidImage = errors.New("图片数据无效")

// ValidateReceiptImage 去掉 data URI 前缀后检查 base64 能否解码
func ValidateReceiptImage(image string) error {
	data := stripDataURIPrefix(image)
	if data == "" {
		return ErrInvalidImage
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		if _, err := base64.RawStdEncoding.DecodeString(data); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	return nil
}

// stripDataURIPrefix 去掉 data:image/...;base64, 前缀
func stripDataURIPrefix(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}

// ParseAnalyzedExpense 从模型输出中定位 JSON 对象并逐字段校验类型
// 字段类型不符时置为 nil，不会让整个解析失败
func ParseAnalyzedExpense(text string) (*models.AnalyzedExpenseDraft, error) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end < start {
		return nil, &ParseError{Raw: text, Err: errors.New("响应中没有 JSON 对象")}
	}

	dec := json.NewDecoder(strings.NewReader(cleaned[start : end+1]))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, &ParseError{Raw: text, Err: err}
	}

	result := &models.AnalyzedExpenseDraft{}
	if n, ok := fields["totalAmount"].(json.Number); ok {
		if d, err := decimal.NewFromString(n.String()); err == nil {
			result.TotalAmount = &d
		}
	}
	if s, ok := fields["shopName"].(string); ok {
		result.ShopName = &s
	}
	if s, ok := fields["transactionDate"].(string); ok {
		result.TransactionDate = &s
	}
	return result, nil
}
