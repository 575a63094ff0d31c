package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"receipts/models"
	"receipts/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExtractor 返回固定识别结果；wait 不为 nil 时阻塞到取消
type stubExtractor struct {
	result *models.AnalyzedExpenseDraft
	err    error
	wait   chan struct{}
	calls  atomic.Int32
}

func (s *stubExtractor) Extract(ctx context.Context, base64Image string) (*models.AnalyzedExpenseDraft, error) {
	s.calls.Add(1)
	if s.wait != nil {
		select {
		case <-s.wait:
		case <-ctx.Done():
			return nil, service.ErrExtractionCanceled
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.result == nil {
		return &models.AnalyzedExpenseDraft{}, nil
	}
	return s.result, nil
}

func scanView(t *testing.T, w *httptest.ResponseRecorder) service.ScanView {
	t.Helper()
	var resp struct {
		Data service.ScanView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func strPtr(s string) *string { return &s }

func TestScanHandler_FullFlow(t *testing.T) {
	env := newTestEnv()
	amount := decimal.RequireFromString("42.50")
	env.extractor.result = &models.AnalyzedExpenseDraft{
		TotalAmount:     &amount,
		ShopName:        strPtr("Market"),
		TransactionDate: strPtr("2024-03-01"),
	}
	catID, _ := env.categories.Add(context.Background(), "u1", "购物", "")
	router := env.router("u1")

	w := doRequest(router, "POST", "/scans", `{"image":"data:image/jpeg;base64,QUJD"}`)
	require.Equal(t, 200, w.Code)
	started := scanView(t, w)
	assert.Equal(t, service.PhaseAnalyzing, started.Phase)

	w = doRequest(router, "GET", "/scans/"+started.ID+"?wait=2", "")
	require.Equal(t, 200, w.Code)
	v := scanView(t, w)
	require.Equal(t, service.PhaseConfirming, v.Phase)
	assert.Equal(t, "42.5", v.Flow.Fields.AmountText)
	assert.Equal(t, "Market", v.Flow.Fields.ShopName)

	w = doRequest(router, "PATCH", "/scans/"+started.ID, `{"category_id":"`+catID+`","note":"牛奶"}`)
	require.Equal(t, 200, w.Code)
	v = scanView(t, w)
	assert.Equal(t, "购物", v.Flow.Fields.Category)

	w = doRequest(router, "POST", "/scans/"+started.ID+"/save", "")
	require.Equal(t, 200, w.Code)
	v = scanView(t, w)
	assert.Equal(t, "saved", v.Flow.State)

	list, _ := env.expenses.List(context.Background(), "u1")
	require.Len(t, list, 1)
	assert.Equal(t, "42.5", list[0].Amount.String())
	assert.Equal(t, "Market", list[0].ShopName)
	assert.Equal(t, "2024-03-01", list[0].Date.Format("2006-01-02"))
	assert.Equal(t, "牛奶", list[0].Note)
	require.NotNil(t, list[0].CategoryID)
	assert.Equal(t, catID, *list[0].CategoryID)
}

func TestScanHandler_SaveValidationKeepsSession(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")

	started := scanView(t, doRequest(router, "POST", "/scans", `{"image":"QUJD"}`))
	doRequest(router, "GET", "/scans/"+started.ID+"?wait=2", "")

	// 未识别出金额
	w := doRequest(router, "POST", "/scans/"+started.ID+"/save", "")
	assert.Equal(t, 400, w.Code)
	v := scanView(t, w)
	assert.Equal(t, "editing", v.Flow.State)
	list, _ := env.expenses.List(context.Background(), "u1")
	assert.Empty(t, list)

	doRequest(router, "PATCH", "/scans/"+started.ID, `{"amount_text":"150,75","shop_name":"Bakery"}`)
	w = doRequest(router, "POST", "/scans/"+started.ID+"/save", "")
	require.Equal(t, 200, w.Code)
	list, _ = env.expenses.List(context.Background(), "u1")
	require.Len(t, list, 1)
	assert.Equal(t, "150.75", list[0].Amount.String())
}

func TestScanHandler_ParseFailure(t *testing.T) {
	env := newTestEnv()
	env.extractor.err = &service.ParseError{Raw: "no receipt here", Err: errors.New("no json")}
	router := env.router("u1")

	started := scanView(t, doRequest(router, "POST", "/scans", `{"image":"QUJD"}`))
	v := scanView(t, doRequest(router, "GET", "/scans/"+started.ID+"?wait=2", ""))
	assert.Equal(t, service.PhaseFailed, v.Phase)
	assert.Equal(t, service.FailureParse, v.Failure)
	assert.NotEmpty(t, v.Message)

	assert.Equal(t, 409, doRequest(router, "PATCH", "/scans/"+started.ID, `{"shop_name":"x"}`).Code)
	assert.Equal(t, 409, doRequest(router, "POST", "/scans/"+started.ID+"/save", "").Code)
}

func TestScanHandler_CancelWhileAnalyzing(t *testing.T) {
	env := newTestEnv()
	env.extractor.wait = make(chan struct{})
	router := env.router("u1")

	started := scanView(t, doRequest(router, "POST", "/scans", `{"image":"QUJD"}`))

	w := doRequest(router, "DELETE", "/scans/"+started.ID, "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, service.PhaseCanceled, scanView(t, w).Phase)

	v := scanView(t, doRequest(router, "GET", "/scans/"+started.ID+"?wait=2", ""))
	assert.Equal(t, service.PhaseCanceled, v.Phase)
	assert.Empty(t, v.Message)
}

func TestScanHandler_NotFoundAndOwnership(t *testing.T) {
	env := newTestEnv()
	started := scanView(t, doRequest(env.router("u1"), "POST", "/scans", `{"image":"QUJD"}`))

	other := env.router("u2")
	assert.Equal(t, 404, doRequest(other, "GET", "/scans/"+started.ID, "").Code)
	assert.Equal(t, 404, doRequest(other, "DELETE", "/scans/"+started.ID, "").Code)
	assert.Equal(t, 404, doRequest(other, "GET", "/scans/missing", "").Code)
}

func TestScanHandler_BadInput(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")

	assert.Equal(t, 400, doRequest(router, "POST", "/scans", `{"image":"  "}`).Code)

	started := scanView(t, doRequest(router, "POST", "/scans", `{"image":"QUJD"}`))
	doRequest(router, "GET", "/scans/"+started.ID+"?wait=2", "")
	assert.Equal(t, 400, doRequest(router, "PATCH", "/scans/"+started.ID, `{"date":"yesterday"}`).Code)
	assert.Equal(t, 404, doRequest(router, "PATCH", "/scans/"+started.ID, `{"category_id":"missing"}`).Code)
}

func TestScanHandler_RejectsInvalidImage(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")

	for _, body := range []string{
		`{"image":"not base64!!"}`,
		`{"image":"data:image/jpeg;base64,@@@"}`,
		`{"image":"data:image/jpeg;base64,"}`,
	} {
		w := doRequest(router, "POST", "/scans", body)
		assert.Equal(t, 400, w.Code, body)
		assert.Equal(t, "图片数据无效，请重新拍摄", decodeResponse(t, w)["message"])
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), env.extractor.calls.Load(), "无效图片不应请求识别接口")
}

func TestScanHandler_RejectsOversizedBody(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")

	body := `{"image":"` + strings.Repeat("A", maxScanBody) + `"}`
	w := doRequest(router, "POST", "/scans", body)
	assert.Equal(t, 413, w.Code)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), env.extractor.calls.Load())
}
