package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"receipts/database"
	"receipts/models"
	"receipts/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setUserIDMiddleware(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	}
}

// testEnv 使用内存存储的完整路由
type testEnv struct {
	expenses   *database.MemoryExpenseStore
	categories *database.MemoryCategoryStore
	scans      *service.ScanManager
	extractor  *stubExtractor
}

func newTestEnv() *testEnv {
	gin.SetMode(gin.TestMode)
	feed := database.NewMemoryFeed()
	env := &testEnv{
		expenses:   database.NewMemoryExpenseStore(feed),
		categories: database.NewMemoryCategoryStore(feed),
		extractor:  &stubExtractor{},
	}
	env.scans = service.NewScanManager(service.NewReceiptAnalyzer(env.extractor), env.expenses, time.Minute)
	return env
}

// router 以 userID 身份注册全部业务路由
func (env *testEnv) router(userID string) *gin.Engine {
	r := gin.New()
	r.Use(setUserIDMiddleware(userID))

	eh := NewExpenseHandler(env.expenses, env.categories, env.scans)
	r.GET("/expenses", eh.List)
	r.POST("/expenses", eh.Create)
	r.GET("/expenses/stream", eh.Stream)
	r.GET("/expenses/chart", eh.Chart)
	r.GET("/expenses/:id", eh.Get)
	r.PUT("/expenses/:id", eh.Update)
	r.DELETE("/expenses/:id", eh.Delete)
	r.POST("/expenses/:id/edit", eh.Edit)

	ch := NewCategoryHandler(env.categories)
	r.GET("/categories", ch.List)
	r.POST("/categories", ch.Create)
	r.GET("/categories/stream", ch.Stream)
	r.PUT("/categories/:id", ch.Update)
	r.DELETE("/categories/:id", ch.Delete)

	sh := NewScanHandler(env.scans, env.categories)
	r.POST("/scans", sh.Start)
	r.GET("/scans/:id", sh.Get)
	r.PATCH("/scans/:id", sh.Patch)
	r.POST("/scans/:id/save", sh.Save)
	r.DELETE("/scans/:id", sh.Cancel)

	xh := NewExportHandler(env.expenses, env.categories)
	r.GET("/export/csv", xh.ExportCSV)
	r.GET("/export/excel", xh.ExportExcel)
	return r
}

func (env *testEnv) addExpense(t *testing.T, userID, amount, shop string, date time.Time, categoryID *string) string {
	t.Helper()
	d := decimal.RequireFromString(amount)
	id, err := env.expenses.Add(context.Background(), userID, models.ExpenseDraft{
		Amount: &d, ShopName: shop, Date: date, CategoryID: categoryID,
	})
	require.NoError(t, err)
	return id
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func listShops(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp struct {
		Data []models.Expense `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	shops := make([]string, 0, len(resp.Data))
	for _, e := range resp.Data {
		shops = append(shops, e.ShopName)
	}
	return shops
}

func TestExpenseHandler_CreateAndList(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")

	w := doRequest(router, "POST", "/expenses", `{"amount":12.5,"shop_name":"Cafe","date":"2024-03-01"}`)
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "创建成功", decodeResponse(t, w)["message"])

	w = doRequest(router, "POST", "/expenses", `{"amount":"99.99","shop_name":" Market ","date":"2024-03-03","note":"周末采购"}`)
	require.Equal(t, 200, w.Code)

	// 默认按日期倒序
	w = doRequest(router, "GET", "/expenses", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, []string{"Market", "Cafe"}, listShops(t, w))

	w = doRequest(router, "GET", "/expenses?sort=amount&order=asc", "")
	assert.Equal(t, []string{"Cafe", "Market"}, listShops(t, w))

	assert.Equal(t, 400, doRequest(router, "GET", "/expenses?sort=shop", "").Code)
}

func TestExpenseHandler_CreateValidation(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")

	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"缺少金额", `{"shop_name":"Cafe"}`, "请输入有效的金额"},
		{"金额为负", `{"amount":-1,"shop_name":"Cafe"}`, "请输入有效的金额"},
		{"金额超过两位小数", `{"amount":0.001,"shop_name":"Cafe"}`, "请输入有效的金额"},
		{"金额科学计数法过小", `{"amount":1e-5,"shop_name":"Cafe"}`, "请输入有效的金额"},
		{"金额科学计数法过大", `{"amount":1e400,"shop_name":"Cafe"}`, "请输入有效的金额"},
		{"金额超出存储范围", `{"amount":99999999999,"shop_name":"Cafe"}`, "请输入有效的金额"},
		{"缺少商家", `{"amount":10,"shop_name":"  "}`, "请填写商家名称"},
		{"日期格式错误", `{"amount":10,"shop_name":"Cafe","date":"03/01/2024"}`, "日期格式错误，应为: 2006-01-02"},
		{"类别不存在", `{"amount":10,"shop_name":"Cafe","category_id":"nope"}`, "类别不存在"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, "POST", "/expenses", tt.body)
			assert.Equal(t, 400, w.Code)
			assert.Equal(t, tt.msg, decodeResponse(t, w)["message"])
		})
	}

	list, _ := env.expenses.List(context.Background(), "u1")
	assert.Empty(t, list)
}

func TestExpenseHandler_CreateWithCategory(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")
	catID, err := env.categories.Add(context.Background(), "u1", "餐饮", "#ef4444")
	require.NoError(t, err)

	w := doRequest(router, "POST", "/expenses", `{"amount":30,"shop_name":"Noodles","category_id":"`+catID+`"}`)
	require.Equal(t, 200, w.Code)

	list, _ := env.expenses.List(context.Background(), "u1")
	require.Len(t, list, 1)
	assert.Equal(t, "餐饮", list[0].Category)
	require.NotNil(t, list[0].CategoryID)
	assert.Equal(t, catID, *list[0].CategoryID)
}

func TestExpenseHandler_GetUpdateDelete(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")
	id := env.addExpense(t, "u1", "10", "Cafe", time.Now(), nil)

	w := doRequest(router, "GET", "/expenses/"+id, "")
	require.Equal(t, 200, w.Code)

	w = doRequest(router, "PUT", "/expenses/"+id, `{"amount":15,"shop_name":"Cafe Bar","date":"2024-05-01"}`)
	require.Equal(t, 200, w.Code)
	got, err := env.expenses.Get(context.Background(), "u1", id)
	require.NoError(t, err)
	assert.Equal(t, "15", got.Amount.String())
	assert.Equal(t, "Cafe Bar", got.ShopName)
	assert.Equal(t, "u1", got.UserID)

	assert.Equal(t, 200, doRequest(router, "DELETE", "/expenses/"+id, "").Code)
	assert.Equal(t, 404, doRequest(router, "GET", "/expenses/"+id, "").Code)
	assert.Equal(t, 404, doRequest(router, "DELETE", "/expenses/"+id, "").Code)
	assert.Equal(t, 404, doRequest(router, "PUT", "/expenses/missing", `{"amount":1,"shop_name":"x"}`).Code)
}

func TestExpenseHandler_UserIsolation(t *testing.T) {
	env := newTestEnv()
	id := env.addExpense(t, "u1", "10", "Cafe", time.Now(), nil)

	other := env.router("u2")
	assert.Equal(t, 404, doRequest(other, "GET", "/expenses/"+id, "").Code)
	assert.Equal(t, 404, doRequest(other, "DELETE", "/expenses/"+id, "").Code)
	assert.Empty(t, listShops(t, doRequest(other, "GET", "/expenses", "")))
}

func TestExpenseHandler_DanglingCategoryShowsUncategorized(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")
	catID, _ := env.categories.Add(context.Background(), "u1", "交通", "")
	env.addExpense(t, "u1", "3", "Metro", time.Now(), &catID)

	assert.Equal(t, 200, doRequest(router, "DELETE", "/categories/"+catID, "").Code)

	var resp struct {
		Data []models.Expense `json:"data"`
	}
	require.NoError(t, json.Unmarshal(doRequest(router, "GET", "/expenses", "").Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, models.UncategorizedLabel, resp.Data[0].Category)
	// 记录本身未被修改
	require.NotNil(t, resp.Data[0].CategoryID)
	assert.Equal(t, catID, *resp.Data[0].CategoryID)
}

func TestExpenseHandler_Chart(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")

	assert.Equal(t, 404, doRequest(router, "GET", "/expenses/chart", "").Code)

	env.addExpense(t, "u1", "10", "Cafe", time.Now(), nil)
	w := doRequest(router, "GET", "/expenses/chart", "")
	require.Equal(t, 200, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
}

func TestExpenseHandler_EditOpensConfirmingSession(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")
	id := env.addExpense(t, "u1", "8", "Kiosk", time.Now(), nil)

	w := doRequest(router, "POST", "/expenses/"+id+"/edit", "")
	require.Equal(t, 200, w.Code)
	var resp struct {
		Data service.ScanView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, service.PhaseConfirming, resp.Data.Phase)
	require.NotNil(t, resp.Data.Flow)
	assert.True(t, resp.Data.Flow.EditMode)
	assert.Equal(t, "8", resp.Data.Flow.Fields.AmountText)

	w = doRequest(router, "PATCH", "/scans/"+resp.Data.ID, `{"amount_text":"9,50"}`)
	require.Equal(t, 200, w.Code)
	require.Equal(t, 200, doRequest(router, "POST", "/scans/"+resp.Data.ID+"/save", "").Code)

	got, err := env.expenses.Get(context.Background(), "u1", id)
	require.NoError(t, err)
	assert.Equal(t, "9.5", got.Amount.String())
	list, _ := env.expenses.List(context.Background(), "u1")
	assert.Len(t, list, 1)

	assert.Equal(t, 404, doRequest(router, "POST", "/expenses/missing/edit", "").Code)
}

// readEvents 读取 SSE 帧直到收到 n 帧
func readEvents(t *testing.T, scanner *bufio.Scanner, n int) []snapshotEvent {
	t.Helper()
	var events []snapshotEvent
	for len(events) < n && scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev snapshotEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, n)
	return events
}

func newStreamServer(t *testing.T, router *gin.Engine) *httptest.Server {
	t.Helper()
	return httptest.NewServer(router)
}

// openStream 建立 SSE 连接，stop 断开连接
func openStream(t *testing.T, url string) (*bufio.Scanner, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewScanner(resp.Body), func() {
		resp.Body.Close()
		cancel()
	}
}

func TestExpenseHandler_Stream(t *testing.T) {
	env := newTestEnv()
	env.addExpense(t, "u1", "10", "Cafe", time.Now(), nil)

	srv := newStreamServer(t, env.router("u1"))
	defer srv.Close()

	scanner, stop := openStream(t, srv.URL+"/expenses/stream?sort=amount")
	defer stop()

	first := readEvents(t, scanner, 1)[0]
	assert.Equal(t, "snapshot", first.Type)
	assert.Len(t, first.Data, 1)

	// 其他写入触发新的完整快照
	env.addExpense(t, "u1", "50", "Market", time.Now(), nil)
	next := readEvents(t, scanner, 1)[0]
	require.Len(t, next.Data, 2)
	assert.Equal(t, "Market", next.Data.([]interface{})[0].(map[string]interface{})["shop_name"])
}

func TestExpenseHandler_StreamBadSort(t *testing.T) {
	env := newTestEnv()
	assert.Equal(t, 400, doRequest(env.router("u1"), "GET", "/expenses/stream?order=up", "").Code)
}
