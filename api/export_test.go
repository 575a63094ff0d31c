package api

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"receipts/database"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportHandler_ExportCSV_Gorm(t *testing.T) {
	mock, cleanup := setupMockDB(t)
	defer cleanup()

	day := time.Date(2024, 1, 15, 12, 0, 0, 0, time.Local)
	mock.ExpectQuery("SELECT .* FROM `expenses`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "category", "category_id", "shop_name", "date", "note", "created_at", "updated_at", "deleted_at"}).
			AddRow("e1", "u1", "99.99", "餐饮", "c1", "Noodles", day, "午餐", day, day, nil).
			AddRow("e2", "u1", "5", "", nil, "Outside", day.AddDate(0, 2, 0), "", day, day, nil))
	mock.ExpectQuery("SELECT .* FROM `categories`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "color", "created_at", "updated_at", "deleted_at"}).
			AddRow("c1", "u1", "餐饮", "#ef4444", day, day, nil))

	feed := database.NewMemoryFeed()
	router := gin.New()
	router.Use(setUserIDMiddleware("u1"))
	router.GET("/export/csv", NewExportHandler(
		database.NewGormExpenseStore(database.DB, feed),
		database.NewGormCategoryStore(database.DB, feed),
	).ExportCSV)

	req := httptest.NewRequest("GET", "/export/csv?start_time=2024-01-01&end_time=2024-01-31", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "expenses_2024-01-01_2024-01-31.csv")
	body := w.Body.String()
	assert.Contains(t, body, "金额")
	assert.Contains(t, body, "99.99")
	assert.Contains(t, body, "Noodles")
	// 范围外的记录不导出
	assert.NotContains(t, body, "Outside")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportHandler_ExportCSV_BadDate(t *testing.T) {
	env := newTestEnv()
	router := env.router("u1")

	assert.Equal(t, 400, doRequest(router, "GET", "/export/csv?start_time=2024/01/01", "").Code)
	assert.Equal(t, 400, doRequest(router, "GET", "/export/excel?end_time=tomorrow", "").Code)
}

func TestExportHandler_ExportExcel(t *testing.T) {
	env := newTestEnv()
	env.addExpense(t, "u1", "10", "Cafe", time.Now(), nil)
	env.addExpense(t, "u1", "2.5", "Bus", time.Now(), nil)
	env.addExpense(t, "u2", "1000", "Not mine", time.Now(), nil)

	w := doRequest(env.router("u1"), "GET", "/export/excel", "")
	require.Equal(t, 200, w.Code)
	assert.True(t, strings.HasSuffix(w.Header().Get("Content-Disposition"), ".xlsx"))

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("消费记录")
	require.NoError(t, err)
	// 表头 + 2 条记录 + 合计
	assert.Len(t, rows, 4)
	assert.Equal(t, "合计", rows[3][0])
}
