package database

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"receipts/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSupabaseTestServer(t *testing.T, handler http.HandlerFunc) *SupabaseExpenseStore {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewSupabaseClient(srv.URL, "test-key")
	require.NoError(t, err)
	return NewSupabaseExpenseStore(client, NewMemoryFeed())
}

func TestSupabaseExpenseStore_List(t *testing.T) {
	store := newSupabaseTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/expenses", r.URL.Path)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "test-key", r.Header.Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"e1","user_id":"u1","amount":42.5,"category":"","category_id":null,"shop_name":"Cafe","date":"2024-03-01T00:00:00Z","note":""}]`))
	})

	list, err := store.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Cafe", list[0].ShopName)
	assert.Equal(t, "42.5", list[0].Amount.String())
}

func TestSupabaseExpenseStore_Add(t *testing.T) {
	var body map[string]interface{}
	store := newSupabaseTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.WriteHeader(http.StatusCreated)
	})

	amount := decimal.RequireFromString("150.75")
	id, err := store.Add(context.Background(), "u1", models.ExpenseDraft{Amount: &amount, ShopName: "Market"})
	require.NoError(t, err)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, 150.75, body["amount"])
}

func TestSupabaseExpenseStore_Delete_NotFound(t *testing.T) {
	store := newSupabaseTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "eq.e1", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`[]`))
	})

	err := store.Delete(context.Background(), "u1", "e1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSupabaseExpenseStore_ServerError(t *testing.T) {
	store := newSupabaseTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"XX000","message":"boom"}`))
	})

	_, err := store.List(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
