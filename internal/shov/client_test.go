package shov_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"narrato-server/internal/shov"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, srv *httptest.Server) *shov.Client {
	t.Helper()
	client, err := shov.NewClient(shov.Config{
		BaseURL:    srv.URL,
		Project:    "narrato-test",
		APIKey:     "test-key",
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := shov.NewClient(shov.Config{Project: "p"}, zap.NewNop())
	assert.Error(t, err)

	_, err = shov.NewClient(shov.Config{APIKey: "k"}, zap.NewNop())
	assert.Error(t, err)
}

func TestAdd_ReturnsGeneratedID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/add/narrato-test", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "generation_tasks", payload["name"])

		json.NewEncoder(w).Encode(map[string]any{"success": true, "id": "item-42"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	id, err := client.Add(context.Background(), "generation_tasks", map[string]any{"status": "pending"})
	require.NoError(t, err)
	assert.Equal(t, "item-42", id)
}

func TestWhere_DecodesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, map[string]any{"status": "pending"}, payload["filter"])

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"items": []map[string]any{
				{"id": "a", "value": map[string]any{"task_uuid": "t1"}},
				{"id": "b", "value": map[string]any{"task_uuid": "t2"}},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	items, err := client.Where(context.Background(), "generation_tasks", map[string]any{"status": "pending"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)

	var doc struct {
		TaskUUID string `json:"task_uuid"`
	}
	require.NoError(t, items[1].Decode(&doc))
	assert.Equal(t, "t2", doc.TaskUUID)
}

func TestPost_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	err := client.Update(context.Background(), "generation_tasks", "id-1", map[string]any{"progress": 50})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPost_SurfacesErrorAfterRetryExhaustion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Where(context.Background(), "stories", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, shov.ErrRequestFailed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAdd_RejectedBusinessError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "ValidationError",
			"details": "value too large",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Add(context.Background(), "stories", map[string]any{})
	require.Error(t, err)
	// Бизнес-отказ API не ретраится
	assert.NotErrorIs(t, err, shov.ErrRequestFailed)
	assert.Contains(t, err.Error(), "ValidationError")
}

func TestVerifyOTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		ok := payload["pin"] == "123456"
		json.NewEncoder(w).Encode(map[string]any{"success": ok})
	}))
	defer srv.Close()

	client := newTestClient(t, srv)

	ok, err := client.VerifyOTP(context.Background(), "user@example.com", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.VerifyOTP(context.Background(), "user@example.com", "000000")
	require.NoError(t, err)
	assert.False(t, ok)
}
