package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topic_syncer/internal/domain"
	"topic_syncer/internal/metrics"
	"topic_syncer/internal/query"
	"topic_syncer/internal/storage/memory"
)

func setupTestRouter(t *testing.T) (*mux.Router, *query.Service) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.New()
	require.NoError(t, store.UpsertCategory(ctx, &domain.Category{Name: "Gov", ListingURL: "g"}))
	require.NoError(t, store.UpsertCategory(ctx, &domain.Category{Name: "Tech Talk", ListingURL: "t"}))

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"T3", "T2", "T1"} {
		_, err := store.UpsertTopic(ctx, &domain.Topic{
			Category: "Gov", Name: name, URL: "u-" + name, Summary: "s-" + name, Position: i, SyncedAt: at,
		})
		require.NoError(t, err)
	}

	svc := query.NewService(store, store, logger)
	r := mux.NewRouter()
	NewHandler(svc, 2, logger).RegisterRoutes(r)
	return r, svc
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHandler_Categories(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := get(r, "/api/categories")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp categoriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Gov", "Tech Talk"}, resp.Categories)
}

func TestHandler_TopicsDefaultLimit(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := get(r, "/api/categories/Gov/topics")
	require.Equal(t, http.StatusOK, w.Code)

	var resp topicsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Gov", resp.Category)
	require.Len(t, resp.Topics, 2)
	assert.Equal(t, "T3", resp.Topics[0].Name)
	assert.Equal(t, "s-T3", resp.Topics[0].Summary)
}

func TestHandler_TopicsExplicitLimitAndEscapedName(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := get(r, "/api/categories/Gov/topics?limit=3")
	require.Equal(t, http.StatusOK, w.Code)
	var resp topicsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Topics, 3)

	w = get(r, "/api/categories/Tech%20Talk/topics")
	require.Equal(t, http.StatusOK, w.Code)
	resp = topicsResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Tech Talk", resp.Category)
	assert.NotNil(t, resp.Topics)
	assert.Empty(t, resp.Topics)
}

func TestHandler_TopicsErrors(t *testing.T) {
	r, svc := setupTestRouter(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown category", "/api/categories/Nope/topics", http.StatusNotFound},
		{"limit not a number", "/api/categories/Gov/topics?limit=abc", http.StatusBadRequest},
		{"limit zero", "/api/categories/Gov/topics?limit=0", http.StatusBadRequest},
		{"limit too large", "/api/categories/Gov/topics?limit=51", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.path)
			assert.Equal(t, tt.status, w.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}

	svc.Close()
	w := get(r, "/api/categories")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_Health(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := get(r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/categories", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_ServesMetricsAndShutsDown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	m.TopicWritten()

	srv := NewServer("127.0.0.1:0", NewHandler(query.NewService(memory.New(), memory.New(), logger), 2, logger), m.Handler(), logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, time.Second) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "topic_syncer_sync_topics_written_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
