package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ghostcopy/clipsync/internal/clipsync"
)

const testToken = "test-control-token"

func newTestServer(t *testing.T) (*Server, *clipsync.MemoryStore) {
	t.Helper()
	store := clipsync.NewMemoryStore()
	repo, err := clipsync.NewRepository(clipsync.RepositoryOptions{
		UserID: "u1",
		Store:  store,
		Blobs:  store,
		Feed:   store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	server := NewServer(ServerOptions{
		Repo:       repo,
		Games:      clipsync.NewGameModeQueue(),
		Sleep:      clipsync.NewSleepController(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		UserID:     "u1",
		DeviceType: clipsync.DeviceLinux,
		DeviceName: "daemon-host",
	}, ServerConfig{AuthToken: testToken})
	return server, store
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthNeedsNoToken(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want 401", rec.Code)
	}
}

func TestInsertAndListItems(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/v1/items", `{"content":"hello from api"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID          string `json:"id"`
		Content     string `json:"content"`
		DeviceType  string `json:"deviceType"`
		DeviceName  string `json:"deviceName"`
		ContentType string `json:"contentType"`
	}
	decodeBody(t, rec, &created)
	if created.ID == "" || created.Content != "hello from api" {
		t.Fatalf("unexpected insert response: %+v", created)
	}
	if created.DeviceType != "linux" || created.DeviceName != "daemon-host" {
		t.Fatalf("daemon provenance not stamped: %+v", created)
	}

	rec = doRequest(t, server, http.MethodGet, "/v1/items", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Items) != 1 || listed.Items[0].ID != created.ID {
		t.Fatalf("list = %+v, want the inserted item", listed)
	}
}

func TestInsertValidationFailureIs400(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodPost, "/v1/items", `{"content":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank insert status = %d, want 400", rec.Code)
	}
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &body)
	if body.Code != "validation_failed" {
		t.Fatalf("error code = %q, want validation_failed", body.Code)
	}
}

func TestSearchQueryFiltersItems(t *testing.T) {
	server, _ := newTestServer(t)
	doRequest(t, server, http.MethodPost, "/v1/items", `{"content":"meeting notes"}`)
	doRequest(t, server, http.MethodPost, "/v1/items", `{"content":"grocery list"}`)

	rec := doRequest(t, server, http.MethodGet, "/v1/items?q=meeting", "")
	var listed struct {
		Items []struct {
			Content string `json:"content"`
		} `json:"items"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Items) != 1 || listed.Items[0].Content != "meeting notes" {
		t.Fatalf("search = %+v, want only the matching item", listed)
	}
}

func TestDeleteItem(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodPost, "/v1/items", `{"content":"doomed"}`)
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)

	rec = doRequest(t, server, http.MethodDelete, "/v1/items/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodDelete, "/v1/items/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("double delete status = %d, want 404", rec.Code)
	}
}

func TestCleanupEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	for i := 0; i < 4; i++ {
		doRequest(t, server, http.MethodPost, "/v1/items", `{"content":"n`+strings.Repeat("x", i+1)+`"}`)
	}
	rec := doRequest(t, server, http.MethodPost, "/v1/items/cleanup", `{"keep":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d", rec.Code)
	}
	var body struct {
		Removed int64 `json:"removed"`
	}
	decodeBody(t, rec, &body)
	if body.Removed != 3 {
		t.Fatalf("removed = %d, want 3", body.Removed)
	}
}

func TestInspectEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodPost, "/v1/inspect",
		`{"content":"token sk_live_abcdef1234567890 leaked"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("inspect status = %d", rec.Code)
	}
	var body struct {
		Kind        string `json:"kind"`
		IsSensitive bool   `json:"isSensitive"`
	}
	decodeBody(t, rec, &body)
	if !body.IsSensitive {
		t.Fatalf("API key not flagged sensitive: %s", rec.Body.String())
	}
	if body.Kind != "plainText" {
		t.Fatalf("kind = %q, want plainText", body.Kind)
	}
}

func TestInsertDuringGameModePersists(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/v1/game-mode", "")
	var toggled struct {
		Active bool `json:"active"`
	}
	decodeBody(t, rec, &toggled)
	if !toggled.Active {
		t.Fatalf("first toggle did not activate game mode")
	}

	// Game mode only suppresses notifications; the write itself must land
	// durably even while it is active.
	rec = doRequest(t, server, http.MethodPost, "/v1/items", `{"content":"stored while gaming"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert during game mode status = %d, want 201", rec.Code)
	}

	rec = doRequest(t, server, http.MethodGet, "/v1/items", "")
	var listed struct {
		Items []struct {
			Content string `json:"content"`
		} `json:"items"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Items) != 1 || listed.Items[0].Content != "stored while gaming" {
		t.Fatalf("item not persisted during game mode: %s", rec.Body.String())
	}

	// Deactivating game mode must still find the row in place.
	doRequest(t, server, http.MethodPost, "/v1/game-mode", "")
	rec = doRequest(t, server, http.MethodGet, "/v1/items", "")
	decodeBody(t, rec, &listed)
	if len(listed.Items) != 1 {
		t.Fatalf("item lost after deactivating game mode: %s", rec.Body.String())
	}
}

func TestSleepEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodPost, "/v1/sleep", `{"sleeping":true}`)
	var body struct {
		Sleeping bool `json:"sleeping"`
	}
	decodeBody(t, rec, &body)
	if !body.Sleeping {
		t.Fatalf("sleep request did not take effect")
	}
	rec = doRequest(t, server, http.MethodPost, "/v1/sleep", `{"sleeping":false}`)
	decodeBody(t, rec, &body)
	if body.Sleeping {
		t.Fatalf("wake request did not take effect")
	}
}

func TestFlushCachesEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	doRequest(t, server, http.MethodPost, "/v1/items", `{"content":"warm the cache"}`)
	rec := doRequest(t, server, http.MethodPost, "/v1/caches/flush", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("flush status = %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodGet, "/v1/status", "")
	var status struct {
		ContentCacheSize int `json:"contentCacheSize"`
	}
	decodeBody(t, rec, &status)
	if status.ContentCacheSize != 0 {
		t.Fatalf("content cache size = %d after flush, want 0", status.ContentCacheSize)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	store := clipsync.NewMemoryStore()
	repo, err := clipsync.NewRepository(clipsync.RepositoryOptions{
		UserID: "u1",
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	server := NewServer(ServerOptions{
		Repo:       repo,
		UserID:     "u1",
		DeviceType: clipsync.DeviceLinux,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, ServerConfig{
		AuthToken:       testToken,
		RateLimitMax:    2,
		RateLimitWindow: time.Minute,
	})

	for i := 0; i < 2; i++ {
		if rec := doRequest(t, server, http.MethodGet, "/v1/status", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}
	rec := doRequest(t, server, http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("429 without Retry-After header")
	}
}

func TestDashboardRendersWithQueryToken(t *testing.T) {
	server, _ := newTestServer(t)
	doRequest(t, server, http.MethodPost, "/v1/items", `{"content":"visible on dashboard"}`)

	req := httptest.NewRequest(http.MethodGet, "/dashboard?token="+testToken, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "visible on dashboard") {
		t.Fatalf("dashboard does not show the inserted item")
	}

	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("dashboard without token status = %d, want 401", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/v1/nonsense", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route status = %d, want 404", rec.Code)
	}
}
