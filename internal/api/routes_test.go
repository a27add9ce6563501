package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offline-sync-service/internal/auth"
	"offline-sync-service/internal/cache"
	"offline-sync-service/internal/connectivity"
	"offline-sync-service/internal/interceptor"
	"offline-sync-service/internal/notify"
	"offline-sync-service/internal/queue"
	"offline-sync-service/internal/store"
	"offline-sync-service/internal/sync"
)

type upstreamCall struct {
	method      string
	path        string
	body        string
	idempotency string
}

type testEnv struct {
	upstream    *httptest.Server
	router      http.Handler
	queue       *queue.Queue
	monitor     *connectivity.Monitor
	coordinator *sync.Coordinator
	notices     *notify.Dispatcher

	mu    gosync.Mutex
	calls []upstreamCall
}

func newTestEnv(t *testing.T, authorizer auth.Authorizer) *testEnv {
	t.Helper()
	ctx := context.Background()
	env := &testEnv{}

	env.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		env.mu.Lock()
		env.calls = append(env.calls, upstreamCall{
			method:      r.Method,
			path:        r.URL.Path,
			body:        string(b),
			idempotency: r.Header.Get(sync.IdempotencyHeader),
		})
		env.mu.Unlock()

		switch {
		case r.URL.Path == "/missing":
			http.NotFound(w, r)
		case strings.HasPrefix(r.URL.Path, "/api/"):
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":["lead-1"]}`))
		default:
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<h1>CRM</h1>"))
		}
	}))
	t.Cleanup(env.upstream.Close)

	backend := store.NewMemoryStore()
	caches := cache.NewManager(backend)
	static, err := caches.Open(ctx, "pwa-crm", 1)
	require.NoError(t, err)
	api, err := caches.Open(ctx, "pwa-crm-api", 1)
	require.NoError(t, err)

	env.queue = queue.New(backend, "pwa_pending_actions")
	env.monitor = connectivity.NewMonitor(true)
	env.coordinator = sync.NewCoordinator(sync.Options{
		Queue:    env.queue,
		Replayer: sync.NewHTTPReplayer(nil),
		Online:   env.monitor.Online,
	})
	env.notices = notify.NewDispatcher(notify.Options{Retry: func() bool {
		return env.coordinator.Trigger(sync.ReasonManual)
	}})
	env.monitor.Subscribe(env.notices.OnConnectivityChange)

	icpt := interceptor.New(interceptor.Options{
		Cache:        caches,
		StaticStore:  static,
		APIStore:     api,
		Queue:        env.queue,
		Connectivity: env.monitor,
		Authorizer:   authorizer,
	})

	base, err := url.Parse(env.upstream.URL)
	require.NoError(t, err)
	env.router = NewHandler(Options{
		Upstream:     base,
		Interceptor:  icpt,
		Coordinator:  env.coordinator,
		Queue:        env.queue,
		Connectivity: env.monitor,
		Notices:      env.notices,
		Authorizer:   authorizer,
	}).Routes()
	return env
}

func (e *testEnv) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upstreamCalls() []upstreamCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]upstreamCall(nil), e.calls...)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStatusAndConnectivity(t *testing.T) {
	env := newTestEnv(t, nil)

	var status statusResponse
	decode(t, env.do(http.MethodGet, ControlPrefix+"/status", ""), &status)
	assert.Equal(t, statusResponse{Online: true, QueueSize: 0, SyncState: "idle"}, status)

	rec := env.do(http.MethodPost, ControlPrefix+"/connectivity", `{"online":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &status)
	assert.False(t, status.Online)
	assert.False(t, env.monitor.Online())

	rec = env.do(http.MethodPost, ControlPrefix+"/connectivity", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxyServesFromUpstreamThenCache(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/leads?page=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["lead-1"]}`, rec.Body.String())

	env.upstream.Close()

	rec = env.do(http.MethodGet, "/api/leads?page=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":["lead-1"]}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/deals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"offline","data":[]}`, rec.Body.String())
}

func TestProxyStaticMissWhileDownIsBadGateway(t *testing.T) {
	env := newTestEnv(t, nil)
	env.upstream.Close()

	rec := env.do(http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "Bad Gateway", body["error"])
}

func TestProxyPassesThroughNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOfflineWriteIsQueuedAndReplayed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.monitor.Set(false)

	rec := env.do(http.MethodPost, "/api/leads", `{"name":"Acme"}`, "Content-Type", "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := rec.Header().Get(interceptor.DeferredHeader)
	require.NotEmpty(t, id)
	assert.Empty(t, env.upstreamCalls())
	assert.Equal(t, 1, env.queue.Size())

	var messages []string
	for _, n := range env.notices.Active() {
		messages = append(messages, n.Message)
	}
	assert.Contains(t, messages, "Saved, will be sent when the connection returns")

	var listed []queue.PendingAction
	decode(t, env.do(http.MethodGet, ControlPrefix+"/queue", ""), &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)

	env.monitor.Set(true)
	results := env.coordinator.Sync(context.Background(), sync.ReasonConnectivity)
	require.Len(t, results, 1)
	assert.Equal(t, sync.Delivered, results[0].Outcome)

	calls := env.upstreamCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, upstreamCall{method: http.MethodPost, path: "/api/leads", body: `{"name":"Acme"}`, idempotency: id}, calls[0])
	assert.Zero(t, env.queue.Size())
}

func TestTriggerSync(t *testing.T) {
	env := newTestEnv(t, nil)

	var body map[string]bool
	rec := env.do(http.MethodPost, ControlPrefix+"/sync/trigger", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	decode(t, rec, &body)
	assert.True(t, body["triggered"])

	decode(t, env.do(http.MethodPost, ControlPrefix+"/sync/trigger", ""), &body)
	assert.False(t, body["triggered"])
}

func TestUnauthorized(t *testing.T) {
	deny := auth.Func(func(*http.Request) error { return errors.New("no session") })
	env := newTestEnv(t, deny)

	rec := env.do(http.MethodGet, "/api/leads", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized","message":"Authentication required"}`, rec.Body.String())
	assert.Empty(t, env.upstreamCalls())

	rec = env.do(http.MethodGet, ControlPrefix+"/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Static assets are not gated.
	rec = env.do(http.MethodGet, "/index.html", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPushAndNoticeActions(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, ControlPrefix+"/push", `{"body":"New deal assigned"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var n notify.Notice
	decode(t, rec, &n)
	assert.Equal(t, "New deal assigned", n.Message)

	var active []notify.Notice
	decode(t, env.do(http.MethodGet, ControlPrefix+"/notices", ""), &active)
	require.Len(t, active, 1)

	rec = env.do(http.MethodPost, ControlPrefix+"/notices/"+n.ID+"/actions/close", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, env.notices.Active())

	rec = env.do(http.MethodPost, ControlPrefix+"/push", `{"body":"Quote ready","actions":[{"id":"view","label":"View"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var custom notify.Notice
	decode(t, rec, &custom)
	rec = env.do(http.MethodPost, ControlPrefix+"/notices/"+custom.ID+"/actions/view", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, env.notices.Active())

	rec = env.do(http.MethodPost, ControlPrefix+"/notices/"+n.ID+"/actions/close", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, ControlPrefix+"/push", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCorsMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	tests := []struct {
		name     string
		origins  []string
		origin   string
		expected string
	}{
		{"any", nil, "https://crm.example", "*"},
		{"allowed", []string{"https://crm.example"}, "https://crm.example", "https://crm.example"},
		{"denied", []string{"https://crm.example"}, "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			CorsMiddleware(tt.origins)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.expected, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, http.StatusTeapot, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	CorsMiddleware(nil)(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
