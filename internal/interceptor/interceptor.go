// Package interceptor is the single entry point for outbound requests.
//
// Every request is classified and routed through one strategy:
//
//   - API reads are network-first; on a transport failure the last cached
//     response is served, or a synthetic empty "offline" result.
//   - Other reads are cache-first; the network is only touched on a miss.
//   - Writes go straight to the network while online. While offline they are
//     turned into pending actions and answered with 202 Accepted.
//
// API requests pass the authorization gate before any of this.
package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"offline-sync-service/internal/auth"
	"offline-sync-service/internal/cache"
	"offline-sync-service/internal/connectivity"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/queue"
)

// DeferredHeader is set on the synthetic 202 answering a write that was
// queued instead of sent. Its value is the pending action id.
const DeferredHeader = "X-Offline-Deferred"

type Class int

const (
	ClassStatic Class = iota
	ClassAPIRead
	ClassWrite
)

func (c Class) String() string {
	switch c {
	case ClassStatic:
		return "static"
	case ClassAPIRead:
		return "api-read"
	case ClassWrite:
		return "write"
	default:
		return "unknown"
	}
}

type Options struct {
	// Transport performs the real network round trip.
	Transport    http.RoundTripper
	Cache        *cache.Manager
	StaticStore  cache.Store
	APIStore     cache.Store
	Queue        *queue.Queue
	Connectivity *connectivity.Monitor
	Authorizer   auth.Authorizer
	// APIPrefix marks the API surface, "/api/" by default.
	APIPrefix string
	// OfflinePage is served from the static store to HTML navigations that
	// miss the cache while the network is down. Empty disables it.
	OfflinePage string
}

type Interceptor struct {
	transport   http.RoundTripper
	cache       *cache.Manager
	static      cache.Store
	api         cache.Store
	queue       *queue.Queue
	monitor     *connectivity.Monitor
	authorizer  auth.Authorizer
	apiPrefix   string
	offlinePage string
}

func New(opts Options) *Interceptor {
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Authorizer == nil {
		opts.Authorizer = auth.AllowAll{}
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api/"
	}
	return &Interceptor{
		transport:   opts.Transport,
		cache:       opts.Cache,
		static:      opts.StaticStore,
		api:         opts.APIStore,
		queue:       opts.Queue,
		monitor:     opts.Connectivity,
		authorizer:  opts.Authorizer,
		apiPrefix:   opts.APIPrefix,
		offlinePage: opts.OfflinePage,
	}
}

// IsAPI reports whether path addresses the API surface.
func (i *Interceptor) IsAPI(path string) bool {
	return strings.Contains(path, i.apiPrefix)
}

func (i *Interceptor) Classify(r *http.Request) Class {
	if isWrite(r.Method) {
		return ClassWrite
	}
	if i.IsAPI(r.URL.Path) {
		return ClassAPIRead
	}
	return ClassStatic
}

// RoundTrip lets an http.Client use the interceptor as its transport.
func (i *Interceptor) RoundTrip(r *http.Request) (*http.Response, error) {
	return i.Do(r)
}

// Do routes r through the strategy for its class.
func (i *Interceptor) Do(r *http.Request) (*http.Response, error) {
	if i.IsAPI(r.URL.Path) {
		if err := i.authorizer.Authorize(r); err != nil {
			closeBody(r)
			return nil, &AuthorizationError{Path: r.URL.Path, Err: err}
		}
	}

	switch i.Classify(r) {
	case ClassWrite:
		return i.write(r)
	case ClassAPIRead:
		return i.networkFirst(r)
	default:
		return i.cacheFirst(r)
	}
}

func (i *Interceptor) write(r *http.Request) (*http.Response, error) {
	if i.monitor != nil && !i.monitor.Online() {
		return i.deferWrite(r)
	}
	resp, err := i.transport.RoundTrip(r)
	if err != nil {
		return nil, &TransportError{Method: r.Method, URL: r.URL.String(), Err: err}
	}
	return resp, nil
}

func (i *Interceptor) deferWrite(r *http.Request) (*http.Response, error) {
	if i.queue == nil {
		closeBody(r)
		return nil, &TransportError{Method: r.Method, URL: r.URL.String(), Err: ErrNoQueue}
	}

	var payload []byte
	if r.Body != nil {
		var err error
		payload, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read deferred request body: %w", err)
		}
	}

	action := queue.PendingAction{
		Kind:    i.kindOf(r),
		Method:  r.Method,
		URL:     r.URL.String(),
		Header:  flatten(r.Header),
		Payload: payload,
	}
	id, err := i.queue.Enqueue(r.Context(), action)
	if err != nil {
		logger.Log.Error("Failed to defer write", zap.String("url", action.URL), zap.Error(err))
		return nil, err
	}

	logger.Log.Info("Deferred write while offline",
		zap.String("id", id),
		zap.String("kind", string(action.Kind)),
		zap.String("method", action.Method),
		zap.String("url", action.URL),
	)
	resp := jsonResponse(r, http.StatusAccepted, map[string]any{
		"message":  "accepted",
		"deferred": true,
		"id":       id,
	})
	resp.Header.Set(DeferredHeader, id)
	return resp, nil
}

func (i *Interceptor) kindOf(r *http.Request) queue.Kind {
	if !i.IsAPI(r.URL.Path) || isForm(r.Header.Get("Content-Type")) {
		return queue.KindFormSubmit
	}
	return queue.KindAPIWrite
}

func (i *Interceptor) networkFirst(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	key := cache.Key(r.Method, r.URL.String())

	resp, body, err := i.fetch(r)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			i.store(ctx, i.api, key, resp, body)
		}
		return resp, nil
	}

	logger.Log.Debug("Network unavailable, falling back to cache", zap.String("key", key), zap.Error(err))
	if entry := i.lookup(ctx, i.api, key); entry != nil {
		return entryResponse(r, entry), nil
	}
	return jsonResponse(r, http.StatusOK, map[string]any{
		"message": "offline",
		"data":    []any{},
	}), nil
}

func (i *Interceptor) cacheFirst(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	key := cache.Key(r.Method, r.URL.String())

	if entry := i.lookup(ctx, i.static, key); entry != nil {
		return entryResponse(r, entry), nil
	}

	resp, body, err := i.fetch(r)
	if err != nil {
		if page := i.offlineFallback(r); page != nil {
			return page, nil
		}
		return nil, &TransportError{Method: r.Method, URL: r.URL.String(), Err: err}
	}
	if resp.StatusCode == http.StatusOK {
		i.store(ctx, i.static, key, resp, body)
	}
	return resp, nil
}

func (i *Interceptor) offlineFallback(r *http.Request) *http.Response {
	if i.offlinePage == "" || !strings.Contains(r.Header.Get("Accept"), "text/html") {
		return nil
	}
	ref, err := url.Parse(i.offlinePage)
	if err != nil {
		return nil
	}
	key := cache.Key(http.MethodGet, r.URL.ResolveReference(ref).String())
	if entry := i.lookup(r.Context(), i.static, key); entry != nil {
		return entryResponse(r, entry)
	}
	return nil
}

// Precache fetches paths relative to base into the static store. Failures are
// logged and skipped; the number of stored entries is returned.
func (i *Interceptor) Precache(ctx context.Context, base string, paths []string) int {
	baseURL, err := url.Parse(base)
	if err != nil {
		logger.Log.Warn("Invalid precache base URL", zap.String("base", base), zap.Error(err))
		return 0
	}

	stored := 0
	for _, p := range paths {
		ref, err := url.Parse(p)
		if err != nil {
			logger.Log.Warn("Invalid precache path", zap.String("path", p), zap.Error(err))
			continue
		}
		target := baseURL.ResolveReference(ref).String()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			continue
		}
		resp, body, err := i.fetch(req)
		if err != nil {
			logger.Log.Warn("Precache fetch failed", zap.String("url", target), zap.Error(err))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			logger.Log.Warn("Precache skipped non-OK response", zap.String("url", target), zap.Int("status", resp.StatusCode))
			continue
		}
		if i.store(ctx, i.static, cache.Key(http.MethodGet, target), resp, body) {
			stored++
		}
	}
	return stored
}

// fetch performs the round trip and buffers the body so it can be both cached
// and returned.
func (i *Interceptor) fetch(r *http.Request) (*http.Response, []byte, error) {
	resp, err := i.transport.RoundTrip(r)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, body, nil
}

// lookup treats storage failures as misses.
func (i *Interceptor) lookup(ctx context.Context, s cache.Store, key string) *cache.Entry {
	if i.cache == nil {
		return nil
	}
	entry, err := i.cache.Get(ctx, s, key)
	if err != nil {
		logger.Log.Warn("Cache read failed", zap.String("store", s.ID()), zap.String("key", key), zap.Error(err))
		return nil
	}
	return entry
}

// store replaces the entry for key. Concurrent fetches of the same key are not
// coordinated: whichever completes last wins.
func (i *Interceptor) store(ctx context.Context, s cache.Store, key string, resp *http.Response, body []byte) bool {
	if i.cache == nil {
		return false
	}
	err := i.cache.Put(ctx, s, key, cache.Entry{
		Key:     key,
		Payload: body,
		Headers: flatten(resp.Header),
	})
	if err != nil {
		logger.Log.Warn("Cache write failed", zap.String("store", s.ID()), zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func entryResponse(r *http.Request, e *cache.Entry) *http.Response {
	header := make(http.Header, len(e.Headers))
	for k, v := range e.Headers {
		header.Set(k, v)
	}
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Payload)),
		ContentLength: int64(len(e.Payload)),
		Request:       r,
	}
}

func jsonResponse(r *http.Request, status int, v any) *http.Response {
	body, _ := json.Marshal(v)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func isWrite(method string) bool {
	switch strings.ToUpper(method) {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func isForm(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

func closeBody(r *http.Request) {
	if r.Body != nil {
		r.Body.Close()
	}
}
