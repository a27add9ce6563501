package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"offline-sync-service/internal/auth"
	"offline-sync-service/internal/connectivity"
	"offline-sync-service/internal/interceptor"
	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/notify"
	"offline-sync-service/internal/queue"
	"offline-sync-service/internal/sync"
)

// ControlPrefix is where the service's own endpoints live. Everything outside
// it is proxied to the upstream.
const ControlPrefix = "/_offline/v1"

const maxPushBody = 64 << 10

type Options struct {
	Upstream     *url.URL
	Interceptor  *interceptor.Interceptor
	Coordinator  *sync.Coordinator
	Queue        *queue.Queue
	Connectivity *connectivity.Monitor
	Notices      *notify.Dispatcher
	Authorizer   auth.Authorizer
	CorsOrigins  []string
}

type Handler struct {
	upstream    *url.URL
	icpt        *interceptor.Interceptor
	coordinator *sync.Coordinator
	queue       *queue.Queue
	monitor     *connectivity.Monitor
	notices     *notify.Dispatcher
	authorizer  auth.Authorizer
	corsOrigins []string
}

func NewHandler(opts Options) *Handler {
	if opts.Authorizer == nil {
		opts.Authorizer = auth.AllowAll{}
	}
	return &Handler{
		upstream:    opts.Upstream,
		icpt:        opts.Interceptor,
		coordinator: opts.Coordinator,
		queue:       opts.Queue,
		monitor:     opts.Connectivity,
		notices:     opts.Notices,
		authorizer:  opts.Authorizer,
		corsOrigins: opts.CorsOrigins,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware(h.corsOrigins))

	r.Get("/health", h.HealthCheck)

	r.Route(ControlPrefix, func(r chi.Router) {
		r.Use(AuthMiddleware(h.authorizer))

		r.Get("/status", h.GetStatus)
		r.Get("/queue", h.ListQueue)
		r.Post("/sync/trigger", h.TriggerSync)
		r.Post("/connectivity", h.SetConnectivity)
		r.Post("/push", h.Push)
		r.Get("/notices", h.ListNotices)
		r.Post("/notices/{id}/actions/{action}", h.SelectNoticeAction)
	})

	r.HandleFunc("/*", h.Proxy)

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type statusResponse struct {
	Online    bool   `json:"online"`
	QueueSize int    `json:"queue_size"`
	SyncState string `json:"sync_state"`
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) status() statusResponse {
	return statusResponse{
		Online:    h.monitor.Online(),
		QueueSize: h.queue.Size(),
		SyncState: string(h.coordinator.State()),
	}
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.List())
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	accepted := h.coordinator.Trigger(sync.ReasonManual)
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": accepted})
}

func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		writeError(w, http.StatusBadRequest, "Bad Request", "expected {\"online\": bool}")
		return
	}
	h.monitor.Set(*body.Online)
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	n, err := h.notices.HandlePush(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) ListNotices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.notices.Active())
}

func (h *Handler) SelectNoticeAction(w http.ResponseWriter, r *http.Request) {
	err := h.notices.Select(chi.URLParam(r, "id"), chi.URLParam(r, "action"))
	switch {
	case errors.Is(err, notify.ErrUnknownNotice):
		writeError(w, http.StatusNotFound, "Not Found", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// Proxy rebuilds the request against the upstream and sends it through the
// interceptor.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	target := h.upstream.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})

	out := r.Clone(r.Context())
	out.URL = target
	out.Host = target.Host
	out.RequestURI = ""

	resp, err := h.icpt.Do(out)
	if err != nil {
		var authErr *interceptor.AuthorizationError
		var transportErr *interceptor.TransportError
		switch {
		case errors.As(err, &authErr):
			writeError(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
		case errors.As(err, &transportErr):
			logger.Log.Warn("Upstream unreachable", zap.String("url", target.String()), zap.Error(err))
			writeError(w, http.StatusBadGateway, "Bad Gateway", "Upstream unreachable")
		default:
			logger.Log.Error("Proxy request failed", zap.String("url", target.String()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		}
		return
	}
	defer resp.Body.Close()

	if id := resp.Header.Get(interceptor.DeferredHeader); id != "" && h.notices != nil {
		h.notices.Deferred(id)
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Log.Debug("Failed to copy response body", zap.String("url", target.String()), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, title, message string) {
	writeJSON(w, status, map[string]string{"error": title, "message": message})
}

func CorsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case len(allowed) == 0 || allowed["*"]:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

			if r.Method == http.MethodOptions {
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func AuthMiddleware(authorizer auth.Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := authorizer.Authorize(r); err != nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
