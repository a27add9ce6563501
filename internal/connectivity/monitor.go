package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
)

// Listener is notified of online/offline transitions.
type Listener func(online bool)

// Monitor holds the current connectivity signal.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	listeners []Listener
}

func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers fn for future transitions.
func (m *Monitor) Subscribe(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Set records the signal and, on a transition, notifies listeners in
// registration order. It reports whether the state changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	logger.Log.Info("Connectivity changed", zap.Bool("online", online))
	for _, fn := range listeners {
		fn(online)
	}
	return true
}

// Prober derives the signal from a reachability check against a URL.
type Prober struct {
	monitor *Monitor
	client  *http.Client
	url     string
	timeout time.Duration
}

func NewProber(monitor *Monitor, transport http.RoundTripper, url string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{
		monitor: monitor,
		client:  &http.Client{Transport: transport},
		url:     url,
		timeout: timeout,
	}
}

// Probe issues a HEAD request; any HTTP response counts as online, a
// transport failure as offline. Without a URL, or once ctx is done, it leaves
// the signal alone.
func (p *Prober) Probe(ctx context.Context) bool {
	if p.url == "" || ctx.Err() != nil {
		return p.monitor.Online()
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err == nil {
		resp, doErr := p.client.Do(req)
		if doErr == nil {
			resp.Body.Close()
			online = true
		} else {
			logger.Log.Debug("Connectivity probe failed", zap.String("url", p.url), zap.Error(doErr))
		}
	}
	if parent.Err() != nil {
		return p.monitor.Online()
	}
	p.monitor.Set(online)
	return online
}
