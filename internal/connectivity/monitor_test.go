package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitorNotifiesOnTransitionOnly(t *testing.T) {
	m := NewMonitor(true)
	var seen []bool
	m.Subscribe(func(online bool) { seen = append(seen, online) })

	assert.False(t, m.Set(true))
	assert.True(t, m.Set(false))
	assert.False(t, m.Set(false))
	assert.True(t, m.Set(true))

	assert.Equal(t, []bool{false, true}, seen)
	assert.True(t, m.Online())
}

func TestProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))

	m := NewMonitor(false)
	p := NewProber(m, http.DefaultTransport, srv.URL, time.Second)
	assert.True(t, p.Probe(context.Background()))
	assert.True(t, m.Online())

	srv.Close()
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.Online())
}

func TestProberWithoutURLKeepsSignal(t *testing.T) {
	m := NewMonitor(false)
	p := NewProber(m, http.DefaultTransport, "", 0)
	assert.False(t, p.Probe(context.Background()))
	m.Set(true)
	assert.True(t, p.Probe(context.Background()))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestProberKeepsSignalWhenCancelled(t *testing.T) {
	m := NewMonitor(true)
	var seen []bool
	m.Subscribe(func(online bool) { seen = append(seen, online) })

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := NewProber(m, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		cancel()
		return nil, r.Context().Err()
	}), "http://upstream.invalid", time.Second)

	// Cancelled while the request is in flight.
	assert.True(t, p.Probe(ctx))
	assert.Equal(t, 1, calls)

	// Already cancelled on entry.
	assert.True(t, p.Probe(ctx))
	assert.Equal(t, 1, calls)

	assert.True(t, m.Online())
	assert.Empty(t, seen)
}
