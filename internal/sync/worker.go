package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"offline-sync-service/internal/interceptor"
	"offline-sync-service/internal/queue"
)

// IdempotencyHeader carries the action id on every replay so the origin can
// drop a duplicate when an earlier acknowledgement was lost.
const IdempotencyHeader = "Idempotency-Key"

// Replayer re-issues the network call behind a pending action.
type Replayer interface {
	Replay(ctx context.Context, action queue.PendingAction) error
}

// HTTPReplayer sends actions over the raw transport, bypassing the
// interceptor so a replay can never be deferred again.
type HTTPReplayer struct {
	client *http.Client
}

func NewHTTPReplayer(transport http.RoundTripper) *HTTPReplayer {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPReplayer{client: &http.Client{Transport: transport}}
}

// Replay succeeds only on a 2xx response.
func (r *HTTPReplayer) Replay(ctx context.Context, action queue.PendingAction) error {
	req, err := http.NewRequestWithContext(ctx, action.Method, action.URL, bytes.NewReader(action.Payload))
	if err != nil {
		return fmt.Errorf("failed to build replay request: %w", err)
	}
	for k, v := range action.Header {
		req.Header.Set(k, v)
	}
	req.Header.Set(IdempotencyHeader, action.ID)

	resp, err := r.client.Do(req)
	if err != nil {
		return &interceptor.TransportError{Method: action.Method, URL: action.URL, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &interceptor.TransportError{Method: action.Method, URL: action.URL, StatusCode: resp.StatusCode}
	}
	return nil
}
