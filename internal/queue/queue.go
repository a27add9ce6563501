// Package queue holds write operations deferred while offline.
//
// The queue is a durable FIFO. Entries handed out by PeekBatch are leased:
// they stay in the queue but are hidden from later peeks until acked or
// released. The whole list is persisted as one JSON array under a single key
// and read back fully at startup; leases are not persisted.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"offline-sync-service/internal/store"
)

type Kind string

const (
	KindFormSubmit Kind = "formSubmit"
	KindAPIWrite   Kind = "apiWrite"
)

// PendingAction is a write that could not reach the network.
type PendingAction struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Header    map[string]string `json:"header,omitempty"`
	Payload   []byte            `json:"payload"`
	CreatedAt time.Time         `json:"createdAt"`
	Attempts  int               `json:"attempts"`
}

type Queue struct {
	backend store.Store
	key     string
	now     func() time.Time

	mu       sync.Mutex
	actions  []PendingAction
	inflight map[string]struct{}
}

func New(backend store.Store, key string) *Queue {
	return &Queue{
		backend:  backend,
		key:      key,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

// Load replaces the in-memory queue with the persisted list.
func (q *Queue) Load(ctx context.Context) error {
	raw, err := q.backend.GetValue(ctx, q.key)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}
	var actions []PendingAction
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &actions); err != nil {
			return &store.StorageError{Op: "decode queue", Key: q.key, Err: err}
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions = actions
	q.inflight = make(map[string]struct{})
	return nil
}

// Enqueue appends a at the tail and persists the queue. On a storage failure
// the append is rolled back.
func (q *Queue) Enqueue(ctx context.Context, a PendingAction) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = q.now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, existing := range q.actions {
		if existing.ID == a.ID {
			return "", fmt.Errorf("pending action %s already queued", a.ID)
		}
	}
	q.actions = append(q.actions, a)
	if err := q.persistLocked(ctx); err != nil {
		q.actions = q.actions[:len(q.actions)-1]
		return "", err
	}
	return a.ID, nil
}

// PeekBatch leases up to max of the oldest entries not already in flight.
func (q *Queue) PeekBatch(max int) []PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	var batch []PendingAction
	for _, a := range q.actions {
		if len(batch) >= max {
			break
		}
		if _, busy := q.inflight[a.ID]; busy {
			continue
		}
		q.inflight[a.ID] = struct{}{}
		batch = append(batch, a)
	}
	return batch
}

// Ack removes id permanently. Acking an unknown id is a no-op. If persisting
// fails the entry stays removed here and the error is returned.
func (q *Queue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return nil
	}
	q.actions = append(q.actions[:idx], q.actions[idx+1:]...)
	delete(q.inflight, id)
	return q.persistLocked(ctx)
}

// Release clears the in-flight mark so id is eligible for the next peek.
func (q *Queue) Release(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)
}

// Fail records a failed delivery: it bumps the attempt counter, releases the
// lease and returns the new count.
func (q *Queue) Fail(ctx context.Context, id string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(id)
	if idx < 0 {
		return 0, fmt.Errorf("pending action %s not found", id)
	}
	q.actions[idx].Attempts++
	delete(q.inflight, id)
	return q.actions[idx].Attempts, q.persistLocked(ctx)
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// List returns a copy of the queue, oldest first.
func (q *Queue) List() []PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingAction(nil), q.actions...)
}

func (q *Queue) indexLocked(id string) int {
	for i, a := range q.actions {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) persistLocked(ctx context.Context) error {
	actions := q.actions
	if actions == nil {
		actions = []PendingAction{}
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return &store.StorageError{Op: "encode queue", Key: q.key, Err: err}
	}
	if err := q.backend.PutValue(ctx, q.key, raw); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}
