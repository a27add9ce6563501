package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offline-sync-service/internal/store"
)

const testKey = "pwa_pending_actions"

func enqueue(t *testing.T, q *Queue, payload string) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), PendingAction{
		Kind:    KindAPIWrite,
		Method:  "POST",
		URL:     "http://origin/api/projects",
		Payload: []byte(payload),
	})
	require.NoError(t, err)
	return id
}

func ids(actions []PendingAction) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.ID)
	}
	return out
}

func TestEnqueueAssignsIdentityAndPreservesOrder(t *testing.T) {
	q := New(store.NewMemoryStore(), testKey)
	a := enqueue(t, q, "a")
	b := enqueue(t, q, "b")
	c := enqueue(t, q, "c")

	assert.NotEqual(t, a, b)
	assert.Equal(t, 3, q.Size())

	list := q.List()
	assert.Equal(t, []string{a, b, c}, ids(list))
	assert.False(t, list[0].CreatedAt.IsZero())
	assert.Zero(t, list[0].Attempts)
}

func TestPeekBatchLeasesEntries(t *testing.T) {
	q := New(store.NewMemoryStore(), testKey)
	a := enqueue(t, q, "a")
	b := enqueue(t, q, "b")
	c := enqueue(t, q, "c")

	first := q.PeekBatch(2)
	assert.Equal(t, []string{a, b}, ids(first))

	second := q.PeekBatch(5)
	assert.Equal(t, []string{c}, ids(second))
	assert.Empty(t, q.PeekBatch(5))
	assert.Equal(t, 3, q.Size(), "peek must not remove")

	q.Release(b)
	assert.Equal(t, []string{b}, ids(q.PeekBatch(5)))
	assert.Empty(t, q.PeekBatch(0))
}

func TestAckIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemoryStore(), testKey)
	a := enqueue(t, q, "a")
	b := enqueue(t, q, "b")

	q.PeekBatch(1)
	require.NoError(t, q.Ack(ctx, a))
	require.NoError(t, q.Ack(ctx, a))
	require.NoError(t, q.Ack(ctx, "unknown"))

	assert.Equal(t, 1, q.Size())
	assert.Equal(t, []string{b}, ids(q.PeekBatch(5)))
}

func TestFailIncrementsAttemptsAndReleases(t *testing.T) {
	ctx := context.Background()
	q := New(store.NewMemoryStore(), testKey)
	a := enqueue(t, q, "a")

	q.PeekBatch(1)
	n, err := q.Fail(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	batch := q.PeekBatch(1)
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].Attempts)

	n, err = q.Fail(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = q.Fail(ctx, "missing")
	assert.Error(t, err)
}

func TestQueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore()
	q := New(backend, testKey)
	a := enqueue(t, q, "a")
	b := enqueue(t, q, "b")
	q.PeekBatch(1) // leases are not durable

	raw, err := backend.GetValue(ctx, testKey)
	require.NoError(t, err)
	var persisted []map[string]any
	require.NoError(t, json.Unmarshal(raw, &persisted))
	require.Len(t, persisted, 2)
	for _, field := range []string{"id", "kind", "payload", "createdAt", "attempts"} {
		assert.Contains(t, persisted[0], field)
	}

	restarted := New(backend, testKey)
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, 2, restarted.Size())

	batch := restarted.PeekBatch(5)
	assert.Equal(t, []string{a, b}, ids(batch))
	assert.Equal(t, []byte("a"), batch[0].Payload)
}

func TestEnqueueRollsBackOnStorageFailure(t *testing.T) {
	backend := store.NewMemoryStore()
	q := New(backend, testKey)
	enqueue(t, q, "a")

	backend.FailWith(errors.New("quota exceeded"))
	_, err := q.Enqueue(context.Background(), PendingAction{Kind: KindFormSubmit, Payload: []byte("b")})

	var storageErr *store.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, 1, q.Size())
}

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	q := New(store.NewMemoryStore(), testKey)
	_, err := q.Enqueue(context.Background(), PendingAction{ID: "x"})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), PendingAction{ID: "x"})
	assert.Error(t, err)
}

func TestLoadRejectsCorruptList(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore()
	require.NoError(t, backend.PutValue(ctx, testKey, []byte("{not json")))

	q := New(backend, testKey)
	var storageErr *store.StorageError
	assert.ErrorAs(t, q.Load(ctx), &storageErr)
}
