package db

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/teamsync/agent/internal/errors"
	"github.com/kimhsiao/teamsync/agent/internal/models"
)

func newTestStore(t *testing.T) *QueueStore {
	t.Helper()
	store := NewQueueStore(t.TempDir())
	t.Cleanup(func() { store.Close() })
	return store
}

func record(id, recordType string, action models.Action, data map[string]interface{}) *models.QueueRecord {
	return &models.QueueRecord{
		ID:        id,
		Type:      recordType,
		Action:    action,
		Data:      data,
		Status:    models.QueueStatusPending,
		Timestamp: 1700000000000,
	}
}

func TestQueueStore_OpenIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Open(ctx))
		}()
	}
	wg.Wait()

	require.NoError(t, store.Open(ctx))
}

func TestQueueStore_OpenUnavailable(t *testing.T) {
	store := NewQueueStore("/dev/null/cannot/create")
	ctx := context.Background()

	err := store.Open(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageUnavailable))

	_, err = store.GetAllPending(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageUnavailable))
}

func TestQueueStore_AddAndGetAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, record("2", "workout", models.ActionUpdate, map[string]interface{}{"id": "w9", "sets": float64(3)})))
	require.NoError(t, store.Add(ctx, record("1", "workout", models.ActionCreate, map[string]interface{}{"name": "A"})))

	records, err := store.GetAllPending(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "1", records[0].ID, "records come back in primary key order")
	assert.Equal(t, "A", records[0].Data["name"])
	assert.Equal(t, models.ActionUpdate, records[1].Action)
	assert.Equal(t, json.Number("3"), records[1].Data["sets"])
	assert.Equal(t, models.QueueStatusPending, records[1].Status)
	assert.Equal(t, int64(1700000000000), records[1].Timestamp)
}

func TestQueueStore_AddDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, record("1", "workout", models.ActionCreate, nil)))
	err := store.Add(ctx, record("1", "session", models.ActionCreate, nil))
	assert.True(t, apperrors.Is(err, apperrors.ErrDuplicate), "got %v", err)
}

func TestQueueStore_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := record("1", "workout", models.ActionUpdate, map[string]interface{}{"id": "w9"})
	require.NoError(t, store.Upsert(ctx, rec), "upsert inserts a missing record")

	rec.MarkFailed(assert.AnError)
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, assert.AnError.Error(), got.Error)

	all, err := store.GetAllPending(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestQueueStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, record("1", "workout", models.ActionCreate, nil)))
	require.NoError(t, store.Delete(ctx, "1"))
	require.NoError(t, store.Delete(ctx, "1"), "deleting a missing record is a no-op")

	_, err := store.Get(ctx, "1")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestQueueStore_ResetFailed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := record("1", "workout", models.ActionCreate, nil)
	rec.MarkFailed(assert.AnError)
	require.NoError(t, store.Add(ctx, rec))
	require.NoError(t, store.Add(ctx, record("2", "workout", models.ActionCreate, nil)))

	reset, err := store.ResetFailed(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, reset.Status)
	assert.Empty(t, reset.Error)
	assert.Equal(t, 1, reset.RetryCount, "retry count is never decreased")

	_, err = store.ResetFailed(ctx, "2")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = store.ResetFailed(ctx, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestQueueStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"total": 0, "pending": 0, "failed": 0}, stats)

	failed := record("3", "session", models.ActionDelete, nil)
	failed.MarkFailed(assert.AnError)
	require.NoError(t, store.Add(ctx, record("1", "workout", models.ActionCreate, nil)))
	require.NoError(t, store.Add(ctx, record("2", "workout", models.ActionCreate, nil)))
	require.NoError(t, store.Add(ctx, failed))

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"total": 3, "pending": 2, "failed": 1}, stats)
}

func TestQueueStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := NewQueueStore(dir)
	require.NoError(t, first.Add(ctx, record("1", "workout", models.ActionCreate, map[string]interface{}{"name": "A"})))
	require.NoError(t, first.Close())

	second := NewQueueStore(dir)
	defer second.Close()
	records, err := second.GetAllPending(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0].Data["name"])
}

func TestQueueStore_InvalidRecord(t *testing.T) {
	store := newTestStore(t)
	err := store.Upsert(context.Background(), &models.QueueRecord{})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestQueueStore_LargeNumericIDPreserved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := record("1", "workout", models.ActionDelete, map[string]interface{}{"id": json.Number("9007199254740993")})
	require.NoError(t, store.Add(ctx, rec))

	got, err := store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), got.Data["id"])
}
