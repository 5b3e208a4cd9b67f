// Package sync replays queued offline mutations against the remote training API.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/teamsync/agent/internal/errors"
	"github.com/kimhsiao/teamsync/agent/internal/logging"
	"github.com/kimhsiao/teamsync/agent/internal/models"
	"github.com/kimhsiao/teamsync/agent/internal/uuid"
)

// Notifications broadcast to connected windows.
const (
	EventSyncCompleted = "sync-completed"
	EventSyncFailed    = "sync-failed"
)

// settleTimeout bounds the store write that follows a replay.
const settleTimeout = 5 * time.Second

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
)

// QueueStore is the part of the durable queue the engine needs.
type QueueStore interface {
	GetAllPending(ctx context.Context) ([]*models.QueueRecord, error)
	Delete(ctx context.Context, id string) error
	Upsert(ctx context.Context, rec *models.QueueRecord) error
}

// statsReader is implemented by stores that can report counts by status.
type statsReader interface {
	Stats(ctx context.Context) (map[string]int, error)
}

// Bridge reaches the connected foreground windows.
type Bridge interface {
	// RequestAuthToken returns "Bearer <token>" or "" when no token is available.
	RequestAuthToken(ctx context.Context) string
	Broadcast(eventType string, data interface{})
}

// RunResult summarises one sync run.
type RunResult struct {
	RunID       string        `json:"runId"`
	StartTime   time.Time     `json:"startTime"`
	Duration    time.Duration `json:"duration"`
	Total       int           `json:"total"`
	Processed   int           `json:"processed"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Interrupted bool          `json:"interrupted"`
}

// Engine drains the offline queue. At most one run is active at a time.
type Engine struct {
	store    QueueStore
	bridge   Bridge
	replayer Replayer

	running atomic.Bool

	mu         gosync.RWMutex
	lastResult *RunResult
	lastErr    error
}

// NewEngine creates a new Engine.
func NewEngine(store QueueStore, bridge Bridge, replayer Replayer) *Engine {
	return &Engine{
		store:    store,
		bridge:   bridge,
		replayer: replayer,
	}
}

// Status returns the current sync status.
func (e *Engine) Status() SyncStatus {
	if e.running.Load() {
		return SyncStatusSyncing
	}
	return SyncStatusIdle
}

// LastResult returns the result of the most recent finished run.
func (e *Engine) LastResult() *RunResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastResult
}

// LastError returns the error of the most recent finished run.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// run carries the state of a single invocation of Run.
type run struct {
	result RunResult
}

func newRun() *run {
	return &run{result: RunResult{RunID: uuid.New(), StartTime: time.Now()}}
}

func (r *run) fields(rec *models.QueueRecord) map[string]interface{} {
	f := map[string]interface{}{"run_id": r.result.RunID}
	if rec != nil {
		f["record_id"] = rec.ID
		f["type"] = rec.Type
		f["action"] = rec.Action
	}
	return f
}

func (r *run) summary() map[string]interface{} {
	return map[string]interface{}{
		"run_id":      r.result.RunID,
		"total":       r.result.Total,
		"processed":   r.result.Processed,
		"succeeded":   r.result.Succeeded,
		"failed":      r.result.Failed,
		"skipped":     r.result.Skipped,
		"interrupted": r.result.Interrupted,
		"duration_ms": r.result.Duration.Milliseconds(),
	}
}

// Run replays every pending record in store order. It returns an error only
// when the queue cannot be read or another run is active; per-record failures
// are stored on the record and counted in the result.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	defer e.running.Store(false)

	r := newRun()

	records, err := e.store.GetAllPending(ctx)
	if err != nil {
		r.result.Duration = time.Since(r.result.StartTime)
		logging.ErrorWithCode("Sync run failed to read queue", string(errors.CodeOf(err)), err, r.fields(nil))
		e.bridge.Broadcast(EventSyncFailed, err.Error())
		recordRun(outcomeFailed, r.result.Duration)
		e.finish(r, err)
		return &r.result, err
	}

	r.result.Total = len(records)
	if len(records) == 0 {
		logging.Debug("Sync queue is empty", r.fields(nil))
		recordRun(outcomeEmpty, 0)
		e.finish(r, nil)
		return &r.result, nil
	}

	logging.Info("Sync run started", map[string]interface{}{"run_id": r.result.RunID, "records": len(records)})

	for _, rec := range records {
		if ctx.Err() != nil {
			r.result.Interrupted = true
			break
		}
		if rec == nil || !rec.IsPending() {
			r.result.Skipped++
			recordRecord(outcomeSkipped)
			continue
		}
		e.process(ctx, r, rec)
	}

	e.bridge.Broadcast(EventSyncCompleted, nil)

	r.result.Duration = time.Since(r.result.StartTime)
	outcome := outcomeCompleted
	if r.result.Interrupted {
		outcome = outcomeInterrupted
	}
	recordRun(outcome, r.result.Duration)
	e.refreshQueueStats(ctx)

	logging.Info("Sync run finished", r.summary())
	e.finish(r, nil)
	return &r.result, nil
}

func (e *Engine) finish(r *run, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := r.result
	e.lastResult = &result
	e.lastErr = err
}

// process replays one record and settles it: deleted on success, stored as
// failed otherwise. A cancelled context leaves the record pending.
func (e *Engine) process(ctx context.Context, r *run, rec *models.QueueRecord) {
	r.result.Processed++

	err := e.replay(ctx, r, rec)

	// The remote call has happened; the store must reflect it even if the
	// run is being cancelled.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err == nil {
		r.result.Succeeded++
		recordRecord(outcomeSucceeded)
		if delErr := e.store.Delete(settleCtx, rec.ID); delErr != nil {
			logging.Error("Failed to delete replayed record", delErr, r.fields(rec))
		}
		logging.Debug("Record replayed", r.fields(rec))
		return
	}

	if ctx.Err() != nil {
		r.result.Interrupted = true
		logging.Warn("Sync run interrupted, record left pending", r.fields(rec))
		return
	}

	r.result.Failed++
	recordRecord(outcomeFailed)

	failed := rec.Clone()
	failed.MarkFailed(err)
	fields := r.fields(rec)
	fields["retry_count"] = failed.RetryCount
	logging.ErrorWithCode("Record replay failed", string(errors.CodeOf(err)), err, fields)

	if upErr := e.store.Upsert(settleCtx, failed); upErr != nil {
		logging.Error("Failed to persist failed record", upErr, r.fields(rec))
	}
}

// replay resolves, authenticates and sends one record. Panics are returned as
// errors so one bad record cannot end the run.
func (e *Engine) replay(ctx context.Context, r *run, rec *models.QueueRecord) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New(errors.ErrInternal, fmt.Sprintf("panic: %v", p))
		}
	}()

	op, err := Resolve(rec)
	if err != nil {
		return err
	}

	credential := e.bridge.RequestAuthToken(ctx)
	if credential == "" {
		fields := r.fields(rec)
		fields["code"] = string(errors.ErrCredentialUnavailable)
		logging.Warn("No auth token available, replaying without credential", fields)
	}

	return e.replayer.Do(ctx, op, credential, rec.Data)
}

func (e *Engine) refreshQueueStats(ctx context.Context) {
	sr, ok := e.store.(statsReader)
	if !ok {
		return
	}
	stats, err := sr.Stats(ctx)
	if err != nil {
		logging.Warn("Failed to read queue stats", map[string]interface{}{"error": err.Error()})
		return
	}
	RecordQueueStats(stats)
}
