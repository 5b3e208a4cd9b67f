package sync

import "context"

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// Run drains the queue once.
	// Returns ErrSyncInProgress when another run is active.
	Run(ctx context.Context) (*RunResult, error)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastResult returns the result of the last finished run, or nil.
	LastResult() *RunResult

	// LastError returns the error of the last finished run.
	LastError() error
}

var _ SyncEngineInterface = (*Engine)(nil)
