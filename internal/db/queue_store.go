package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/kimhsiao/teamsync/agent/internal/errors"
	"github.com/kimhsiao/teamsync/agent/internal/models"
)

// QueueStore persists queue records in the sync_queue table.
// The connection is opened lazily, so a store can be constructed before
// the data directory is reachable; a failed open is retried on the next call.
type QueueStore struct {
	dataDir string

	mu   sync.Mutex
	conn *DB
}

// NewQueueStore creates a store rooted at dataDir. Nothing is opened yet.
func NewQueueStore(dataDir string) *QueueStore {
	return &QueueStore{dataDir: dataDir}
}

// Open opens the database and applies migrations on first use.
// It is idempotent and safe for concurrent callers.
func (s *QueueStore) Open(ctx context.Context) error {
	_, err := s.db(ctx)
	return err
}

func (s *QueueStore) db(ctx context.Context) (*DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return s.conn, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "open queue store", err)
	}

	conn, err := Open(s.dataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "open queue store", err)
	}
	if err := NewMigrator(conn.DB, Migrations()).Up(); err != nil {
		conn.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "migrate queue store", err)
	}

	s.conn = conn
	return conn, nil
}

// Close closes the underlying database, if open.
func (s *QueueStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

const recordColumns = `id, type, action, data, status, retry_count, error, timestamp`

// GetAllPending returns a snapshot of every stored record in primary key order.
// Despite the name, failed records are included; callers filter on status.
func (s *QueueStore) GetAllPending(ctx context.Context) ([]*models.QueueRecord, error) {
	conn, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT `+recordColumns+` FROM sync_queue ORDER BY id`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read queue", err)
	}
	defer rows.Close()

	var records []*models.QueueRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read queue", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read queue", err)
	}
	return records, nil
}

// Get returns a single record.
func (s *QueueStore) Get(ctx context.Context, id string) (*models.QueueRecord, error) {
	conn, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	row := conn.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM sync_queue WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "read record", err)
	}
	return rec, nil
}

// Add inserts a new record. It fails with DUPLICATE if the id exists.
func (s *QueueStore) Add(ctx context.Context, rec *models.QueueRecord) error {
	conn, err := s.db(ctx)
	if err != nil {
		return err
	}

	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `INSERT INTO sync_queue (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Newf(apperrors.ErrDuplicate, "record %s already queued", rec.ID)
		}
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "insert record", err)
	}
	return nil
}

// Upsert inserts rec or replaces the stored record with the same id.
func (s *QueueStore) Upsert(ctx context.Context, rec *models.QueueRecord) error {
	conn, err := s.db(ctx)
	if err != nil {
		return err
	}

	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	query := `INSERT INTO sync_queue (` + recordColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		action = excluded.action,
		data = excluded.data,
		status = excluded.status,
		retry_count = excluded.retry_count,
		error = excluded.error,
		timestamp = excluded.timestamp`
	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "upsert record", err)
	}
	return nil
}

// Delete removes a record. Deleting a missing id is not an error.
func (s *QueueStore) Delete(ctx context.Context, id string) error {
	conn, err := s.db(ctx)
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageUnavailable, "delete record", err)
	}
	return nil
}

// ResetFailed moves a failed record back to pending so the next run retries it.
// RetryCount is preserved.
func (s *QueueStore) ResetFailed(ctx context.Context, id string) (*models.QueueRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.QueueStatusFailed {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "record %s is %s, not failed", id, rec.Status)
	}

	rec.Status = models.QueueStatusPending
	rec.Error = ""
	if err := s.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Stats returns record counts keyed by status, plus "total".
func (s *QueueStore) Stats(ctx context.Context) (map[string]int, error) {
	conn, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{"total": 0}
	stats[string(models.QueueStatusPending)] = 0
	stats[string(models.QueueStatusFailed)] = 0

	rows, err := conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "count records", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "count records", err)
		}
		stats[status] = count
		stats["total"] += count
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "count records", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.QueueRecord, error) {
	var rec models.QueueRecord
	var data string
	var status string
	var action string
	var errMsg sql.NullString

	if err := row.Scan(&rec.ID, &rec.Type, &action, &data, &status, &rec.RetryCount, &errMsg, &rec.Timestamp); err != nil {
		return nil, err
	}
	rec.Action = models.Action(action)
	rec.Status = models.QueueStatus(status)
	if errMsg.Valid {
		rec.Error = errMsg.String
	}

	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rec.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data of %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func recordArgs(rec *models.QueueRecord) ([]interface{}, error) {
	if rec == nil || rec.ID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "record id is required")
	}

	data := rec.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "marshal record data", err)
	}

	status := rec.Status
	if status == "" {
		status = models.QueueStatusPending
	}

	var errMsg sql.NullString
	if rec.Error != "" {
		errMsg = sql.NullString{String: rec.Error, Valid: true}
	}

	return []interface{}{
		rec.ID, rec.Type, string(rec.Action), string(payload), string(status),
		rec.RetryCount, errMsg, rec.Timestamp,
	}, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
