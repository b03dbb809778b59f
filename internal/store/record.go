package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pocketdo/pocketdo/internal/task"
)

const taskColumns = `id, owner_id, title, description, completed,
	start_at, end_at, duration_ns, category, tags, priority,
	location, reminder, recurrence, calendar_event_id,
	created_at, updated_at, synced_at, record_status`

// UpsertLocal inserts or replaces a record as the result of a user edit.
//
// The record is marked dirty and its updated_at is bumped to now, which
// queues it for the next push phase. Returns ErrValidation if the task is
// malformed (e.g. empty title); invalid mutations never reach the network.
func (s *Store) UpsertLocal(ctx context.Context, t *task.Task) error {
	t.SetDefaults()
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	t.Status = task.StatusDirty
	t.UpdatedAt = time.Now().UTC()

	if err := s.writeTask(ctx, t); err != nil {
		return err
	}

	s.notify(ctx)
	return nil
}

// MarkDeleted soft-deletes a record.
//
// The record becomes a tombstone that is retained until the remote delete is
// acknowledged, then purged. Returns ErrNotFound if the id is absent.
func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.execContext(ctx, `
		UPDATE tasks SET record_status = ?, updated_at = ?
		WHERE id = ?`,
		string(task.StatusTombstoned), time.Now().UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("failed to mark task %s deleted: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.notify(ctx)
	return nil
}

// ApplyRemote overwrites local fields with the remote copy, marking the
// record clean with synced_at = now.
//
// Used only by the sync engine. Conflict rule is last-write-wins by
// updated_at with ties broken in favor of the remote copy: if a local dirty
// (or tombstoned) record with a strictly newer updated_at exists for the
// same id, the remote write is discarded and the local record stays queued
// for the next push. Returns whether the remote copy was applied.
func (s *Store) ApplyRemote(ctx context.Context, remote *task.Task, remoteUpdatedAt time.Time) (bool, error) {
	remote.SetDefaults()
	if err := remote.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	local, err := s.get(ctx, remote.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if local != nil && local.Status != task.StatusClean && local.UpdatedAt.After(remoteUpdatedAt) {
		// Local edit is strictly newer: keep it, it overwrites the server
		// on the next push.
		return false, nil
	}

	applied := remote.Clone()
	applied.UpdatedAt = remoteUpdatedAt
	if local != nil {
		applied.CreatedAt = local.CreatedAt
	}
	if applied.UpdatedAt.Before(applied.CreatedAt) {
		applied.CreatedAt = applied.UpdatedAt
	}
	now := time.Now().UTC()
	applied.SyncedAt = &now
	applied.Status = task.StatusClean

	if err := s.writeTask(ctx, applied); err != nil {
		return false, err
	}

	s.notify(ctx)
	return true, nil
}

// ApplyRemoteDelete removes a record in response to a remote tombstone.
//
// A local dirty or tombstoned record with a strictly newer updated_at is
// preserved; anything else is removed. Applying a delete for an id that does
// not exist is a no-op (idempotent). Returns whether the record was removed.
func (s *Store) ApplyRemoteDelete(ctx context.Context, id string, remoteUpdatedAt time.Time) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	local, err := s.get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if local.Status != task.StatusClean && local.UpdatedAt.After(remoteUpdatedAt) {
		return false, nil
	}

	if _, err := s.execContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to apply remote delete for %s: %w", id, err)
	}

	s.notify(ctx)
	return true, nil
}

// Purge permanently removes a tombstoned record after the remote delete has
// been acknowledged. Returns ErrInvariant if the record is not tombstoned
// and ErrNotFound if it is absent.
func (s *Store) Purge(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	local, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if local.Status != task.StatusTombstoned {
		return fmt.Errorf("%w: cannot purge %s with status %s", ErrInvariant, id, local.Status)
	}

	if _, err := s.execContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to purge task %s: %w", id, err)
	}

	s.notify(ctx)
	return nil
}

// MarkCleanIf marks a dirty record clean with the given synced_at, but only
// if its updated_at still equals ifUpdatedAt.
//
// The sync engine snapshots updated_at before issuing a push; if the user
// edited the record while the push was in flight the timestamps differ, the
// update is skipped, and the record stays dirty for the next cycle. Returns
// whether the record was marked clean.
func (s *Store) MarkCleanIf(ctx context.Context, id string, ifUpdatedAt, syncedAt time.Time) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.execContext(ctx, `
		UPDATE tasks SET record_status = ?, synced_at = ?
		WHERE id = ? AND updated_at = ? AND record_status = ?`,
		string(task.StatusClean),
		syncedAt.UTC().Format(timeFormat),
		id,
		ifUpdatedAt.UTC().Format(timeFormat),
		string(task.StatusDirty))
	if err != nil {
		return false, fmt.Errorf("failed to mark task %s clean: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check clean result: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	s.notify(ctx)
	return true, nil
}

// Get retrieves a single task by ID. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.get(ctx, id)
}

func (s *Store) get(ctx context.Context, id string) (*task.Task, error) {
	if s.conn == nil {
		return nil, ErrClosed
	}
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// QueryActive returns all non-tombstoned tasks ordered by updated_at
// descending. This is the materialized list delivered to observers; it is
// restartable and never an open cursor.
func (s *Store) QueryActive(ctx context.Context) ([]*task.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE record_status != ?
		ORDER BY updated_at DESC`,
		string(task.StatusTombstoned))
}

// QueryDirty returns the sync work queue: dirty and tombstoned records,
// oldest edit first so long-pending changes are pushed before fresh ones.
func (s *Store) QueryDirty(ctx context.Context) ([]*task.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE record_status != ?
		ORDER BY updated_at ASC`,
		string(task.StatusClean))
}

// PendingCount returns the number of dirty and tombstoned records.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	if s.conn == nil {
		return 0, ErrClosed
	}
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE record_status != ?`,
		string(task.StatusClean)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	return count, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*task.Task, error) {
	if s.conn == nil {
		return nil, ErrClosed
	}
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// writeTask inserts or replaces the full row for t.
func (s *Store) writeTask(ctx context.Context, t *task.Task) error {
	tagsJSON, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	INSERT INTO tasks (
		id, owner_id, title, description, completed,
		start_at, end_at, duration_ns, category, tags, priority,
		location, reminder, recurrence, calendar_event_id,
		created_at, updated_at, synced_at, record_status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		title = excluded.title,
		description = excluded.description,
		completed = excluded.completed,
		start_at = excluded.start_at,
		end_at = excluded.end_at,
		duration_ns = excluded.duration_ns,
		category = excluded.category,
		tags = excluded.tags,
		priority = excluded.priority,
		location = excluded.location,
		reminder = excluded.reminder,
		recurrence = excluded.recurrence,
		calendar_event_id = excluded.calendar_event_id,
		updated_at = excluded.updated_at,
		synced_at = excluded.synced_at,
		record_status = excluded.record_status
	`

	_, err = s.execContext(ctx, query,
		t.ID,
		t.OwnerID,
		t.Title,
		t.Description,
		boolToInt(t.Completed),
		timeToNullString(t.StartAt),
		timeToNullString(t.EndAt),
		int64(t.Duration),
		t.Category,
		string(tagsJSON),
		string(t.Priority),
		jsonOrNull(t.Location),
		jsonOrNull(t.Reminder),
		jsonOrNull(t.Recurrence),
		t.CalendarEventID,
		t.CreatedAt.UTC().Format(timeFormat),
		t.UpdatedAt.UTC().Format(timeFormat),
		timeToNullString(t.SyncedAt),
		string(t.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to write task %s: %w", t.ID, err)
	}

	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var completed int
	var durationNS int64
	var tagsJSON, priority, status string
	var createdAt, updatedAt string
	var startAt, endAt, syncedAt sql.NullString
	var location, reminder, recurrence sql.NullString

	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&t.Title,
		&t.Description,
		&completed,
		&startAt,
		&endAt,
		&durationNS,
		&t.Category,
		&tagsJSON,
		&priority,
		&location,
		&reminder,
		&recurrence,
		&t.CalendarEventID,
		&createdAt,
		&updatedAt,
		&syncedAt,
		&status,
	)
	if err != nil {
		return nil, err
	}

	t.Completed = completed != 0
	t.Duration = time.Duration(durationNS)
	t.Priority = task.Priority(priority)
	t.Status = task.RecordStatus(status)

	if ts, err := time.Parse(timeFormat, createdAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := time.Parse(timeFormat, updatedAt); err == nil {
		t.UpdatedAt = ts
	}
	t.StartAt = nullStringToTime(startAt)
	t.EndAt = nullStringToTime(endAt)
	t.SyncedAt = nullStringToTime(syncedAt)

	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	} else {
		t.Tags = []string{}
	}

	if location.Valid {
		t.Location = &task.Location{}
		if err := json.Unmarshal([]byte(location.String), t.Location); err != nil {
			return nil, fmt.Errorf("failed to unmarshal location: %w", err)
		}
	}
	if reminder.Valid {
		t.Reminder = &task.Reminder{}
		if err := json.Unmarshal([]byte(reminder.String), t.Reminder); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reminder: %w", err)
		}
	}
	if recurrence.Valid {
		t.Recurrence = &task.Recurrence{}
		if err := json.Unmarshal([]byte(recurrence.String), t.Recurrence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recurrence: %w", err)
		}
	}

	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// jsonOrNull marshals v, returning SQL NULL for nil pointers.
func jsonOrNull(v interface{}) sql.NullString {
	switch x := v.(type) {
	case *task.Location:
		if x == nil {
			return sql.NullString{}
		}
	case *task.Reminder:
		if x == nil {
			return sql.NullString{}
		}
	case *task.Recurrence:
		if x == nil {
			return sql.NullString{}
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}
