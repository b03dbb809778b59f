// Package task defines the canonical Task record and its sync lifecycle
// metadata.
//
// A Task is created locally (so creation works offline) with a uuid identity
// that is never reassigned. Every local or remote mutation bumps UpdatedAt,
// which is the timestamp used for last-write-wins conflict resolution during
// sync.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordStatus tracks where a record stands relative to the remote authority.
type RecordStatus string

const (
	// StatusClean means the record matches the last known server state.
	StatusClean RecordStatus = "clean"

	// StatusDirty means the record was mutated locally since the last sync.
	StatusDirty RecordStatus = "dirty"

	// StatusTombstoned means the record was deleted locally and is retained
	// until the remote delete is acknowledged, then purged.
	StatusTombstoned RecordStatus = "tombstoned"
)

// Priority is the user-facing task priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the defined priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Reminder describes when the user wants to be notified about a task.
type Reminder struct {
	At     time.Time `json:"at"`
	Offset string    `json:"offset,omitempty"` // e.g. "-15m" relative to StartAt
}

// Recurrence describes a repeating schedule.
type Recurrence struct {
	Rule  string     `json:"rule"` // e.g. "daily", "weekly", "monthly"
	Until *time.Time `json:"until,omitempty"`
}

// Location is an optional place attached to a task.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Task is the canonical unit of work.
//
// Fields under "Sync metadata" are not user-visible; they are maintained by
// the store and the sync engine.
type Task struct {
	// ===== Identity & Ownership =====
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	// ===== Content =====
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`

	// ===== Scheduling =====
	StartAt  *time.Time    `json:"start_at,omitempty"`
	EndAt    *time.Time    `json:"end_at,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	// ===== Classification =====
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Priority Priority `json:"priority"`

	// ===== Extras =====
	Location        *Location   `json:"location,omitempty"`
	Reminder        *Reminder   `json:"reminder,omitempty"`
	Recurrence      *Recurrence `json:"recurrence,omitempty"`
	CalendarEventID string      `json:"calendar_event_id,omitempty"`

	// ===== Sync metadata =====
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	SyncedAt  *time.Time   `json:"synced_at,omitempty"`
	Status    RecordStatus `json:"status"`
}

// NewID generates a new task identifier. IDs are created locally so that
// task creation works offline.
func NewID() string {
	return uuid.NewString()
}

// New returns a dirty, never-synced task with defaults applied.
func New(ownerID, title string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        NewID(),
		OwnerID:   ownerID,
		Title:     title,
		Priority:  PriorityMedium,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
		Status:    StatusDirty,
	}
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("priority must be low, medium, or high (got %q)", t.Priority)
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return fmt.Errorf("updated_at must not precede created_at")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Status == "" {
		t.Status = StatusDirty
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
}

// Touch sets UpdatedAt to current time. Call whenever any field is modified.
func (t *Task) Touch() {
	t.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.StartAt != nil {
		v := *t.StartAt
		c.StartAt = &v
	}
	if t.EndAt != nil {
		v := *t.EndAt
		c.EndAt = &v
	}
	if t.SyncedAt != nil {
		v := *t.SyncedAt
		c.SyncedAt = &v
	}
	if t.Location != nil {
		v := *t.Location
		c.Location = &v
	}
	if t.Reminder != nil {
		v := *t.Reminder
		c.Reminder = &v
	}
	if t.Recurrence != nil {
		v := *t.Recurrence
		if t.Recurrence.Until != nil {
			u := *t.Recurrence.Until
			v.Until = &u
		}
		c.Recurrence = &v
	}
	return &c
}
