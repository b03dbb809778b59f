package task

import (
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tk := New("owner-1", "Buy milk")

	if tk.ID == "" {
		t.Error("New() should assign an id")
	}
	if tk.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q, want %q", tk.OwnerID, "owner-1")
	}
	if tk.Title != "Buy milk" {
		t.Errorf("Title = %q, want %q", tk.Title, "Buy milk")
	}
	if tk.Status != StatusDirty {
		t.Errorf("Status = %q, want %q", tk.Status, StatusDirty)
	}
	if tk.Priority != PriorityMedium {
		t.Errorf("Priority = %q, want %q", tk.Priority, PriorityMedium)
	}
	if tk.SyncedAt != nil {
		t.Error("a new task should never have synced_at set")
	}
	if tk.UpdatedAt.Before(tk.CreatedAt) {
		t.Error("UpdatedAt should not precede CreatedAt")
	}

	other := New("owner-1", "Buy milk")
	if other.ID == tk.ID {
		t.Error("ids should be unique across New() calls")
	}
}

func TestValidate(t *testing.T) {
	now := time.Now().UTC()

	valid := func() *Task {
		return &Task{
			ID:        NewID(),
			OwnerID:   "owner-1",
			Title:     "Task",
			Priority:  PriorityLow,
			CreatedAt: now,
			UpdatedAt: now,
			Status:    StatusDirty,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr bool
	}{
		{
			name:   "valid task",
			mutate: func(tk *Task) {},
		},
		{
			name:    "missing id",
			mutate:  func(tk *Task) { tk.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing title",
			mutate:  func(tk *Task) { tk.Title = "" },
			wantErr: true,
		},
		{
			name:   "title at limit",
			mutate: func(tk *Task) { tk.Title = strings.Repeat("x", 500) },
		},
		{
			name:    "title too long",
			mutate:  func(tk *Task) { tk.Title = strings.Repeat("x", 501) },
			wantErr: true,
		},
		{
			name:    "unknown priority",
			mutate:  func(tk *Task) { tk.Priority = "urgent" },
			wantErr: true,
		},
		{
			name:    "zero created_at",
			mutate:  func(tk *Task) { tk.CreatedAt = time.Time{} },
			wantErr: true,
		},
		{
			name:    "updated_at before created_at",
			mutate:  func(tk *Task) { tk.UpdatedAt = tk.CreatedAt.Add(-time.Hour) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := valid()
			tt.mutate(tk)
			err := tk.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetDefaults(t *testing.T) {
	tk := &Task{ID: NewID(), Title: "Bare"}
	tk.SetDefaults()

	if tk.Priority != PriorityMedium {
		t.Errorf("Priority = %q, want %q", tk.Priority, PriorityMedium)
	}
	if tk.Tags == nil {
		t.Error("Tags should default to an empty slice")
	}
	if tk.Status != StatusDirty {
		t.Errorf("Status = %q, want %q", tk.Status, StatusDirty)
	}
	if tk.CreatedAt.IsZero() || tk.UpdatedAt.IsZero() {
		t.Error("timestamps should be filled in")
	}
	if err := tk.Validate(); err != nil {
		t.Errorf("task should validate after SetDefaults: %v", err)
	}
}

func TestTouch(t *testing.T) {
	tk := New("owner-1", "Task")
	before := tk.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	tk.Touch()

	if !tk.UpdatedAt.After(before) {
		t.Error("Touch should bump UpdatedAt")
	}
}

func TestClone(t *testing.T) {
	due := time.Now().UTC().Add(24 * time.Hour)
	until := due.Add(7 * 24 * time.Hour)
	tk := New("owner-1", "Original")
	tk.Tags = []string{"home", "errand"}
	tk.EndAt = &due
	tk.Location = &Location{Name: "Office"}
	tk.Recurrence = &Recurrence{Rule: "weekly", Until: &until}

	c := tk.Clone()

	c.Title = "Changed"
	c.Tags[0] = "work"
	*c.EndAt = c.EndAt.Add(time.Hour)
	c.Location.Name = "Home"
	*c.Recurrence.Until = c.Recurrence.Until.Add(time.Hour)

	if tk.Title != "Original" {
		t.Error("clone shares Title with the original")
	}
	if tk.Tags[0] != "home" {
		t.Error("clone shares Tags with the original")
	}
	if !tk.EndAt.Equal(due) {
		t.Error("clone shares EndAt with the original")
	}
	if tk.Location.Name != "Office" {
		t.Error("clone shares Location with the original")
	}
	if !tk.Recurrence.Until.Equal(until) {
		t.Error("clone shares Recurrence.Until with the original")
	}
}
