package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pocketdo/pocketdo/internal/store"
	"github.com/pocketdo/pocketdo/internal/task"
)

func testConfig() *Config {
	return &Config{
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

func startImporter(t *testing.T) (*store.Store, string) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "tasks.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	inboxDir := filepath.Join(dir, "inbox")
	im, err := NewWithConfig(st, inboxDir, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := im.Start(ctx); err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("importer did not stop")
		}
	})

	// Wait until the watcher has the directories in place.
	waitFor(t, "inbox ready", func() bool {
		_, err := os.Stat(filepath.Join(inboxDir, "processed"))
		return err == nil
	})

	return st, inboxDir
}

func dropFile(t *testing.T, dir, name string, tk *task.Task) {
	t.Helper()

	data, err := json.Marshal(tk)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestImportDroppedFile(t *testing.T) {
	st, inboxDir := startImporter(t)
	ctx := context.Background()

	tk := task.New("owner-1", "From the inbox")
	dropFile(t, inboxDir, "capture.json", tk)

	waitFor(t, "task imported", func() bool {
		_, err := st.Get(ctx, tk.ID)
		return err == nil
	})

	stored, err := st.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if stored.Title != "From the inbox" {
		t.Errorf("Title = %q, want the dropped content", stored.Title)
	}
	if stored.Status != task.StatusDirty {
		t.Errorf("Status = %q, want dirty so the import queues for sync", stored.Status)
	}

	// The file is archived, not left to be imported again.
	waitFor(t, "file archived", func() bool {
		_, err := os.Stat(filepath.Join(inboxDir, "processed", "capture.json"))
		return err == nil
	})
	if _, err := os.Stat(filepath.Join(inboxDir, "capture.json")); !os.IsNotExist(err) {
		t.Error("imported file should be moved out of the inbox")
	}
}

func TestImportAssignsMissingID(t *testing.T) {
	st, inboxDir := startImporter(t)

	// Hand-written capture files usually have no id.
	dropFile(t, inboxDir, "bare.json", &task.Task{Title: "No id"})

	waitFor(t, "task imported", func() bool {
		tasks, err := st.QueryActive(context.Background())
		return err == nil && len(tasks) == 1
	})

	tasks, err := st.QueryActive(context.Background())
	if err != nil {
		t.Fatalf("QueryActive() failed: %v", err)
	}
	if tasks[0].ID == "" {
		t.Error("import should assign an id when the file has none")
	}
}

func TestImportExistingOnStart(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "tasks.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	defer st.Close()

	// File dropped while the importer was not running.
	inboxDir := filepath.Join(dir, "inbox")
	if err := os.MkdirAll(inboxDir, 0755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	tk := task.New("owner-1", "Dropped while down")
	data, _ := json.Marshal(tk)
	if err := os.WriteFile(filepath.Join(inboxDir, "old.json"), data, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	im, err := NewWithConfig(st, inboxDir, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = im.Start(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "backlog imported", func() bool {
		_, err := st.Get(context.Background(), tk.ID)
		return err == nil
	})
}

func TestIgnoresNonJSONFiles(t *testing.T) {
	st, inboxDir := startImporter(t)

	if err := os.WriteFile(filepath.Join(inboxDir, "notes.txt"), []byte("not a task"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Give the debounce loop a chance to run, then confirm nothing landed.
	time.Sleep(100 * time.Millisecond)
	tasks, err := st.QueryActive(context.Background())
	if err != nil {
		t.Fatalf("QueryActive() failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("imported %d tasks from a .txt file, want 0", len(tasks))
	}
}

func TestMalformedFileIsSkipped(t *testing.T) {
	st, inboxDir := startImporter(t)

	if err := os.WriteFile(filepath.Join(inboxDir, "broken.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	tasks, err := st.QueryActive(context.Background())
	if err != nil {
		t.Fatalf("QueryActive() failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("imported %d tasks from a malformed file, want 0", len(tasks))
	}

	// A good file dropped afterwards still imports; one bad file does not
	// wedge the importer.
	tk := task.New("owner-1", "Still alive")
	dropFile(t, inboxDir, "good.json", tk)
	waitFor(t, "subsequent import", func() bool {
		_, err := st.Get(context.Background(), tk.ID)
		return !errors.Is(err, store.ErrNotFound) && err == nil
	})
}
