package bus

import (
	"bytes"
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pocketdo/pocketdo/internal/store"
	"github.com/pocketdo/pocketdo/internal/task"
)

func newTestBus(t *testing.T) (*store.Store, *Bus) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	b := New(st, log.New(io.Discard, "", 0))
	t.Cleanup(b.Close)
	return st, b
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	st, b := newTestBus(t)

	snapshots, cancel := b.Subscribe()
	defer cancel()

	tk := task.New("owner-1", "Watched")
	if err := st.UpsertLocal(context.Background(), tk); err != nil {
		t.Fatalf("UpsertLocal() failed: %v", err)
	}

	select {
	case tasks := <-snapshots:
		if len(tasks) != 1 || tasks[0].ID != tk.ID {
			t.Errorf("snapshot = %d tasks, want the upserted task", len(tasks))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func TestLatestWinsCoalescing(t *testing.T) {
	st, b := newTestBus(t)
	ctx := context.Background()

	snapshots, cancel := b.Subscribe()
	defer cancel()

	// Three mutations while the subscriber is not reading: intermediate
	// snapshots are dropped, only the newest is buffered.
	for _, title := range []string{"one", "two", "three"} {
		if err := st.UpsertLocal(ctx, task.New("owner-1", title)); err != nil {
			t.Fatalf("UpsertLocal(%s) failed: %v", title, err)
		}
	}

	select {
	case tasks := <-snapshots:
		if len(tasks) != 3 {
			t.Errorf("buffered snapshot has %d tasks, want the final list of 3", len(tasks))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	// Nothing else is queued.
	select {
	case tasks, ok := <-snapshots:
		if ok {
			t.Errorf("unexpected extra snapshot with %d tasks", len(tasks))
		}
	default:
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	st, b := newTestBus(t)
	ctx := context.Background()

	// slow never reads; fast must still see every latest state.
	_, cancelSlow := b.Subscribe()
	defer cancelSlow()
	fast, cancelFast := b.Subscribe()
	defer cancelFast()

	if err := st.UpsertLocal(ctx, task.New("owner-1", "first")); err != nil {
		t.Fatalf("UpsertLocal() failed: %v", err)
	}
	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved by slow subscriber")
	}

	if err := st.UpsertLocal(ctx, task.New("owner-1", "second")); err != nil {
		t.Fatalf("UpsertLocal() failed: %v", err)
	}
	select {
	case tasks := <-fast:
		if len(tasks) != 2 {
			t.Errorf("fast subscriber saw %d tasks, want 2", len(tasks))
		}
	case <-time.After(time.Second):
		t.Fatal("fast subscriber did not receive second snapshot")
	}
}

func TestCancelIdempotent(t *testing.T) {
	st, b := newTestBus(t)

	snapshots, cancel := b.Subscribe()
	cancel()
	cancel() // second cancel is a no-op

	if _, ok := <-snapshots; ok {
		t.Error("channel should be closed after cancel")
	}

	// Publishing after cancel must not panic.
	if err := st.UpsertLocal(context.Background(), task.New("owner-1", "after")); err != nil {
		t.Fatalf("UpsertLocal() failed: %v", err)
	}
}

func TestClose(t *testing.T) {
	_, b := newTestBus(t)

	snapshots, cancel := b.Subscribe()
	defer cancel()

	b.Close()
	b.Close() // safe to call twice

	if _, ok := <-snapshots; ok {
		t.Error("subscriber channels should close when the bus closes")
	}

	// Subscribing after Close yields a closed channel, not a hang.
	late, lateCancel := b.Subscribe()
	defer lateCancel()
	if _, ok := <-late; ok {
		t.Error("post-Close subscription should be closed immediately")
	}
}

func TestSubscriptionEventsLogged(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	var buf bytes.Buffer
	b := New(st, log.New(&buf, "[bus] ", 0))

	_, cancel := b.Subscribe()
	cancel()
	b.Close()

	out := buf.String()
	for _, want := range []string{"Subscriber added", "Subscriber removed", "Change bus closed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
