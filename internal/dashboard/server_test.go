package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/pocketdo/pocketdo/internal/bus"
	"github.com/pocketdo/pocketdo/internal/store"
	"github.com/pocketdo/pocketdo/internal/syncer"
	"github.com/pocketdo/pocketdo/internal/task"
)

func testConfig() *Config {
	return &Config{
		Port:               0, // random free port
		StatusPollInterval: 10 * time.Millisecond,
		Logger:             log.New(io.Discard, "", 0),
	}
}

func startServer(t *testing.T, status func() syncer.Status) (*store.Store, *Server, string) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	b := bus.New(st, log.New(io.Discard, "", 0))
	t.Cleanup(b.Close)

	srv := NewServer(b, status, testConfig())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	_, port, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort(%s) failed: %v", srv.Addr(), err)
	}
	return st, srv, "127.0.0.1:" + port
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readUntil reads messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read() failed waiting for %s: %v", want, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("malformed message: %v", err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func TestNewClientReceivesCurrentStatus(t *testing.T) {
	status := func() syncer.Status {
		return syncer.Status{PendingChanges: 2, Syncing: true}
	}
	_, _, addr := startServer(t, status)

	conn := dial(t, addr)
	msg := readUntil(t, conn, MessageTypeSyncStatus)

	var got SyncStatusData
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal status failed: %v", err)
	}
	if got.PendingChanges != 2 || !got.Syncing {
		t.Errorf("status = %+v, want pending=2 syncing=true", got)
	}
}

func TestTaskMutationsAreBroadcast(t *testing.T) {
	st, _, addr := startServer(t, func() syncer.Status { return syncer.Status{} })

	conn := dial(t, addr)

	tk := task.New("owner-1", "Broadcast me")
	if err := st.UpsertLocal(context.Background(), tk); err != nil {
		t.Fatalf("UpsertLocal() failed: %v", err)
	}

	msg := readUntil(t, conn, MessageTypeTasks)

	var tasks []*task.Task
	if err := json.Unmarshal(msg.Data, &tasks); err != nil {
		t.Fatalf("unmarshal task list failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != tk.ID {
		t.Errorf("broadcast list = %d tasks, want the upserted task", len(tasks))
	}
}

func TestStatusTransitionsAreDeduplicated(t *testing.T) {
	var pending atomic.Int64
	status := func() syncer.Status {
		return syncer.Status{PendingChanges: int(pending.Load())}
	}
	_, srv, addr := startServer(t, status)

	conn := dial(t, addr)
	readUntil(t, conn, MessageTypeSyncStatus) // initial snapshot

	// The poller samples every 10ms; an unchanged status produces no
	// further messages until it actually transitions.
	pending.Store(5)
	msg := readUntil(t, conn, MessageTypeSyncStatus)
	var got SyncStatusData
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal status failed: %v", err)
	}
	if got.PendingChanges != 5 {
		t.Errorf("PendingChanges = %d, want 5", got.PendingChanges)
	}

	if srv.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", srv.ClientCount())
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, _, addr := startServer(t, func() syncer.Status { return syncer.Status{} })

	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("health status = %q, want ok", body.Status)
	}
}

func TestStopDisconnectsClients(t *testing.T) {
	_, srv, addr := startServer(t, func() syncer.Status { return syncer.Status{} })

	conn := dial(t, addr)
	readUntil(t, conn, MessageTypeSyncStatus)

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("client read should fail after the server stops")
	}
	if srv.ClientCount() != 0 {
		t.Errorf("ClientCount() after Stop = %d, want 0", srv.ClientCount())
	}
}
