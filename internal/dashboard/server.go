// Package dashboard provides a real-time WebSocket view of the sync engine.
//
// The server broadcasts sync status transitions and the materialized active
// task list to connected clients. It is a pure consumer: it subscribes to
// the change bus and reads the status projection, and never writes to the
// store or the engine.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pocketdo/pocketdo/internal/bus"
	"github.com/pocketdo/pocketdo/internal/syncer"
	"github.com/pocketdo/pocketdo/internal/task"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeTasks carries the full materialized active task list.
	MessageTypeTasks MessageType = "tasks"

	// MessageTypeSyncStatus carries the sync status projection.
	MessageTypeSyncStatus MessageType = "sync_status"
)

// Message represents a dashboard broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SyncStatusData mirrors the sync status projection for the wire.
type SyncStatusData struct {
	PendingChanges int        `json:"pending_changes"`
	Syncing        bool       `json:"syncing"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Server manages WebSocket connections and broadcasts task and sync events.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	tasks  *bus.Bus
	status func() syncer.Status

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pollInterval time.Duration
	logger       *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8099).
	Port int

	// StatusPollInterval is how often the status projection is sampled
	// for changes (default: 1s).
	StatusPollInterval time.Duration

	// Logger for server activity (default: log.Default()).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:               8099,
		StatusPollInterval: time.Second,
		Logger:             log.Default(),
	}
}

// NewServer creates a dashboard server fed by the given change bus and
// status projection reader.
func NewServer(tasks *bus.Bus, status func() syncer.Status, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.StatusPollInterval <= 0 {
		config.StatusPollInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		tasks:     tasks,
		status:    status,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,

		pollInterval: config.StatusPollInterval,
		logger:       config.Logger,
	}
}

// Start begins the HTTP server, the broadcast loop, and the feeds from the
// change bus and the status projection.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	if s.tasks != nil {
		snapshots, cancelSub := s.tasks.Subscribe()
		s.wg.Add(1)
		go s.taskFeed(snapshots, cancelSub)
	}

	if s.status != nil {
		s.wg.Add(1)
		go s.statusFeed()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// taskFeed pushes task-list snapshots from the change bus to clients.
func (s *Server) taskFeed(snapshots <-chan []*task.Task, cancelSub func()) {
	defer s.wg.Done()
	defer cancelSub()

	for {
		select {
		case <-s.ctx.Done():
			return
		case tasks, ok := <-snapshots:
			if !ok {
				return
			}
			data, err := json.Marshal(tasks)
			if err != nil {
				s.logger.Printf("Failed to marshal task list: %v", err)
				continue
			}
			s.Broadcast(Message{Type: MessageTypeTasks, Data: data})
		}
	}
}

// statusFeed samples the status projection and broadcasts transitions.
func (s *Server) statusFeed() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last *syncer.Status
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			cur := s.status()
			if last != nil && statusEqual(*last, cur) {
				continue
			}
			last = &cur

			data, err := json.Marshal(SyncStatusData{
				PendingChanges: cur.PendingChanges,
				Syncing:        cur.Syncing,
				LastSync:       cur.LastSync,
				Error:          cur.Error,
			})
			if err != nil {
				continue
			}
			s.Broadcast(Message{Type: MessageTypeSyncStatus, Data: data})
		}
	}
}

func statusEqual(a, b syncer.Status) bool {
	if a.PendingChanges != b.PendingChanges || a.Syncing != b.Syncing || a.Error != b.Error {
		return false
	}
	switch {
	case a.LastSync == nil && b.LastSync == nil:
		return true
	case a.LastSync == nil || b.LastSync == nil:
		return false
	default:
		return a.LastSync.Equal(*b.LastSync)
	}
}

// Broadcast sends a message to all connected clients. Messages are dropped
// rather than blocking producers when the channel is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message delivery to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the lock so a slow client cannot block
			// new connections.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Send the current status right away so new clients aren't blank
	// until the next transition.
	if s.status != nil {
		cur := s.status()
		if data, err := json.Marshal(SyncStatusData{
			PendingChanges: cur.PendingChanges,
			Syncing:        cur.Syncing,
			LastSync:       cur.LastSync,
			Error:          cur.Error,
		}); err == nil {
			s.Broadcast(Message{Type: MessageTypeSyncStatus, Data: data})
		}
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
