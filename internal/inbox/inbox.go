// Package inbox imports task JSON files dropped into a watched folder.
//
// The inbox lets other tools capture tasks while the app is offline: any
// *.json file written to the inbox directory is validated, upserted into the
// record store as a dirty record (so it queues for sync), and moved to a
// processed/ subdirectory. Rapid writes are debounced so partially written
// files are not picked up mid-write.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pocketdo/pocketdo/internal/store"
	"github.com/pocketdo/pocketdo/internal/task"
)

// Config holds importer configuration.
type Config struct {
	// DebounceInterval is how long a file must be quiet before import.
	DebounceInterval time.Duration

	// Logger for importer activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[inbox] ", log.LstdFlags),
	}
}

// Importer watches the inbox directory and feeds dropped files into the
// record store.
type Importer struct {
	store  *store.Store
	dir    string
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an importer for the given inbox directory.
func New(st *store.Store, dir string) (*Importer, error) {
	return NewWithConfig(st, dir, DefaultConfig())
}

// NewWithConfig creates an importer with custom configuration.
func NewWithConfig(st *store.Store, dir string, config *Config) (*Importer, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("inbox directory cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Importer{
		store:       st,
		dir:         dir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins watching the inbox. Files already present are imported
// first. This blocks until ctx is cancelled.
func (im *Importer) Start(ctx context.Context) error {
	if err := os.MkdirAll(im.dir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}
	if err := os.MkdirAll(im.processedDir(), 0755); err != nil {
		return fmt.Errorf("failed to create processed directory: %w", err)
	}

	// Drain anything dropped while we were not running.
	if err := im.importExisting(); err != nil {
		return err
	}

	if err := im.watcher.Add(im.dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}

	im.config.Logger.Printf("Watching inbox: %s", im.dir)

	im.wg.Add(2)
	go im.watchFileEvents()
	go im.processChangeQueue()

	select {
	case <-ctx.Done():
		return im.Stop()
	case <-im.ctx.Done():
		return nil
	}
}

// Stop shuts down the importer and waits for in-flight imports.
func (im *Importer) Stop() error {
	im.cancel()

	if err := im.watcher.Close(); err != nil {
		im.config.Logger.Printf("Error closing watcher: %v", err)
	}

	im.wg.Wait()
	return nil
}

func (im *Importer) processedDir() string {
	return filepath.Join(im.dir, "processed")
}

// importExisting imports all JSON files already in the inbox.
// Individual file failures are logged but don't stop the scan.
func (im *Importer) importExisting() error {
	entries, err := os.ReadDir(im.dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(im.dir, entry.Name())
		if err := im.importFile(path); err != nil {
			im.config.Logger.Printf("WARNING: failed to import %s: %v", entry.Name(), err)
		}
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (im *Importer) watchFileEvents() {
	defer im.wg.Done()

	for {
		select {
		case <-im.ctx.Done():
			return

		case event, ok := <-im.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if filepath.Dir(event.Name) != im.dir {
				continue
			}
			im.queueChange(event.Name)

		case err, ok := <-im.watcher.Errors:
			if !ok {
				return
			}
			im.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (im *Importer) queueChange(path string) {
	im.changeQueueMu.Lock()
	defer im.changeQueueMu.Unlock()
	im.changeQueue[path] = time.Now()
}

// processChangeQueue imports files that have been quiet for long enough.
func (im *Importer) processChangeQueue() {
	defer im.wg.Done()

	ticker := time.NewTicker(im.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-im.ctx.Done():
			return
		case <-ticker.C:
			im.processPendingChanges()
		}
	}
}

func (im *Importer) processPendingChanges() {
	im.changeQueueMu.Lock()
	defer im.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range im.changeQueue {
		if now.Sub(queuedAt) < im.config.DebounceInterval {
			continue
		}
		delete(im.changeQueue, path)

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := im.importFile(path); err != nil {
			im.config.Logger.Printf("Error importing %s: %v", path, err)
		}
	}
}

// importFile reads one dropped task file, upserts it as a dirty record, and
// moves the file to processed/.
func (im *Importer) importFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read inbox file: %w", err)
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("failed to parse inbox file: %w", err)
	}
	if t.ID == "" {
		t.ID = task.NewID()
	}
	t.SetDefaults()

	if err := im.store.UpsertLocal(im.ctx, &t); err != nil {
		return fmt.Errorf("failed to store imported task: %w", err)
	}

	dest := filepath.Join(im.processedDir(), filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		im.config.Logger.Printf("WARNING: failed to archive %s: %v", path, err)
	}

	im.config.Logger.Printf("Imported task: %s (%s)", t.ID, t.Title)
	return nil
}
