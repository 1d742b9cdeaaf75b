// File storage for datasets. The store owns the bytes on disk; the
// orchestration core references datasets by path and rewrites them wholesale.
package table

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vinayprograms/agentkit/logging"
)

// Store reads and writes a tabular dataset by path. The workflow assumes one
// run owns one file for its duration; there is no row-level locking.
type Store interface {
	Read(path string) (*Table, error)
	Write(path string, t *Table) error
}

// FileStore implements Store against the local filesystem.
type FileStore struct {
	logger *logging.Logger
}

// NewFileStore creates a new file-backed store.
func NewFileStore() *FileStore {
	return &FileStore{logger: logging.New().WithComponent("table")}
}

// Read loads and parses the CSV at path.
func (s *FileStore) Read(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	return ParseCSV(data)
}

// Write persists the table, then reads it back and compares against the
// in-memory result to catch silent write failures. A mismatch is logged, not
// fatal: the write may still be correct for a reader with different CSV quoting.
func (s *FileStore) Write(path string, t *Table) error {
	data, err := t.MarshalCSV()
	if err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing dataset: %w", err)
	}

	reread, err := s.Read(path)
	if err != nil {
		s.logger.Warn("post-write verification read failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return nil
	}
	if !reread.Equal(t) {
		s.logger.Warn("post-write verification mismatch", map[string]interface{}{
			"path":          path,
			"written_rows":  t.NumRows(),
			"reread_rows":   reread.NumRows(),
			"written_cols":  t.NumColumns(),
			"reread_cols":   reread.NumColumns(),
		})
	} else {
		s.logger.Debug("post-write verification ok", map[string]interface{}{
			"path": path,
			"rows": t.NumRows(),
		})
	}
	return nil
}

// Watcher observes a dataset file and flags writes that did not come from the
// store. The design assumes one workflow owns one file; the watcher only warns
// when that assumption is violated, it never synchronizes access.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	path    string

	mu         sync.Mutex
	ownUntil   time.Time // events before this are our own writes
	external   bool      // an unexpected write was seen
	done       chan struct{}
}

// NewWatcher starts watching the directory containing path.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the parent: editors replace files by rename, which drops a watch
	// on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		watcher: fw,
		logger:  logging.New().WithComponent("table-watch"),
		path:    filepath.Clean(path),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// ExpectWrite opens a short window during which file events are attributed to
// the store's own write. A single WriteFile can surface as several events, so
// a time window is used rather than an event count.
func (w *Watcher) ExpectWrite() {
	w.mu.Lock()
	w.ownUntil = time.Now().Add(500 * time.Millisecond)
	w.mu.Unlock()
}

// ExternalChange reports whether the file changed outside the store.
func (w *Watcher) ExternalChange() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.external
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			if time.Now().Before(w.ownUntil) {
				// our own write
			} else {
				w.external = true
				w.logger.Warn("dataset modified outside the workflow", map[string]interface{}{
					"path": w.path,
					"op":   event.Op.String(),
				})
			}
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watch error", map[string]interface{}{"error": err.Error()})
		}
	}
}
