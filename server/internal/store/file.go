package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/obot-platform/fleetdeck/server/internal/logger"
	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// fileDocument is the on-disk layout of the custom servers file.
type fileDocument struct {
	Servers []model.CustomEndpoint `yaml:"servers"`
}

// FileStore keeps the list in a YAML file. Reads are served from a cache
// that is dropped whenever the file changes on disk.
type FileStore struct {
	path string
	log  *logger.Logger

	mu     sync.Mutex
	cache  []model.CustomEndpoint
	loaded bool
	closed bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileStore creates a FileStore for path, creating its directory if
// needed. Edits made to the file by hand are picked up on the next Load.
func NewFileStore(path string, log *logger.Logger) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	s := &FileStore{
		path: path,
		log:  log.Named("store"),
		done: make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn("file watching unavailable, cache disabled", "error", err)
		return s, nil
	}
	// Watch the directory so atomic renames are observed.
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		s.log.Warn("file watching unavailable, cache disabled", "error", err)
		return s, nil
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

func (s *FileStore) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			s.mu.Lock()
			s.loaded = false
			s.cache = nil
			s.mu.Unlock()
			s.log.Debug("custom servers file changed", "op", event.Op.String())
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("file watcher error", "error", err)
		}
	}
}

// Load returns the stored endpoints. A missing file is an empty list.
func (s *FileStore) Load(ctx context.Context) ([]model.CustomEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.loaded && s.watcher != nil {
		return clone(s.cache), nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.cache, s.loaded = nil, true
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	for i := range doc.Servers {
		doc.Servers[i].Position = i
	}
	s.cache, s.loaded = doc.Servers, true
	return clone(s.cache), nil
}

// Save replaces the file contents atomically.
func (s *FileStore) Save(ctx context.Context, endpoints []model.CustomEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	data, err := yaml.Marshal(fileDocument{Servers: endpoints})
	if err != nil {
		return fmt.Errorf("encode custom servers: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".servers-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	s.cache, s.loaded = clone(endpoints), true
	return nil
}

// Close stops the file watcher.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
