// Package persona supplies the system persona text sent as the first
// turn of every assembled context, reloading it when the backing file
// changes.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultText is used while no persona file exists.
const DefaultText = "You are Zoya, a helpful personal assistant. Be concise and direct."

// Source loads the persona file and keeps it current. Current never
// blocks on I/O; reloads happen on a watcher goroutine.
type Source struct {
	path     string
	debounce time.Duration

	mu   sync.RWMutex
	text string

	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
}

// New creates a source for the persona file at path and starts
// watching its directory. A missing file falls back to DefaultText.
func New(path string) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("persona path is required")
	}

	s := &Source{
		path:     path,
		debounce: 500 * time.Millisecond,
		text:     DefaultText,
		stopCh:   make(chan struct{}),
	}
	s.reload()

	// The directory is watched rather than the file so editors that
	// replace the file (rename-over) keep triggering reloads.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create persona directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch persona directory: %w", err)
	}
	s.watcher = watcher

	go s.run()
	return s, nil
}

// Static creates a source with fixed text and no file watching.
func Static(text string) *Source {
	return &Source{text: text, stopCh: make(chan struct{})}
}

// Current returns the persona text.
func (s *Source) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

// Close stops the watcher.
func (s *Source) Close() error {
	close(s.stopCh)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Source) run() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.scheduleReload()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("persona watcher error")

		case <-s.stopCh:
			return
		}
	}
}

// scheduleReload coalesces bursts of events into one reload.
func (s *Source) scheduleReload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.reload)
}

func (s *Source) reload() {
	text := DefaultText
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
			text = trimmed
		}
	case os.IsNotExist(err):
		// Keep the default.
	default:
		log.Warn().Err(err).Str("path", s.path).Msg("failed to read persona file")
		return
	}

	s.mu.Lock()
	changed := s.text != text
	s.text = text
	s.mu.Unlock()

	if changed {
		log.Info().Str("path", s.path).Int("bytes", len(text)).Msg("persona reloaded")
	}
}
