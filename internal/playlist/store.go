package playlist

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xlog "github.com/sweeney/radio-alarm/internal/log"
)

// Store holds the current station list. Reads are lock free; Reload swaps
// the whole list at once so readers never see a partial playlist.
type Store struct {
	path     string
	stations atomic.Pointer[[]Station]
	logger   zerolog.Logger
}

// NewStore loads path and returns a Store. Startup fails if the playlist is
// missing or empty.
func NewStore(path string) (*Store, error) {
	stations, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, logger: xlog.WithComponent("playlist")}
	s.stations.Store(&stations)
	return s, nil
}

// NewStatic returns a Store over a fixed list. Reload is a no-op. Used by tests.
func NewStatic(stations []Station) *Store {
	s := &Store{logger: xlog.Nop()}
	cp := append([]Station(nil), stations...)
	for i := range cp {
		cp[i].Index = i
	}
	s.stations.Store(&cp)
	return s
}

// Path returns the playlist file path.
func (s *Store) Path() string { return s.path }

// Stations returns the current list. Callers must not modify it.
func (s *Store) Stations() []Station {
	return *s.stations.Load()
}

// Len returns the number of stations.
func (s *Store) Len() int {
	return len(*s.stations.Load())
}

// Get returns the station at index i.
func (s *Store) Get(i int) (Station, bool) {
	list := *s.stations.Load()
	if i < 0 || i >= len(list) {
		return Station{}, false
	}
	return list[i], true
}

// IndexOf returns the index of the first station streaming url, or -1.
func (s *Store) IndexOf(url string) int {
	for _, st := range *s.stations.Load() {
		if st.URL == url {
			return st.Index
		}
	}
	return -1
}

// Reload re-reads the playlist file. On failure the previous list is kept.
// Playback is unaffected: the next station change sees the new list.
func (s *Store) Reload() (int, error) {
	if s.path == "" {
		return s.Len(), nil
	}
	stations, err := Load(s.path)
	if err != nil {
		s.logger.Warn().Err(err).Str(xlog.FieldEvent, "playlist.reload_failed").Msg("keeping previous playlist")
		return s.Len(), err
	}
	s.stations.Store(&stations)
	s.logger.Info().
		Str(xlog.FieldEvent, "playlist.reloaded").
		Int("stations", len(stations)).
		Msg("playlist reloaded")
	return len(stations), nil
}

// Watch calls onChange after the playlist file is written, debounced so an
// editor's burst of writes triggers one reload. It returns once ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return fmt.Errorf("watch playlist: %w", err)
	}
	s.logger.Info().Str(xlog.FieldEvent, "playlist.watch_started").Str(xlog.FieldPath, s.path).Msg("watching playlist")

	var debounce *time.Timer
	const debounceDuration = 500 * time.Millisecond
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors that replace the file drop the watch; re-add it.
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = watcher.Remove(s.path)
				if err := watcher.Add(s.path); err != nil {
					s.logger.Warn().Err(err).Msg("re-adding playlist watch failed")
					continue
				}
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDuration, onChange)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("playlist watcher error")
		}
	}
}
