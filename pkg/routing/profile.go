package routing

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// profileFile is the on-disk shape of one profile (spec §4.4: "a distinct
// profile whose own BASE_URL and auth token are read from disk").
type profileFile struct {
	BaseURL    string `json:"baseUrl"`
	AuthHeader string `json:"authHeader"`
	AuthToken  string `json:"authToken"`
}

// ProfileStore loads <name>.json profile files from a directory and keeps
// them current via fsnotify, so editing a profile on disk takes effect
// without restarting the routing daemon. Grounded on the pack's
// config/provider.FileProvider watch-and-reload shape, narrowed from a
// single watched file to a directory of named profiles.
type ProfileStore struct {
	dir string

	mu       sync.RWMutex
	profiles map[string]profileFile

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewProfileStore loads every *.json file under dir and starts watching it
// for changes. An empty dir yields a store that resolves nothing, which is
// fine when no scenario names a ProfileName.
func NewProfileStore(dir string) (*ProfileStore, error) {
	s := &ProfileStore{dir: dir, profiles: map[string]profileFile{}}
	if dir == "" {
		return s, nil
	}
	if err := s.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watchLoop()
	return s, nil
}

func (s *ProfileStore) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := s.reload(); err != nil {
					log.Printf("[routing] profile reload: %v", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[routing] profile watch error: %v", err)
		case <-s.done:
			return
		}
	}
}

func (s *ProfileStore) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	loaded := map[string]profileFile{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var pf profileFile
		if err := json.Unmarshal(data, &pf); err != nil {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		loaded[name] = pf
	}

	s.mu.Lock()
	s.profiles = loaded
	s.mu.Unlock()
	return nil
}

// Resolve returns the named profile's route fields, if loaded.
func (s *ProfileStore) Resolve(name string) (RouteTarget, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pf, ok := s.profiles[name]
	if !ok {
		return RouteTarget{}, false
	}
	return RouteTarget{BaseURL: pf.BaseURL, AuthHeader: pf.AuthHeader, AuthToken: pf.AuthToken}, true
}

// Close stops the filesystem watcher.
func (s *ProfileStore) Close() {
	if s.watcher == nil {
		return
	}
	close(s.done)
	_ = s.watcher.Close()
}
