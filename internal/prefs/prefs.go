// Package prefs persists the handful of local view preferences that
// survive a restart: the active sort, the active tab and the last
// retention-sweep run. These are process-local; they never reach the
// remote store.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Keys used by the application.
const (
	keySort        = "sort_state"
	keyLastCleanup = "last_history_cleanup"
	keyActiveTab   = "active_tab"
)

// SortState is the persisted sort preference.
type SortState struct {
	By    string `json:"by"`
	Order string `json:"order"`
}

// Store is a file-backed string key/value map. Writes go through a temp
// file and rename so a crash never leaves a truncated prefs file.
type Store struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// Open loads the prefs file, creating parent directories as needed. A
// missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read prefs: %w", err)
	}
	if err := json.Unmarshal(raw, &s.values); err != nil {
		return nil, fmt.Errorf("parse prefs: %w", err)
	}
	return s, nil
}

// Get returns the stored value for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores and persists a value.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flush()
}

// flush writes the map atomically. Caller holds mu.
func (s *Store) flush() error {
	raw, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace prefs: %w", err)
	}
	return nil
}

// Sort returns the persisted sort preference.
func (s *Store) Sort() (SortState, bool) {
	raw, ok := s.Get(keySort)
	if !ok {
		return SortState{}, false
	}
	var st SortState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return SortState{}, false
	}
	return st, true
}

// SetSort persists the sort preference.
func (s *Store) SetSort(st SortState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.Set(keySort, string(raw))
}

// LastCleanup returns when the retention sweep last completed.
func (s *Store) LastCleanup() (time.Time, bool) {
	raw, ok := s.Get(keyLastCleanup)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetLastCleanup records a completed retention sweep.
func (s *Store) SetLastCleanup(t time.Time) error {
	return s.Set(keyLastCleanup, t.UTC().Format(time.RFC3339))
}

// ActiveTab returns the persisted tab preference ("books" or "history").
func (s *Store) ActiveTab() string {
	v, _ := s.Get(keyActiveTab)
	return v
}

// SetActiveTab persists the tab preference.
func (s *Store) SetActiveTab(tab string) error {
	return s.Set(keyActiveTab, tab)
}
