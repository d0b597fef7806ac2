// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package runningconfig persists the declarative record of currently
// applied networks and bondings (spec.md §3 "RunningConfig", §4.3, §6).
// Two modes are supported: unified (this package owns canonical JSON
// under <state>/netconf/{networks,bondings}/<name>) and legacy (the
// configurator backend owns persistence and this package is a no-op
// pass-through), selected the same way configurator.Select picks a
// backend — by configuration key.
package runningconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"grimm.is/vnetd/internal/logging"
)

// Mode selects how running-config entries are persisted.
type Mode int

const (
	ModeUnified Mode = iota
	ModeLegacy
)

// NetworkEntry is the persisted shape of one network's requested attrs
// (spec.md §3: "a persisted mapping networkName -> requested-attrs").
type NetworkEntry map[string]any

// BondEntry is the persisted shape of one bond's requested attrs.
type BondEntry map[string]any

// Store is the unified-mode JSON-backed running-config.
type Store struct {
	mu   sync.RWMutex
	mode Mode
	dir  string

	networks map[string]NetworkEntry
	bonds    map[string]BondEntry

	logger *logging.Logger
}

// New opens (and, for unified mode, loads) the running-config store
// rooted at dir (typically install.GetNetConfDir()).
func New(mode Mode, dir string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	s := &Store{
		mode:     mode,
		dir:      dir,
		networks: make(map[string]NetworkEntry),
		bonds:    make(map[string]BondEntry),
		logger:   logger.WithComponent("runningconfig"),
	}
	if mode != ModeUnified {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Join(dir, "networks"), 0o755); err != nil {
		return nil, fmt.Errorf("runningconfig: create networks dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "bondings"), 0o755); err != nil {
		return nil, fmt.Errorf("runningconfig: create bondings dir: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if err := loadEntries(filepath.Join(s.dir, "networks"), &s.networks); err != nil {
		return fmt.Errorf("runningconfig: load networks: %w", err)
	}
	if err := loadEntries(filepath.Join(s.dir, "bondings"), &s.bonds); err != nil {
		return fmt.Errorf("runningconfig: load bondings: %w", err)
	}
	return nil
}

func loadEntries[T any](dir string, dst *map[string]T) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	out := make(map[string]T, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		out[e.Name()] = v
	}
	*dst = out
	return nil
}

// AddNetwork records a network's requested attrs, per spec.md §4.3's
// "_addNetwork records the network's kwargs" — the persistence side of
// the cross-cutting _alterRunningConfig decorator, re-expressed here as
// an explicit call made by the reconciler after a successful configure
// (spec.md §9 design note).
func (s *Store) AddNetwork(name string, entry NetworkEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeUnified {
		return nil
	}
	s.networks[name] = entry
	return s.writeJSON(filepath.Join(s.dir, "networks", name), entry)
}

// DelNetwork removes a network's running-config entry.
func (s *Store) DelNetwork(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeUnified {
		return nil
	}
	delete(s.networks, name)
	return removeIfExists(filepath.Join(s.dir, "networks", name))
}

// AddBonding records a bond's requested attrs.
func (s *Store) AddBonding(name string, entry BondEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeUnified {
		return nil
	}
	s.bonds[name] = entry
	return s.writeJSON(filepath.Join(s.dir, "bondings", name), entry)
}

// DelBonding removes a bond's running-config entry.
func (s *Store) DelBonding(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeUnified {
		return nil
	}
	delete(s.bonds, name)
	return removeIfExists(filepath.Join(s.dir, "bondings", name))
}

// Networks returns a snapshot copy of all persisted network entries.
func (s *Store) Networks() map[string]NetworkEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]NetworkEntry, len(s.networks))
	for k, v := range s.networks {
		out[k] = v
	}
	return out
}

// Bondings returns a snapshot copy of all persisted bond entries.
func (s *Store) Bondings() map[string]BondEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]BondEntry, len(s.bonds))
	for k, v := range s.bonds {
		out[k] = v
	}
	return out
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
