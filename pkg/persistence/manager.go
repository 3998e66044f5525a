package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hashland/pkg/logger"
)

// StateFile is the name of the state file inside the data directory.
const StateFile = "state.json"

// StateManager handles persistent key-value storage in a JSON file.
// Each key holds one JSON document; writes rewrite the whole file.
type StateManager struct {
	filePath string
	data     map[string]json.RawMessage
	mu       sync.RWMutex
}

// NewManager opens (or creates on first write) the state file in dataDir.
func NewManager(dataDir string) (*StateManager, error) {
	m := &StateManager{
		filePath: filepath.Join(dataDir, StateFile),
		data:     make(map[string]json.RawMessage),
	}
	if err := m.load(); err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return m, nil
}

func (m *StateManager) load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &m.data); err != nil {
		// Keep the broken file around for inspection and start fresh.
		backup := m.filePath + ".corrupt"
		logger.Error("State file is corrupt, starting empty", "path", m.filePath, "backup", backup, "err", err)
		_ = os.Rename(m.filePath, backup)
		m.data = make(map[string]json.RawMessage)
	}
	return nil
}

// Path returns the backing file location.
func (m *StateManager) Path() string {
	return m.filePath
}

func (m *StateManager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveLocked()
}

func (m *StateManager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.filePath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return err
	}

	tmp := m.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, m.filePath)
}

// Get retrieves data for a key and unmarshals it into target
func (m *StateManager) Get(key string, target interface{}) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return true, err
	}

	return true, nil
}

// Set stores data for a key and saves to disk
func (m *StateManager) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prev, had := m.data[key]
	m.data[key] = raw
	if err := m.saveLocked(); err != nil {
		if had {
			m.data[key] = prev
		} else {
			delete(m.data, key)
		}
		return err
	}
	return nil
}

// Delete removes a key and saves to disk.
func (m *StateManager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return nil
	}
	delete(m.data, key)
	return m.saveLocked()
}
