// Package settings persists small pieces of POS-side state as JSON values
// in a local key/value file.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/thereceipt/silent-print/internal/layout"
)

const (
	// LayoutKey holds the label layout settings blob.
	LayoutKey = "printStickerSettings_v2"

	// ReceiptPrinterKey holds the chosen receipt printer name.
	ReceiptPrinterKey = "selectedReceiptPrinter"
)

// ErrNotFound is returned when a key has no stored value
var ErrNotFound = errors.New("settings key not found")

// Store is a file-backed key/value store. An empty path keeps values in
// memory only.
type Store struct {
	filePath string
	data     map[string]json.RawMessage
	mu       sync.RWMutex
}

// New opens the store at filePath, creating it on first write
func New(filePath string) (*Store, error) {
	s := &Store{
		filePath: filePath,
		data:     make(map[string]json.RawMessage),
	}

	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
	}

	return s, nil
}

// NewMemory returns a store that never touches disk
func NewMemory() *Store {
	return &Store{data: make(map[string]json.RawMessage)}
}

// Get decodes the value stored under key into v
func (s *Store) Get(key string, v any) error {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// Set encodes v and stores it under key
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = raw
	return s.save()
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.save()
}

// Has reports whether key has a stored value
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[key]
	return ok
}

// LoadLayout returns the persisted label layout, or the defaults when
// nothing usable is stored.
func (s *Store) LoadLayout() layout.Settings {
	var ls layout.Settings
	if err := s.Get(LayoutKey, &ls); err != nil {
		return layout.DefaultSettings()
	}
	return ls.Normalize()
}

// SaveLayout persists the label layout
func (s *Store) SaveLayout(ls layout.Settings) error {
	return s.Set(LayoutKey, ls)
}

// ClearLayout removes any persisted label layout
func (s *Store) ClearLayout() error {
	return s.Delete(LayoutKey)
}

// SelectedPrinter returns the persisted receipt printer, or "" if none
func (s *Store) SelectedPrinter() string {
	var name string
	if err := s.Get(ReceiptPrinterKey, &name); err != nil {
		return ""
	}
	return name
}

// SetSelectedPrinter persists the receipt printer name
func (s *Store) SetSelectedPrinter(name string) error {
	if name == "" {
		return s.Delete(ReceiptPrinterKey)
	}
	return s.Set(ReceiptPrinterKey, name)
}

func (s *Store) load() error {
	if s.filePath == "" {
		return nil
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, &s.data)
}

func (s *Store) save() error {
	if s.filePath == "" {
		return nil
	}

	if dir := filepath.Dir(s.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.filePath, data, 0644)
}
