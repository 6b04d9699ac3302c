// Package registry keeps stable IDs and user-set names for detected printers
package registry

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Printer kinds
const (
	KindUSB     = "usb"
	KindSerial  = "serial"
	KindNetwork = "network"
)

// Registry maps printer identities to persistent IDs and names
type Registry struct {
	filePath string
	data     map[string]*Entry
	logger   *zap.Logger
	mu       sync.RWMutex
}

// Entry is the persisted record of one printer
type Entry struct {
	ID          string `json:"id"`
	IdentityKey string `json:"identity_key"`
	Kind        string `json:"type"`
	VID         uint16 `json:"vid,omitempty"`
	PID         uint16 `json:"pid,omitempty"`
	Device      string `json:"device,omitempty"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	Description string `json:"description"`
	Name        string `json:"name,omitempty"`
}

// DisplayName is the user-set name, or the description when none was set
func (e *Entry) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Description
}

// Identity is what detection knows about a printer
type Identity struct {
	Kind        string
	Description string
	Device      string
	VID         uint16
	PID         uint16
	Host        string
	Port        int
}

// New loads the registry at filePath. An empty path keeps it in memory.
func New(filePath string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		filePath: filePath,
		data:     make(map[string]*Entry),
		logger:   logger,
	}

	if filePath == "" {
		return r, nil
	}
	if err := r.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	return r, nil
}

// ID returns the persistent ID of a printer, assigning one on first sight
func (r *Registry) ID(info Identity) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identityKey(info)
	if entry, exists := r.data[key]; exists {
		if info.Description != "" && entry.Description != info.Description {
			entry.Description = info.Description
			r.persist()
		}
		return entry.ID
	}

	entry := &Entry{
		ID:          uuid.NewString(),
		IdentityKey: key,
		Kind:        info.Kind,
		VID:         info.VID,
		PID:         info.PID,
		Device:      info.Device,
		Host:        info.Host,
		Port:        info.Port,
		Description: info.Description,
	}
	r.data[key] = entry
	r.persist()

	return entry.ID
}

// Name returns the user-set name of a printer, or an empty string
func (r *Registry) Name(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.byID(id); entry != nil {
		return entry.Name
	}
	return ""
}

// SetName renames a printer. It reports whether the printer is known.
func (r *Registry) SetName(id, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.byID(id)
	if entry == nil {
		return false
	}
	entry.Name = strings.TrimSpace(name)
	r.persist()
	return true
}

// Get returns a copy of the entry for id
func (r *Registry) Get(id string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.byID(id); entry != nil {
		cp := *entry
		return &cp
	}
	return nil
}

// Lookup finds a printer by display name (case-insensitive) or ID
func (r *Registry) Lookup(name string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.byID(name); entry != nil {
		cp := *entry
		return &cp
	}
	for _, entry := range r.data {
		if strings.EqualFold(entry.DisplayName(), name) {
			cp := *entry
			return &cp
		}
	}
	return nil
}

// Remove forgets a printer
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, entry := range r.data {
		if entry.ID == id {
			delete(r.data, key)
			r.persist()
			return true
		}
	}
	return false
}

// All returns copies of every entry ordered by display name
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Entry, 0, len(r.data))
	for _, v := range r.data {
		cp := *v
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DisplayName() < result[j].DisplayName()
	})
	return result
}

func (r *Registry) byID(id string) *Entry {
	for _, entry := range r.data {
		if entry.ID == id {
			return entry
		}
	}
	return nil
}

func (r *Registry) persist() {
	if err := r.save(); err != nil {
		r.logger.Warn("failed to save printer registry", zap.String("path", r.filePath), zap.Error(err))
	}
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &r.data)
}

func (r *Registry) save() error {
	if r.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(r.filePath, data, 0644)
}

// identityKey identifies a printer across restarts
func identityKey(info Identity) string {
	switch info.Kind {
	case KindUSB:
		if info.VID != 0 && info.PID != 0 {
			return fmt.Sprintf("usb:%04X:%04X", info.VID, info.PID)
		}
	case KindSerial:
		if info.Device != "" {
			return fmt.Sprintf("serial:%s", info.Device)
		}
	case KindNetwork:
		if info.Host != "" {
			return fmt.Sprintf("network:%s:%d", info.Host, info.Port)
		}
	}

	hash := md5.Sum([]byte(info.Description))
	return fmt.Sprintf("hash:%x", hash)
}
