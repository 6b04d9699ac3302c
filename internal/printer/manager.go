// Package printer detects thermal printers, keeps connections to them and
// runs their print queue.
package printer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/thereceipt/silent-print/internal/registry"
)

// ErrPrinterNotFound is returned for unknown printer names or IDs
var ErrPrinterNotFound = errors.New("printer not found")

// Printer is a detected or manually added printer
type Printer struct {
	ID          string `json:"id"`
	Kind        string `json:"type"`
	Description string `json:"description"`
	Device      string `json:"device,omitempty"`
	VID         uint16 `json:"vid,omitempty"`
	PID         uint16 `json:"pid,omitempty"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	Name        string `json:"name,omitempty"`
}

// DisplayName is the name clients address the printer by
func (p *Printer) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Description
}

func newPrinter(reg *registry.Registry, info registry.Identity) *Printer {
	id := reg.ID(info)
	return &Printer{
		ID:          id,
		Kind:        info.Kind,
		Description: info.Description,
		Device:      info.Device,
		VID:         info.VID,
		PID:         info.PID,
		Host:        info.Host,
		Port:        info.Port,
		Name:        reg.Name(id),
	}
}

// Detector finds printers of one kind
type Detector func(ctx context.Context, reg *registry.Registry) ([]*Printer, error)

// Manager tracks the printers currently available
type Manager struct {
	registry  *registry.Registry
	detectors []Detector
	printers  map[string]*Printer
	network   map[string]*Printer
	preferred string
	logger    *zap.Logger
	mu        sync.RWMutex

	onPrinterAdded   func(*Printer)
	onPrinterRemoved func(*Printer)
}

// Option configures a Manager
type Option func(*Manager)

// WithDetectors replaces the USB and serial detectors
func WithDetectors(detectors ...Detector) Option {
	return func(m *Manager) {
		m.detectors = detectors
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDefault names the printer reported as the default when present
func WithDefault(name string) Option {
	return func(m *Manager) {
		m.preferred = name
	}
}

// NewManager creates a manager backed by reg
func NewManager(reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry:  reg,
		detectors: []Detector{DetectUSB, DetectSerial},
		printers:  make(map[string]*Printer),
		network:   make(map[string]*Printer),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DetectPrinters rescans hardware. Manually added network printers are kept.
// Failing detectors are logged and skipped.
func (m *Manager) DetectPrinters(ctx context.Context) ([]*Printer, error) {
	var found []*Printer
	for _, detect := range m.detectors {
		printers, err := detect(ctx, m.registry)
		if err != nil {
			m.logger.Warn("printer detection failed", zap.Error(err))
		}
		found = append(found, printers...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.printers = make(map[string]*Printer, len(found)+len(m.network))
	for _, p := range found {
		m.printers[p.ID] = p
	}
	for id, p := range m.network {
		m.printers[id] = p
	}
	m.mu.Unlock()

	return m.Printers(), nil
}

// GetPrinter returns a copy of the printer with id, or nil
func (m *Manager) GetPrinter(id string) *Printer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.printers[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Printers returns copies of all printers ordered by display name
func (m *Manager) Printers() []*Printer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Printer, 0, len(m.printers))
	for _, p := range m.printers {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DisplayName() < result[j].DisplayName()
	})
	return result
}

// Names lists the display names of all printers
func (m *Manager) Names() []string {
	printers := m.Printers()
	names := make([]string, len(printers))
	for i, p := range printers {
		names[i] = p.DisplayName()
	}
	return names
}

// Find returns the printers whose display name contains query, ignoring
// case. An empty query returns all printers.
func (m *Manager) Find(query string) []*Printer {
	printers := m.Printers()
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return printers
	}

	matched := make([]*Printer, 0, len(printers))
	for _, p := range printers {
		if strings.Contains(strings.ToLower(p.DisplayName()), query) {
			matched = append(matched, p)
		}
	}
	return matched
}

// Lookup resolves a display name (case-insensitive) or ID
func (m *Manager) Lookup(name string) (*Printer, error) {
	if p := m.GetPrinter(name); p != nil {
		return p, nil
	}
	for _, p := range m.Printers() {
		if strings.EqualFold(p.DisplayName(), name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPrinterNotFound, name)
}

// Default is the preferred printer when present, otherwise the first one
func (m *Manager) Default() *Printer {
	if m.preferred != "" {
		if p, err := m.Lookup(m.preferred); err == nil {
			return p
		}
	}
	printers := m.Printers()
	if len(printers) == 0 {
		return nil
	}
	return printers[0]
}

// SetPrinterName gives a printer a custom name
func (m *Manager) SetPrinterName(id string, name string) bool {
	if !m.registry.SetName(id, name) {
		return false
	}

	m.mu.Lock()
	if p, exists := m.printers[id]; exists {
		p.Name = strings.TrimSpace(name)
	}
	m.mu.Unlock()

	return true
}

// AddNetworkPrinter registers a raw TCP printer
func (m *Manager) AddNetworkPrinter(host string, port int, description string) *Printer {
	if port == 0 {
		port = DefaultNetworkPort
	}
	if description == "" {
		description = fmt.Sprintf("Network: %s:%d", host, port)
	}

	p := newPrinter(m.registry, registry.Identity{
		Kind:        registry.KindNetwork,
		Host:        host,
		Port:        port,
		Description: description,
	})

	m.mu.Lock()
	m.network[p.ID] = p
	m.printers[p.ID] = p
	m.mu.Unlock()

	m.logger.Info("network printer added", zap.String("printer", p.DisplayName()))
	cp := *p
	return &cp
}

// OnPrinterAdded registers a callback for printers appearing
func (m *Manager) OnPrinterAdded(callback func(*Printer)) {
	m.mu.Lock()
	m.onPrinterAdded = callback
	m.mu.Unlock()
}

// OnPrinterRemoved registers a callback for printers disappearing
func (m *Manager) OnPrinterRemoved(callback func(*Printer)) {
	m.mu.Lock()
	m.onPrinterRemoved = callback
	m.mu.Unlock()
}

func (m *Manager) callbacks() (func(*Printer), func(*Printer)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.onPrinterAdded, m.onPrinterRemoved
}
