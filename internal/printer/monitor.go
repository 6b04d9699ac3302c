package printer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Monitor rescans printers periodically and reports arrivals and removals
// through the manager's callbacks
type Monitor struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger
	previous map[string]*Printer
}

// NewMonitor creates a monitor polling every interval
func NewMonitor(manager *Manager, interval time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		manager:  manager,
		interval: interval,
		logger:   logger,
		previous: make(map[string]*Printer),
	}
}

// Run polls until ctx is cancelled. The current printers are taken as the
// baseline.
func (m *Monitor) Run(ctx context.Context) {
	for _, p := range m.manager.Printers() {
		m.previous[p.ID] = p
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	printers, err := m.manager.DetectPrinters(ctx)
	if err != nil {
		m.logger.Warn("printer rescan failed", zap.Error(err))
		return
	}

	added, removed := m.manager.callbacks()

	current := make(map[string]*Printer, len(printers))
	for _, p := range printers {
		current[p.ID] = p
		if _, exists := m.previous[p.ID]; !exists {
			m.logger.Info("printer added", zap.String("printer", p.DisplayName()))
			if added != nil {
				added(p)
			}
		}
	}

	for id, p := range m.previous {
		if _, exists := current[id]; !exists {
			m.logger.Info("printer removed", zap.String("printer", p.DisplayName()))
			if removed != nil {
				removed(p)
			}
		}
	}

	m.previous = current
}
