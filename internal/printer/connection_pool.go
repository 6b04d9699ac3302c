package printer

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/thereceipt/silent-print/internal/registry"
)

var (
	ErrConnectionClosed = errors.New("printer connection closed")
	ErrNotConnected     = errors.New("printer not connected")
)

// Connection is an open channel to one printer
type Connection interface {
	io.Writer
	Close() error
}

// Connector opens a connection to a printer
type Connector func(p *Printer) (Connection, error)

// ConnectionPool keeps one open connection per printer ID
type ConnectionPool struct {
	connections map[string]Connection
	connect     Connector
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewConnectionPool creates a pool. A nil connector dials real hardware.
func NewConnectionPool(connect Connector, logger *zap.Logger) *ConnectionPool {
	if connect == nil {
		connect = Dial
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionPool{
		connections: make(map[string]Connection),
		connect:     connect,
		logger:      logger,
	}
}

// Dial opens a hardware connection for the printer's kind. On macOS a USB
// printer that cannot be claimed is retried through its serial bridge.
func Dial(p *Printer) (Connection, error) {
	switch p.Kind {
	case registry.KindUSB:
		conn, err := ConnectUSB(p.VID, p.PID)
		if err == nil {
			return conn, nil
		}
		if runtime.GOOS == "darwin" {
			for _, port := range scanPorts(false) {
				if serialConn, serialErr := ConnectSerial(port, DefaultBaud); serialErr == nil {
					return serialConn, nil
				}
			}
		}
		return nil, err
	case registry.KindSerial:
		return ConnectSerial(p.Device, DefaultBaud)
	case registry.KindNetwork:
		return ConnectNetwork(p.Host, p.Port)
	default:
		return nil, fmt.Errorf("unsupported printer type: %s", p.Kind)
	}
}

// Connect opens a connection to p unless one is already open
func (c *ConnectionPool) Connect(p *Printer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.connections[p.ID]; exists {
		return nil
	}

	conn, err := c.connect(p)
	if err != nil {
		return err
	}

	c.connections[p.ID] = conn
	c.logger.Info("printer connected", zap.String("printer", p.DisplayName()), zap.String("type", p.Kind))
	return nil
}

// Send writes a complete job. A failed write drops the connection so the
// next attempt reconnects.
func (c *ConnectionPool) Send(printerID string, data []byte) error {
	c.mu.RLock()
	conn, exists := c.connections[printerID]
	c.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotConnected, printerID)
	}

	if _, err := conn.Write(data); err != nil {
		c.Disconnect(printerID)
		return fmt.Errorf("failed to write to printer: %w", err)
	}
	return nil
}

// Disconnect closes the connection to a printer
func (c *ConnectionPool) Disconnect(printerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, exists := c.connections[printerID]
	if !exists {
		return nil
	}

	delete(c.connections, printerID)
	return conn.Close()
}

// DisconnectAll closes every connection
func (c *ConnectionPool) DisconnectAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, conn := range c.connections {
		if err := conn.Close(); err != nil {
			c.logger.Warn("failed to close printer connection", zap.String("printer_id", id), zap.Error(err))
		}
		delete(c.connections, id)
	}
}

// IsConnected reports whether a connection to the printer is open
func (c *ConnectionPool) IsConnected(printerID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.connections[printerID]
	return exists
}
