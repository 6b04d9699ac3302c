package printer

import (
	"fmt"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// SerialConnection writes to a serial printer
type SerialConnection struct {
	port *serial.Port
	mu   sync.Mutex
}

// ConnectSerial opens device at baud, DefaultBaud when zero
func ConnectSerial(device string, baud int) (*SerialConnection, error) {
	if baud == 0 {
		baud = DefaultBaud
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 2 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}

	return &SerialConnection{port: port}, nil
}

// Write sends raw bytes to the printer
func (c *SerialConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return 0, ErrConnectionClosed
	}
	n, err := c.port.Write(data)
	if err != nil {
		return n, err
	}
	return n, c.port.Flush()
}

// Close closes the port
func (c *SerialConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}
