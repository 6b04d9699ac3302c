package printer

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultNetworkPort is the raw printing port of network thermal printers
const DefaultNetworkPort = 9100

const (
	networkDialTimeout  = 5 * time.Second
	networkWriteTimeout = 30 * time.Second
)

// NetworkConnection writes to a raw TCP printer
type NetworkConnection struct {
	conn net.Conn
	mu   sync.Mutex
}

// ConnectNetwork dials host:port, DefaultNetworkPort when port is zero
func ConnectNetwork(host string, port int) (*NetworkConnection, error) {
	if port == 0 {
		port = DefaultNetworkPort
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := net.DialTimeout("tcp", address, networkDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to network printer %s: %w", address, err)
	}

	return &NetworkConnection{conn: conn}, nil
}

// Write sends raw bytes to the printer
func (c *NetworkConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return 0, ErrConnectionClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(networkWriteTimeout)); err != nil {
		return 0, err
	}
	return c.conn.Write(data)
}

// Close closes the socket
func (c *NetworkConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
