package printer

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tarm/serial"

	"github.com/thereceipt/silent-print/internal/registry"
)

// DefaultBaud is what most thermal printers ship with
const DefaultBaud = 9600

var macSkipPatterns = []string{"Bluetooth", "Modem", "SPP", "DialIn", "Callout", "KeySerial", "debug-console"}

// scanPorts lists serial device paths that may hold a printer
func scanPorts(includeBuiltin bool) []string {
	var ports []string

	switch runtime.GOOS {
	case "darwin":
		for _, pattern := range []string{"/dev/cu.*", "/dev/tty.*"} {
			matches, _ := filepath.Glob(pattern)
			for _, match := range matches {
				if !skipPort(match) {
					ports = append(ports, match)
				}
			}
		}
	case "linux":
		patterns := []string{"/dev/ttyUSB*", "/dev/ttyACM*"}
		if includeBuiltin {
			patterns = append(patterns, "/dev/ttyS*")
		}
		for _, pattern := range patterns {
			matches, _ := filepath.Glob(pattern)
			ports = append(ports, matches...)
		}
	case "windows":
		if includeBuiltin {
			for i := 1; i <= 256; i++ {
				ports = append(ports, fmt.Sprintf("COM%d", i))
			}
		}
	}

	return ports
}

func skipPort(path string) bool {
	for _, pattern := range macSkipPatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

// DetectSerial reports every serial port that can be opened
func DetectSerial(ctx context.Context, reg *registry.Registry) ([]*Printer, error) {
	var printers []*Printer

	for _, path := range scanPorts(true) {
		if err := ctx.Err(); err != nil {
			return printers, err
		}

		port, err := serial.OpenPort(&serial.Config{Name: path, Baud: DefaultBaud})
		if err != nil {
			continue
		}
		port.Close()

		info := registry.Identity{
			Kind:        registry.KindSerial,
			Device:      path,
			Description: fmt.Sprintf("Serial: %s", filepath.Base(path)),
		}
		printers = append(printers, newPrinter(reg, info))
	}

	return printers, nil
}
