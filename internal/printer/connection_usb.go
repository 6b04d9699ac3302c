package printer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

var errNoOutEndpoint = errors.New("no OUT endpoint")

// USBConnection writes to the bulk OUT endpoint of a USB printer
type USBConnection struct {
	usb      *gousb.Context
	device   *gousb.Device
	config   *gousb.Config
	iface    *gousb.Interface
	release  func()
	endpoint *gousb.OutEndpoint
	mu       sync.Mutex
}

// ConnectUSB claims the first interface of the device that exposes an OUT
// endpoint, trying the default interface, then the active configuration,
// then every configuration.
func ConnectUSB(vid, pid uint16) (*USBConnection, error) {
	usb := gousb.NewContext()

	dev, err := usb.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		usb.Close()
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	if dev == nil {
		usb.Close()
		return nil, fmt.Errorf("device not found: %04X:%04X", vid, pid)
	}

	conn := &USBConnection{usb: usb, device: dev}

	iface, done, err := dev.DefaultInterface()
	if err != nil {
		dev.SetAutoDetach(true)
		iface, done, err = dev.DefaultInterface()
	}
	if err == nil {
		if ep, epErr := outEndpoint(iface); epErr == nil {
			conn.iface, conn.release, conn.endpoint = iface, done, ep
			return conn, nil
		}
		done()
	}

	var lastErr error
	configs := make([]int, 0, len(dev.Desc.Configs)+1)
	if active, err := dev.ActiveConfigNum(); err == nil && active > 0 {
		configs = append(configs, active)
	}
	for num := range dev.Desc.Configs {
		configs = append(configs, num)
	}

	for _, num := range configs {
		if ok, err := conn.tryConfig(num); ok {
			return conn, nil
		} else if err != nil {
			lastErr = err
		}
	}

	dev.Close()
	usb.Close()

	if lastErr != nil {
		return nil, fmt.Errorf("failed to connect to USB printer: %w", lastErr)
	}
	return nil, fmt.Errorf("no suitable interface/endpoint found for USB printer %04X:%04X", vid, pid)
}

func (c *USBConnection) tryConfig(num int) (bool, error) {
	desc, ok := c.device.Desc.Configs[num]
	if !ok {
		return false, nil
	}

	cfg, err := c.device.Config(num)
	if err != nil {
		return false, fmt.Errorf("failed to set config %d: %w", num, err)
	}

	var lastErr error
	for _, ifaceDesc := range desc.Interfaces {
		iface, err := cfg.Interface(ifaceDesc.Number, 0)
		if err != nil {
			// some devices need a moment after the config change
			time.Sleep(100 * time.Millisecond)
			if iface, err = cfg.Interface(ifaceDesc.Number, 0); err != nil {
				lastErr = fmt.Errorf("failed to claim interface %d: %w", ifaceDesc.Number, err)
				continue
			}
		}

		ep, err := outEndpoint(iface)
		if err != nil {
			iface.Close()
			continue
		}

		c.config, c.iface, c.endpoint = cfg, iface, ep
		return true, nil
	}

	cfg.Close()
	return false, lastErr
}

func outEndpoint(iface *gousb.Interface) (*gousb.OutEndpoint, error) {
	for _, desc := range iface.Setting.Endpoints {
		if desc.Direction != gousb.EndpointDirectionOut {
			continue
		}
		if ep, err := iface.OutEndpoint(desc.Number); err == nil {
			return ep, nil
		}
	}
	return nil, errNoOutEndpoint
}

// Write sends raw bytes to the printer
func (c *USBConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.endpoint == nil {
		return 0, ErrConnectionClosed
	}
	return c.endpoint.Write(data)
}

// Close releases the interface, the device and the libusb context
func (c *USBConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.release != nil {
		c.release()
		c.release = nil
	} else if c.iface != nil {
		c.iface.Close()
	}
	c.iface = nil
	if c.config != nil {
		c.config.Close()
		c.config = nil
	}
	c.endpoint = nil

	var err error
	if c.device != nil {
		err = c.device.Close()
		c.device = nil
	}
	if c.usb != nil {
		err = errors.Join(err, c.usb.Close())
		c.usb = nil
	}
	return err
}
