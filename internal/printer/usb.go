package printer

import (
	"context"
	"fmt"

	"github.com/google/gousb"

	"github.com/thereceipt/silent-print/internal/registry"
)

// DetectUSB reports USB devices of the printer class
func DetectUSB(ctx context.Context, reg *registry.Registry) ([]*Printer, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	devices, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return isPrinterClass(desc)
	})
	// OpenDevices returns the devices it could open alongside the first error
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	var printers []*Printer
	for _, dev := range devices {
		if ctx.Err() == nil {
			printers = append(printers, newPrinter(reg, usbIdentity(dev)))
		}
		dev.Close()
	}

	return printers, ctx.Err()
}

func isPrinterClass(desc *gousb.DeviceDesc) bool {
	if desc.Class == gousb.ClassPrinter {
		return true
	}
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == gousb.ClassPrinter {
					return true
				}
			}
		}
	}
	return false
}

func usbIdentity(dev *gousb.Device) registry.Identity {
	desc := dev.Desc
	manufacturer, _ := dev.Manufacturer()
	product, _ := dev.Product()

	description := fmt.Sprintf("USB: %04X:%04X", uint16(desc.Vendor), uint16(desc.Product))
	if manufacturer != "" || product != "" {
		description = fmt.Sprintf("USB: %s %s (%04X:%04X)",
			manufacturer, product, uint16(desc.Vendor), uint16(desc.Product))
	}

	return registry.Identity{
		Kind:        registry.KindUSB,
		VID:         uint16(desc.Vendor),
		PID:         uint16(desc.Product),
		Description: description,
	}
}
