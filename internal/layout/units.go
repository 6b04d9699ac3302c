// Package layout converts between physical and pixel units and resolves
// paper and margin geometry for label and receipt printing.
package layout

import "math"

const (
	// MMPerInch is the number of millimeters in one inch.
	MMPerInch = 25.4

	// CSSPixelsPerInch is the pixel density assumed at 1x oversampling.
	CSSPixelsPerInch = 96.0

	// DefaultOversampling is the capture multiplier applied by the rasterizer.
	DefaultOversampling = 2.0
)

// MMToInches converts millimeters to inches
func MMToInches(mm float64) float64 {
	return mm / MMPerInch
}

// InchesToMM converts inches to millimeters
func InchesToMM(inches float64) float64 {
	return inches * MMPerInch
}

// PixelsToMM converts a captured pixel count to millimeters. The oversampling
// factor is the multiplier the bitmap was captured with.
func PixelsToMM(px int, oversampling float64) float64 {
	if oversampling <= 0 {
		oversampling = 1
	}
	return float64(px) * MMPerInch / (CSSPixelsPerInch * oversampling)
}

// MMToPixels returns the largest whole pixel count that maps back to at
// most mm millimeters at the given oversampling.
func MMToPixels(mm float64, oversampling float64) int {
	if oversampling <= 0 {
		oversampling = 1
	}
	return int(math.Floor(mm * CSSPixelsPerInch * oversampling / MMPerInch))
}

// CSSPixels converts millimeters to CSS pixels at 1x density.
func CSSPixels(mm float64) float64 {
	return mm * CSSPixelsPerInch / MMPerInch
}
