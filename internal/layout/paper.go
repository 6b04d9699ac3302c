package layout

import (
	"math"
	"strconv"
	"strings"
)

// PaperCustom selects user-entered dimensions instead of a preset.
const PaperCustom = "Custom"

// Paper is a resolved paper size in millimeters
type Paper struct {
	WidthMM  float64 `json:"widthMm"`
	HeightMM float64 `json:"heightMm"`
}

var presets = map[string]Paper{
	"A4":     {WidthMM: 210, HeightMM: 297},
	"A5":     {WidthMM: 148, HeightMM: 210},
	"Letter": {WidthMM: 215.9, HeightMM: 279.4},
}

// Presets returns the names of the known paper presets
func Presets() []string {
	return []string{"A4", "A5", "Letter"}
}

// Preset returns the fixed dimensions of a named preset.
func Preset(name string) (Paper, bool) {
	p, ok := presets[name]
	return p, ok
}

// ResolvePaper returns the effective paper size. A known preset wins over
// any custom values; anything else uses the custom width and height with
// invalid values coerced to 0.
func ResolvePaper(size string, customWidthMM, customHeightMM float64) Paper {
	if size != PaperCustom {
		if p, ok := presets[size]; ok {
			return p
		}
	}
	return Paper{
		WidthMM:  sanitize(customWidthMM),
		HeightMM: sanitize(customHeightMM),
	}
}

// Valid reports whether both dimensions are strictly positive
func (p Paper) Valid() bool {
	return p.WidthMM > 0 && p.HeightMM > 0
}

// Inches returns the width and height in inches
func (p Paper) Inches() (width, height float64) {
	return MMToInches(p.WidthMM), MMToInches(p.HeightMM)
}

// ParseMM coerces user input into a millimeter value. Non-numeric, negative
// and non-finite input yields 0.
func ParseMM(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return sanitize(v)
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
