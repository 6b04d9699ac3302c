package layout

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Orientation of the printed page
type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// Margins are the four page margins in millimeters
type Margins struct {
	Top    float64 `json:"top" validate:"gte=0"`
	Right  float64 `json:"right" validate:"gte=0"`
	Bottom float64 `json:"bottom" validate:"gte=0"`
	Left   float64 `json:"left" validate:"gte=0"`
}

// MarginsInches are page margins converted to inches
type MarginsInches struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// UniformMargins returns margins with the same value on every side
func UniformMargins(mm float64) Margins {
	return Margins{Top: mm, Right: mm, Bottom: mm, Left: mm}
}

// Inches converts the margins to inches. Unset sides are 0.
func (m Margins) Inches() MarginsInches {
	return MarginsInches{
		Top:    MMToInches(sanitize(m.Top)),
		Right:  MMToInches(sanitize(m.Right)),
		Bottom: MMToInches(sanitize(m.Bottom)),
		Left:   MMToInches(sanitize(m.Left)),
	}
}

// Settings is the persisted label layout
type Settings struct {
	FontFamily    string      `json:"fontFamily"`
	Copies        int         `json:"copies" validate:"min=1"`
	PaperSize     string      `json:"paperSize" validate:"required"`
	PaperWidthMM  float64     `json:"paperWidthMm" validate:"gte=0"`
	PaperHeightMM float64     `json:"paperHeightMm" validate:"gte=0"`
	Orientation   Orientation `json:"orientation" validate:"oneof=portrait landscape"`
	Margins       Margins     `json:"margins"`
	ScalePercent  float64     `json:"scalePercent" validate:"gt=0,lte=400"`
}

var validate = validator.New()

// DefaultSettings returns the settings used before anything is persisted,
// sized for small label stock.
func DefaultSettings() Settings {
	return Settings{
		FontFamily:    "Arial, sans-serif",
		Copies:        1,
		PaperSize:     PaperCustom,
		PaperWidthMM:  60,
		PaperHeightMM: 40,
		Orientation:   Portrait,
		Margins:       UniformMargins(2),
		ScalePercent:  100,
	}
}

// Paper resolves the effective paper size for these settings
func (s Settings) Paper() Paper {
	return ResolvePaper(s.PaperSize, s.PaperWidthMM, s.PaperHeightMM)
}

// PrintScale returns the print scale as a factor (100% = 1.0)
func (s Settings) PrintScale() float64 {
	if s.ScalePercent <= 0 {
		return 1
	}
	return s.ScalePercent / 100
}

// Normalize fills zero values with defaults the same way a freshly loaded
// blob is treated: missing copies become 1, missing scale 100%.
func (s Settings) Normalize() Settings {
	def := DefaultSettings()
	if s.Copies < 1 {
		s.Copies = 1
	}
	if s.ScalePercent <= 0 {
		s.ScalePercent = def.ScalePercent
	}
	if s.Orientation == "" {
		s.Orientation = Portrait
	}
	if s.PaperSize == "" {
		s.PaperSize = PaperCustom
	}
	if s.FontFamily == "" {
		s.FontFamily = def.FontFamily
	}
	s.PaperWidthMM = sanitize(s.PaperWidthMM)
	s.PaperHeightMM = sanitize(s.PaperHeightMM)
	return s
}

// Validate checks field constraints. It does not require positive paper
// dimensions; that is enforced when a job is built.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid layout settings: %w", err)
	}
	return nil
}
