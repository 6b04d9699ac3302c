// Package dispatch turns captured documents into print jobs and submits
// them to the print agent.
package dispatch

import (
	"math"

	"github.com/thereceipt/silent-print/internal/agent"
	"github.com/thereceipt/silent-print/internal/layout"
	"github.com/thereceipt/silent-print/internal/raster"
)

const (
	// MaxPageHeightMM is the tallest single physical page a receipt job may have
	MaxPageHeightMM = 200.0

	// MinReceiptWidthMM and MinReceiptHeightMM guard against degenerate captures
	MinReceiptWidthMM  = 60.0
	MinReceiptHeightMM = 40.0
)

// PrintJob is one submission to the agent
type PrintJob struct {
	Printer string
	Config  agent.PrintConfig
	// Data is the base64 PNG payload
	Data string
}

// Payload returns the agent payload list for the job
func (j PrintJob) Payload() []agent.PrintData {
	return []agent.PrintData{agent.ImageData(j.Data)}
}

// WidthMM returns the job page width in millimeters
func (j PrintJob) WidthMM() float64 {
	return layout.InchesToMM(j.Config.Size.Width)
}

// HeightMM returns the job page height in millimeters
func (j PrintJob) HeightMM() float64 {
	return layout.InchesToMM(j.Config.Size.Height)
}

// NewLabelJob builds the single job of a label print. The paper must
// resolve to positive dimensions.
func NewLabelJob(printer string, s layout.Settings, img *raster.Image) (PrintJob, error) {
	paper := s.Paper()
	if !paper.Valid() {
		return PrintJob{}, ErrInvalidPaper
	}

	width, height := paper.Inches()
	copies := s.Copies
	if copies < 1 {
		copies = 1
	}
	orientation := s.Orientation
	if orientation == "" {
		orientation = layout.Portrait
	}

	return PrintJob{
		Printer: printer,
		Config: agent.PrintConfig{
			Size:        agent.Size{Width: width, Height: height},
			Units:       "in",
			Margins:     s.Margins.Inches(),
			Orientation: orientation,
			Copies:      copies,
			Rasterize:   true,
		},
		Data: img.Data,
	}, nil
}

// receiptJob builds a margin-less single-copy job for a receipt page
func receiptJob(printer string, widthMM, heightMM float64, data string) PrintJob {
	return PrintJob{
		Printer: printer,
		Config: agent.PrintConfig{
			Size: agent.Size{
				Width:  layout.MMToInches(widthMM),
				Height: layout.MMToInches(heightMM),
			},
			Units:       "in",
			Orientation: layout.Portrait,
			Copies:      1,
			Rasterize:   true,
		},
		Data: data,
	}
}

// receiptSize derives the physical page size of a capture, clamped to the
// minimum receipt dimensions.
func receiptSize(img *raster.Image) (widthMM, heightMM float64) {
	return math.Max(img.WidthMM(), MinReceiptWidthMM), math.Max(img.HeightMM(), MinReceiptHeightMM)
}

// needsSlicing reports whether content of heightMM spans more than one page
func needsSlicing(heightMM float64) bool {
	return heightMM > MaxPageHeightMM
}
