package dispatch

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/thereceipt/silent-print/internal/layout"
	"github.com/thereceipt/silent-print/internal/raster"
)

// Slice is one vertical band of a tall capture
type Slice struct {
	Image *raster.Image
	// Offset is the first source row of the band
	Offset int
	// Height is the number of source rows in the band
	Height int
}

// HeightMM returns the physical height of the band, rounded up to a
// whole millimeter.
func (s Slice) HeightMM() float64 {
	return math.Ceil(layout.PixelsToMM(s.Height, s.Image.Oversampling))
}

// SliceRows returns the tallest band, in source pixels, that still fits on
// one page at the given oversampling.
func SliceRows(oversampling float64) int {
	return layout.MMToPixels(MaxPageHeightMM, oversampling)
}

// SliceImage cuts img into consecutive top-to-bottom bands of at most
// maxRows rows. Each band is drawn onto a fresh white canvas of the same
// width.
func SliceImage(img *raster.Image, maxRows int) ([]Slice, error) {
	if maxRows < 1 {
		maxRows = 1
	}

	src := img.Bitmap
	b := src.Bounds()
	var slices []Slice

	for offset := 0; offset < b.Dy(); offset += maxRows {
		rows := maxRows
		if offset+rows > b.Dy() {
			rows = b.Dy() - offset
		}

		band := imaging.Crop(src, image.Rect(b.Min.X, b.Min.Y+offset, b.Max.X, b.Min.Y+offset+rows))
		canvas := imaging.New(b.Dx(), rows, color.White)
		canvas = imaging.Paste(canvas, band, image.Pt(0, 0))

		encoded, err := raster.Encode(canvas, img.Oversampling)
		if err != nil {
			return nil, err
		}
		slices = append(slices, Slice{Image: encoded, Offset: offset, Height: rows})
	}

	return slices, nil
}
