package printer

import (
	"bytes"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// ESC/POS command prefixes
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	FS  byte = 0x1C
)

// DefaultDPI is the resolution of common 58mm and 80mm thermal heads
const DefaultDPI = 203

// rasterBand is the number of rows sent per GS v 0 command; many printers
// drop larger blocks
const rasterBand = 256

// Options is the physical geometry of one job
type Options struct {
	// WidthInches is the printable width, zero keeps the image width
	WidthInches float64
	Copies      int
	Landscape   bool
	DPI         int
	// Cut feeds and cuts the paper after every copy
	Cut bool
}

// Dots is the printable width in printer dots, rounded down to a whole byte
func (o Options) Dots() int {
	dpi := o.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	dots := int(math.Floor(o.WidthInches * float64(dpi)))
	return dots - dots%8
}

// Encoder builds an ESC/POS command stream
type Encoder struct {
	buffer *bytes.Buffer
}

// NewEncoder creates an empty encoder
func NewEncoder() *Encoder {
	return &Encoder{buffer: new(bytes.Buffer)}
}

// Initialize resets the printer
func (e *Encoder) Initialize() {
	e.buffer.Write([]byte{ESC, '@'})
}

// PrintImage writes img as GS v 0 raster bit images. Dark pixels print.
func (e *Encoder) PrintImage(img image.Image) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return
	}

	bitmap := imageToBitmap(img)
	bytesPerLine := (width + 7) / 8

	for top := 0; top < height; top += rasterBand {
		rows := min(rasterBand, height-top)

		e.buffer.Write([]byte{
			GS, 'v', '0', 0,
			byte(bytesPerLine & 0xFF), byte(bytesPerLine >> 8 & 0xFF),
			byte(rows & 0xFF), byte(rows >> 8 & 0xFF),
		})
		e.buffer.Write(bitmap[top*bytesPerLine : (top+rows)*bytesPerLine])
	}
}

// Cut performs a full cut
func (e *Encoder) Cut() {
	e.buffer.Write([]byte{GS, 'V', 0})
}

// PartialCut leaves a small uncut bridge
func (e *Encoder) PartialCut() {
	e.buffer.Write([]byte{GS, 'V', 1})
}

// LineFeed advances one line
func (e *Encoder) LineFeed() {
	e.buffer.WriteByte(0x0A)
}

// Feed advances lines
func (e *Encoder) Feed(lines int) {
	for i := 0; i < lines; i++ {
		e.LineFeed()
	}
}

// Bytes returns the command stream
func (e *Encoder) Bytes() []byte {
	return e.buffer.Bytes()
}

// Reset clears the buffer
func (e *Encoder) Reset() {
	e.buffer.Reset()
}

// Prepare rotates and scales img to the printable width of opts
func Prepare(img image.Image, opts Options) image.Image {
	if opts.Landscape {
		img = imaging.Rotate90(img)
	}

	out := imaging.Grayscale(img)
	if dots := opts.Dots(); dots > 0 && out.Bounds().Dx() != dots {
		return imaging.Resize(out, dots, 0, imaging.Lanczos)
	}
	return out
}

// Encode renders img as a complete job: every copy, each fed and cut
func Encode(img image.Image, opts Options) []byte {
	prepared := Prepare(img, opts)
	copies := max(opts.Copies, 1)

	e := NewEncoder()
	e.Initialize()
	for i := 0; i < copies; i++ {
		e.PrintImage(prepared)
		if opts.Cut {
			e.Feed(3)
			e.PartialCut()
		}
	}
	return e.Bytes()
}

// imageToBitmap packs img into rows of 1-bit pixels, MSB first, set for
// pixels darker than 50% gray. Transparent pixels are white.
func imageToBitmap(img image.Image) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	bytesPerLine := (width + 7) / 8
	bitmap := make([]byte, bytesPerLine*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, a := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			if a < 0x8000 {
				continue
			}
			if (r+g+b)/3 < 0x8000 {
				bitmap[y*bytesPerLine+x/8] |= 1 << (7 - x%8)
			}
		}
	}

	return bitmap
}
