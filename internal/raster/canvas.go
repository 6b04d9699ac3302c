package raster

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	defaultTextSize    = 12
	defaultBarcodeSize = 40
	defaultQRSize      = 96
	padding            = 4
	lineGap            = 3
)

var (
	fontsOnce   sync.Once
	regularFont *truetype.Font
	boldFont    *truetype.Font
	monoFont    *truetype.Font
	monoBold    *truetype.Font
	fontsErr    error
)

func loadFonts() error {
	fontsOnce.Do(func() {
		for _, f := range []struct {
			dst **truetype.Font
			ttf []byte
		}{
			{&regularFont, goregular.TTF},
			{&boldFont, gobold.TTF},
			{&monoFont, gomono.TTF},
			{&monoBold, gomonobold.TTF},
		} {
			if *f.dst, fontsErr = truetype.Parse(f.ttf); fontsErr != nil {
				return
			}
		}
	})
	return fontsErr
}

// DocumentTarget renders a Document onto an in-process canvas of a fixed
// CSS pixel width. Its transform is honoured the way a browser would: a
// scale(s) transform scales the rendered content.
type DocumentTarget struct {
	doc       *Document
	width     float64
	mu        sync.Mutex
	transform Transform
}

// NewDocumentTarget creates a target for doc laid out widthCSS pixels wide
func NewDocumentTarget(doc *Document, widthCSS float64) *DocumentTarget {
	return &DocumentTarget{doc: doc, width: widthCSS}
}

// Transform implements Target
func (t *DocumentTarget) Transform(ctx context.Context) (Transform, error) {
	if t == nil || t.doc == nil || t.width <= 0 {
		return Transform{}, ErrTargetUnavailable
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transform, nil
}

// SetTransform implements Target
func (t *DocumentTarget) SetTransform(ctx context.Context, tr Transform) error {
	if t == nil {
		return ErrTargetUnavailable
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transform = tr
	return nil
}

// Capture implements Target
func (t *DocumentTarget) Capture(ctx context.Context, oversampling float64) (image.Image, error) {
	if t == nil || t.doc == nil || t.width <= 0 {
		return nil, ErrTargetUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if oversampling <= 0 {
		oversampling = 1
	}

	t.mu.Lock()
	factor := oversampling * t.transform.Scale()
	t.mu.Unlock()

	c, err := newCanvas(int(math.Round(t.width*factor)), factor)
	if err != nil {
		return nil, err
	}
	c.mono = t.doc.Monospace()
	for i := range t.doc.Elements {
		if err := c.draw(&t.doc.Elements[i]); err != nil {
			return nil, fmt.Errorf("failed to render element %d: %w", i, err)
		}
	}
	return c.crop(), nil
}

// canvas is a growing white drawing surface
type canvas struct {
	ctx    *gg.Context
	width  int
	height int
	factor float64
	y      float64
	mono   bool
}

func newCanvas(width int, factor float64) (*canvas, error) {
	if width <= 0 {
		return nil, ErrTargetUnavailable
	}
	if err := loadFonts(); err != nil {
		return nil, fmt.Errorf("failed to load fonts: %w", err)
	}

	height := int(200 * factor)
	ctx := gg.NewContext(width, height)
	ctx.SetColor(color.White)
	ctx.Clear()
	ctx.SetColor(color.Black)

	return &canvas{ctx: ctx, width: width, height: height, factor: factor}, nil
}

func (c *canvas) px(css float64) float64 {
	return css * c.factor
}

func (c *canvas) ensureHeight(needed int) {
	if int(c.y)+needed <= c.height {
		return
	}
	newHeight := c.height * 2
	if newHeight < int(c.y)+needed {
		newHeight = int(c.y) + needed + c.height
	}

	next := gg.NewContext(c.width, newHeight)
	next.SetColor(color.White)
	next.Clear()
	next.DrawImage(c.ctx.Image(), 0, 0)
	next.SetColor(color.Black)

	c.ctx = next
	c.height = newHeight
}

func (c *canvas) crop() image.Image {
	h := int(math.Ceil(c.y + c.px(padding)))
	if h > c.height {
		h = c.height
	}
	if h < 1 {
		h = 1
	}
	return imaging.Crop(c.ctx.Image(), image.Rect(0, 0, c.width, h))
}

func (c *canvas) face(size float64, bold bool) font.Face {
	if size <= 0 {
		size = defaultTextSize
	}
	var f *truetype.Font
	switch {
	case c.mono && bold:
		f = monoBold
	case c.mono:
		f = monoFont
	case bold:
		f = boldFont
	default:
		f = regularFont
	}
	return truetype.NewFace(f, &truetype.Options{Size: c.px(size), DPI: 72, Hinting: font.HintingNone})
}

func (c *canvas) draw(e *Element) error {
	switch e.Type {
	case ElementText:
		c.drawText(e)
	case ElementBarcode:
		return c.drawBarcode(e)
	case ElementQRCode:
		return c.drawQRCode(e)
	case ElementAmount:
		c.drawRow(e.Label, FormatAmount(e.Amount, e.Currency), e.Size, e.Bold)
	case ElementColumns:
		c.drawRow(e.Label, e.Right, e.Size, e.Bold)
	case ElementDivider:
		c.drawDivider(e.Style)
	case ElementFeed:
		c.y += c.px(e.Height)
	default:
		return fmt.Errorf("unsupported element type: %s", e.Type)
	}
	return nil
}

func (c *canvas) drawText(e *Element) {
	c.ctx.SetFontFace(c.face(e.Size, e.Bold))
	maxWidth := float64(c.width) - 2*c.px(padding)

	for _, line := range c.ctx.WordWrap(e.Value, maxWidth) {
		w, h := c.ctx.MeasureString(line)
		if h == 0 {
			h = c.ctx.FontHeight()
		}

		var x float64
		switch e.Align {
		case AlignCenter:
			x = float64(c.width)/2 - w/2
		case AlignRight:
			x = float64(c.width) - w - c.px(padding)
		default:
			x = c.px(padding)
		}

		c.ensureHeight(int(h + c.px(lineGap)*2))
		c.ctx.DrawString(line, x, c.y+h)
		c.y += h + c.px(lineGap)
	}
}

func (c *canvas) drawRow(left, right string, size float64, bold bool) {
	c.ctx.SetFontFace(c.face(size, bold))
	h := c.ctx.FontHeight()
	rw, _ := c.ctx.MeasureString(right)

	c.ensureHeight(int(h + c.px(lineGap)*2))
	c.ctx.DrawString(left, c.px(padding), c.y+h)
	c.ctx.DrawString(right, float64(c.width)-rw-c.px(padding), c.y+h)
	c.y += h + c.px(lineGap)
}

func (c *canvas) drawDivider(style string) {
	c.ensureHeight(int(c.px(8)))
	y := c.y + c.px(4)
	x1 := c.px(padding)
	x2 := float64(c.width) - c.px(padding)
	c.ctx.SetLineWidth(math.Max(1, c.px(0.5)))

	switch style {
	case "double":
		c.ctx.DrawLine(x1, y-c.px(1), x2, y-c.px(1))
		c.ctx.Stroke()
		c.ctx.DrawLine(x1, y+c.px(1), x2, y+c.px(1))
		c.ctx.Stroke()
	case "dashed":
		dash, gap := c.px(4), c.px(2)
		for x := x1; x < x2; x += dash + gap {
			c.ctx.DrawLine(x, y, math.Min(x+dash, x2), y)
			c.ctx.Stroke()
		}
	default:
		c.ctx.DrawLine(x1, y, x2, y)
		c.ctx.Stroke()
	}
	c.y += c.px(8)
}

func (c *canvas) drawBarcode(e *Element) error {
	if e.Value == "" {
		return nil
	}

	bc, err := code128.Encode(e.Value)
	if err != nil {
		return err
	}

	height := e.Height
	if height <= 0 {
		height = defaultBarcodeSize
	}

	targetWidth := c.width - int(2*c.px(padding))
	if natural := bc.Bounds().Dx(); targetWidth < natural {
		targetWidth = natural
	}
	scaled, err := barcode.Scale(bc, targetWidth, int(c.px(height)))
	if err != nil {
		return err
	}

	imgHeight := scaled.Bounds().Dy()
	c.ensureHeight(imgHeight + int(c.px(lineGap)))
	x := (c.width - scaled.Bounds().Dx()) / 2
	c.ctx.DrawImage(scaled, x, int(c.y))
	c.y += float64(imgHeight) + c.px(lineGap)

	if e.ShowValue {
		c.drawText(&Element{Value: e.Value, Size: e.Size, Align: AlignCenter})
	}
	return nil
}

func (c *canvas) drawQRCode(e *Element) error {
	if e.Value == "" {
		return nil
	}

	qr, err := qrcode.New(e.Value, qrcode.Medium)
	if err != nil {
		return err
	}

	size := e.Size
	if size <= 0 {
		size = defaultQRSize
	}
	side := int(c.px(size))
	if limit := c.width - int(2*c.px(padding)); side > limit {
		side = limit
	}

	img := qr.Image(side)
	c.ensureHeight(img.Bounds().Dy() + int(c.px(lineGap)))
	x := (c.width - img.Bounds().Dx()) / 2
	c.ctx.DrawImage(img, x, int(c.y))
	c.y += float64(img.Bounds().Dy()) + c.px(lineGap)
	return nil
}
