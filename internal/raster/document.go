package raster

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ElementType identifies a document element
type ElementType string

const (
	ElementText    ElementType = "text"
	ElementBarcode ElementType = "barcode"
	ElementQRCode  ElementType = "qrcode"
	ElementAmount  ElementType = "amount"
	ElementDivider ElementType = "divider"
	ElementColumns ElementType = "columns"
	ElementFeed    ElementType = "feed"
)

// Align is horizontal text alignment
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// Element is one block of a printable document. Sizes are in CSS pixels.
type Element struct {
	Type  ElementType
	Value string
	Size  float64
	Bold  bool
	Align Align

	// Barcode; Size is the caption size
	Height    float64
	ShowValue bool

	// Amount and columns
	Label    string
	Amount   decimal.Decimal
	Currency string
	Right    string

	// Divider: solid, dashed or double
	Style string
}

// Document is an ordered list of elements laid out top to bottom
type Document struct {
	Elements []Element

	// FontFamily is a CSS style family list. Monospace families render
	// with Go Mono, everything else with Go Regular.
	FontFamily string
}

// NewDocument returns an empty document
func NewDocument() *Document {
	return &Document{}
}

func (d *Document) add(e Element) *Document {
	d.Elements = append(d.Elements, e)
	return d
}

// WithFont sets the font family of the document
func (d *Document) WithFont(family string) *Document {
	d.FontFamily = family
	return d
}

// Monospace reports whether the document font family asks for a
// fixed-width face
func (d *Document) Monospace() bool {
	return MonospaceFamily(d.FontFamily)
}

// MonospaceFamily reports whether a CSS style family list names a
// fixed-width font
func MonospaceFamily(family string) bool {
	family = strings.ToLower(family)
	for _, name := range []string{"mono", "courier", "consolas"} {
		if strings.Contains(family, name) {
			return true
		}
	}
	return false
}

// Scale multiplies every text size, barcode height, QR size and feed of the
// document by percent/100. Unset sizes are scaled from their defaults.
func (d *Document) Scale(percent float64) *Document {
	if percent <= 0 || percent == 100 {
		return d
	}
	k := percent / 100
	orDefault := func(v, def float64) float64 {
		if v <= 0 {
			return def
		}
		return v
	}

	for i := range d.Elements {
		e := &d.Elements[i]
		switch e.Type {
		case ElementText, ElementAmount, ElementColumns:
			e.Size = orDefault(e.Size, defaultTextSize) * k
		case ElementBarcode:
			e.Height = orDefault(e.Height, defaultBarcodeSize) * k
			e.Size = orDefault(e.Size, defaultTextSize) * k
		case ElementQRCode:
			e.Size = orDefault(e.Size, defaultQRSize) * k
		case ElementFeed:
			e.Height *= k
		}
	}
	return d
}

// Text appends a text block
func (d *Document) Text(value string, size float64, bold bool, align Align) *Document {
	return d.add(Element{Type: ElementText, Value: value, Size: size, Bold: bold, Align: align})
}

// Barcode appends a CODE128 barcode
func (d *Document) Barcode(value string, height float64, showValue bool) *Document {
	return d.add(Element{Type: ElementBarcode, Value: value, Height: height, ShowValue: showValue})
}

// QRCode appends a QR code
func (d *Document) QRCode(value string, size float64) *Document {
	return d.add(Element{Type: ElementQRCode, Value: value, Size: size})
}

// Amount appends a label with a right-aligned currency amount
func (d *Document) Amount(label string, amount decimal.Decimal, currency string, bold bool) *Document {
	return d.add(Element{Type: ElementAmount, Label: label, Amount: amount, Currency: currency, Bold: bold})
}

// Divider appends a horizontal rule
func (d *Document) Divider(style string) *Document {
	return d.add(Element{Type: ElementDivider, Style: style})
}

// Columns appends a two-column row
func (d *Document) Columns(left, right string, size float64) *Document {
	return d.add(Element{Type: ElementColumns, Label: left, Right: right, Size: size})
}

// Feed appends blank space
func (d *Document) Feed(height float64) *Document {
	return d.add(Element{Type: ElementFeed, Height: height})
}

// FormatAmount renders an amount with its currency prefix and two decimals
func FormatAmount(amount decimal.Decimal, currency string) string {
	if currency == "" {
		return amount.StringFixed(2)
	}
	return currency + " " + amount.StringFixed(2)
}
