package console

import (
	"github.com/thereceipt/silent-print/internal/backend"
	"github.com/thereceipt/silent-print/internal/layout"
	"github.com/thereceipt/silent-print/internal/raster"
)

// LabelDocument lays out a shelf label for p
func LabelDocument(p backend.Product, currency string) *raster.Document {
	doc := raster.NewDocument().
		Text(p.Name, 12, true, raster.AlignCenter).
		Amount("Price", p.Price, currency, true)

	code := p.Barcode
	if code == "" {
		code = p.SKU
	}
	if code != "" {
		doc.Barcode(code, 28, true)
	}
	return doc
}

// LabelTarget renders the label at the printable width of the layout in its
// font family, with text and codes scaled by contentScale percent.
func LabelTarget(p backend.Product, currency string, s layout.Settings, contentScale float64) *raster.DocumentTarget {
	paper := s.Paper()
	width := paper.WidthMM - s.Margins.Left - s.Margins.Right
	if s.Orientation == layout.Landscape {
		width = paper.HeightMM - s.Margins.Left - s.Margins.Right
	}
	if width <= 0 {
		width = paper.WidthMM
	}
	doc := LabelDocument(p, currency).WithFont(s.FontFamily).Scale(contentScale)
	return raster.NewDocumentTarget(doc, layout.CSSPixels(width))
}
