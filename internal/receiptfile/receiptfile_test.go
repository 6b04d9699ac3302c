package receiptfile

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/silent-print/internal/layout"
	"github.com/thereceipt/silent-print/internal/raster"
)

func loadOrder(t *testing.T) *Receipt {
	t.Helper()
	r, err := ParseFile(filepath.Join("testdata", "order.receipt"))
	require.NoError(t, err)
	return r
}

func TestParseFile(t *testing.T) {
	r := loadOrder(t)

	assert.Equal(t, "Order receipt", r.Name)
	assert.Equal(t, 48.0, r.PrintableWidthMM())
	assert.Len(t, r.Variables, 3)
	assert.Len(t, r.Commands, 8)
}

func TestRender_WithData(t *testing.T) {
	r := loadOrder(t)

	doc, err := Render(r, Data{
		Variables: map[string]any{"order_id": "ORD-1", "total": 8.29},
		Arrays: map[string][]map[string]any{
			"items": {
				{"name": "Tea", "qty": float64(2), "price": 2.5},
				{"name": "Cake", "qty": float64(1), "price": "2.75"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, doc.Elements, 9)

	header := doc.Elements[0]
	assert.Equal(t, raster.ElementText, header.Type)
	assert.Equal(t, "VT Store", header.Value)
	assert.True(t, header.Bold)
	assert.Equal(t, 16.0, header.Size)
	assert.Equal(t, raster.AlignCenter, header.Align)

	assert.Equal(t, "dashed", doc.Elements[1].Style)

	assert.Equal(t, raster.ElementColumns, doc.Elements[2].Type)
	assert.Equal(t, "Tea x2", doc.Elements[2].Label)
	assert.Equal(t, "2.50", doc.Elements[2].Right)
	assert.Equal(t, "Cake x1", doc.Elements[3].Label)
	assert.Equal(t, "2.75", doc.Elements[3].Right)

	assert.Equal(t, "Total", doc.Elements[5].Label)
	assert.Equal(t, "Rs 8.29", doc.Elements[5].Right)

	assert.Equal(t, raster.ElementFeed, doc.Elements[6].Type)
	assert.Equal(t, 28.0, doc.Elements[6].Height)

	barcode := doc.Elements[7]
	assert.Equal(t, raster.ElementBarcode, barcode.Type)
	assert.Equal(t, "ORD-1", barcode.Value)
	assert.True(t, barcode.ShowValue)

	assert.Equal(t, raster.ElementQRCode, doc.Elements[8].Type)
	assert.Equal(t, 80.0, doc.Elements[8].Size)
}

func TestRender_Defaults(t *testing.T) {
	r := loadOrder(t)

	doc, err := Render(r, Data{})
	require.NoError(t, err)
	require.Len(t, doc.Elements, 8)

	assert.Equal(t, "Item x1", doc.Elements[2].Label)
	assert.Equal(t, "0.00", doc.Elements[2].Right)
	assert.Equal(t, "Rs 0.00", doc.Elements[4].Right)
	assert.Equal(t, "PREVIEW", doc.Elements[6].Value)
}

func TestRender_InvalidNumber(t *testing.T) {
	r := loadOrder(t)

	_, err := Render(r, Data{Variables: map[string]any{"total": "lots"}})
	assert.Error(t, err)
}

func TestTarget_Width(t *testing.T) {
	r := loadOrder(t)

	target, err := Target(r, Data{})
	require.NoError(t, err)

	img, err := target.Capture(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int(math.Round(layout.CSSPixels(48)*2)), img.Bounds().Dx())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"missing version", `{"commands":[{"type":"feed"}]}`},
		{"unsupported version", `{"version":"2.0","commands":[{"type":"feed"}]}`},
		{"bad paper width", `{"version":"1.0","paper_width":"40mm","commands":[{"type":"feed"}]}`},
		{"no commands", `{"version":"1.0","commands":[]}`},
		{"unknown command", `{"version":"1.0","commands":[{"type":"cut"}]}`},
		{"bad value type", `{"version":"1.0","variables":[{"let":"a","valueType":"date"}],"commands":[{"type":"feed"}]}`},
		{"duplicate variable", `{"version":"1.0","variables":[{"let":"a","valueType":"string"},{"let":"a","valueType":"string"}],"commands":[{"type":"feed"}]}`},
		{"unknown variable", `{"version":"1.0","commands":[{"type":"text","dynamicValue":"missing"}]}`},
		{"text without value", `{"version":"1.0","commands":[{"type":"text"}]}`},
		{"two value sources", `{"version":"1.0","variables":[{"let":"a","valueType":"string"}],"commands":[{"type":"text","value":"x","dynamicValue":"a"}]}`},
		{"array field without binding", `{"version":"1.0","commands":[{"type":"text","arrayField":"name"}]}`},
		{"unknown array", `{"version":"1.0","commands":[{"type":"text","value":"x","arrayBinding":"rows"}]}`},
		{"item without left side", `{"version":"1.0","commands":[{"type":"item"}]}`},
		{"bad align", `{"version":"1.0","commands":[{"type":"text","value":"x","align":"justify"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.json))
			assert.ErrorIs(t, err, ErrInvalidReceipt)
		})
	}
}

func TestParse_BadJSON(t *testing.T) {
	_, err := Parse([]byte("{"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidReceipt)
}

func TestLoadData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"variables":{"order_id":"ORD-9"},"arrays":{"items":[{"name":"Tea"}]}}`), 0644))

	data, err := LoadData(path)
	require.NoError(t, err)
	assert.Equal(t, "ORD-9", data.Variables["order_id"])
	assert.Len(t, data.Arrays["items"], 1)
}
