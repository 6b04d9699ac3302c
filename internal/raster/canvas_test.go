package raster

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() *Document {
	return NewDocument().
		Text("Corner Store", 16, true, AlignCenter).
		Divider("dashed").
		Columns("Tea x2", "Rs 4.00", 0).
		Amount("Total", decimal.RequireFromString("4.28"), "Rs", true).
		Barcode("SKU-0001", 30, true).
		QRCode("order:42", 64)
}

func TestDocumentTarget_CaptureWidth(t *testing.T) {
	target := NewDocumentTarget(sampleDocument(), 227)

	img, err := New(nil).Capture(context.Background(), target, 1)
	require.NoError(t, err)
	assert.Equal(t, 454, img.Width)
	assert.Greater(t, img.Height, 0)

	restored, err := target.Transform(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Transform{}, restored)
}

func TestDocumentTarget_ScaleShrinksContent(t *testing.T) {
	full, err := New(nil).Capture(context.Background(), NewDocumentTarget(sampleDocument(), 200), 1)
	require.NoError(t, err)
	half, err := New(nil).Capture(context.Background(), NewDocumentTarget(sampleDocument(), 200), 0.5)
	require.NoError(t, err)

	assert.Equal(t, 400, full.Width)
	assert.Equal(t, 200, half.Width)
	assert.Less(t, half.Height, full.Height)
}

func TestDocumentTarget_Unavailable(t *testing.T) {
	_, err := New(nil).Capture(context.Background(), NewDocumentTarget(nil, 200), 1)
	assert.ErrorIs(t, err, ErrTargetUnavailable)
}

func TestDocumentTarget_TallDocumentGrows(t *testing.T) {
	doc := NewDocument()
	for i := 0; i < 200; i++ {
		doc.Columns("Line item", "Rs 1.00", 12)
	}

	img, err := New(nil).Capture(context.Background(), NewDocumentTarget(doc, 200), 1)
	require.NoError(t, err)
	assert.Greater(t, img.HeightMM(), 200.0)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "Rs 4.50", FormatAmount(decimal.RequireFromString("4.5"), "Rs"))
	assert.Equal(t, "10.00", FormatAmount(decimal.NewFromInt(10), ""))
}

func TestDocumentScale(t *testing.T) {
	doc := NewDocument().
		Text("Tea", 12, true, AlignCenter).
		Amount("Price", decimal.NewFromInt(1), "Rs", true).
		Barcode("SKU-0001", 28, true).
		QRCode("x", 0).
		Feed(10).
		Scale(150)

	assert.InDelta(t, 18, doc.Elements[0].Size, 1e-9)
	assert.InDelta(t, 18, doc.Elements[1].Size, 1e-9)
	assert.InDelta(t, 42, doc.Elements[2].Height, 1e-9)
	assert.InDelta(t, 18, doc.Elements[2].Size, 1e-9)
	assert.InDelta(t, 144, doc.Elements[3].Size, 1e-9)
	assert.InDelta(t, 15, doc.Elements[4].Height, 1e-9)

	same := NewDocument().Text("Tea", 12, false, AlignLeft).Scale(0)
	assert.Equal(t, 12.0, same.Elements[0].Size)
}

func TestDocumentTarget_ContentScaleGrowsContent(t *testing.T) {
	normal, err := New(nil).Capture(context.Background(), NewDocumentTarget(sampleDocument(), 200), 1)
	require.NoError(t, err)
	large, err := New(nil).Capture(context.Background(), NewDocumentTarget(sampleDocument().Scale(150), 200), 1)
	require.NoError(t, err)

	assert.Equal(t, normal.Width, large.Width)
	assert.Greater(t, large.Height, normal.Height)
}

func TestDocumentMonospace(t *testing.T) {
	assert.False(t, NewDocument().Monospace())
	assert.False(t, NewDocument().WithFont("Arial, sans-serif").Monospace())
	assert.True(t, NewDocument().WithFont("Courier New, monospace").Monospace())
	assert.True(t, NewDocument().WithFont("Consolas").Monospace())

	doc := func(family string) *Document {
		return NewDocument().WithFont(family).Text("iiiiiiii WWWWWWWW", 14, false, AlignLeft)
	}
	regular, err := New(nil).Capture(context.Background(), NewDocumentTarget(doc("Arial"), 200), 1)
	require.NoError(t, err)
	mono, err := New(nil).Capture(context.Background(), NewDocumentTarget(doc("monospace"), 200), 1)
	require.NoError(t, err)
	assert.NotEqual(t, regular.Data, mono.Data)
}
