package layout

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarginsInches(t *testing.T) {
	m := Margins{Top: 2, Right: 2, Bottom: 2, Left: 2}.Inches()
	assert.InDelta(t, 2/25.4, m.Top, 1e-12)
	assert.InDelta(t, 2/25.4, m.Right, 1e-12)
	assert.InDelta(t, 2/25.4, m.Bottom, 1e-12)
	assert.InDelta(t, 2/25.4, m.Left, 1e-12)

	assert.Equal(t, MarginsInches{}, Margins{}.Inches())
}

func TestSettingsJSONShape(t *testing.T) {
	data, err := json.Marshal(DefaultSettings())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{"fontFamily", "copies", "paperSize", "paperWidthMm", "paperHeightMm", "orientation", "margins", "scalePercent"} {
		assert.Contains(t, raw, key)
	}
	assert.Len(t, raw, 8)
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())

	s := DefaultSettings()
	s.Copies = 0
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.Orientation = "sideways"
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.Margins.Left = -1
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.PaperWidthMM = 0
	assert.NoError(t, s.Validate(), "zero size is rejected at job build time, not here")
}

func TestSettingsNormalize(t *testing.T) {
	s := Settings{PaperWidthMM: -5}.Normalize()
	assert.Equal(t, 1, s.Copies)
	assert.Equal(t, 100.0, s.ScalePercent)
	assert.Equal(t, Portrait, s.Orientation)
	assert.Equal(t, PaperCustom, s.PaperSize)
	assert.Equal(t, 0.0, s.PaperWidthMM)
}

func TestPrintScale(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 1.0, s.PrintScale())
	s.ScalePercent = 150
	assert.Equal(t, 1.5, s.PrintScale())
	s.ScalePercent = 0
	assert.Equal(t, 1.0, s.PrintScale())
}
