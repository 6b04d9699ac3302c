package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thereceipt/silent-print/internal/layout"
)

func TestNew_MissingFile(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	assert.False(t, store.Has(LayoutKey))
}

func TestNew_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := New(path)
	assert.Error(t, err)
}

func TestLayoutPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	saved := layout.Settings{
		FontFamily:    "Courier New",
		Copies:        3,
		PaperSize:     layout.PaperCustom,
		PaperWidthMM:  58,
		PaperHeightMM: 30,
		Orientation:   layout.Landscape,
		Margins:       layout.Margins{Top: 1, Right: 2, Bottom: 3, Left: 4},
		ScalePercent:  90,
	}

	store1, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store1.SaveLayout(saved))

	// New instance simulates a new session
	store2, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, saved, store2.LoadLayout())
}

func TestClearLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveLayout(layout.DefaultSettings()))
	require.NoError(t, store.ClearLayout())

	reloaded, err := New(path)
	require.NoError(t, err)
	assert.False(t, reloaded.Has(LayoutKey))
	assert.Equal(t, layout.DefaultSettings(), reloaded.LoadLayout())
}

func TestSelectedPrinterIndependentOfLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.SetSelectedPrinter("POS-58"))
	require.NoError(t, store.SaveLayout(layout.DefaultSettings()))
	require.NoError(t, store.ClearLayout())

	reloaded, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "POS-58", reloaded.SelectedPrinter())
}

func TestSetSelectedPrinterEmptyDeletes(t *testing.T) {
	store := NewMemory()
	require.NoError(t, store.SetSelectedPrinter("Kitchen"))
	require.NoError(t, store.SetSelectedPrinter(""))
	assert.Equal(t, "", store.SelectedPrinter())
	assert.False(t, store.Has(ReceiptPrinterKey))
}

func TestGetNotFound(t *testing.T) {
	var v string
	assert.ErrorIs(t, NewMemory().Get("missing", &v), ErrNotFound)
}

func TestDeleteMissingKey(t *testing.T) {
	assert.NoError(t, NewMemory().Delete("missing"))
}
