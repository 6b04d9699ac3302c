package tui

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/silent-print/internal/printer"
	"github.com/thereceipt/silent-print/internal/registry"
)

func newDashboard(t *testing.T) (*Dashboard, *printer.Manager) {
	t.Helper()
	reg, err := registry.New("", nil)
	require.NoError(t, err)

	m := printer.NewManager(reg, printer.WithDetectors())
	_, err = m.DetectPrinters(context.Background())
	require.NoError(t, err)

	q := printer.NewPrintQueue(printer.NewConnectionPool(nil, nil), m, 0)
	t.Cleanup(q.Stop)

	return NewDashboard(m, q, "0.0.0.0:8182", func() int { return 2 }), m
}

func logText(d *Dashboard) string {
	return d.logsArea.GetText(true)
}

func TestDashboard_EmptyPrinters(t *testing.T) {
	d, _ := newDashboard(t)
	d.refreshAll()

	require.Equal(t, 1, d.printersList.GetItemCount())
	main, _ := d.printersList.GetItemText(0)
	assert.Equal(t, "No printers detected", main)
	assert.Equal(t, 1, d.queueTable.GetRowCount())
	assert.Contains(t, d.statusBox.GetText(true), "Clients: 2")
}

func TestDashboard_AddAndRename(t *testing.T) {
	d, m := newDashboard(t)

	d.executeCommand("add 10.0.0.9:9101 Kitchen")
	require.Len(t, m.Printers(), 1)
	p := m.Printers()[0]
	assert.Equal(t, "10.0.0.9", p.Host)
	assert.Equal(t, 9101, p.Port)
	assert.Equal(t, "Kitchen", p.Description)

	main, secondary := d.printersList.GetItemText(0)
	assert.Equal(t, "* Kitchen", main)
	assert.Equal(t, "NETWORK • 10.0.0.9:9101", secondary)

	d.executeCommand("name kitchen Bar")
	assert.Equal(t, "Bar", m.Printers()[0].Name)
	assert.Contains(t, logText(d), "Renamed Kitchen to Bar")
}

func TestDashboard_AddDefaultsPort(t *testing.T) {
	d, m := newDashboard(t)

	d.executeCommand("add 192.168.1.50")
	require.Len(t, m.Printers(), 1)
	assert.Equal(t, printer.DefaultNetworkPort, m.Printers()[0].Port)
}

func TestDashboard_CommandErrors(t *testing.T) {
	d, _ := newDashboard(t)

	d.executeCommand("name")
	d.executeCommand("name ghost Bar")
	d.executeCommand("frobnicate")

	text := logText(d)
	assert.Contains(t, text, "usage: name <printer> <new name>")
	assert.Contains(t, text, "Unknown command: frobnicate")
}

func TestDashboard_ClearAndHelp(t *testing.T) {
	d, _ := newDashboard(t)

	d.executeCommand("help")
	assert.Contains(t, logText(d), "Available commands:")

	d.executeCommand("clear")
	assert.Empty(t, logText(d))
}

func TestDashboard_LogWriter(t *testing.T) {
	d, _ := newDashboard(t)

	n, err := d.LogWriter().Write([]byte("ERROR\tprint job failed\n"))
	require.NoError(t, err)
	assert.Equal(t, 23, n)
	assert.Contains(t, logText(d), "print job failed")
}

func TestJobSummary(t *testing.T) {
	jobs := []*printer.Job{
		{Status: printer.StatusQueued},
		{Status: printer.StatusCompleted},
		{Status: printer.StatusCompleted},
		{Status: printer.StatusFailed},
	}
	assert.Equal(t, "[1] Queued [0] Printing [2] Completed [1] Failed", jobSummary(jobs))
}
