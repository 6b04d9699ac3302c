package console

import (
	"context"
	"errors"
	"math"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/silent-print/internal/agent"
	"github.com/thereceipt/silent-print/internal/backend"
	"github.com/thereceipt/silent-print/internal/checkout"
	"github.com/thereceipt/silent-print/internal/dispatch"
	"github.com/thereceipt/silent-print/internal/layout"
)

type fakeAgent struct {
	status     agent.Status
	updates    chan agent.Status
	connectErr error
	selected   []string
}

func (f *fakeAgent) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		f.status.LastError = f.connectErr.Error()
		return f.connectErr
	}
	f.status.State = agent.StateConnected
	return nil
}

func (f *fakeAgent) Disconnect(ctx context.Context) error {
	f.status.State = agent.StateDisconnected
	return nil
}

func (f *fakeAgent) EnumeratePrinters(ctx context.Context, autoPick bool) ([]string, error) {
	f.status.Printers = []string{"POS-58", "Zebra"}
	if autoPick && f.status.Printer == "" {
		f.status.Printer = "POS-58"
	}
	return f.status.Printers, nil
}

func (f *fakeAgent) SelectPrinter(name string) {
	f.selected = append(f.selected, name)
	f.status.Printer = name
}

func (f *fakeAgent) Status() agent.Status          { return f.status }
func (f *fakeAgent) Updates() <-chan agent.Status { return f.updates }

type fakeLabels struct {
	requests []dispatch.LabelRequest
	err      error
}

func (f *fakeLabels) PrintLabel(ctx context.Context, req dispatch.LabelRequest) (*dispatch.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &dispatch.Result{Printer: "POS-58"}, nil
}

type fakeCheckout struct {
	carts    []checkout.Cart
	receipts []*backend.Order
	err      error
}

func (f *fakeCheckout) Complete(ctx context.Context, cart checkout.Cart) (*backend.Order, error) {
	f.carts = append(f.carts, cart)
	order := &backend.Order{ID: "ord-7", Lines: cart.Lines}
	if f.err != nil {
		return order, &checkout.PrintError{Order: order, Err: f.err}
	}
	return order, nil
}

func (f *fakeCheckout) PrintReceipt(ctx context.Context, order *backend.Order) error {
	f.receipts = append(f.receipts, order)
	return f.err
}

type fakeCatalog struct{}

func (fakeCatalog) ListProducts(ctx context.Context) ([]backend.Product, error) {
	return []backend.Product{
		{ID: "1", Name: "Espresso", Barcode: "4006381333931", Price: decimal.RequireFromString("2.50")},
		{ID: "2", Name: "Muffin", SKU: "MUF-1", Price: decimal.RequireFromString("2.75")},
	}, nil
}

type fixture struct {
	agent    *fakeAgent
	labels   *fakeLabels
	checkout *fakeCheckout
}

func newModel(t *testing.T) (Model, *fixture) {
	t.Helper()
	f := &fixture{
		agent:    &fakeAgent{status: agent.Status{State: agent.StateDisconnected}, updates: make(chan agent.Status, 1)},
		labels:   &fakeLabels{},
		checkout: &fakeCheckout{},
	}
	m := New(Deps{
		Agent:    f.agent,
		Labels:   f.labels,
		Checkout: f.checkout,
		Catalog:  fakeCatalog{},
	})
	next, _ := m.Update(m.loadProducts()())
	return next.(Model), f
}

func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func press(t *testing.T, m Model, key string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// run presses key and feeds the action result back into the model
func run(t *testing.T, m Model, key string) Model {
	t.Helper()
	m, cmd := press(t, m, key)
	require.True(t, m.busy)
	for _, msg := range collect(cmd) {
		if action, ok := msg.(actionMsg); ok {
			next, _ := m.Update(action)
			return next.(Model)
		}
	}
	t.Fatalf("no action result for %q", key)
	return m
}

func TestConnectShowsPrinters(t *testing.T) {
	m, f := newModel(t)
	assert.Contains(t, m.View(), "Disconnected")

	m = run(t, m, "c")
	assert.False(t, m.busy)
	assert.False(t, m.failed)
	assert.Equal(t, "Connected, 2 printer(s) found", m.message)
	assert.Equal(t, agent.StateConnected, m.status.State)

	view := m.View()
	assert.Contains(t, view, "Connected")
	assert.Contains(t, view, "POS-58")

	m, _ = press(t, m, "tab")
	assert.Equal(t, []string{"Zebra"}, f.agent.selected)
	assert.Equal(t, "Zebra", m.status.Printer)
}

func TestConnectFailureIsShown(t *testing.T) {
	m, f := newModel(t)
	f.agent.connectErr = errors.New("dial tcp: connection refused")

	m = run(t, m, "c")
	assert.True(t, m.failed)
	assert.Contains(t, m.View(), "connection refused")
}

func TestPrintKeysIgnoredWhileBusy(t *testing.T) {
	m, f := newModel(t)

	m, cmd := press(t, m, "l")
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Equal(t, "Printing label", m.pending)

	for _, key := range []string{"l", "s", "b", "c"} {
		_, again := press(t, m, key)
		assert.Nil(t, again, key)
	}

	collect(cmd)
	assert.Len(t, f.labels.requests, 1)
	assert.Empty(t, f.checkout.carts)
}

func TestPrintLabelForSelectedProduct(t *testing.T) {
	m, f := newModel(t)
	m, _ = press(t, m, "down")

	m = run(t, m, "l")
	assert.Equal(t, "Label for Muffin sent to POS-58", m.message)

	require.Len(t, f.labels.requests, 1)
	req := f.labels.requests[0]
	assert.True(t, req.SaveSettings)
	assert.Equal(t, layout.DefaultSettings(), req.Settings)
	assert.NotNil(t, req.Target)
}

func TestLabelLayoutKeys(t *testing.T) {
	m, f := newModel(t)

	for _, key := range []string{"p", "o", "+", "+", "-", "+", "v"} {
		var cmd tea.Cmd
		m, cmd = press(t, m, key)
		assert.Nil(t, cmd, key)
	}
	assert.Contains(t, m.View(), "A4 210×297mm landscape, margins 2mm, 3 copies, print 100%, content 100%, regular font, save off")

	m = run(t, m, "l")
	require.Len(t, f.labels.requests, 1)
	req := f.labels.requests[0]
	assert.False(t, req.SaveSettings)
	assert.Equal(t, "A4", req.Settings.PaperSize)
	assert.Equal(t, 210.0, req.Settings.PaperWidthMM)
	assert.Equal(t, layout.Landscape, req.Settings.Orientation)
	assert.Equal(t, 3, req.Settings.Copies)
}

func TestLabelCustomLayoutKeys(t *testing.T) {
	m, f := newModel(t)

	for _, key := range []string{"w", "w", "H", "m", "m", "M", "]", "]", "}", "}", "{", "f"} {
		var cmd tea.Cmd
		m, cmd = press(t, m, key)
		assert.Nil(t, cmd, key)
	}
	assert.Contains(t, m.View(), "Custom 70×35mm portrait, margins 3mm, 1 copy, print 120%, content 110%, mono font, save on")

	m = run(t, m, "l")
	require.Len(t, f.labels.requests, 1)
	req := f.labels.requests[0]
	assert.Equal(t, layout.PaperCustom, req.Settings.PaperSize)
	assert.Equal(t, 70.0, req.Settings.PaperWidthMM)
	assert.Equal(t, 35.0, req.Settings.PaperHeightMM)
	assert.Equal(t, layout.Margins{Top: 3, Right: 3, Bottom: 3, Left: 3}, req.Settings.Margins)
	assert.Equal(t, 120.0, req.Settings.ScalePercent)
	assert.Equal(t, MonoFontFamily, req.Settings.FontFamily)

	img, err := req.Target.Capture(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int(math.Round(layout.CSSPixels(64)*2)), img.Bounds().Dx())

	m, _ = press(t, m, "f")
	assert.Contains(t, m.View(), "regular font")
}

func TestLayoutKeysClamp(t *testing.T) {
	m, _ := newModel(t)

	for i := 0; i < 50; i++ {
		m, _ = press(t, m, "[")
		m, _ = press(t, m, "{")
		m, _ = press(t, m, "M")
		m, _ = press(t, m, "W")
	}
	s := m.form.Settings()
	assert.Equal(t, 10.0, s.ScalePercent)
	assert.Equal(t, 10.0, m.form.ContentScalePercent)
	assert.Equal(t, 0.0, s.Margins.Left)
	assert.Equal(t, 5.0, s.PaperWidthMM)

	for i := 0; i < 50; i++ {
		m, _ = press(t, m, "]")
		m, _ = press(t, m, "m")
	}
	s = m.form.Settings()
	assert.Equal(t, 400.0, s.ScalePercent)
	assert.Equal(t, 20.0, s.Margins.Right)
}

func TestNextPaper(t *testing.T) {
	assert.Equal(t, "A4", nextPaper(layout.PaperCustom))
	assert.Equal(t, "A5", nextPaper("A4"))
	assert.Equal(t, layout.PaperCustom, nextPaper("Letter"))
	assert.Equal(t, "A4", nextPaper("B5"))
}

func TestSellReportsPrintAfterSave(t *testing.T) {
	m, f := newModel(t)
	f.checkout.err = dispatch.ErrNotConnected

	m = run(t, m, "b")
	assert.True(t, m.failed)
	assert.Contains(t, m.message, "order ord-7 saved but the receipt did not print")

	require.Len(t, f.checkout.carts, 1)
	line := f.checkout.carts[0].Lines[0]
	assert.Equal(t, "1", line.ProductID)
	assert.Equal(t, 1, line.Qty)
}

func TestSampleReceipt(t *testing.T) {
	m, f := newModel(t)

	m = run(t, m, "s")
	assert.Equal(t, "Sample receipt printed", m.message)
	require.Len(t, f.checkout.receipts, 1)
	assert.Equal(t, "9.00", f.checkout.receipts[0].Total.StringFixed(2))
}

func TestStatusUpdates(t *testing.T) {
	m, _ := newModel(t)

	next, cmd := m.Update(statusMsg(agent.Status{State: agent.StateDisconnected, LastError: "print agent connection closed"}))
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "print agent connection closed")
}

func TestLabelTarget(t *testing.T) {
	s := layout.DefaultSettings()
	product := backend.Product{Name: "Tea", Price: decimal.RequireFromString("1"), SKU: "SKU-1"}
	target := LabelTarget(product, "Rs", s, 100)
	require.NotNil(t, target)

	img, err := target.Capture(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int(math.Round(layout.CSSPixels(56)*2)), img.Bounds().Dx())

	large, err := LabelTarget(product, "Rs", s, 150).Capture(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds().Dx(), large.Bounds().Dx())
	assert.Greater(t, large.Bounds().Dy(), img.Bounds().Dy())
}
