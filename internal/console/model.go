// Package console is the point-of-sale terminal: agent connection status,
// printer choice, shelf labels and receipts.
package console

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/thereceipt/silent-print/internal/agent"
	"github.com/thereceipt/silent-print/internal/backend"
	"github.com/thereceipt/silent-print/internal/checkout"
	"github.com/thereceipt/silent-print/internal/dispatch"
	"github.com/thereceipt/silent-print/internal/layout"
	"github.com/thereceipt/silent-print/internal/raster"
)

// Agent is the connection manager as seen by the console
type Agent interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	EnumeratePrinters(ctx context.Context, autoPick bool) ([]string, error)
	SelectPrinter(name string)
	Status() agent.Status
	Updates() <-chan agent.Status
}

// LabelPrinter prints labels
type LabelPrinter interface {
	PrintLabel(ctx context.Context, req dispatch.LabelRequest) (*dispatch.Result, error)
}

// Checkout records sales and prints receipts
type Checkout interface {
	Complete(ctx context.Context, cart checkout.Cart) (*backend.Order, error)
	PrintReceipt(ctx context.Context, order *backend.Order) error
}

// Catalog lists products
type Catalog interface {
	ListProducts(ctx context.Context) ([]backend.Product, error)
}

// Layouts loads the persisted label layout
type Layouts interface {
	LoadLayout() layout.Settings
}

// Deps wires the console to the rest of the POS
type Deps struct {
	Agent    Agent
	Labels   LabelPrinter
	Checkout Checkout
	Catalog  Catalog
	Layouts  Layouts
	Currency string
	// Timeout bounds every action; zero means 30s
	Timeout time.Duration
}

type (
	statusMsg   agent.Status
	productsMsg struct {
		products []backend.Product
		err      error
	}
	actionMsg struct {
		text string
		err  error
	}
)

// Model is the bubbletea model of the console
type Model struct {
	deps    Deps
	spinner spinner.Model

	status   agent.Status
	products []backend.Product
	cursor   int

	// form is the label layout being edited
	form *layout.Form

	busy    bool
	pending string
	message string
	failed  bool

	width    int
	quitting bool
}

// New creates the console model
func New(deps Deps) Model {
	if deps.Currency == "" {
		deps.Currency = "Rs"
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 30 * time.Second
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	settings := layout.DefaultSettings()
	if deps.Layouts != nil {
		settings = deps.Layouts.LoadLayout()
	}

	return Model{
		deps:    deps,
		spinner: s,
		status:  deps.Agent.Status(),
		form:    layout.NewForm(settings),
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForStatus(), m.loadProducts())
}

func (m Model) waitForStatus() tea.Cmd {
	updates := m.deps.Agent.Updates()
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return nil
		}
		return statusMsg(st)
	}
}

func (m Model) loadProducts() tea.Cmd {
	if m.deps.Catalog == nil {
		return nil
	}
	catalog, timeout := m.deps.Catalog, m.deps.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		products, err := catalog.ListProducts(ctx)
		return productsMsg{products: products, err: err}
	}
}

// action runs fn off the UI loop with the action timeout
func (m Model) action(fn func(ctx context.Context) (string, error)) tea.Cmd {
	timeout := m.deps.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		text, err := fn(ctx)
		return actionMsg{text: text, err: err}
	}
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case statusMsg:
		m.status = agent.Status(msg)
		return m, m.waitForStatus()

	case productsMsg:
		if msg.err != nil {
			m.message, m.failed = "Failed to load products: "+msg.err.Error(), true
			return m, nil
		}
		m.products = msg.products
		m.cursor = min(m.cursor, max(len(m.products)-1, 0))
		return m, nil

	case actionMsg:
		m.busy, m.pending = false, ""
		m.status = m.deps.Agent.Status()
		if msg.err != nil {
			m.message, m.failed = msg.err.Error(), true
		} else {
			m.message, m.failed = msg.text, false
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.products)-1 {
			m.cursor++
		}
		return m, nil
	case "tab":
		m.cyclePrinter()
		return m, nil
	}

	if m.busy {
		return m, nil
	}

	switch msg.String() {
	case "c":
		return m.start("Connecting", m.action(m.connect))
	case "x":
		return m.start("Disconnecting", m.action(func(ctx context.Context) (string, error) {
			return "Disconnected", m.deps.Agent.Disconnect(ctx)
		}))
	case "r":
		return m.start("Refreshing printers", m.action(m.refreshPrinters))
	case "g":
		return m, m.loadProducts()
	case "l":
		product, ok := m.selectedProduct()
		if !ok {
			return m, nil
		}
		return m.start("Printing label", m.action(func(ctx context.Context) (string, error) {
			return m.printLabel(ctx, product)
		}))
	case "p":
		m.form.SetPaperSize(nextPaper(m.form.Settings().PaperSize))
		return m, nil
	case "o":
		if m.form.Settings().Orientation == layout.Landscape {
			m.form.SetOrientation(layout.Portrait)
		} else {
			m.form.SetOrientation(layout.Landscape)
		}
		return m, nil
	case "+", "=":
		m.form.SetCopies(m.form.Settings().Copies + 1)
		return m, nil
	case "-":
		m.form.SetCopies(m.form.Settings().Copies - 1)
		return m, nil
	case "v":
		m.form.SaveSettings = !m.form.SaveSettings
		return m, nil
	case "w", "W", "h", "H":
		m.resizeCustom(msg.String())
		return m, nil
	case "m":
		m.shiftMargins(1)
		return m, nil
	case "M":
		m.shiftMargins(-1)
		return m, nil
	case "]":
		m.form.SetScalePercent(stepPercent(m.form.Settings().ScalePercent, 10))
		return m, nil
	case "[":
		m.form.SetScalePercent(stepPercent(m.form.Settings().ScalePercent, -10))
		return m, nil
	case "}":
		m.form.ContentScalePercent = stepPercent(m.form.ContentScalePercent, 10)
		return m, nil
	case "{":
		m.form.ContentScalePercent = stepPercent(m.form.ContentScalePercent, -10)
		return m, nil
	case "f":
		if m.form.Settings().FontFamily == MonoFontFamily {
			m.form.SetFontFamily(layout.DefaultSettings().FontFamily)
		} else {
			m.form.SetFontFamily(MonoFontFamily)
		}
		return m, nil
	case "s":
		return m.start("Printing sample receipt", m.action(m.printSample))
	case "b":
		product, ok := m.selectedProduct()
		if !ok {
			return m, nil
		}
		return m.start("Completing sale", m.action(func(ctx context.Context) (string, error) {
			return m.sell(ctx, product)
		}))
	}

	return m, nil
}

func (m Model) start(pending string, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	m.busy, m.pending, m.message = true, pending, ""
	return m, tea.Batch(cmd, m.spinner.Tick)
}

func (m *Model) cyclePrinter() {
	printers := m.status.Printers
	if len(printers) == 0 {
		return
	}
	next := 0
	for i, name := range printers {
		if name == m.status.Printer {
			next = (i + 1) % len(printers)
			break
		}
	}
	m.deps.Agent.SelectPrinter(printers[next])
	m.status.Printer = printers[next]
}

func (m Model) selectedProduct() (backend.Product, bool) {
	if m.cursor < 0 || m.cursor >= len(m.products) {
		return backend.Product{}, false
	}
	return m.products[m.cursor], true
}

func (m Model) connect(ctx context.Context) (string, error) {
	if err := m.deps.Agent.Connect(ctx); err != nil {
		return "", err
	}
	printers, err := m.deps.Agent.EnumeratePrinters(ctx, true)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Connected, %d printer(s) found", len(printers)), nil
}

func (m Model) refreshPrinters(ctx context.Context) (string, error) {
	printers, err := m.deps.Agent.EnumeratePrinters(ctx, true)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d printer(s) found", len(printers)), nil
}

// MonoFontFamily is the fixed-width alternative offered by the font toggle
const MonoFontFamily = "Courier New, monospace"

const (
	sizeStepMM   = 5
	minPercent   = 10
	maxPercent   = 400
	maxMarginsMM = 20
)

// resizeCustom switches to a custom page starting from the current
// effective size. w/h grow the width/height by one step, W/H shrink it.
func (m *Model) resizeCustom(key string) {
	s := m.form.Settings()
	width, height := s.PaperWidthMM, s.PaperHeightMM
	switch key {
	case "w":
		width += sizeStepMM
	case "W":
		width = max(width-sizeStepMM, sizeStepMM)
	case "h":
		height += sizeStepMM
	case "H":
		height = max(height-sizeStepMM, sizeStepMM)
	}
	m.form.SetPaperSize(layout.PaperCustom)
	m.form.SetCustomSize(strconv.FormatFloat(width, 'f', -1, 64), strconv.FormatFloat(height, 'f', -1, 64))
}

// shiftMargins moves all four margins by delta millimeters
func (m *Model) shiftMargins(delta float64) {
	v := min(max(m.form.Settings().Margins.Top+delta, 0), maxMarginsMM)
	m.form.SetMargins(layout.Margins{Top: v, Right: v, Bottom: v, Left: v})
}

func stepPercent(current, delta float64) float64 {
	if current <= 0 {
		current = 100
	}
	return min(max(current+delta, minPercent), maxPercent)
}

// nextPaper cycles through the presets and Custom
func nextPaper(current string) string {
	sizes := append(layout.Presets(), layout.PaperCustom)
	for i, name := range sizes {
		if name == current {
			return sizes[(i+1)%len(sizes)]
		}
	}
	return sizes[0]
}

func (m Model) printLabel(ctx context.Context, p backend.Product) (string, error) {
	settings := m.form.Settings()

	res, err := m.deps.Labels.PrintLabel(ctx, dispatch.LabelRequest{
		Target:       LabelTarget(p, m.deps.Currency, settings, m.form.ContentScalePercent),
		Settings:     settings,
		SaveSettings: m.form.SaveSettings,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Label for %s sent to %s", p.Name, res.Printer), nil
}

func (m Model) printSample(ctx context.Context) (string, error) {
	lines := []backend.OrderLine{
		{Name: "Sample item", Qty: 2, UnitPrice: decimal.RequireFromString("2.50")},
		{Name: "Another item", Qty: 1, UnitPrice: decimal.RequireFromString("4.00")},
	}
	sub, tax, total := checkout.Totals(lines, decimal.Zero, decimal.Zero)
	order := &backend.Order{
		ID:       "SAMPLE",
		Lines:    lines,
		Subtotal: sub,
		Tax:      tax,
		Total:    total,
		PaidAt:   time.Now(),
	}
	if err := m.deps.Checkout.PrintReceipt(ctx, order); err != nil {
		return "", err
	}
	return "Sample receipt printed", nil
}

func (m Model) sell(ctx context.Context, p backend.Product) (string, error) {
	order, err := m.deps.Checkout.Complete(ctx, checkout.Cart{Lines: []backend.OrderLine{{
		ProductID: p.ID,
		Name:      p.Name,
		SKU:       p.SKU,
		Barcode:   p.Barcode,
		Qty:       1,
		UnitPrice: p.Price,
	}}})
	var printErr *checkout.PrintError
	if errors.As(err, &printErr) {
		return "", fmt.Errorf("order %s saved but the receipt did not print: %w", printErr.Order.ID, printErr.Err)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Order %s completed", order.ID), nil
}

// View implements tea.Model
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("Silent Print POS"))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	b.WriteString(SectionHeaderStyle.Render("Printers"))
	b.WriteString("\n")
	if len(m.status.Printers) == 0 {
		b.WriteString(MutedStyle.Render("  no printers"))
		b.WriteString("\n")
	}
	for _, name := range m.status.Printers {
		if name == m.status.Printer {
			b.WriteString(SelectedItemStyle.Render("▸ " + name))
		} else {
			b.WriteString(ListItemStyle.Render("  " + name))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(SectionHeaderStyle.Render("Products"))
	b.WriteString("\n")
	if len(m.products) == 0 {
		b.WriteString(MutedStyle.Render("  no products"))
		b.WriteString("\n")
	}
	for i, p := range m.products {
		line := fmt.Sprintf("%-28s %10s", Truncate(p.Name, 28), p.Price.StringFixed(2))
		if i == m.cursor {
			b.WriteString(SelectedItemStyle.Render("▸ " + line))
		} else {
			b.WriteString(ListItemStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(SectionHeaderStyle.Render("Label layout"))
	b.WriteString("\n")
	b.WriteString(ListItemStyle.Render("  " + m.layoutSummary()))
	b.WriteString("\n\n")

	switch {
	case m.busy:
		b.WriteString(m.spinner.View() + " " + m.pending + "...")
	case m.message != "" && m.failed:
		b.WriteString(ErrorStyle.Render(m.message))
	case m.message != "":
		b.WriteString(SuccessStyle.Render(m.message))
	}
	b.WriteString("\n")

	help := []string{
		RenderHelp("c", "connect"),
		RenderHelp("x", "disconnect"),
		RenderHelp("r", "printers"),
		RenderHelp("tab", "next printer"),
		RenderHelp("l", "label"),
		RenderHelp("p/o/±", "paper/orientation/copies"),
		RenderHelp("w/h", "custom size"),
		RenderHelp("m", "margins"),
		RenderHelp("[ ] { }", "print/content scale"),
		RenderHelp("f", "font"),
		RenderHelp("v", "save layout"),
		RenderHelp("b", "sell"),
		RenderHelp("s", "sample receipt"),
		RenderHelp("q", "quit"),
	}
	b.WriteString(HelpBarStyle.Render(strings.Join(help, "  ")))

	return b.String()
}

func (m Model) layoutSummary() string {
	s := m.form.Settings()
	save := "off"
	if m.form.SaveSettings {
		save = "on"
	}
	font := "regular"
	if raster.MonospaceFamily(s.FontFamily) {
		font = "mono"
	}
	return fmt.Sprintf("%s %g×%gmm %s, margins %gmm, %d cop%s, print %g%%, content %g%%, %s font, save %s",
		s.PaperSize, s.PaperWidthMM, s.PaperHeightMM, s.Orientation, s.Margins.Top,
		s.Copies, plural(s.Copies, "y", "ies"), s.ScalePercent, m.form.ContentScalePercent, font, save)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func (m Model) statusLine() string {
	var line string
	switch m.status.State {
	case agent.StateConnected:
		line = StatusOnline.String() + " " + SuccessStyle.Render("Connected")
	case agent.StateConnecting:
		line = StatusPending.String() + " " + WarningStyle.Render("Connecting")
	default:
		line = StatusOffline.String() + " " + ErrorStyle.Render("Disconnected")
	}

	if m.status.Printer != "" {
		line += MutedStyle.Render("  printer: ") + m.status.Printer
	}
	if m.status.LastError != "" && m.status.State != agent.StateConnected {
		line += lipgloss.NewStyle().Foreground(Error).Render("  (" + m.status.LastError + ")")
	}
	return line
}
