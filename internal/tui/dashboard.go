// Package tui is the print agent's terminal dashboard
package tui

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/silent-print/internal/printer"
)

// Log levels of the dashboard log panel
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelCommand = "command"
)

// Dashboard shows printers, the job queue, agent status and logs
type Dashboard struct {
	App     *tview.Application
	manager *printer.Manager
	queue   *printer.PrintQueue
	addr    string
	clients func() int

	flex         *tview.Flex
	printersList *tview.List
	queueTable   *tview.Table
	statusBox    *tview.TextView
	logsArea     *tview.TextView
	commandInput *tview.InputField

	logs      []string
	maxLogs   int
	logsMu    sync.Mutex
	startTime time.Time
	running   atomic.Bool
}

// NewDashboard creates the dashboard. clients may be nil.
func NewDashboard(manager *printer.Manager, queue *printer.PrintQueue, addr string, clients func() int) *Dashboard {
	d := &Dashboard{
		App:       tview.NewApplication(),
		manager:   manager,
		queue:     queue,
		addr:      addr,
		clients:   clients,
		maxLogs:   200,
		startTime: time.Now(),
	}
	d.setupUI()
	return d
}

func (d *Dashboard) setupUI() {
	d.printersList = tview.NewList()
	d.printersList.SetBorder(true).SetTitle("Printers")

	d.queueTable = tview.NewTable()
	d.queueTable.SetBorder(true).SetTitle("Print Queue")

	d.statusBox = tview.NewTextView().SetDynamicColors(true)
	d.statusBox.SetBorder(true).SetTitle("Agent Status")

	d.logsArea = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	d.logsArea.SetBorder(true).SetTitle("Logs")

	d.commandInput = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0).
		SetPlaceholder("Type a command (e.g., 'help')").
		SetDoneFunc(func(key tcell.Key) {
			if key == tcell.KeyEnter {
				d.executeCommand(d.commandInput.GetText())
				d.commandInput.SetText("")
			}
		})

	topRow := tview.NewFlex().
		AddItem(d.printersList, 0, 1, false).
		AddItem(d.queueTable, 0, 2, false).
		AddItem(d.statusBox, 0, 1, false)

	bottom := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.logsArea, 0, 3, false).
		AddItem(d.commandInput, 1, 0, true)

	d.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 1, false).
		AddItem(bottom, 0, 1, true)

	d.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if d.commandInput.HasFocus() {
			if event.Key() == tcell.KeyEsc {
				d.App.SetFocus(d.printersList)
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyCtrlC, tcell.KeyEsc:
			d.App.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case ':':
				d.App.SetFocus(d.commandInput)
				return nil
			case 'q':
				d.App.Stop()
				return nil
			}
		}
		return event
	})

	d.App.SetRoot(d.flex, true)
}

// Run shows the dashboard until the user quits or ctx is cancelled
func (d *Dashboard) Run(ctx context.Context) error {
	d.refreshAll()
	d.AddLog("Print agent listening on "+d.addr, LevelInfo)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				d.App.Stop()
				return
			case <-ticker.C:
				d.App.QueueUpdateDraw(d.refreshAll)
			}
		}
	}()

	d.running.Store(true)
	defer d.running.Store(false)
	return d.App.Run()
}

func (d *Dashboard) refreshAll() {
	d.refreshPrinters()
	d.refreshQueue()
	d.refreshStatus()
}

func (d *Dashboard) refreshPrinters() {
	current := d.printersList.GetCurrentItem()
	d.printersList.Clear()

	printers := d.manager.Printers()
	if len(printers) == 0 {
		d.printersList.AddItem("No printers detected", "", 0, nil)
		return
	}

	def := d.manager.Default()
	for _, p := range printers {
		marker := " "
		if def != nil && def.ID == p.ID {
			marker = "*"
		}
		d.printersList.AddItem(marker+" "+p.DisplayName(), printerDetails(p), 0, nil)
	}
	if current < len(printers) {
		d.printersList.SetCurrentItem(current)
	}
}

func printerDetails(p *printer.Printer) string {
	kind := strings.ToUpper(p.Kind)
	switch {
	case p.Device != "":
		return kind + " • " + p.Device
	case p.Host != "":
		return kind + " • " + net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	case p.VID != 0:
		return fmt.Sprintf("%s • %04X:%04X", kind, p.VID, p.PID)
	}
	return kind
}

func (d *Dashboard) refreshQueue() {
	d.queueTable.Clear()

	for col, title := range []string{"Status", "Printer", "Copies", "Retries", "Age"} {
		d.queueTable.SetCell(0, col, tview.NewTableCell(title).
			SetAlign(tview.AlignCenter).
			SetSelectable(false).
			SetTextColor(tcell.ColorTeal))
	}

	jobs := d.queue.GetAllJobs()
	for i, job := range jobs {
		row := i + 1
		d.queueTable.SetCell(row, 0, tview.NewTableCell(statusIcon(job.Status)+" "+string(job.Status)))
		d.queueTable.SetCell(row, 1, tview.NewTableCell(job.PrinterName))
		d.queueTable.SetCell(row, 2, tview.NewTableCell(strconv.Itoa(max(job.Options.Copies, 1))))
		d.queueTable.SetCell(row, 3, tview.NewTableCell(strconv.Itoa(job.Retries)))
		d.queueTable.SetCell(row, 4, tview.NewTableCell(time.Since(job.CreatedAt).Truncate(time.Second).String()))
	}

	if len(jobs) > 0 {
		cell := tview.NewTableCell(jobSummary(jobs)).SetSelectable(false)
		d.queueTable.SetCell(len(jobs)+1, 0, cell)
	}
}

func jobSummary(jobs []*printer.Job) string {
	counts := make(map[printer.JobStatus]int)
	for _, job := range jobs {
		counts[job.Status]++
	}
	return fmt.Sprintf("[%d] Queued [%d] Printing [%d] Completed [%d] Failed",
		counts[printer.StatusQueued], counts[printer.StatusPrinting],
		counts[printer.StatusCompleted], counts[printer.StatusFailed])
}

func (d *Dashboard) refreshStatus() {
	uptime := time.Since(d.startTime)
	clients := 0
	if d.clients != nil {
		clients = d.clients()
	}

	d.statusBox.SetText(fmt.Sprintf(`[green]● Running[white]

Uptime: %dh %dm
Listening: %s
Clients: %d
Printers: %d
Jobs: %d total`,
		int(uptime.Hours()), int(uptime.Minutes())%60, d.addr, clients,
		len(d.manager.Printers()), len(d.queue.GetAllJobs())))
}

func (d *Dashboard) executeCommand(cmd string) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	d.AddLog("> "+cmd, LevelCommand)

	switch strings.ToLower(parts[0]) {
	case "refresh", "printers", "p":
		if _, err := d.manager.DetectPrinters(context.Background()); err != nil {
			d.AddLog("Printer scan failed: "+err.Error(), LevelError)
		}
		d.refreshAll()

	case "add":
		if len(parts) < 2 {
			d.AddLog("usage: add <host[:port]> [description]", LevelWarning)
			return
		}
		host, port := splitHostPort(parts[1])
		p := d.manager.AddNetworkPrinter(host, port, strings.Join(parts[2:], " "))
		d.AddLog("Added "+p.DisplayName(), LevelInfo)
		d.refreshPrinters()

	case "name":
		if len(parts) < 3 {
			d.AddLog("usage: name <printer> <new name>", LevelWarning)
			return
		}
		p, err := d.manager.Lookup(parts[1])
		if err != nil {
			d.AddLog(err.Error(), LevelError)
			return
		}
		name := strings.Join(parts[2:], " ")
		d.manager.SetPrinterName(p.ID, name)
		d.AddLog(fmt.Sprintf("Renamed %s to %s", p.DisplayName(), name), LevelInfo)
		d.refreshPrinters()

	case "jobs":
		if len(parts) > 1 && parts[1] == "clear" {
			d.queue.ClearCompleted()
		}
		d.refreshQueue()

	case "clear":
		d.logsMu.Lock()
		d.logs = nil
		d.logsMu.Unlock()
		d.logsArea.Clear()

	case "help", "h", "?":
		d.showHelp()

	case "quit", "q":
		d.App.Stop()

	default:
		d.AddLog(fmt.Sprintf("Unknown command: %s. Type 'help' for available commands.", parts[0]), LevelError)
	}
}

func splitHostPort(s string) (string, int) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return s, printer.DefaultNetworkPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, printer.DefaultNetworkPort
	}
	return host, port
}

func (d *Dashboard) showHelp() {
	help := []string{
		"Available commands:",
		"  refresh, printers, p        - Rescan printers",
		"  add <host[:port]> [desc]    - Add a network printer",
		"  name <printer> <new name>   - Rename a printer",
		"  jobs [clear]                - Refresh the queue, optionally dropping completed jobs",
		"  clear                       - Clear logs",
		"  help, h, ?                  - Show this help",
		"  quit, q                     - Exit",
		"",
		"Keys: ':' command line, Esc leave command line, q quit",
	}
	d.AddLog(strings.Join(help, "\n"), LevelInfo)
}

// AddLog appends a line to the log panel
func (d *Dashboard) AddLog(message string, level string) {
	var color string
	switch level {
	case LevelError:
		color = "[red]"
	case LevelWarning:
		color = "[yellow]"
	case LevelCommand:
		color = "[teal]"
	default:
		color = "[white]"
	}

	entry := fmt.Sprintf("%s[%s] %s[white]\n", color, time.Now().Format("15:04:05"), tview.Escape(message))

	d.logsMu.Lock()
	d.logs = append(d.logs, entry)
	if len(d.logs) > d.maxLogs {
		d.logs = d.logs[len(d.logs)-d.maxLogs:]
	}
	text := strings.Join(d.logs, "")
	d.logsMu.Unlock()

	d.logsArea.SetText(text)
	d.logsArea.ScrollToEnd()
}

func statusIcon(status printer.JobStatus) string {
	switch status {
	case printer.StatusQueued:
		return "⏳"
	case printer.StatusPrinting:
		return "🟡"
	case printer.StatusCompleted:
		return "✅"
	case printer.StatusFailed:
		return "❌"
	default:
		return "⚪"
	}
}

// LogWriter returns a writer feeding the log panel, for use as a log sink
func (d *Dashboard) LogWriter() io.Writer {
	return &logWriter{dashboard: d}
}

type logWriter struct {
	dashboard *Dashboard
}

func (w *logWriter) Write(p []byte) (int, error) {
	message := strings.TrimSpace(string(p))
	if message == "" {
		return len(p), nil
	}

	level := LevelInfo
	switch {
	case strings.Contains(message, "ERROR"):
		level = LevelError
	case strings.Contains(message, "WARN"):
		level = LevelWarning
	}

	if w.dashboard.running.Load() {
		go w.dashboard.App.QueueUpdateDraw(func() { w.dashboard.AddLog(message, level) })
	} else {
		w.dashboard.AddLog(message, level)
	}
	return len(p), nil
}
