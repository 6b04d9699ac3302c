package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/thereceipt/silent-print/internal/api"
	"github.com/thereceipt/silent-print/internal/config"
	"github.com/thereceipt/silent-print/internal/logger"
	"github.com/thereceipt/silent-print/internal/printer"
	"github.com/thereceipt/silent-print/internal/registry"
	"github.com/thereceipt/silent-print/internal/tui"
)

// Version is set during build via ldflags
var Version = "dev"

func main() {
	var (
		configDir   string
		port        int
		headless    bool
		showVersion bool
	)
	flag.StringVar(&configDir, "config", "", "Directory containing config.toml")
	flag.IntVar(&port, "port", 0, "Listen port (overrides AGENT_PORT)")
	flag.BoolVar(&headless, "headless", false, "Run without the dashboard")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(Version)
		return
	}

	var paths []string
	if configDir != "" {
		paths = append(paths, configDir)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if port != 0 {
		cfg.Agent.Port = port
	}

	if err := run(cfg, headless); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, headless bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	panel := &panelWriter{}
	log := logger.New(cfg.Log)
	if !headless {
		log = logger.NewWriter(panel, cfg.Log.Level)
	}
	defer func() { _ = log.Sync() }()

	registryPath := cfg.Agent.RegistryPath
	if registryPath == "" {
		registryPath = defaultRegistryPath()
	}
	reg, err := registry.New(registryPath, log)
	if err != nil {
		return fmt.Errorf("failed to open printer registry: %w", err)
	}

	manager := printer.NewManager(reg,
		printer.WithLogger(log),
		printer.WithDefault(cfg.Agent.DefaultPrinter),
	)

	pool := printer.NewConnectionPool(nil, log)
	defer pool.DisconnectAll()

	queue := printer.NewPrintQueue(pool, manager, 3,
		printer.WithRetryDelay(time.Second),
		printer.WithQueueLogger(log),
	)
	defer queue.Stop()

	server := api.NewServer(manager, queue, api.Config{
		AllowUnsigned: cfg.Agent.AllowUnsigned,
		Logger:        log,
	})
	manager.OnPrinterAdded(server.BroadcastPrinterAdded)
	manager.OnPrinterRemoved(server.BroadcastPrinterRemoved)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Agent.Port)

	var dashboard *tui.Dashboard
	if !headless {
		dashboard = tui.NewDashboard(manager, queue, addr, server.ClientCount)
		panel.set(dashboard.LogWriter())
	}

	printers, err := manager.DetectPrinters(ctx)
	if err != nil {
		return err
	}
	log.Info("print agent starting",
		zap.String("version", Version),
		zap.String("addr", addr),
		zap.Int("printers", len(printers)),
		zap.Bool("allow_unsigned", cfg.Agent.AllowUnsigned),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go printer.NewMonitor(manager, 2*time.Second, log).Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run(ctx, addr)
	}()

	if dashboard == nil {
		select {
		case err := <-serverErr:
			return err
		case <-ctx.Done():
		}
		log.Info("shutting down")
		return <-serverErr
	}

	dashboardErr := make(chan error, 1)
	go func() {
		dashboardErr <- dashboard.Run(ctx)
	}()

	select {
	case err := <-serverErr:
		dashboard.App.Stop()
		<-dashboardErr
		return err
	case err := <-dashboardErr:
		cancel()
		if serr := <-serverErr; err == nil {
			err = serr
		}
		return err
	}
}

// panelWriter forwards log output to the dashboard once it exists
type panelWriter struct {
	target atomic.Pointer[io.Writer]
}

func (w *panelWriter) set(target io.Writer) {
	w.target.Store(&target)
}

func (w *panelWriter) Write(p []byte) (int, error) {
	if target := w.target.Load(); target != nil {
		return (*target).Write(p)
	}
	return len(p), nil
}

// defaultRegistryPath places the registry next to the executable when that
// directory is writable, otherwise in the user's config directory.
func defaultRegistryPath() string {
	const name = "printer_registry.json"

	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		testFile := filepath.Join(exeDir, ".silent-print-write-test")
		if f, err := os.Create(testFile); err == nil {
			f.Close()
			os.Remove(testFile)
			return filepath.Join(exeDir, name)
		}
	}

	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "silent-print", name)
	}

	return name
}
