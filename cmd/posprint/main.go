package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/thereceipt/silent-print/internal/agent"
	"github.com/thereceipt/silent-print/internal/backend"
	"github.com/thereceipt/silent-print/internal/checkout"
	"github.com/thereceipt/silent-print/internal/config"
	"github.com/thereceipt/silent-print/internal/console"
	"github.com/thereceipt/silent-print/internal/dispatch"
	"github.com/thereceipt/silent-print/internal/logger"
	"github.com/thereceipt/silent-print/internal/raster"
	"github.com/thereceipt/silent-print/internal/receiptfile"
	"github.com/thereceipt/silent-print/internal/settings"
	"github.com/thereceipt/silent-print/internal/trust"
)

// Version is set during build via ldflags
var Version = "dev"

type options struct {
	configDir string
	taxRate   string
	currency  string
	htmlPath  string
	selector  string

	receiptPath string
	dataPath    string
}

func (o options) oneShot() bool {
	return o.htmlPath != "" || o.receiptPath != ""
}

func main() {
	var (
		opts        options
		showVersion bool
	)
	flag.StringVar(&opts.configDir, "config", "", "Directory containing config.toml")
	flag.StringVar(&opts.taxRate, "tax", "0.07", "Sales tax rate applied at checkout")
	flag.StringVar(&opts.currency, "currency", "Rs", "Currency label on receipts and labels")
	flag.StringVar(&opts.htmlPath, "html", "", "Print an HTML receipt file and exit")
	flag.StringVar(&opts.selector, "selector", "body", "Element of the HTML file to print")
	flag.StringVar(&opts.receiptPath, "receipt", "", "Print a .receipt template and exit")
	flag.StringVar(&opts.dataPath, "data", "", "JSON data for the -receipt template")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(Version)
		return
	}

	var paths []string
	if opts.configDir != "" {
		paths = append(paths, opts.configDir)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	taxRate, err := decimal.NewFromString(opts.taxRate)
	if err != nil {
		return fmt.Errorf("invalid tax rate %q: %w", opts.taxRate, err)
	}

	// The console owns the terminal
	if !opts.oneShot() && isTerminalOutput(cfg.Log.Output) {
		cfg.Log.Output = "posprint.log"
	}
	log := logger.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	settingsPath := cfg.Client.SettingsPath
	if settingsPath == "" {
		settingsPath = defaultSettingsPath()
	}
	store, err := settings.New(settingsPath)
	if err != nil {
		return err
	}

	policy := trust.FromConfig(cfg.TrustPolicyConfig(), &http.Client{Timeout: cfg.Backend.Timeout}, log)
	connection := agent.NewManager(agent.Config{
		URL:         cfg.Client.AgentURL,
		CallTimeout: cfg.Client.CallTimeout,
		Policy:      policy,
		Store:       store,
		Logger:      log,
	})
	defer func() { _ = connection.Disconnect(context.Background()) }()

	dispatcher := dispatch.New(connection, raster.New(log), store,
		dispatch.WithLogger(log),
		dispatch.WithStateHook(func(phase dispatch.Phase, err error) {
			if err != nil {
				log.Warn("print failed", zap.String("phase", string(phase)), zap.Error(err))
				return
			}
			log.Debug("print phase", zap.String("phase", string(phase)))
		}),
	)

	if opts.oneShot() {
		return printFile(ctx, cfg, log, dispatcher, opts)
	}

	client := backend.New(backend.Config{
		ProductsURL: cfg.Backend.ProductsURL,
		OrdersURL:   cfg.Backend.OrdersURL,
		StockURL:    cfg.Backend.StockURL,
		Timeout:     cfg.Backend.Timeout,
		Logger:      log,
	})

	service := checkout.NewService(client, dispatcher, checkout.Config{
		TaxRate:  taxRate,
		Currency: opts.currency,
		Store:    checkout.DefaultStore(),
		Logger:   log,
	})

	model := console.New(console.Deps{
		Agent:    connection,
		Labels:   dispatcher,
		Checkout: service,
		Catalog:  client,
		Layouts:  store,
		Currency: opts.currency,
	})

	log.Info("pos console starting", zap.String("version", Version), zap.String("agent", cfg.Client.AgentURL))
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func printFile(ctx context.Context, cfg *config.Config, log *zap.Logger, d *dispatch.Dispatcher, opts options) error {
	var target raster.Target

	if opts.receiptPath != "" {
		receipt, err := receiptfile.ParseFile(opts.receiptPath)
		if err != nil {
			return err
		}
		var data receiptfile.Data
		if opts.dataPath != "" {
			if data, err = receiptfile.LoadData(opts.dataPath); err != nil {
				return err
			}
		}
		if target, err = receiptfile.Target(receipt, data); err != nil {
			return err
		}
	} else {
		html, err := os.ReadFile(opts.htmlPath)
		if err != nil {
			return err
		}

		chrome := raster.NewChrome(&raster.ChromeConfig{
			RemoteURL: cfg.Chrome.RemoteURL,
			NoSandbox: cfg.Chrome.NoSandbox,
			Logger:    log,
		})
		defer chrome.Close()

		page, err := chrome.Open(ctx, string(html), opts.selector)
		if err != nil {
			return err
		}
		defer page.Close()
		target = page
	}

	res, err := d.PrintReceipt(ctx, target)
	if err != nil {
		return err
	}

	fmt.Printf("Printed %d page(s) on %s\n", len(res.Jobs), res.Printer)
	return nil
}

func isTerminalOutput(output string) bool {
	switch output {
	case "", "stderr", "stdout":
		return true
	}
	return false
}

func defaultSettingsPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "silent-print", "pos_settings.json")
	}
	return "pos_settings.json"
}
