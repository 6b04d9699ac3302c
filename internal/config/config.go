// Package config loads POS and agent settings from config.toml and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/thereceipt/silent-print/internal/trust"
)

// Config holds all configuration for both binaries
type Config struct {
	Trust   TrustConfig
	Client  ClientConfig
	Backend BackendConfig
	Chrome  ChromeConfig
	Log     LogConfig
	Agent   AgentConfig
}

// TrustConfig selects how the POS authenticates to the print agent
type TrustConfig struct {
	CertURL        string
	SignURL        string
	SigningBaseURL string
	UseDemoSigning bool
	AllowUnsigned  bool
	DemoCertURL    string
	DemoSignURL    string
	OriginHost     string
}

// ClientConfig is the POS side of the agent connection
type ClientConfig struct {
	AgentURL     string
	CallTimeout  time.Duration
	SettingsPath string
}

// BackendConfig holds one base URL per REST resource
type BackendConfig struct {
	ProductsURL string
	OrdersURL   string
	StockURL    string
	Timeout     time.Duration
}

// ChromeConfig configures HTML capture
type ChromeConfig struct {
	RemoteURL string
	NoSandbox bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AgentConfig configures the print agent daemon
type AgentConfig struct {
	Port          int
	AllowUnsigned bool
	RegistryPath  string

	// DefaultPrinter is reported by printers.getDefault when present
	DefaultPrinter string
}

// envBindings maps config keys to their environment variable names
var envBindings = map[string]string{
	"qz.cert_url":            "QZ_CERT_URL",
	"qz.sign_url":            "QZ_SIGN_URL",
	"qz.signing_base_url":    "QZ_SIGNING_BASE_URL",
	"qz.use_demo_signing":    "QZ_USE_DEMO_SIGNING",
	"qz.allow_unsigned":      "QZ_ALLOW_UNSIGNED",
	"qz.demo_cert_url":       "QZ_DEMO_CERT_URL",
	"qz.demo_sign_url":       "QZ_DEMO_SIGN_URL",
	"qz.origin_host":         "QZ_ORIGIN_HOST",
	"pos.agent_url":          "POS_AGENT_URL",
	"pos.agent_call_timeout": "POS_AGENT_CALL_TIMEOUT",
	"pos.settings_path":      "POS_SETTINGS_PATH",
	"pos.backend.products":   "POS_BACKEND_PRODUCTS_URL",
	"pos.backend.orders":     "POS_BACKEND_ORDERS_URL",
	"pos.backend.stock":      "POS_BACKEND_STOCK_URL",
	"pos.backend.timeout":    "POS_BACKEND_TIMEOUT",
	"pos.chrome.remote_url":  "POS_CHROME_REMOTE_URL",
	"pos.chrome.no_sandbox":  "POS_CHROME_NO_SANDBOX",
	"log.level":              "POS_LOG_LEVEL",
	"log.format":             "POS_LOG_FORMAT",
	"log.output":             "POS_LOG_OUTPUT",
	"agent.port":             "AGENT_PORT",
	"agent.allow_unsigned":   "AGENT_ALLOW_UNSIGNED",
	"agent.registry_path":    "AGENT_REGISTRY_PATH",
	"agent.default_printer":  "AGENT_DEFAULT_PRINTER",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("qz.cert_url", "/qz/cert.pem")
	v.SetDefault("qz.sign_url", "/qz/sign")
	v.SetDefault("qz.signing_base_url", "")
	v.SetDefault("qz.use_demo_signing", false)
	v.SetDefault("qz.allow_unsigned", false)
	v.SetDefault("qz.demo_cert_url", "")
	v.SetDefault("qz.demo_sign_url", "")
	v.SetDefault("qz.origin_host", "localhost")

	v.SetDefault("pos.agent_url", "ws://localhost:8182/ws")
	v.SetDefault("pos.agent_call_timeout", 15*time.Second)
	v.SetDefault("pos.settings_path", "")
	v.SetDefault("pos.backend.products", "")
	v.SetDefault("pos.backend.orders", "")
	v.SetDefault("pos.backend.stock", "")
	v.SetDefault("pos.backend.timeout", 10*time.Second)
	v.SetDefault("pos.chrome.remote_url", "")
	v.SetDefault("pos.chrome.no_sandbox", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("agent.port", 8182)
	v.SetDefault("agent.allow_unsigned", true)
	v.SetDefault("agent.registry_path", "")
	v.SetDefault("agent.default_printer", "")
}

// Load reads configuration. Priority, highest first:
// 1. Environment variables (QZ_*, POS_*, AGENT_*)
// 2. config.toml in the working directory or one of paths
// 3. Built-in defaults
func Load(paths ...string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	cfg := &Config{
		Trust: TrustConfig{
			CertURL:        v.GetString("qz.cert_url"),
			SignURL:        v.GetString("qz.sign_url"),
			SigningBaseURL: v.GetString("qz.signing_base_url"),
			UseDemoSigning: v.GetBool("qz.use_demo_signing"),
			AllowUnsigned:  v.GetBool("qz.allow_unsigned"),
			DemoCertURL:    v.GetString("qz.demo_cert_url"),
			DemoSignURL:    v.GetString("qz.demo_sign_url"),
			OriginHost:     v.GetString("qz.origin_host"),
		},
		Client: ClientConfig{
			AgentURL:     v.GetString("pos.agent_url"),
			CallTimeout:  v.GetDuration("pos.agent_call_timeout"),
			SettingsPath: v.GetString("pos.settings_path"),
		},
		Backend: BackendConfig{
			ProductsURL: v.GetString("pos.backend.products"),
			OrdersURL:   v.GetString("pos.backend.orders"),
			StockURL:    v.GetString("pos.backend.stock"),
			Timeout:     v.GetDuration("pos.backend.timeout"),
		},
		Chrome: ChromeConfig{
			RemoteURL: v.GetString("pos.chrome.remote_url"),
			NoSandbox: v.GetBool("pos.chrome.no_sandbox"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Agent: AgentConfig{
			Port:           v.GetInt("agent.port"),
			AllowUnsigned:  v.GetBool("agent.allow_unsigned"),
			RegistryPath:   v.GetString("agent.registry_path"),
			DefaultPrinter: v.GetString("agent.default_printer"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	var errs []error

	if c.Client.AgentURL == "" {
		errs = append(errs, errors.New("POS_AGENT_URL must not be empty"))
	} else if !strings.HasPrefix(c.Client.AgentURL, "ws://") && !strings.HasPrefix(c.Client.AgentURL, "wss://") {
		errs = append(errs, fmt.Errorf("POS_AGENT_URL must be a ws:// or wss:// URL, got %q", c.Client.AgentURL))
	}
	if c.Client.CallTimeout <= 0 {
		errs = append(errs, errors.New("POS_AGENT_CALL_TIMEOUT must be positive"))
	}
	if c.Agent.Port < 1 || c.Agent.Port > 65535 {
		errs = append(errs, fmt.Errorf("AGENT_PORT out of range: %d", c.Agent.Port))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// TrustPolicyConfig returns the trust settings in the form trust.FromConfig takes
func (c *Config) TrustPolicyConfig() trust.Config {
	return trust.Config{
		CertURL:        c.Trust.CertURL,
		SignURL:        c.Trust.SignURL,
		SigningBaseURL: c.Trust.SigningBaseURL,
		UseDemoSigning: c.Trust.UseDemoSigning,
		AllowUnsigned:  c.Trust.AllowUnsigned,
		DemoCertURL:    c.Trust.DemoCertURL,
		DemoSignURL:    c.Trust.DemoSignURL,
		OriginHost:     c.Trust.OriginHost,
	}
}
