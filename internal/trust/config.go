package trust

import (
	"net/http"

	"go.uber.org/zap"
)

// Config selects and parameterizes the trust policy
type Config struct {
	CertURL        string
	SignURL        string
	SigningBaseURL string
	UseDemoSigning bool
	AllowUnsigned  bool
	DemoCertURL    string
	DemoSignURL    string
	OriginHost     string
}

// FromConfig builds the policy named by cfg. Unsigned mode wins, then demo
// signing, then the configured endpoint. Signing policies are wrapped in a
// FallbackPolicy so a loopback origin can still run unsigned.
func FromConfig(cfg Config, client *http.Client, logger *zap.Logger) Policy {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.AllowUnsigned {
		return NewUnsignedPolicy(logger)
	}

	var tier Policy
	if cfg.UseDemoSigning {
		if cfg.DemoCertURL == "" || cfg.DemoSignURL == "" {
			logger.Warn("demo signing is enabled but its endpoints are not configured",
				zap.String("demo_cert_url", cfg.DemoCertURL),
				zap.String("demo_sign_url", cfg.DemoSignURL))
		}
		tier = NewDemoSigningPolicy(EndpointConfig{
			CertURL: cfg.DemoCertURL,
			SignURL: cfg.DemoSignURL,
			Client:  client,
			Logger:  logger,
		})
	} else {
		tier = NewConfiguredEndpointPolicy(EndpointConfig{
			CertURL: cfg.CertURL,
			SignURL: cfg.SignURL,
			BaseURL: cfg.SigningBaseURL,
			Client:  client,
			Logger:  logger,
		})
	}

	return NewFallbackPolicy(cfg.OriginHost, logger, tier)
}
