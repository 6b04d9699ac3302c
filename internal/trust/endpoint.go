package trust

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultHTTPTimeout = 10 * time.Second

// EndpointConfig locates a signing service
type EndpointConfig struct {
	// CertURL serves the PEM certificate with a GET.
	CertURL string
	// SignURL accepts a POST of {"toSign": ...} and answers with the
	// signature, either as plain text or as {"signature": ...}.
	SignURL string
	// BaseURL is joined with relative CertURL/SignURL values.
	BaseURL string
	Client  *http.Client
	Logger  *zap.Logger
}

// EndpointPolicy fetches credentials from an HTTP signing service
type EndpointPolicy struct {
	name    string
	certURL string
	signURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewConfiguredEndpointPolicy uses the deployment's own signing service
func NewConfiguredEndpointPolicy(cfg EndpointConfig) *EndpointPolicy {
	return newEndpointPolicy("configured-endpoint", cfg)
}

// NewDemoSigningPolicy uses a public demo signing service. It is meant for
// development only.
func NewDemoSigningPolicy(cfg EndpointConfig) *EndpointPolicy {
	return newEndpointPolicy("demo-signing", cfg)
}

func newEndpointPolicy(name string, cfg EndpointConfig) *EndpointPolicy {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EndpointPolicy{
		name:    name,
		certURL: resolveURL(cfg.BaseURL, cfg.CertURL),
		signURL: resolveURL(cfg.BaseURL, cfg.SignURL),
		client:  client,
		logger:  logger.With(zap.String("policy", name)),
	}
}

func resolveURL(base, ref string) string {
	if ref == "" || base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	return b.ResolveReference(r).String()
}

// Name implements Policy
func (p *EndpointPolicy) Name() string {
	return p.name
}

// Certificate implements Policy
func (p *EndpointPolicy) Certificate(ctx context.Context) (string, error) {
	if !isAbsolute(p.certURL) {
		return "", fmt.Errorf("%s certificate: %w", p.name, ErrNotConfigured)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.certURL, nil)
	if err != nil {
		return "", err
	}

	body, err := p.do(req)
	if err != nil {
		return "", fmt.Errorf("%s certificate: %w", p.name, err)
	}

	cert := strings.TrimSpace(string(body))
	if cert == "" {
		return "", fmt.Errorf("%s certificate: empty response", p.name)
	}

	p.logger.Debug("fetched certificate", zap.String("url", p.certURL))
	return cert, nil
}

// Sign implements Policy
func (p *EndpointPolicy) Sign(ctx context.Context, payload string) (string, error) {
	if !isAbsolute(p.signURL) {
		return "", fmt.Errorf("%s signature: %w", p.name, ErrNotConfigured)
	}

	reqBody, err := json.Marshal(map[string]string{"toSign": payload})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.signURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := p.do(req)
	if err != nil {
		return "", fmt.Errorf("%s signature: %w", p.name, err)
	}

	sig := parseSignature(body)
	if sig == "" {
		return "", fmt.Errorf("%s signature: empty response", p.name)
	}
	return sig, nil
}

func (p *EndpointPolicy) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

func parseSignature(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Signature string `json:"signature"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err == nil {
			return strings.TrimSpace(wrapped.Signature)
		}
	}
	return string(trimmed)
}

func isAbsolute(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && u.Host != ""
}
