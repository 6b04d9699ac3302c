// Package backend is a typed client for the POS REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotConfigured      = errors.New("backend endpoint not configured")
	ErrNotFound           = errors.New("resource not found")
	ErrUnexpectedResponse = errors.New("unexpected response shape")
)

// HTTPError is a non-success response from the backend
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// Config holds one base URL per resource
type Config struct {
	ProductsURL string
	OrdersURL   string
	StockURL    string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client talks to the backend
type Client struct {
	products string
	orders   string
	stock    string
	http     *http.Client
	logger   *zap.Logger
}

// New creates a backend client
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		products: strings.TrimRight(cfg.ProductsURL, "/"),
		orders:   strings.TrimRight(cfg.OrdersURL, "/"),
		stock:    strings.TrimRight(cfg.StockURL, "/"),
		http:     hc,
		logger:   logger,
	}
}

// envelope is the single response shape the backend uses
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// ListProducts returns all products
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.do(ctx, http.MethodGet, c.products, nil, &products); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// GetProduct returns one product by ID
func (c *Client) GetProduct(ctx context.Context, id string) (*Product, error) {
	if c.products == "" {
		return nil, fmt.Errorf("get product: %w", ErrNotConfigured)
	}

	var p Product
	if err := c.do(ctx, http.MethodGet, c.products+"/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return &p, nil
}

// CreateOrder records a sale and returns it as stored
func (c *Client) CreateOrder(ctx context.Context, order Order) (*Order, error) {
	var created Order
	if err := c.do(ctx, http.MethodPost, c.orders, order, &created); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &created, nil
}

// AdjustStock applies a stock delta and returns the updated product
func (c *Client) AdjustStock(ctx context.Context, adj StockAdjustment) (*Product, error) {
	if adj.ID == "" && adj.Barcode == "" {
		return nil, errors.New("adjust stock: product id or barcode is required")
	}

	var p Product
	if err := c.do(ctx, http.MethodPost, c.stock, adj, &p); err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if endpoint == "" {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, Message: env.Error}
	}
	if decodeErr != nil || len(env.Data) == 0 || string(env.Data) == "null" {
		c.logger.Debug("unexpected backend response", zap.String("url", endpoint), zap.ByteString("body", raw))
		return ErrUnexpectedResponse
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
		}
	}
	return nil
}
