// Package checkout records a sale, prints its receipt and adjusts stock.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/thereceipt/silent-print/internal/backend"
	"github.com/thereceipt/silent-print/internal/dispatch"
	"github.com/thereceipt/silent-print/internal/layout"
	"github.com/thereceipt/silent-print/internal/raster"
)

var (
	// ErrEmptyCart is returned when a cart without lines is checked out
	ErrEmptyCart = errors.New("cart is empty")

	// ErrCheckoutFailed wraps a backend failure to record the order
	ErrCheckoutFailed = errors.New("checkout failed")

	// ErrPrintAfterSave matches a PrintError: the order exists, the receipt did not print
	ErrPrintAfterSave = errors.New("order saved but print failed")
)

// PrintError reports a recorded order whose receipt did not print
type PrintError struct {
	Order *backend.Order
	Err   error
}

func (e *PrintError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPrintAfterSave, e.Err)
}

func (e *PrintError) Unwrap() []error {
	return []error{ErrPrintAfterSave, e.Err}
}

// Orders records sales and stock changes
type Orders interface {
	CreateOrder(ctx context.Context, order backend.Order) (*backend.Order, error)
	AdjustStock(ctx context.Context, adj backend.StockAdjustment) (*backend.Product, error)
}

// ReceiptPrinter prints receipts of arbitrary length
type ReceiptPrinter interface {
	PrintReceipt(ctx context.Context, target raster.Target) (*dispatch.Result, error)
}

// Cart is the sale being checked out
type Cart struct {
	Lines    []backend.OrderLine
	Discount decimal.Decimal
}

// Config configures a Service
type Config struct {
	TaxRate  decimal.Decimal
	Currency string
	Store    Store
	// ReceiptWidthMM is the printable width of the receipt roll
	ReceiptWidthMM float64
	Logger         *zap.Logger
}

// Service runs checkouts
type Service struct {
	orders  Orders
	printer ReceiptPrinter
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a checkout service
func NewService(orders Orders, printer ReceiptPrinter, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "Rs"
	}
	if cfg.ReceiptWidthMM <= 0 {
		cfg.ReceiptWidthMM = 72
	}
	if cfg.Store.Name == "" {
		cfg.Store = DefaultStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		orders:  orders,
		printer: printer,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Complete records the sale and prints its receipt. A print failure after
// the order was recorded returns the order together with an error matching
// ErrPrintAfterSave; the sale is never rolled back. Stock adjustments are
// best effort.
func (s *Service) Complete(ctx context.Context, cart Cart) (*backend.Order, error) {
	if len(cart.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	subtotal, tax, total := Totals(cart.Lines, s.cfg.TaxRate, cart.Discount)
	order := backend.Order{
		Lines:    cart.Lines,
		Subtotal: subtotal,
		Tax:      tax,
		Discount: cart.Discount.Abs(),
		Total:    total,
		PaidAt:   s.now(),
	}

	saved, err := s.orders.CreateOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
	}
	s.logger.Info("order recorded", zap.String("order_id", saved.ID), zap.String("total", saved.Total.StringFixed(2)))

	printErr := s.PrintReceipt(ctx, saved)
	s.adjustStock(ctx, saved.Lines)

	if printErr != nil {
		return saved, &PrintError{Order: saved, Err: printErr}
	}
	return saved, nil
}

// PrintReceipt prints the receipt of an already recorded order
func (s *Service) PrintReceipt(ctx context.Context, order *backend.Order) error {
	doc := ReceiptDocument(order, s.cfg.Store, s.cfg.Currency)
	target := raster.NewDocumentTarget(doc, layout.CSSPixels(s.cfg.ReceiptWidthMM))

	if _, err := s.printer.PrintReceipt(ctx, target); err != nil {
		s.logger.Warn("receipt print failed", zap.String("order_id", order.ID), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) adjustStock(ctx context.Context, lines []backend.OrderLine) {
	for _, l := range lines {
		adj := backend.StockAdjustment{ID: l.ProductID, Delta: -l.Qty}
		if adj.ID == "" {
			adj.Barcode = l.Barcode
		}
		if adj.ID == "" && adj.Barcode == "" {
			continue
		}

		if _, err := s.orders.AdjustStock(ctx, adj); err != nil {
			s.logger.Warn("stock adjustment failed",
				zap.String("product_id", l.ProductID),
				zap.Int("delta", adj.Delta),
				zap.Error(err))
		}
	}
}
