package backend

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable item
type Product struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	SKU     string          `json:"sku,omitempty"`
	Barcode string          `json:"barcode,omitempty"`
	Price   decimal.Decimal `json:"price"`
	Stock   int             `json:"stock"`
}

// OrderLine is one product line of an order
type OrderLine struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku,omitempty"`
	Barcode   string          `json:"barcode,omitempty"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Amount is the line total
func (l OrderLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// Order is a recorded sale
type Order struct {
	ID       string          `json:"id,omitempty"`
	Lines    []OrderLine     `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
	PaidAt   time.Time       `json:"paidAt"`
}

// StockAdjustment changes the stock of one product by Delta. The product
// is identified by ID or, failing that, by barcode.
type StockAdjustment struct {
	ID      string `json:"id,omitempty"`
	Barcode string `json:"barcode,omitempty"`
	Delta   int    `json:"delta"`
}
