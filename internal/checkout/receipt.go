package checkout

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/thereceipt/silent-print/internal/backend"
	"github.com/thereceipt/silent-print/internal/raster"
)

// Store is the header and footer printed on every receipt
type Store struct {
	Name    string
	Address string
	Phone   string
	Footer  string
}

// DefaultStore is used when no store details are configured
func DefaultStore() Store {
	return Store{
		Name:   "VT Store",
		Footer: "Thank you for your purchase!",
	}
}

// Totals computes the subtotal, tax and total of lines. Tax is rounded to
// two decimals; discount is subtracted after tax.
func Totals(lines []backend.OrderLine, taxRate, discount decimal.Decimal) (subtotal, tax, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Amount())
	}
	tax = subtotal.Mul(taxRate).Round(2)
	total = subtotal.Add(tax).Sub(discount.Abs())
	return subtotal, tax, total
}

// ReceiptDocument lays out a sales receipt for order
func ReceiptDocument(order *backend.Order, store Store, currency string) *raster.Document {
	doc := raster.NewDocument().Text(store.Name, 14, true, raster.AlignCenter)
	if store.Address != "" {
		doc.Text("Address: "+store.Address, 11, false, raster.AlignCenter)
	}
	if store.Phone != "" {
		doc.Text("Phone: "+store.Phone, 11, false, raster.AlignCenter)
	}
	if !order.PaidAt.IsZero() {
		doc.Text(order.PaidAt.Format("2006-01-02 15:04"), 11, false, raster.AlignLeft)
	}
	if order.ID != "" {
		doc.Text("Order "+order.ID, 11, false, raster.AlignLeft)
	}

	doc.Divider("solid")
	doc.Columns("Item", "Amount", 12)
	for _, l := range order.Lines {
		name := l.Name
		if name == "" {
			name = "Item"
		}
		doc.Columns(name+" x"+strconv.Itoa(l.Qty), raster.FormatAmount(l.Amount(), currency), 12)
	}

	doc.Divider("solid")
	doc.Amount("Subtotal", order.Subtotal, currency, false)
	if !order.Tax.IsZero() {
		doc.Amount("Tax", order.Tax, currency, false)
	}
	if !order.Discount.IsZero() {
		doc.Columns("Discount", "-"+raster.FormatAmount(order.Discount.Abs(), currency), 12)
	}
	doc.Amount("Total", order.Total, currency, true)
	doc.Divider("solid")

	if store.Footer != "" {
		doc.Text(store.Footer, 11, false, raster.AlignCenter)
	}
	if order.ID != "" {
		doc.Barcode(order.ID, 30, false)
	}
	return doc
}
