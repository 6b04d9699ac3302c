package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestListProducts(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"data":[{"id":"1","name":"Espresso","sku":"ESP-01","price":"2.50","stock":12},{"id":"2","name":"Latte","price":3.5}]}`))
	})

	products, err := New(Config{ProductsURL: srv.URL + "/api/products"}).ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Espresso", products[0].Name)
	assert.True(t, decimal.RequireFromString("2.5").Equal(products[0].Price))
	assert.True(t, decimal.RequireFromString("3.5").Equal(products[1].Price))
}

func TestGetProduct(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products/42" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"42","name":"Bagel","price":"1.80"}}`))
	})

	c := New(Config{ProductsURL: srv.URL + "/api/products/"})
	p, err := c.GetProduct(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "Bagel", p.Name)

	_, err = c.GetProduct(context.Background(), "7")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectsBareResponses(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"1"}]`))
	})

	_, err := New(Config{ProductsURL: srv.URL}).ListProducts(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestCreateOrder(t *testing.T) {
	var received Order
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		received.ID = "ord-1"
		_ = json.NewEncoder(w).Encode(map[string]any{"data": received})
	})

	order := Order{
		Lines: []OrderLine{{ProductID: "1", Name: "Espresso", Qty: 2, UnitPrice: decimal.RequireFromString("2.50")}},
		Total: decimal.RequireFromString("5.35"),
	}
	created, err := New(Config{OrdersURL: srv.URL}).CreateOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", created.ID)
	assert.Equal(t, 2, received.Lines[0].Qty)
	assert.True(t, decimal.RequireFromString("5.35").Equal(created.Total))
}

func TestHTTPErrorMessage(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"insufficient stock"}`))
	})

	_, err := New(Config{StockURL: srv.URL}).AdjustStock(context.Background(), StockAdjustment{Barcode: "123", Delta: -1})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
	assert.Equal(t, "insufficient stock", httpErr.Message)
}

func TestAdjustStockRequiresIdentity(t *testing.T) {
	_, err := New(Config{StockURL: "http://unused"}).AdjustStock(context.Background(), StockAdjustment{Delta: 1})
	assert.Error(t, err)
}

func TestNotConfigured(t *testing.T) {
	c := New(Config{})
	_, err := c.ListProducts(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.GetProduct(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.CreateOrder(context.Background(), Order{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOrderLineAmount(t *testing.T) {
	l := OrderLine{Qty: 3, UnitPrice: decimal.RequireFromString("2.75")}
	assert.True(t, decimal.RequireFromString("8.25").Equal(l.Amount()))
}
