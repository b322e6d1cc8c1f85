package pricesource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func quoteServer(t *testing.T, prices map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		price, ok := prices[symbol]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"symbol": symbol, "price": json.Number(price)})
	}))
}

func TestFetchPricesMultipleSymbols(t *testing.T) {
	srv := quoteServer(t, map[string]string{"AAPL": "205.5", "MSFT": "410"})
	defer srv.Close()

	source := NewHTTPSource(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	prices, err := source.FetchPrices(context.Background(), []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatalf("FetchPrices: %v", err)
	}
	if len(prices) != 2 {
		t.Fatalf("prices = %v, want 2 entries", prices)
	}
	if !prices["AAPL"].Equal(decimal.NewFromFloat(205.5)) {
		t.Fatalf("AAPL = %s, want 205.5", prices["AAPL"])
	}
}

func TestFetchPricesMissingSymbolAbsent(t *testing.T) {
	srv := quoteServer(t, map[string]string{"AAPL": "205"})
	defer srv.Close()

	source := NewHTTPSource(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	prices, err := source.FetchPrices(context.Background(), []string{"AAPL", "NOPE"})
	if err != nil {
		t.Fatalf("missing symbol must not fail the fetch: %v", err)
	}
	if _, ok := prices["NOPE"]; ok {
		t.Fatal("unpriced symbol must be absent, not zero")
	}
	if _, ok := prices["AAPL"]; !ok {
		t.Fatal("priced symbol should still resolve")
	}
}

func TestFetchPricesServerErrorDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	source := NewHTTPSource(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	prices, err := source.FetchPrices(context.Background(), []string{"AAPL"})
	if err != nil {
		t.Fatalf("per-symbol failure must degrade, not abort: %v", err)
	}
	if len(prices) != 0 {
		t.Fatalf("prices = %v, want empty map", prices)
	}
}

func TestFetchPricesNormalizesSymbols(t *testing.T) {
	srv := quoteServer(t, map[string]string{"AAPL": "205"})
	defer srv.Close()

	source := NewHTTPSource(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	prices, err := source.FetchPrices(context.Background(), []string{" aapl "})
	if err != nil {
		t.Fatalf("FetchPrices: %v", err)
	}
	if _, ok := prices["AAPL"]; !ok {
		t.Fatalf("prices = %v, want normalized AAPL key", prices)
	}
}
