package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ahmednasser93/stockly-backend-sub002/internal/alert"
)

const quotePath = "/quote"

// HTTPOptions parameterise the quote API client.
type HTTPOptions struct {
	BaseURL       string
	APIKey        string
	UserAgent     string
	Timeout       time.Duration
	MaxConcurrent int
}

// HTTPSource fetches quotes from the upstream market-data API, one request
// per symbol, fanned out concurrently.
type HTTPSource struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPSource constructs a quote fetcher.
func NewHTTPSource(opts HTTPOptions, logger zerolog.Logger) *HTTPSource {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	return &HTTPSource{
		opts:    opts,
		logger:  logger.With().Str("component", "price_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

type quoteResponse struct {
	Symbol string      `json:"symbol"`
	Price  json.Number `json:"price"`
}

// FetchPrices resolves each symbol concurrently. Per-symbol failures are
// logged and leave the symbol absent; only context cancellation aborts the
// whole fetch.
func (s *HTTPSource) FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(symbols))
	var pricesMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrent)
	for _, symbol := range symbols {
		normalized := alert.NormalizeSymbol(symbol)
		if normalized == "" {
			continue
		}
		g.Go(func() error {
			price, ok, err := s.fetchOne(gctx, normalized)
			if err != nil {
				s.logger.Warn().Err(err).Str("symbol", normalized).Msg("quote fetch failed; symbol left unpriced")
				return nil
			}
			if !ok {
				return nil
			}
			pricesMu.Lock()
			prices[normalized] = price
			pricesMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return prices, nil
}

func (s *HTTPSource) fetchOne(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	endpoint := fmt.Sprintf("%s%s?symbol=%s", s.baseURL, quotePath, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if s.opts.APIKey != "" {
		req.Header.Set("X-Api-Key", s.opts.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	// An unknown or unpriced symbol is a normal outcome, not an error.
	if resp.StatusCode == http.StatusNotFound {
		return decimal.Decimal{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, false, fmt.Errorf("quote api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var quote quoteResponse
	if err := json.Unmarshal(payload, &quote); err != nil {
		return decimal.Decimal{}, false, err
	}
	if quote.Price == "" {
		return decimal.Decimal{}, false, nil
	}

	price, err := decimal.NewFromString(quote.Price.String())
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse price for %s: %w", symbol, err)
	}
	if price.IsZero() || price.IsNegative() {
		return decimal.Decimal{}, false, nil
	}
	return price, true, nil
}

var _ Source = (*HTTPSource)(nil)
