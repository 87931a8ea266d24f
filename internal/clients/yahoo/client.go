// Package yahoo adapts the Yahoo Finance chart API into a
// barstore.BarSource, for global ETF and benchmark symbols that do not
// trade on the Korean exchange (domain.MarketGlobalETF, MarketBenchmark).
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Client is a Yahoo Finance chart API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

// NewClient creates a new Yahoo Finance client against the production API.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		log:        log.With().Str("component", "barstore").Str("source", "yahoo").Logger(),
	}
}

// Name identifies this source to barstore.Store, stamped onto
// BarSeries.Source.
func (c *Client) Name() string { return "yahoo" }

// toYahooSymbol converts an internal ticker to Yahoo's convention.
// Faithful to the original symbol_converter.py mapping.
func toYahooSymbol(symbol string) string {
	switch {
	case strings.HasSuffix(symbol, ".US"):
		return strings.TrimSuffix(symbol, ".US")
	case strings.HasSuffix(symbol, ".JP"):
		return strings.TrimSuffix(symbol, ".JP") + ".T"
	default:
		return symbol
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"chart"`
}

// FetchDaily implements barstore.BarSource: fetches daily OHLCV bars for
// symbol from since onward via Yahoo's chart endpoint.
func (c *Client) FetchDaily(ctx context.Context, symbol string, since time.Time) ([]domain.Bar, error) {
	yfSymbol := toYahooSymbol(symbol)

	params := url.Values{}
	params.Set("period1", fmt.Sprintf("%d", since.Unix()))
	params.Set("period2", fmt.Sprintf("%d", time.Now().Unix()))
	params.Set("interval", "1d")
	params.Set("events", "history")

	reqURL := c.baseURL + "/v8/finance/chart/" + url.PathEscape(yfSymbol) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build chart request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chart: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chart response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo chart API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse chart response: %w", err)
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart API error: %v", parsed.Chart.Error)
	}
	if len(parsed.Chart.Result) == 0 || len(parsed.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no chart data returned for symbol %s", symbol)
	}

	result := parsed.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]domain.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == 0 {
			continue // Yahoo emits null/zero rows for non-trading minutes within the range
		}
		bars = append(bars, domain.Bar{
			Instant: domain.Instant(ts),
			Open:    valueAt(quote.Open, i),
			High:    valueAt(quote.High, i),
			Low:     valueAt(quote.Low, i),
			Close:   quote.Close[i],
			Volume:  valueAt(quote.Volume, i),
		})
	}
	return bars, nil
}

func valueAt(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}
