// Package bridge implements a barstore.BarSource over the Daishin 32-bit
// COM bridge server: a local FastAPI process (out of scope here, its
// internals are opaque) that wraps the Daishin Cybos Plus COM object and
// exposes /api/dostk/chart on localhost.
// Ported from pipeline/excel/daishin_api_client.py's fetch_daishin_data.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/errs"
)

// maxRecordCount matches the original's DAISHIN_MAX_MINUTE_COUNT request
// size; the bridge paginates internally via the Cybos "Continue" flag, so
// one call can return far more rows than this count in the worst case.
const maxRecordCount = 150_000

// Client speaks to a local Daishin COM bridge process over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        zerolog.Logger
}

// NewClient constructs a Client against a bridge listening at baseURL
// (e.g. "http://127.0.0.1:8000").
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 300 * time.Second}, // the bridge itself waits on a blocking COM call
		baseURL:    baseURL,
		log:        log.With().Str("component", "barstore").Str("source", "bridge").Logger(),
	}
}

// Name identifies this source to barstore.Store.
func (c *Client) Name() string { return "bridge" }

type bridgeBar struct {
	Date   int     `json:"date"`
	Time   int     `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type bridgeResponse struct {
	Status string      `json:"status"`
	Data   []bridgeBar `json:"data"`
	Detail string      `json:"detail"`
}

// FetchDaily implements barstore.BarSource. Cybos Plus stock codes must
// carry the "A" prefix; the bridge returns minute bars (the Daishin COM
// object has no native daily-chart mode in the original), so FetchDaily
// collapses them into daily OHLCV: open of the day's first minute bar,
// high/low extremes across the day, close of the last minute bar, summed
// volume — then drops any day before since.
func (c *Client) FetchDaily(ctx context.Context, symbol string, since time.Time) ([]domain.Bar, error) {
	stkCd := symbol
	if len(stkCd) == 0 || stkCd[0] != 'A' {
		stkCd = "A" + stkCd
	}

	params := url.Values{}
	params.Set("stk_cd", stkCd)
	params.Set("count", strconv.Itoa(maxRecordCount))
	reqURL := c.baseURL + "/api/dostk/chart?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Fetch(symbol, fmt.Errorf("bridge unreachable (is bridge_server.py running?): %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Fetch(symbol, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.Fetch(symbol, fmt.Errorf("bridge HTTP %d: %s", resp.StatusCode, string(raw)))
	}

	var parsed bridgeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errs.Fetch(symbol, fmt.Errorf("parse bridge response: %w", err))
	}
	if parsed.Status != "success" {
		return nil, errs.Fetch(symbol, fmt.Errorf("bridge error: %s", parsed.Detail))
	}

	sinceInt, _ := strconv.Atoi(since.Format("20060102"))
	return collapseToDaily(parsed.Data, sinceInt), nil
}

// collapseToDaily groups minute rows (assumed newest-first, per the
// bridge's COM read order) by date into one daily Bar each, in ascending
// chronological order.
func collapseToDaily(rows []bridgeBar, sinceInt int) []domain.Bar {
	byDate := make(map[int][]bridgeBar)
	var dates []int
	for _, r := range rows {
		if r.Date < sinceInt {
			continue
		}
		if _, seen := byDate[r.Date]; !seen {
			dates = append(dates, r.Date)
		}
		byDate[r.Date] = append(byDate[r.Date], r)
	}
	sortInts(dates)

	bars := make([]domain.Bar, 0, len(dates))
	for _, d := range dates {
		day := byDate[d]
		sortByTime(day)
		bar := domain.Bar{Instant: domain.Instant(dateToUnix(d))}
		bar.Open = day[0].Open
		bar.Close = day[len(day)-1].Close
		bar.High = day[0].High
		bar.Low = day[0].Low
		for _, m := range day {
			if m.High > bar.High {
				bar.High = m.High
			}
			if m.Low < bar.Low {
				bar.Low = m.Low
			}
			bar.Volume += m.Volume
		}
		bars = append(bars, bar)
	}
	return bars
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

func sortByTime(xs []bridgeBar) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1].Time > xs[j].Time; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

func dateToUnix(yyyymmdd int) int64 {
	year := yyyymmdd / 10000
	month := (yyyymmdd / 100) % 100
	day := yyyymmdd % 100
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local).Unix()
}
