// Package kiwoom adapts the Kiwoom Securities REST API into a
// barstore.BarSource for Korean domestic symbols (domain.MarketDomesticRegular
// and MarketDomesticATS), ported from pipeline/excel/kiwoom_api_client.py's
// fetch_kiwoom_minute_data — generalized from its minute-chart endpoint
// (ka10080) to the daily-chart endpoint (ka10081), and from its
// file-based token cache to an in-memory OAuth2 client-credentials flow.
package kiwoom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/errs"
)

const (
	apiIDDailyChart = "ka10081"
	paginationDelay = 500 * time.Millisecond
)

// Client is a Kiwoom REST API client for one of the production ("api.kiwoom.com")
// or mock ("mockapi.kiwoom.com") domains.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appKey     string
	appSecret  string
	log        zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient constructs a Client. useMock selects the sandbox domain,
// matching the USE_MOCK_KIWOOM environment toggle in the original.
func NewClient(appKey, appSecret string, useMock bool, log zerolog.Logger) *Client {
	base := "https://api.kiwoom.com"
	if useMock {
		base = "https://mockapi.kiwoom.com"
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    base,
		appKey:     appKey,
		appSecret:  appSecret,
		log:        log.With().Str("component", "barstore").Str("source", "kiwoom").Logger(),
	}
}

// Name identifies this source to barstore.Store.
func (c *Client) Name() string { return "kiwoom" }

type tokenResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"token"`
	ExpiresDt   string `json:"expires_dt"` // YYYYMMDDHHMMSS
}

// token returns a cached access token, refreshing it via client-credentials
// exchange when absent or within a minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	body, _ := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"secretkey":  c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errs.Fetch("oauth2/token", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", errs.Fetch("oauth2/token", fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return "", errs.Fetch("oauth2/token", fmt.Errorf("parse token response: %w", err))
	}
	expiry, err := time.ParseInLocation("20060102150405", tok.ExpiresDt, time.Local)
	if err != nil {
		expiry = time.Now().Add(time.Hour)
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = expiry
	return c.accessToken, nil
}

type dailyChartRow struct {
	Date     string `json:"date"`
	OpenPrc  string `json:"open_pric"`
	HighPrc  string `json:"high_pric"`
	LowPrc   string `json:"low_pric"`
	ClosePrc string `json:"cur_prc"`
	Volume   string `json:"trde_qty"`
	TradeAmt string `json:"trde_prica"`
}

type dailyChartResponse struct {
	Chart []dailyChartRow `json:"stk_dt_pole_chart_qry"`
}

// FetchDaily implements barstore.BarSource. It pages backward from today
// through the ka10081 daily-chart endpoint via the cont-yn/next-key cursor
// protocol until it reaches a row older than since, then returns the
// collected bars in ascending chronological order.
func (c *Client) FetchDaily(ctx context.Context, symbol string, since time.Time) ([]domain.Bar, error) {
	stockCode := strings.TrimPrefix(symbol, "A")
	sinceInt, _ := strconv.Atoi(since.Format("20060102"))

	var collected []dailyChartRow
	nextKey := ""
	contYN := "N"
	baseDate := time.Now().Format("20060102")

	for {
		tok, err := c.token(ctx)
		if err != nil {
			return nil, err
		}

		payload, _ := json.Marshal(map[string]string{
			"stk_cd":      stockCode,
			"base_dt":     baseDate,
			"upd_stkpc_tp": "1",
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/dostk/chart", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("api-id", apiIDDailyChart)
		req.Header.Set("authorization", "Bearer "+tok)
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
		if contYN == "Y" && nextKey != "" {
			req.Header.Set("cont-yn", "Y")
			req.Header.Set("next-key", nextKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errs.Fetch(symbol, err)
		}
		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errs.Fetch(symbol, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
		}
		if readErr != nil {
			return nil, errs.Fetch(symbol, readErr)
		}

		var parsed dailyChartResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, errs.Fetch(symbol, fmt.Errorf("parse chart response: %w", err))
		}
		if len(parsed.Chart) == 0 {
			break
		}

		reachedBoundary := false
		for _, row := range parsed.Chart {
			d, err := strconv.Atoi(row.Date)
			if err != nil {
				continue
			}
			if d < sinceInt {
				reachedBoundary = true
				break
			}
			collected = append(collected, row)
		}
		if reachedBoundary {
			break
		}

		contYN = resp.Header.Get("cont-yn")
		nextKey = strings.TrimSpace(resp.Header.Get("next-key"))
		if contYN != "Y" || nextKey == "" {
			break
		}
		select {
		case <-time.After(paginationDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	bars := make([]domain.Bar, 0, len(collected))
	for i := len(collected) - 1; i >= 0; i-- { // Kiwoom returns newest-first; reverse to chronological
		row := collected[i]
		day, err := time.ParseInLocation("20060102", row.Date, time.Local)
		if err != nil {
			continue
		}
		bars = append(bars, domain.Bar{
			Instant:    domain.Instant(day.Unix()),
			Open:       absAtoi(row.OpenPrc),
			High:       absAtoi(row.HighPrc),
			Low:        absAtoi(row.LowPrc),
			Close:      absAtoi(row.ClosePrc),
			Volume:     absAtoi(row.Volume),
			TradeValue: absAtoi(row.TradeAmt),
		})
	}
	return bars, nil
}

func absAtoi(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if v < 0 {
		return -v
	}
	return v
}
