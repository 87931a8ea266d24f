package kiwoom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	server := httptest.NewServer(handler)
	c := NewClient("key", "secret", false, zerolog.Nop())
	c.baseURL = server.URL
	return server, c
}

func TestFetchDailyAuthenticatesThenFetchesChart(t *testing.T) {
	var sawAuthHeader string
	server, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			json.NewEncoder(w).Encode(tokenResponse{
				AccessToken: "tok123",
				ExpiresDt:   time.Now().Add(time.Hour).Format("20060102150405"),
			})
		case "/api/dostk/chart":
			sawAuthHeader = r.Header.Get("authorization")
			json.NewEncoder(w).Encode(dailyChartResponse{Chart: []dailyChartRow{
				{Date: "20240102", OpenPrc: "100", HighPrc: "105", LowPrc: "99", ClosePrc: "102", Volume: "1000", TradeAmt: "102000"},
			}})
		}
	})
	defer server.Close()

	bars, err := c.FetchDaily(context.Background(), "005930", time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "Bearer tok123", sawAuthHeader)
	assert.Equal(t, 102.0, bars[0].Close)
	assert.Equal(t, 102000.0, bars[0].TradeValue)
}

func TestFetchDailyStopsAtSinceBoundary(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			json.NewEncoder(w).Encode(tokenResponse{AccessToken: "t", ExpiresDt: time.Now().Add(time.Hour).Format("20060102150405")})
		case "/api/dostk/chart":
			json.NewEncoder(w).Encode(dailyChartResponse{Chart: []dailyChartRow{
				{Date: "20240105", ClosePrc: "110"},
				{Date: "20231231", ClosePrc: "90"}, // older than `since`, should be excluded
			}})
		}
	})

	bars, err := c.FetchDaily(context.Background(), "005930", time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 110.0, bars[0].Close)
}

func TestAbsAtoiHandlesNegativeAndBlank(t *testing.T) {
	assert.Equal(t, 0.0, absAtoi(""))
	assert.Equal(t, 5.0, absAtoi("-5"))
	assert.Equal(t, 5.0, absAtoi("5"))
}
