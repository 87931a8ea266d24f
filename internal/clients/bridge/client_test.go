package bridge

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

func TestFetchDailyCollapsesMinuteBarsIntoDailyOHLCV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "A005930", r.URL.Query().Get("stk_cd"))
		resp := bridgeResponse{
			Status: "success",
			Data: []bridgeBar{
				{Date: 20240102, Time: 900, Open: 100, High: 105, Low: 99, Close: 102, Volume: 10},
				{Date: 20240102, Time: 1530, Open: 102, High: 103, Low: 101, Close: 101, Volume: 20},
				{Date: 20240103, Time: 900, Open: 101, High: 108, Low: 100, Close: 107, Volume: 5},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient(server.URL, zerolog.Nop())
	bars, err := c.FetchDaily(context.Background(), "005930", time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 100.0, bars[0].Open)
	assert.Equal(t, 101.0, bars[0].Close) // last minute bar of the day
	assert.Equal(t, 105.0, bars[0].High)
	assert.Equal(t, 99.0, bars[0].Low)
	assert.Equal(t, 30.0, bars[0].Volume)
}

func TestFetchDailyDropsDaysBeforeSince(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(bridgeResponse{Status: "success", Data: []bridgeBar{
			{Date: 20231231, Time: 900, Open: 90, High: 90, Low: 90, Close: 90, Volume: 1},
			{Date: 20240102, Time: 900, Open: 100, High: 100, Low: 100, Close: 100, Volume: 1},
		}})
	}))
	defer server.Close()

	c := NewClient(server.URL, zerolog.Nop())
	bars, err := c.FetchDaily(context.Background(), "005930", time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	require.Len(t, bars, 1)
}

func TestFetchDailyReturnsErrorOnBridgeFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(bridgeResponse{Status: "error", Detail: "HTS not connected"})
	}))
	defer server.Close()

	c := NewClient(server.URL, zerolog.Nop())
	_, err := c.FetchDaily(context.Background(), "005930", time.Now())
	assert.Error(t, err)
}
