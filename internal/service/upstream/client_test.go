package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ClarityPull/internal/domain/models"
	drepo "ClarityPull/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const body = `{
  "market": "crypto",
  "count": 5,
  "results": [
    {"price_timestamp": "2024-01-03T00:00:00Z", "close": "42000.5", "volume_number": 12, "volume_usd": 504006, "bitmex_funding_rate": "0.00010000", "region": " EU ", "smart_index_st": 72, "aes_leverage_moderate": "2X", "aes_leverage_aggressive": 3},
    {"price_timestamp": "2024-01-01T00:00:00Z", "open": 1.5, "close": 1.25, "smart_index_st": null},
    {"price_timestamp": "2024-01-02", "smart_index_st": "55"},
    {"price_timestamp": "2024-01-04T00:00:00Z", "smart_index_st": "high"},
    {"price_timestamp": "2024-01-05T00:00:00Z", "smart_index_st": 140}
  ]
}`

func newServer(t *testing.T, status int, payload string, check func(*http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, "/api/claritybox", "secret", time.Second, nil)
}

func TestFetchParsesAndSorts(t *testing.T) {
	c := newServer(t, http.StatusOK, body, func(r *http.Request) {
		assert.Equal(t, "/api/claritybox/market-data/BTC/", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(HeaderAPIKey))
		assert.Equal(t, "true", r.URL.Query().Get("latest_only"))
	})

	res, err := c.Fetch(context.Background(), "BTC", models.FetchOptions{LatestOnly: true})
	require.NoError(t, err)
	assert.Equal(t, "crypto", res.Market)
	require.Len(t, res.Observations, 3)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, 3, res.Rejected[0].Index)
	assert.Equal(t, 4, res.Rejected[1].Index)

	first, second, third := res.Observations[0], res.Observations[1], res.Observations[2]
	assert.True(t, first.PriceTimestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, first.Score)
	assert.Equal(t, "1.5", first.Open.Decimal.String())

	assert.Equal(t, 55, *second.Score)
	assert.False(t, second.Close.Valid)

	assert.Equal(t, 72, *third.Score)
	assert.Equal(t, "42000.5", third.Close.Decimal.String())
	assert.Equal(t, models.Leverage("2X"), *third.LeverageModerate)
	assert.Equal(t, models.Leverage("3X"), *third.LeverageAggressive)
	assert.Equal(t, "504006", third.VolumeUSD.Decimal.String())
	assert.Equal(t, "0.0001", third.FundingRate.Decimal.String())
	require.NotNil(t, third.Region)
	assert.Equal(t, "EU", *third.Region)
	assert.Nil(t, third.ScoreOverride)
	assert.False(t, first.VolumeUSD.Valid)
}

func TestFetchFromDateQuery(t *testing.T) {
	c := newServer(t, http.StatusOK, `{"market":"crypto","count":0,"results":[]}`, func(r *http.Request) {
		assert.Equal(t, "2024-02-01", r.URL.Query().Get("from_date"))
		assert.Empty(t, r.URL.Query().Get("latest_only"))
	})
	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	res, err := c.Fetch(context.Background(), "BTC", models.FetchOptions{FromDate: &from})
	require.NoError(t, err)
	assert.Empty(t, res.Observations)
}

func TestFetchRejectsBothWindows(t *testing.T) {
	c := newServer(t, http.StatusOK, "{}", nil)
	from := time.Now()
	_, err := c.Fetch(context.Background(), "BTC", models.FetchOptions{FromDate: &from, LatestOnly: true})
	assert.Error(t, err)
}

func TestFetchErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusForbidden, drepo.ErrAuth},
		{http.StatusNotFound, drepo.ErrNotFound},
		{http.StatusBadGateway, drepo.ErrUpstreamUnavailable},
		{http.StatusServiceUnavailable, drepo.ErrUpstreamUnavailable},
		{http.StatusTeapot, drepo.ErrUpstreamUnavailable},
	}
	for _, tc := range cases {
		c := newServer(t, tc.status, "", nil)
		_, err := c.Fetch(context.Background(), "BTC", models.FetchOptions{})
		assert.True(t, errors.Is(err, tc.want), "status %d: %v", tc.status, err)
	}
}

func TestFetchUnknownSymbolWrapsBoth(t *testing.T) {
	c := newServer(t, http.StatusNotFound, "", nil)
	_, err := c.Fetch(context.Background(), "NOPE", models.FetchOptions{})
	assert.True(t, errors.Is(err, drepo.ErrUnknownSymbol))
}

func TestFetchNetworkErrorIsUnavailable(t *testing.T) {
	c := New("http://127.0.0.1:1", "", "k", 200*time.Millisecond, nil)
	_, err := c.Fetch(context.Background(), "BTC", models.FetchOptions{})
	assert.True(t, errors.Is(err, drepo.ErrUpstreamUnavailable))
}
