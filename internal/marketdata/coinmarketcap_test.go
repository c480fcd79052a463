package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pegmark/pegmark/internal/config"
)

func cmcTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newCMCServer(t *testing.T, historical http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/crypto-map", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-CMC_PRO_API_KEY"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": 9999, "symbol": "BTC", "slug": "bitcoin-cash-clone", "is_active": 0},
				{"id": 1, "symbol": "BTC", "slug": "bitcoin", "is_active": 1},
			},
		})
	})
	mux.HandleFunc("/fiat-map", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": 2781, "symbol": "USD"},
				{"id": 2790, "symbol": "EUR"},
			},
		})
	})
	mux.HandleFunc("/historical", historical)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newCMCProvider(t *testing.T, server *httptest.Server, cfg config.DataSourceConfig) *CoinMarketCapProvider {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	provider, err := NewCoinMarketCapProvider(cfg, cmcTestLogger())
	require.NoError(t, err)
	provider.HistoricalURL = server.URL + "/historical"
	provider.CryptoMapURL = server.URL + "/crypto-map"
	provider.FiatMapURL = server.URL + "/fiat-map"
	return provider
}

func TestNewCoinMarketCapProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewCoinMarketCapProvider(config.DataSourceConfig{Provider: "coinmarketcap"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COINMARKETCAP_API_KEY")
}

func TestCoinMarketCapProvider_LoadSeries(t *testing.T) {
	server := newCMCServer(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		assert.Equal(t, "1", query.Get("id"))
		assert.Equal(t, "2781", query.Get("convertId"))
		assert.Equal(t, "1h", query.Get("interval"))
		assert.NotEmpty(t, query.Get("timeStart"))
		assert.NotEmpty(t, query.Get("timeEnd"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"quotes": []map[string]interface{}{
					// Out of order on purpose; one entry uses timeClose only,
					// one is unparseable, one has a zero close.
					{"quote": map[string]interface{}{"timestamp": "2026-08-20T02:00:00Z", "close": 30050.0}},
					{"timeClose": "2026-08-20T00:00:00Z", "quote": map[string]interface{}{"close": 30000.0}},
					{"quote": map[string]interface{}{"timestamp": "not-a-time", "close": 30010.0}},
					{"quote": map[string]interface{}{"timestamp": "2026-08-20T03:00:00Z", "close": 0.0}},
					{"quote": map[string]interface{}{"timestamp": "2026-08-20T01:00:00Z", "close": 30025.0}},
				},
			},
		})
	})

	provider := newCMCProvider(t, server, config.DataSourceConfig{
		Provider:      "coinmarketcap",
		Asset:         "BTC",
		VsCurrency:    "usd",
		LookbackHours: 24,
	})

	series, err := provider.LoadSeries(context.Background())
	require.NoError(t, err)
	require.Len(t, series, 3)

	assert.Equal(t, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), series[0].Timestamp)
	assert.Equal(t, 30000.0, series[0].Price)
	assert.Equal(t, 30025.0, series[1].Price)
	assert.Equal(t, 30050.0, series[2].Price)
}

func TestCoinMarketCapProvider_NumericAssetSkipsLookup(t *testing.T) {
	server := newCMCServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1027", r.URL.Query().Get("id"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"quotes": []map[string]interface{}{
					{"quote": map[string]interface{}{"timestamp": "2026-08-20T00:00:00Z", "close": 2500.0}},
				},
			},
		})
	})

	provider := newCMCProvider(t, server, config.DataSourceConfig{
		Provider:      "coinmarketcap",
		Asset:         "1027",
		VsCurrency:    "USD",
		LookbackHours: 24,
	})

	series, err := provider.LoadSeries(context.Background())
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, 2500.0, series[0].Price)
}

func TestCoinMarketCapProvider_EmptyWindow(t *testing.T) {
	server := newCMCServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"quotes": []map[string]interface{}{}},
		})
	})

	provider := newCMCProvider(t, server, config.DataSourceConfig{
		Provider:      "coinmarketcap",
		Asset:         "1",
		VsCurrency:    "USD",
		LookbackHours: 24,
	})

	_, err := provider.LoadSeries(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no price points")
}

func TestCoinMarketCapProvider_UnsupportedCurrency(t *testing.T) {
	server := newCMCServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("historical endpoint must not be called for an unknown currency")
	})

	provider := newCMCProvider(t, server, config.DataSourceConfig{
		Provider:      "coinmarketcap",
		Asset:         "1",
		VsCurrency:    "DOGE",
		LookbackHours: 24,
	})

	_, err := provider.LoadSeries(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported vs_currency")
}

func TestCoinMarketCapProvider_UpstreamFailure(t *testing.T) {
	server := newCMCServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	provider := newCMCProvider(t, server, config.DataSourceConfig{
		Provider:      "coinmarketcap",
		Asset:         "1",
		VsCurrency:    "USD",
		LookbackHours: 24,
	})

	_, err := provider.LoadSeries(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch CoinMarketCap candles")
}
