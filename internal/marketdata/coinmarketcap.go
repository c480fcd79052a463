package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/pegmark/pegmark/internal/config"
	"github.com/pegmark/pegmark/internal/models"
)

// Default CoinMarketCap endpoints. Exported fields on the provider allow
// tests to point these at a local server.
const (
	defaultHistoricalURL = "https://api.coinmarketcap.com/data-api/v3/cryptocurrency/historical"
	defaultCryptoMapURL  = "https://pro-api.coinmarketcap.com/v1/cryptocurrency/map"
	defaultFiatMapURL    = "https://pro-api.coinmarketcap.com/v1/fiat/map"
)

// CoinMarketCapProvider pulls hourly candles from CoinMarketCap. Requests are
// rate limited to stay inside the free-tier quota and guarded by a circuit
// breaker so a flapping upstream fails fast instead of hammering the API.
type CoinMarketCapProvider struct {
	HistoricalURL string
	CryptoMapURL  string
	FiatMapURL    string

	cfg        config.DataSourceConfig
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	logger     *logrus.Logger

	fiatIDs map[string]int
	assetID int
}

type cmcMapEntry struct {
	ID       int    `json:"id"`
	Symbol   string `json:"symbol"`
	Slug     string `json:"slug"`
	IsActive int    `json:"is_active"`
}

type cmcMapResponse struct {
	Data []cmcMapEntry `json:"data"`
}

type cmcQuote struct {
	Timestamp string  `json:"timestamp"`
	Close     float64 `json:"close"`
}

type cmcHistoricalQuote struct {
	TimeClose string   `json:"timeClose"`
	Quote     cmcQuote `json:"quote"`
}

type cmcHistoricalResponse struct {
	Data struct {
		Quotes []cmcHistoricalQuote `json:"quotes"`
	} `json:"data"`
}

// NewCoinMarketCapProvider creates a provider from configuration. The API
// key must be present either in the configuration or via the environment
// binding the config loader sets up.
func NewCoinMarketCapProvider(cfg config.DataSourceConfig, logger *logrus.Logger) (*CoinMarketCapProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("CoinMarketCap API key missing: set data_source.api_key or COINMARKETCAP_API_KEY")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	historicalURL := cfg.APIURL
	if historicalURL == "" {
		historicalURL = defaultHistoricalURL
	}

	settings := gobreaker.Settings{
		Name: "coinmarketcap",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &CoinMarketCapProvider{
		HistoricalURL: historicalURL,
		CryptoMapURL:  defaultCryptoMapURL,
		FiatMapURL:    defaultFiatMapURL,
		cfg:           cfg,
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		breaker:       gobreaker.NewCircuitBreaker(settings),
		limiter:       rate.NewLimiter(rate.Every(2*time.Second), 3),
		logger:        logger,
	}, nil
}

// LoadSeries fetches hourly close quotes over the configured lookback window
// and returns them sorted ascending by timestamp.
func (p *CoinMarketCapProvider) LoadSeries(ctx context.Context) ([]models.PricePoint, error) {
	assetID, err := p.resolveAssetID(ctx)
	if err != nil {
		return nil, err
	}
	convertID, err := p.resolveConvertID(ctx)
	if err != nil {
		return nil, err
	}

	lookback := p.cfg.LookbackHours
	if lookback < 1 {
		lookback = 1
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(lookback) * time.Hour)

	params := url.Values{}
	params.Set("id", strconv.Itoa(assetID))
	params.Set("convertId", strconv.Itoa(convertID))
	params.Set("timeStart", strconv.FormatInt(start.Unix(), 10))
	params.Set("timeEnd", strconv.FormatInt(end.Unix(), 10))
	params.Set("interval", "1h")

	var payload cmcHistoricalResponse
	if err := p.doGet(ctx, p.HistoricalURL, params, &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch CoinMarketCap candles: %w", err)
	}

	series := make([]models.PricePoint, 0, len(payload.Data.Quotes))
	for _, entry := range payload.Data.Quotes {
		raw := entry.Quote.Timestamp
		if raw == "" {
			raw = entry.TimeClose
		}
		if raw == "" || entry.Quote.Close == 0 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			continue
		}
		series = append(series, models.PricePoint{Timestamp: ts, Price: entry.Quote.Close})
	}

	if len(series) == 0 {
		return nil, fmt.Errorf("CoinMarketCap returned no price points for the requested window")
	}

	sortSeries(series)
	return series, nil
}

// resolveAssetID maps the configured asset to a CoinMarketCap id. Numeric
// assets are taken verbatim; otherwise a symbol lookup is tried first, then a
// slug scan of the full listing.
func (p *CoinMarketCapProvider) resolveAssetID(ctx context.Context) (int, error) {
	if p.assetID != 0 {
		return p.assetID, nil
	}

	asset := strings.TrimSpace(p.cfg.Asset)
	if id, err := strconv.Atoi(asset); err == nil {
		p.assetID = id
		return id, nil
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(asset))
	var bySymbol cmcMapResponse
	if err := p.doGet(ctx, p.CryptoMapURL, params, &bySymbol); err != nil {
		return 0, fmt.Errorf("failed to look up CoinMarketCap asset %q: %w", asset, err)
	}
	for _, entry := range bySymbol.Data {
		if entry.IsActive != 0 {
			p.assetID = entry.ID
			return entry.ID, nil
		}
	}

	// Fallback: scan listing for slug matches
	var listing cmcMapResponse
	if err := p.doGet(ctx, p.CryptoMapURL, nil, &listing); err != nil {
		return 0, fmt.Errorf("failed to list CoinMarketCap assets: %w", err)
	}
	slug := strings.ToLower(asset)
	for _, entry := range listing.Data {
		if entry.Slug == slug && entry.IsActive != 0 {
			p.assetID = entry.ID
			return entry.ID, nil
		}
	}

	return 0, fmt.Errorf("unable to resolve CoinMarketCap asset id for %q", p.cfg.Asset)
}

// resolveConvertID maps the configured quote currency to a CoinMarketCap
// fiat id via the fiat directory, which is fetched once and reused.
func (p *CoinMarketCapProvider) resolveConvertID(ctx context.Context) (int, error) {
	if p.fiatIDs == nil {
		var payload cmcMapResponse
		if err := p.doGet(ctx, p.FiatMapURL, nil, &payload); err != nil {
			return 0, fmt.Errorf("failed to load CoinMarketCap fiat directory: %w", err)
		}
		directory := make(map[string]int, len(payload.Data))
		for _, entry := range payload.Data {
			directory[strings.ToUpper(entry.Symbol)] = entry.ID
		}
		p.fiatIDs = directory
	}

	symbol := strings.ToUpper(p.cfg.VsCurrency)
	id, ok := p.fiatIDs[symbol]
	if !ok {
		return 0, fmt.Errorf("unsupported vs_currency for CoinMarketCap: %s", p.cfg.VsCurrency)
	}
	return id, nil
}

// doGet performs a rate-limited GET through the circuit breaker and decodes
// the JSON response into out.
func (p *CoinMarketCapProvider) doGet(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := p.breaker.Execute(func() (interface{}, error) {
		requestURL := endpoint
		if len(params) > 0 {
			requestURL = endpoint + "?" + params.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-CMC_PRO_API_KEY", p.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return err
	}

	return json.Unmarshal(body.([]byte), out)
}
