package competitors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pegmark/pegmark/internal/config"
)

// ErrUnknownCompetitor is returned when no quote exists for the requested
// competitor name.
var ErrUnknownCompetitor = errors.New("unknown competitor")

// defaultCMCMarketPairsURL is CoinMarketCap's market-pairs endpoint.
const defaultCMCMarketPairsURL = "https://pro-api.coinmarketcap.com/v1/cryptocurrency/market-pairs/latest"

// defaultStubPrices seeds the stub provider when no price map is configured.
var defaultStubPrices = map[string]float64{
	"binance":  30500.0,
	"kraken":   30250.0,
	"coinbase": 30320.0,
}

// Quote is one competitor price observation.
type Quote struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Service retrieves competitor quotes from either a configured stub map or
// CoinMarketCap's market-pairs listing. Only the competitor-match strategy
// consumes these quotes.
type Service struct {
	provider   string
	prices     map[string]float64
	asset      string
	vsCurrency string
	apiKey     string
	apiURL     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewService creates a competitor quote service from configuration.
func NewService(cfg config.CompetitorConfig, logger *logrus.Logger) (*Service, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "stub"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	switch provider {
	case "stub":
		prices := make(map[string]float64, len(cfg.Prices))
		for name, price := range cfg.Prices {
			prices[strings.ToLower(name)] = price
		}
		if len(prices) == 0 {
			for name, price := range defaultStubPrices {
				prices[name] = price
			}
		}
		return &Service{provider: provider, prices: prices, logger: logger}, nil

	case "coinmarketcap":
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("CoinMarketCap competitor pricing requires an API key")
		}
		asset := cfg.Asset
		if asset == "" {
			asset = "BTC"
		}
		vsCurrency := cfg.VsCurrency
		if vsCurrency == "" {
			vsCurrency = "USD"
		}
		apiURL := cfg.APIURL
		if apiURL == "" {
			apiURL = defaultCMCMarketPairsURL
		}
		return &Service{
			provider:   provider,
			asset:      strings.ToUpper(asset),
			vsCurrency: strings.ToUpper(vsCurrency),
			apiKey:     apiKey,
			apiURL:     apiURL,
			httpClient: &http.Client{Timeout: 10 * time.Second},
			logger:     logger,
		}, nil
	}

	return nil, fmt.Errorf("unsupported competitor provider: %s", cfg.Provider)
}

// GetPrice returns the latest quote for a competitor by name. Lookups are
// case-insensitive.
func (s *Service) GetPrice(ctx context.Context, name string) (Quote, error) {
	if strings.TrimSpace(name) == "" {
		return Quote{}, fmt.Errorf("competitor name is required")
	}
	key := strings.ToLower(strings.TrimSpace(name))

	if s.provider == "stub" {
		price, ok := s.prices[key]
		if !ok {
			return Quote{}, fmt.Errorf("%w: %s", ErrUnknownCompetitor, name)
		}
		return Quote{Name: name, Price: price}, nil
	}

	price, err := s.fetchCoinMarketCapPrice(ctx, key)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Name: name, Price: price}, nil
}

type cmcMarketPair struct {
	ExchangeName string                     `json:"exchange_name"`
	ExchangeSlug string                     `json:"exchange_slug"`
	Price        float64                    `json:"price"`
	Quote        map[string]json.RawMessage `json:"quote"`
}

type cmcMarketPairsEntry struct {
	Symbol      string          `json:"symbol"`
	MarketPairs []cmcMarketPair `json:"market_pairs"`
}

type cmcMarketPairsResponse struct {
	Data []cmcMarketPairsEntry `json:"data"`
}

type cmcPairQuote struct {
	Price            *float64 `json:"price"`
	ExchangeReported *struct {
		Price *float64 `json:"price"`
	} `json:"exchange_reported"`
}

// fetchCoinMarketCapPrice queries the market-pairs listing for the latest
// price the competitor exchange reports for the configured asset.
func (s *Service) fetchCoinMarketCapPrice(ctx context.Context, competitorKey string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", s.asset)
	params.Set("convert", s.vsCurrency)
	params.Set("limit", "500")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-CMC_PRO_API_KEY", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach CoinMarketCap market-pairs endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("failed to reach CoinMarketCap market-pairs endpoint: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read CoinMarketCap response: %w", err)
	}

	var payload cmcMarketPairsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("failed to decode CoinMarketCap response: %w", err)
	}

	for _, entry := range payload.Data {
		if !strings.EqualFold(entry.Symbol, s.asset) {
			continue
		}
		for _, pair := range entry.MarketPairs {
			exchange := pair.ExchangeName
			if exchange == "" {
				exchange = pair.ExchangeSlug
			}
			if !strings.EqualFold(strings.TrimSpace(exchange), competitorKey) {
				continue
			}
			if price, ok := extractPairPrice(pair, s.vsCurrency); ok {
				return price, nil
			}
		}
	}

	return 0, fmt.Errorf("%w: no market pair found on CoinMarketCap for %q and asset %s/%s",
		ErrUnknownCompetitor, competitorKey, s.asset, s.vsCurrency)
}

// extractPairPrice digs the price out of a market pair, preferring the
// converted quote, then the exchange-reported quote, then the raw pair price.
func extractPairPrice(pair cmcMarketPair, convertSymbol string) (float64, bool) {
	raw, ok := pair.Quote[convertSymbol]
	if !ok {
		raw, ok = pair.Quote[strings.ToLower(convertSymbol)]
	}
	if ok {
		var quote cmcPairQuote
		if err := json.Unmarshal(raw, &quote); err == nil {
			if quote.Price != nil {
				return *quote.Price, true
			}
			if quote.ExchangeReported != nil && quote.ExchangeReported.Price != nil {
				return *quote.ExchangeReported.Price, true
			}
		}
	}
	if pair.Price != 0 {
		return pair.Price, true
	}
	return 0, false
}
