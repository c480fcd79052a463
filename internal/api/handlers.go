package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pegmark/pegmark/internal/competitors"
	"github.com/pegmark/pegmark/internal/config"
	"github.com/pegmark/pegmark/internal/engine"
	"github.com/pegmark/pegmark/internal/marketdata"
	"github.com/pegmark/pegmark/internal/pricing"
)

// PricingHandler serves the dashboard API: running the pricing pipeline,
// charting price history, and editing products between runs. Product edits
// are guarded by a mutex since configuration is otherwise immutable during a
// run.
type PricingHandler struct {
	mu          sync.RWMutex
	cfg         *config.Config
	provider    marketdata.Provider
	competitors *competitors.Service
	logger      *logrus.Logger
}

// NewPricingHandler creates the dashboard handler.
func NewPricingHandler(cfg *config.Config, provider marketdata.Provider, competitorService *competitors.Service, logger *logrus.Logger) *PricingHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PricingHandler{
		cfg:         cfg,
		provider:    provider,
		competitors: competitorService,
		logger:      logger,
	}
}

// RunRequest selects the strategy for an on-demand pricing run. Both fields
// are optional; the configured market condition and the strategy's default
// risk aversion apply when omitted.
type RunRequest struct {
	MarketCondition string   `json:"market_condition"`
	RiskAversion    *float64 `json:"risk_aversion"`
}

// snapshot copies the configuration so a run prices against a consistent
// product list even while edits come in.
func (h *PricingHandler) snapshot() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cfg := *h.cfg
	cfg.Products = make([]config.ProductConfig, len(h.cfg.Products))
	copy(cfg.Products, h.cfg.Products)
	return &cfg
}

func (h *PricingHandler) buildStrategy(c *gin.Context, req RunRequest) (*pricing.Strategy, bool) {
	label := req.MarketCondition
	if label == "" {
		label = h.cfg.MarketCondition
	}

	strategy, err := pricing.BuildStrategy(label)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if req.RiskAversion != nil {
		strategy.RiskAversion = *req.RiskAversion
	}
	return strategy, true
}

// RunPricing executes the full pipeline and returns one result per product.
func (h *PricingHandler) RunPricing(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	strategy, ok := h.buildStrategy(c, req)
	if !ok {
		return
	}

	cfg := h.snapshot()
	run, err := engine.New(cfg, h.provider, strategy, h.logger).Run(c.Request.Context())
	if err != nil {
		h.respondRunError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// PriceHistory recomputes recommended prices over each expanding feature
// window for charting.
func (h *PricingHandler) PriceHistory(c *gin.Context) {
	req := RunRequest{MarketCondition: c.Query("market_condition")}
	strategy, ok := h.buildStrategy(c, req)
	if !ok {
		return
	}

	cfg := h.snapshot()
	eng := engine.New(cfg, h.provider, strategy, h.logger)

	series, err := h.provider.LoadSeries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load market data: " + err.Error()})
		return
	}

	history, err := eng.History(series)
	if err != nil {
		h.respondRunError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history, "market_condition": string(strategy.Condition)})
}

func (h *PricingHandler) respondRunError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrInsufficientData):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, pricing.ErrNoFeatures):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// ListProducts returns the configured products.
func (h *PricingHandler) ListProducts(c *gin.Context) {
	h.mu.RLock()
	products := make([]config.ProductConfig, len(h.cfg.Products))
	copy(products, h.cfg.Products)
	h.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{"products": products})
}

// ProductUpdateRequest carries editable product fields. Nil fields keep their
// current value.
type ProductUpdateRequest struct {
	BasePriceUSD       *float64 `json:"base_price_usd"`
	TargetMargin       *float64 `json:"target_margin"`
	Elasticity         *float64 `json:"elasticity"`
	CompetitorPriceUSD *float64 `json:"competitor_price_usd"`
}

// UpdateProduct edits one product in place; the next run picks the change up.
func (h *PricingHandler) UpdateProduct(c *gin.Context) {
	name := c.Param("name")

	var req ProductUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.BasePriceUSD != nil && *req.BasePriceUSD <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "base_price_usd must be positive"})
		return
	}
	if req.Elasticity != nil && *req.Elasticity < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "elasticity must not be negative"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.cfg.Products {
		if h.cfg.Products[i].Name != name {
			continue
		}
		if req.BasePriceUSD != nil {
			h.cfg.Products[i].BasePriceUSD = *req.BasePriceUSD
		}
		if req.TargetMargin != nil {
			h.cfg.Products[i].TargetMargin = *req.TargetMargin
		}
		if req.Elasticity != nil {
			h.cfg.Products[i].Elasticity = *req.Elasticity
		}
		if req.CompetitorPriceUSD != nil {
			price := *req.CompetitorPriceUSD
			h.cfg.Products[i].CompetitorPriceUSD = &price
		}
		c.JSON(http.StatusOK, gin.H{"product": h.cfg.Products[i]})
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "unknown product: " + name})
}

// GetCompetitorQuote looks up the latest quote for a competitor by name.
func (h *PricingHandler) GetCompetitorQuote(c *gin.Context) {
	quote, err := h.competitors.GetPrice(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, competitors.ErrUnknownCompetitor) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, quote)
}

// ApplyCompetitorQuote fetches a competitor quote and stores it as the
// product's competitor reference price, mirroring the dashboard workflow of
// pinning a live quote before a competitor-match run.
func (h *PricingHandler) ApplyCompetitorQuote(c *gin.Context) {
	name := c.Param("name")
	competitor := c.Param("competitor")

	quote, err := h.competitors.GetPrice(c.Request.Context(), competitor)
	if err != nil {
		if errors.Is(err, competitors.ErrUnknownCompetitor) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.cfg.Products {
		if h.cfg.Products[i].Name != name {
			continue
		}
		price := quote.Price
		h.cfg.Products[i].CompetitorPriceUSD = &price
		c.JSON(http.StatusOK, gin.H{"product": h.cfg.Products[i], "quote": quote})
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "unknown product: " + name})
}
