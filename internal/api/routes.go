package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pegmark/pegmark/internal/cache"
	"github.com/pegmark/pegmark/internal/pricing"
)

// HealthResponse reports service status for the dashboard.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Services  Services  `json:"services"`
}

// Services reports per-dependency health.
type Services struct {
	Cache string `json:"cache"`
}

// SetupRoutes registers the dashboard API. seriesCache may be nil when
// caching is disabled.
func SetupRoutes(router *gin.Engine, handler *PricingHandler, seriesCache *cache.SeriesCache) {
	router.GET("/health", healthCheck(seriesCache))

	v1 := router.Group("/api/v1")
	{
		pricingGroup := v1.Group("/pricing")
		{
			pricingGroup.POST("/run", handler.RunPricing)
			pricingGroup.GET("/history", handler.PriceHistory)
			pricingGroup.GET("/strategies", listStrategies)
		}

		products := v1.Group("/products")
		{
			products.GET("", handler.ListProducts)
			products.PUT("/:name", handler.UpdateProduct)
			products.POST("/:name/competitor/:competitor", handler.ApplyCompetitorQuote)
		}

		competitorsGroup := v1.Group("/competitors")
		{
			competitorsGroup.GET("/:name", handler.GetCompetitorQuote)
		}
	}
}

func healthCheck(seriesCache *cache.SeriesCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
			Version:   "1.0.0",
			Services: Services{
				Cache: "disabled",
			},
		}

		if seriesCache != nil {
			response.Services.Cache = "ok"
			if err := seriesCache.HealthCheck(c.Request.Context()); err != nil {
				response.Services.Cache = "error"
				response.Status = "degraded"
			}
		}

		statusCode := http.StatusOK
		if response.Status == "degraded" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, response)
	}
}

func listStrategies(c *gin.Context) {
	labels := make(map[string][]string)
	for condition, aliases := range pricing.ConditionLabels() {
		labels[string(condition)] = aliases
	}
	c.JSON(http.StatusOK, gin.H{"strategies": labels})
}
