package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// RegisterRoutes configures all API routes, middleware, and error handlers
func RegisterRoutes(e *echo.Echo, h *Handlers, cfg ServerConfig) {
	// Set custom error handler for consistent JSON responses
	e.HTTPErrorHandler = NotFoundJSON()

	// Prometheus sets its own content type
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Optional API key authentication
	if cfg.APIKey != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:X-API-Key", // Look for API key in X-API-Key header
			Skipper: func(c echo.Context) bool {
				p := c.Path()
				return p == "/metrics" || p == "/v1/health"
			},
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == cfg.APIKey, nil // Simple string comparison
			},
		}))
	}

	if cfg.AIRateLimit <= 0 {
		cfg.AIRateLimit = 1
	}
	if cfg.AIRateBurst <= 0 {
		cfg.AIRateBurst = 3
	}

	// API v1 routes
	v1 := e.Group("/v1", SetJSONContentType, SetNoCacheHeaders, Identify)
	v1.GET("/health", h.Health)
	v1.GET("/schema/tables", h.SchemaTables)

	// AI endpoints with rate limiting
	aigroup := v1.Group("/ai")
	aigroup.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(cfg.AIRateLimit),
			Burst:     cfg.AIRateBurst,
			ExpiresIn: 3 * time.Minute,
		}),
		// Proven callers share a budget across addresses; a claimed
		// wallet is limited by address like an anonymous caller.
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if id := provenUserID(c); id != "" {
				return id, nil
			}
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded", Code: http.StatusTooManyRequests})
		},
	}))
	aigroup.GET("/ask", h.AIAsk)
	aigroup.POST("/ask", h.AIAsk)
	aigroup.GET("/history", h.AIHistory)

	// Feature flags CRUD endpoints
	flagGroup := v1.Group("/flags")
	flagGroup.GET("", h.FlagsList)           // List all flags
	flagGroup.POST("", h.FlagsUpsert)        // Create new flag
	flagGroup.GET("/:key", h.FlagsGet)       // Get specific flag
	flagGroup.PUT("/:key", h.FlagsUpdate)    // Update existing flag
	flagGroup.DELETE("/:key", h.FlagsDelete) // Delete flag

	// Catch-all route for 404 responses
	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Code: http.StatusNotFound})
	})
}
