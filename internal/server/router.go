package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Config holds the HTTP surface configuration.
type Config struct {
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitSweep time.Duration // idle bucket eviction period, defaults to 5m
}

// NewRouter builds the Gin engine with middleware and all custody routes
// mounted under /v1.
func NewRouter(h *Handler, cfg Config, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(PrometheusMiddleware())

	if len(cfg.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.CORSOrigins
		r.Use(cors.New(corsCfg))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", MetricsHandler())

	// Only the custody API is throttled; health and scrape endpoints must
	// stay reachable when a producer floods the ingest surface.
	v1 := r.Group("/v1")
	if cfg.RateLimitRPS > 0 {
		sweep := cfg.RateLimitSweep
		if sweep == 0 {
			sweep = 5 * time.Minute
		}
		v1.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2, sweep))
	}
	h.Register(v1)

	logger.Info("router configured",
		zap.Strings("cors_origins", cfg.CORSOrigins),
		zap.Int("rate_limit_rps", cfg.RateLimitRPS),
	)
	return r
}
