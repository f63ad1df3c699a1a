package router

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"integrator/config"
	"integrator/controllers"
	"integrator/metrics"
	"integrator/middleware"
)

// Initialize wires all routes and middlewares. Only cfg.TrustedProxies may
// set the client address through forwarding headers.
func Initialize(r *gin.Engine, cfg config.Configuration, ic *controllers.IntegratorController) error {
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return errors.Wrap(err, "trusted proxies")
	}

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.CORSMiddleware(cfg.Cors.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	if cfg.Metrics.Enabled {
		metrics.Register()
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	var limiter *RateLimiter
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limiter = NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}

	api := r.Group("/api")

	// Canary probe: confirms which build is live without touching the store
	api.GET("/_canary", Logger(), controllers.Canary)

	// Request-access form. Any method is routed so non-POST gets a JSON 405.
	api.Any("/integrator-request", Logger(), RateLimit(limiter), ic.Submit)

	log.Printf("Routes initialized")
	return nil
}
