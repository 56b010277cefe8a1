package routes

import (
	"net/http"

	"RoyRemind/config"
	"RoyRemind/controllers"
	"RoyRemind/middlewares"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRoutes builds the gin engine: bearer auth, CORS, rate limiting and request logging
// in front of the reminder API, with /, /healthz and /metrics left public.
func SetupRoutes(cfg *config.AppConfig, logger *zap.Logger, h controllers.ReminderHandlers, checks map[string]controllers.HealthCheck) http.Handler {
	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middlewares.LoggingMiddleware(logger))

	router.Use(middlewares.CorsMiddleware(&middlewares.CorsConfig{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	router.Use(middlewares.NewRateLimiterMiddleware(middlewares.RateLimiterConfig{
		RequestsPerSecond: cfg.HTTP.RateLimitRPS,
		Burst:             cfg.HTTP.RateLimitBurst,
	}))

	router.Use(middlewares.ValidateBearerToken(cfg.GetBearerToken(), "/", "/healthz", "/metrics"))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	controllers.SetupRootRoute(router, checks)
	controllers.SetupReminderRoutes(router, h)

	return router
}
