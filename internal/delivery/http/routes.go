package http

import (
	"github.com/catalogsync/backend/config"
	"github.com/gin-gonic/gin"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RecoveryMiddleware(handler.logger))
	router.Use(LoggerMiddleware(handler.logger))
	if handler.metrics != nil {
		router.Use(MetricsMiddleware(handler.metrics))
	}
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	router.GET("/health", handler.HealthCheck)
	if handler.metrics != nil {
		router.GET("/metrics", gin.WrapH(handler.metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		runs := v1.Group("/runs")
		{
			runs.GET("", handler.ListRuns)
			runs.GET("/latest", handler.LatestRun)
			runs.GET("/:id", handler.GetRun)
		}
	}

	return router
}
