package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/chartkeep/api/internal/config"
	"github.com/chartkeep/api/pkg/auth"
	"github.com/chartkeep/api/pkg/metrics"
)

// NewRouter wires the v1 API surface. Everything under /api/v1 requires an
// authenticated actor; /metrics and /healthz do not.
func NewRouter(
	recordHandler *RecordHandler,
	jwtManager *auth.JWTManager,
	corsCfg config.CORSConfig,
	collector *metrics.Collector,
	db *gorm.DB,
) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), CORSMiddleware(corsCfg), MetricsMiddleware(collector))

	engine.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := engine.Group("/api/v1", AuthMiddleware(jwtManager))
	{
		records := api.Group("/records")
		records.POST("", recordHandler.Create)
		records.GET("/:id", recordHandler.Get)
		records.PATCH("/:id/draft", recordHandler.SaveDraft)
		records.POST("/:id/finalize", recordHandler.Finalize)
		records.POST("/:id/amendments", recordHandler.Amend)
		records.DELETE("/:id", recordHandler.SoftDelete)
		records.POST("/:id/restore", recordHandler.Restore)
		records.GET("/:id/versions", recordHandler.ListVersions)
	}

	return engine
}
