package handlers

import (
	"net/http"

	appmetrics "atendo/internal/metrics"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

// Ready 就绪探针：校验数据库连通性
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Metrics 暴露引擎与限流计数器快照
func (h *HealthHandler) Metrics(c *gin.Context) {
	sweeps, escalations, byOutcome := appmetrics.EngineSnapshot()
	drops, byPrefix := appmetrics.RateLimitSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"engine": gin.H{
			"sweeps":                sweeps,
			"escalations":           escalations,
			"automation_by_outcome": byOutcome,
		},
		"rate_limit": gin.H{
			"drops":     drops,
			"by_prefix": byPrefix,
		},
	})
}

// RegisterHealthRoutes 注册健康检查与指标路由
func RegisterHealthRoutes(r *gin.Engine, handler *HealthHandler) {
	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
	r.GET("/metrics", handler.Metrics)
}
