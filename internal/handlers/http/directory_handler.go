package http

import (
	"context"
	"net/http"
	"time"

	"camlink/internal/core/domain"
	"camlink/internal/core/ports"
	"camlink/internal/infrastructure/monitoring"
	"camlink/pkg/cache"

	"github.com/gin-gonic/gin"
)

// directoryTTL bounds how stale the HTTP directory may be. Live clients get
// pushes over the relay; polling dashboards can tolerate this.
const directoryTTL = 2 * time.Second

// DirectoryHandler serves the read-only HTTP surface: the camera directory
// and the health/readiness endpoints. Everything stateful goes over the
// websocket relay; this API exists for dashboards and load balancers.
type DirectoryHandler struct {
	registry ports.RegistryService
	health   *monitoring.HealthChecker
	cache    *cache.CacheWithFallback
	started  time.Time
}

func NewDirectoryHandler(registry ports.RegistryService, health *monitoring.HealthChecker) *DirectoryHandler {
	return &DirectoryHandler{
		registry: registry,
		health:   health,
		cache:    cache.NewCacheWithFallback(directoryTTL),
		started:  time.Now(),
	}
}

func (h *DirectoryHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/cameras", h.ListCameras)
		api.GET("/cameras/:id", h.GetCamera)
	}

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

// ListCameras returns the currently live broadcasts.
func (h *DirectoryHandler) ListCameras(c *gin.Context) {
	sessions, err := h.listSessions(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cameras": sessions,
		"count":   len(sessions),
	})
}

// GetCamera returns a single broadcast summary by session ID.
func (h *DirectoryHandler) GetCamera(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))

	sessions, err := h.listSessions(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	for _, s := range sessions {
		if s.ID == id {
			c.JSON(http.StatusOK, gin.H{"camera": s})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
}

// listSessions reads the directory through a short-lived cache so polling
// clients do not hammer the repository.
func (h *DirectoryHandler) listSessions(ctx context.Context) ([]domain.Summary, error) {
	value, err := h.cache.GetOrSet(ctx, "directory", func(ctx context.Context) (interface{}, error) {
		sessions, err := h.registry.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
		if sessions == nil {
			sessions = []domain.Summary{}
		}
		return sessions, nil
	}, directoryTTL)
	if err != nil {
		return nil, err
	}
	return value.([]domain.Summary), nil
}

func (h *DirectoryHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.started).String(),
	})
}

// Ready runs the registered dependency checks (Redis when enabled) and
// reports 503 until all of them pass.
func (h *DirectoryHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := h.health.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
