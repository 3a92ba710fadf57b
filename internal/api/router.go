package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"laundry-room-coordinator/config"
	"laundry-room-coordinator/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(svc Coordinator, cfg *config.Server) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(svc)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 10*ttl)
	caching := mw.Cache(cacheStore, ttl)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/machines", caching, handler.GetMachines)
		api.POST("/machines/:id/claim", handler.ClaimMachine)
		api.POST("/machines/:id/pause", handler.PauseMachine)
		api.POST("/machines/:id/resume", handler.ResumeMachine)
		api.POST("/machines/:id/stop", handler.StopMachine)
	}

	return r
}
