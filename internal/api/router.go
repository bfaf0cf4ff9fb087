package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"alarm-clock-backend/config"
	"alarm-clock-backend/internal/engine"
	"alarm-clock-backend/internal/mw"
	"alarm-clock-backend/internal/reconcile"
	"alarm-clock-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.ServerConfig, s store.Store, eng *engine.Engine, rec *reconcile.Reconciler, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, eng, rec, webpushOptions)

	limit := rate.Limit(cfg.RateLimitPerSec)
	if limit <= 0 {
		limit = rate.Limit(10)
	}
	rateLimiter := mw.RateLimiter(limit, 5, cfg.RequestIPHeader)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}
	cacheStore := cache.New(cacheTTL, 10*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/alarms", caching, handler.GetAlarms)
		api.POST("/alarms", handler.CreateAlarm)
		api.GET("/alarms/:alarm_id", handler.GetAlarm)
		api.PUT("/alarms/:alarm_id", handler.UpdateAlarm)
		api.DELETE("/alarms/:alarm_id", handler.DeleteAlarm)
		api.POST("/alarms/:alarm_id/enable", handler.SetAlarmEnabled(true))
		api.POST("/alarms/:alarm_id/disable", handler.SetAlarmEnabled(false))

		api.GET("/instances", handler.GetInstances)
		api.POST("/instances/:instance_id/snooze", handler.InstanceAction(engine.ActionSnooze))
		api.POST("/instances/:instance_id/dismiss", handler.InstanceAction(engine.ActionDismiss))
		api.POST("/instances/:instance_id/predismiss", handler.InstanceAction(engine.ActionPredismiss))

		api.POST("/events", handler.PostEvent)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
