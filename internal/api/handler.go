package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"alarm-clock-backend/internal/engine"
	"alarm-clock-backend/internal/reconcile"
	"alarm-clock-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	engine     *engine.Engine
	reconciler *reconcile.Reconciler
	webpush    *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, eng *engine.Engine, rec *reconcile.Reconciler, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:      s,
		engine:     eng,
		reconciler: rec,
		webpush:    webpushOptions,
	}
}
