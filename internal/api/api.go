// Package api exposes the session store over HTTP:
//
//	POST /session        store {"payload": ...}, returns {"session_id", "expires_in"}
//	GET  /session/:sid   returns {"data": ...} or 404
//	GET  /health         liveness and backend kind
//	GET  /metrics        Prometheus exposition
package api

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/sentimeter/backend/internal/metrics"
	"github.com/sentimeter/backend/internal/ratelimit"
	"github.com/sentimeter/backend/internal/session"
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins  []string // empty or containing "*" allows any origin
	TrustedProxies  []string
	MaxPayloadBytes int64
	CreateRule      ratelimit.Rule
}

// Handler serves the session endpoints.
type Handler struct {
	manager   *session.Manager
	limiter   ratelimit.Limiter // nil disables rate limiting
	opts      Options
	startedAt time.Time
}

// NewHandler creates a Handler backed by manager.
func NewHandler(manager *session.Manager, limiter ratelimit.Limiter, opts Options) *Handler {
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = 1 << 20
	}
	return &Handler{
		manager:   manager,
		limiter:   limiter,
		opts:      opts,
		startedAt: time.Now(),
	}
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	if err := router.SetTrustedProxies(h.opts.TrustedProxies); err != nil {
		log.Printf("[api] invalid trusted proxies %v: %v", h.opts.TrustedProxies, err)
	}

	router.Use(
		gin.Recovery(),
		RequestID(),
		AccessLog(),
		cors.New(corsConfig(h.opts.AllowedOrigins)),
	)

	h.RegisterRoutes(router)

	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// RegisterRoutes mounts the session endpoints on r.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/session", h.createSession)
	r.GET("/session/:sid", h.getSession)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:           []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:           []string{"Origin", "Content-Type", HeaderRequestID},
		ExposeHeaders:          []string{HeaderRequestID},
		AllowBrowserExtensions: true,
		MaxAge:                 12 * time.Hour,
	}

	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
