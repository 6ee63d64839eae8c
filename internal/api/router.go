// Package api exposes the attendance service over HTTP.
package api

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classroll/internal/auth"
	"classroll/internal/httpmiddleware"
)

// RouterConfig carries the cross-cutting pieces of the HTTP surface.
type RouterConfig struct {
	SigningKey string
	Issuer     string
	// CheckInLimiter throttles the attendance endpoint; nil disables it.
	CheckInLimiter httpmiddleware.Limiter
	Gatherer       prometheus.Gatherer
	AllowOrigins   []string
	Logger         *slog.Logger
}

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(cfg.AllowOrigins)))
	r.Use(securityHeaders())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1", auth.Authenticate(cfg.SigningKey, cfg.Issuer))

	v1.PUT("/classes/:class_id", auth.Require(auth.CapManageClasses), h.UpsertClass)
	v1.POST("/admin/generate", auth.Require(auth.CapManageClasses), h.Generate)

	sessions := v1.Group("/sessions")
	sessions.POST("", auth.Require(auth.CapManageSessions), h.CreateSession)
	sessions.GET("/today", auth.Require(auth.CapCheckIn), h.Today)
	sessions.GET("/:session_id", auth.Require(auth.CapManageSessions), h.GetSession)
	sessions.DELETE("/:session_id", auth.Require(auth.CapManageClasses), h.DeleteSession)
	sessions.POST("/:session_id/qr", auth.Require(auth.CapManageSessions), h.IssueQR)
	sessions.GET("/:session_id/qr.png", auth.Require(auth.CapManageSessions), h.QRImage)

	checkIn := []gin.HandlerFunc{auth.Require(auth.CapCheckIn)}
	if cfg.CheckInLimiter != nil {
		checkIn = append(checkIn, httpmiddleware.RateLimit(cfg.CheckInLimiter, cfg.Logger))
	}
	sessions.PATCH("/:session_id/attendance", append(checkIn, h.CheckIn)...)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.RequestIDHeader},
		ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
		MaxAge:           24 * time.Hour,
	}
	// Auth is bearer only, so credentials are never needed for an open
	// origin list.
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
