package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videocall/internal/config"
	"github.com/dkeye/videocall/internal/core"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable token; it is the default
// creator recorded on rooms.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// RequestLogger logs API calls through zerolog.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("module", "adapters.http").
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, store core.SignalingStore) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(RequestLogger())
	}
	r.Use(gin.Recovery())

	cookies := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VideocallSessions", cookies))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &RoomsController{
		Store:      store,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		ctx:        ctx,
	}

	limiter := NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	writes := limiter.Middleware()

	api := r.Group("/api")
	api.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	rooms := api.Group("/rooms")
	rooms.GET("", h.ListRooms)
	rooms.POST("", writes, h.CreateRoom)
	rooms.GET("/:id", h.GetRoom)
	rooms.DELETE("/:id", h.DeleteRoom)
	rooms.PUT("/:id/answer", writes, h.SetAnswer)
	rooms.GET("/:id/watch", h.WatchRoom)
	rooms.POST("/:id/candidates/:log", writes, h.AppendCandidate)
	rooms.GET("/:id/candidates/:log", h.ListCandidates)
	rooms.GET("/:id/candidates/:log/watch", h.WatchCandidates)

	return r
}
