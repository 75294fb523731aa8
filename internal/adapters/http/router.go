package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Parley/internal/adapters/signal"
	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const (
	userHeader     = "X-User-ID"
	sessionUserKey = "uid"
)

// Services are the application components the HTTP surface exposes.
type Services struct {
	Catalog   *app.Catalog
	Ledger    *app.Ledger
	Directory *app.Directory
	Signal    *signal.SignalWSController
	// Health reports whether backing infrastructure is reachable; nil means always healthy.
	Health func(ctx context.Context) error
}

// IdentityMiddleware takes the caller from the X-User-ID header set by the upstream
// gateway and remembers it in the cookie session, so browsers can open the
// WebSocket without custom headers.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		if raw := c.GetHeader(userHeader); raw != "" {
			uid, err := domain.ParseUserID(raw)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": "INVALID_USER", "message": err.Error()})
				return
			}
			if cur, _ := sess.Get(sessionUserKey).(string); cur != string(uid) {
				sess.Set(sessionUserKey, string(uid))
				if err := sess.Save(); err != nil {
					log.Warn().Err(err).Str("module", "adapters.http").Msg("save session cookie")
				}
			}
			c.Set(signal.IdentityKey, string(uid))
		} else if uid, ok := sess.Get(sessionUserKey).(string); ok && uid != "" {
			c.Set(signal.IdentityKey, uid)
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, svc *Services) http.Handler {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("ParleySessions", store))
	r.Use(IdentityMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		if svc.Health != nil {
			if err := svc.Health(c.Request.Context()); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("health check failed")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{svc: svc, cfg: cfg}
	api := r.Group("/api")

	api.GET("/slots", h.listSlots)
	api.POST("/slots", h.createSlot)
	api.GET("/slots/:id", h.getSlot)
	api.DELETE("/slots/:id", h.deactivateSlot)
	api.POST("/slots/:id/registration", h.reserve)
	api.DELETE("/slots/:id/registration", h.cancel)
	api.GET("/registrations", h.myRegistrations)

	api.POST("/sessions/join", h.joinSession)
	api.POST("/sessions/leave", h.leaveSession)
	api.PUT("/sessions/media", h.updateMedia)
	api.GET("/sessions/:id", h.getSession)
	api.POST("/sessions/:id/close", h.closeSession)

	api.GET("/ice-servers", h.iceServers)

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", c.GetString(signal.IdentityKey)).Msg("ws signal endpoint hit")
		svc.Signal.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Strs("cors", cfg.CORSOrigins).Msg("router setup")

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", userHeader},
		AllowCredentials: true,
	}).Handler(r)
}
