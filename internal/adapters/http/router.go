package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mentorhub/signaling/internal/adapters/signal"
	"github.com/mentorhub/signaling/internal/app"
	"github.com/mentorhub/signaling/internal/auth"
	"github.com/mentorhub/signaling/internal/config"
	"github.com/mentorhub/signaling/internal/metrics"
)

// IdentityMiddleware resolves the connection's authenticated user.
// With auth enabled the platform-issued JWT (query param or cookie) is
// mandatory; otherwise a guest identity is minted once and pinned in the
// cookie session so reconnects keep the same id.
func IdentityMiddleware(cfg *config.AuthConfig, verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Enabled {
			token := c.Query(cfg.QueryParam)
			if token == "" {
				token, _ = c.Cookie(cfg.QueryParam)
			}
			if token == "" {
				metrics.AuthFailures.Inc()
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				metrics.AuthFailures.Inc()
				log.Warn().Err(err).Str("module", "adapters.http").Msg("token rejected")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			c.Set("user_id", claims.UserID)
			c.Set("user_name", claims.Name)
			c.Next()
			return
		}

		sess := sessions.Default(c)
		id, _ := sess.Get("guest_id").(string)
		if id == "" {
			id = uuid.NewString()
			sess.Set("guest_id", id)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("guest session save")
			}
		}
		c.Set("user_id", id)
		c.Set("user_name", "guest")
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, gw *signal.Gateway, presence *app.Presence) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("SignalingSessions", store))

	var verifier *auth.Verifier
	if cfg.Auth.Enabled {
		verifier = auth.NewVerifier(cfg.Auth.Secret)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(IdentityMiddleware(&cfg.Auth, verifier))

	api.GET("/presence", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": presence.Online()})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", c.GetString("user_id")).Msg("ws signal endpoint hit")
		gw.HandleSignal(ctx, c)
	})

	return r
}
