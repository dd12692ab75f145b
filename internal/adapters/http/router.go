package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/config"
)

const (
	sessionName    = "VoiceSessions"
	sessionUserKey = "user_id"
)

func genClientToken() string {
	return uuid.NewString()
}

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

// WSHandler serves the voice websocket.
type WSHandler interface {
	HandleVoice(ctx context.Context, c *gin.Context)
}

func SetupRouter(ctx context.Context, cfg *config.Config, api *API, ws WSHandler) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.GET("/health", api.Health)

	v := r.Group("/api/voice")
	v.GET("/state", api.State)
	v.POST("/join", api.Join)
	v.POST("/leave", api.Leave)
	v.POST("/mute", api.Mute)
	v.POST("/deafen", api.Deafen)
	v.GET("/signals", api.Signals)

	if ws != nil {
		r.GET("/api/ws/voice", func(c *gin.Context) {
			log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws voice endpoint hit")
			ws.HandleVoice(ctx, c)
		})
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

// SessionUser returns the local user remembered in the cookie session.
func SessionUser(c *gin.Context) (string, bool) {
	v, ok := sessions.Default(c).Get(sessionUserKey).(string)
	return v, ok && v != ""
}

func rememberUser(c *gin.Context, user string) error {
	s := sessions.Default(c)
	s.Set(sessionUserKey, user)
	return s.Save()
}
