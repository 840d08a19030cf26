package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KodaTao/linguachat/config"
	"github.com/KodaTao/linguachat/logger"
	"github.com/KodaTao/linguachat/ratelimit"
	"github.com/KodaTao/linguachat/store"
)

// Deps are the components the HTTP surface is built from.
type Deps struct {
	Config   *config.Config
	Gateway  Converser
	Limiter  ratelimit.Limiter
	Registry *store.Registry
	Log      *zap.Logger
}

// NewRouter 组装路由：CORS 在鉴权之前，预检请求不需要 API Key
func NewRouter(d Deps) (*gin.Engine, *Hub) {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Gin(d.Log), CORS(d.Config.CORS))

	sessions := NewSessions(d.Registry, d.Gateway, d.Limiter, d.Log)
	hub := NewHub(&d.Config.WebSocket, sessions, d.Log)
	chat := NewChatHandler(d.Gateway, d.Limiter, d.Log)
	learners := NewLearnerHandler(d.Registry, d.Log)

	r.GET("/healthz", func(c *gin.Context) {
		status := gin.H{"status": "ok"}
		if rd, ok := d.Gateway.(readiness); ok && rd.Ready() != nil {
			status["provider"] = "not_configured"
		}
		c.JSON(http.StatusOK, status)
	})
	r.OPTIONS("/api/chat", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	auth := APIKeyAuth(d.Config.APIKey)
	api := r.Group("/api", auth)
	api.POST("/chat", chat.Handle)
	api.GET("/scenarios", ListScenarios)
	api.GET("/scenarios/:id", GetScenario)
	learners.Register(api)

	r.GET("/ws", auth, hub.HandleWS)

	return r, hub
}
