package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devasignhq/contributor-app/internal/service"
)

// NewRouter configura el router de Gin con middlewares y las rutas de conversacion.
func NewRouter(
	logger *zap.Logger,
	jwtSvc *service.JWTService,
	convH *ConversationHandler,
) *gin.Engine {
	r := gin.New()
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	tasks := r.Group("/tasks/:taskId", JWTAuthMiddleware(jwtSvc))

	// El stream no lleva Content-Type JSON: la respuesta es el upgrade a websocket.
	tasks.GET("/conversation/stream", convH.Stream)

	api := tasks.Group("", jsonContentTypeMiddleware())
	api.GET("/conversation", convH.GetConversation)
	api.POST("/messages", convH.PostMessage)
	api.POST("/messages/:messageId/visible", convH.MarkVisible)
	api.GET("/unread", convH.GetUnread)
	api.GET("/timeline", convH.GetTimeLeft)
	api.POST("/timeline/requests", convH.RequestTimeline)
	api.POST("/timeline/reply", convH.ReplyTimeline)

	return r
}

// zapLoggerMiddleware registra cada request con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
