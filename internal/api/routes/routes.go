package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/kb-bot/internal/api/handlers"
)

type Deps struct {
	Messages *handlers.MessageHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "kb-bot API"})
	})

	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	r.POST("/:botId/messages", d.Messages.Send)
	r.GET("/:botId/conversations/:threadId", d.Messages.Thread)
	r.GET("/:botId/settings", d.Messages.Settings)
}
