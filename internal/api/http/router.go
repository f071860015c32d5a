package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/kestrelchat/kestrel/internal/auth"
	"github.com/kestrelchat/kestrel/internal/metrics"
	"github.com/kestrelchat/kestrel/internal/mw"
)

func SetupRouter(wsController *WSController, restController *RestController, verifier *auth.Verifier) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.GinMiddleware())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", wsController.Serve)

	api := router.Group("/api")
	api.Use(mw.RateLimit(rate.Limit(20), 40))
	api.Use(RequireAuth(verifier))

	conversations := api.Group("/conversations")
	conversations.POST("", restController.CreateConversation)
	conversations.GET("", restController.ListConversations)
	conversations.GET("/:conversationID/messages", restController.ListMessages)
	conversations.GET("/:conversationID/documents", restController.ListDocuments)

	api.GET("/presence", restController.GetPresence)
	api.GET("/calls/active", restController.GetActiveCall)

	return router
}
