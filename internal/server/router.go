package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/learningequality/studio-sub002/internal/handlers"
	"github.com/learningequality/studio-sub002/internal/middleware"
)

type RouterConfig struct {
	AuthHandler    *handlers.AuthHandler
	AuthMiddleware *middleware.AuthMiddleware
	UserHandler    *handlers.UserHandler
	SyncHandler    *handlers.SyncHandler
	ChannelHandler *handlers.ChannelHandler
	SocketHandler  *handlers.SocketHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:8080",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/register", cfg.AuthHandler.Register)
	router.POST("/login", cfg.AuthHandler.Login)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	// User
	protected.GET("/user", cfg.UserHandler.GetMe)
	// Sync
	protected.POST("/api/sync", cfg.SyncHandler.Submit)
	protected.GET("/ws/sync_socket/:channel_id", cfg.SocketHandler.ServeSync)
	// Publish
	protected.POST("/api/channels/:channel_id/publish", cfg.ChannelHandler.Publish)
	protected.POST("/api/channels/:channel_id/draft", cfg.ChannelHandler.CreateDraft)
	// Community library
	protected.POST("/api/channels/:channel_id/community_submissions", cfg.ChannelHandler.SubmitToCommunityLibrary)
	protected.POST("/api/community_submissions/:submission_id/resolve", cfg.ChannelHandler.ResolveSubmission)

	return router
}
