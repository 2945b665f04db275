package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/auth"
	"servchat/internal/blob"
	"servchat/internal/face"
	"servchat/internal/handler"
	"servchat/internal/hub"
	"servchat/internal/logging"
	"servchat/internal/mail"
	"servchat/internal/middleware"
	"servchat/internal/model"
	"servchat/internal/permission"
	"servchat/internal/realtime"
	"servchat/internal/store"
)

// Deps are the collaborators of the HTTP API. Store must publish its
// mutations to Feed; when Feed is nil the router wraps Store itself.
// Mailer and Signer are optional.
type Deps struct {
	Store          store.Store
	Feed           *realtime.Feed
	TokenConfig    auth.TokenConfig
	Matcher        face.Matcher
	PresenceWindow time.Duration
	Mailer         mail.Sender
	Signer         blob.Signer
	Logger         *zap.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Feed == nil {
		deps.Feed = realtime.NewFeed()
		deps.Store = store.NewNotifying(deps.Store, deps.Feed)
	}
	if deps.Matcher.Threshold <= 0 {
		deps.Matcher = face.NewMatcher(face.DefaultThreshold)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	loginLimiter := middleware.NewRateLimiter(10, time.Minute)
	faceLimiter := middleware.NewRateLimiter(30, time.Minute)

	authHandler := &handler.AuthHandler{Store: deps.Store, TokenConfig: deps.TokenConfig, Matcher: deps.Matcher, Logger: logger}
	faceHandler := &handler.FaceHandler{Store: deps.Store, Logger: logger}

	r.POST("/v1/auth/login", middleware.RateLimitMiddleware(loginLimiter), authHandler.Login)
	r.POST("/v1/auth/face", middleware.RateLimitMiddleware(faceLimiter), authHandler.Face)
	r.GET("/v1/face/descriptors", middleware.RateLimitMiddleware(faceLimiter), faceHandler.Descriptors)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))

	userHandler := &handler.UserHandler{Store: deps.Store, Logger: logger}
	protected.GET("/me", userHandler.Me)
	protected.GET("/users", userHandler.List)
	protected.GET("/birthdays", userHandler.Birthdays)

	messageHandler := &handler.MessageHandler{Store: deps.Store, Logger: logger}
	protected.GET("/sectors/:sector/messages", messageHandler.ListSector)
	protected.POST("/sectors/:sector/messages", messageHandler.PostSector)
	protected.DELETE("/messages/:id", messageHandler.Delete)
	protected.GET("/conversations/:partner/messages", messageHandler.ListConversation)
	protected.POST("/conversations/:partner/messages", messageHandler.PostConversation)
	protected.POST("/conversations/:partner/read", messageHandler.MarkRead)

	announcementHandler := &handler.AnnouncementHandler{Store: deps.Store, Logger: logger}
	protected.GET("/announcements", announcementHandler.List)
	protected.POST("/announcements",
		middleware.RequirePermission(deps.Store, permission.PublishAnnouncements, logger),
		announcementHandler.Create)
	protected.DELETE("/announcements/:id", announcementHandler.Delete)
	protected.POST("/announcements/:id/read", announcementHandler.MarkRead)
	protected.GET("/unread", announcementHandler.Unread)

	taskHandler := &handler.TaskHandler{Store: deps.Store, Logger: logger}
	protected.GET("/boards/:board/tasks", taskHandler.List)
	protected.POST("/boards/:board/tasks", taskHandler.Create)
	protected.PATCH("/tasks/:id", taskHandler.Update)
	protected.DELETE("/tasks/:id", taskHandler.Delete)

	presenceHandler := &handler.PresenceHandler{Store: deps.Store, Window: deps.PresenceWindow, Logger: logger}
	protected.POST("/presence/heartbeat", presenceHandler.Heartbeat)
	protected.POST("/presence/offline", presenceHandler.Offline)
	protected.GET("/presence", presenceHandler.List)

	uploadHandler := &handler.UploadHandler{Signer: deps.Signer, Logger: logger}
	protected.POST("/uploads", uploadHandler.Create)
	protected.GET("/uploads/url", uploadHandler.URL)

	adminHandler := &handler.AdminHandler{Store: deps.Store, Mailer: deps.Mailer, Concurrency: mail.DefaultConcurrency, Logger: logger}
	admin := protected.Group("/admin")
	admin.POST("/admins", middleware.RequireRole(model.RoleAdmin), adminHandler.CreateAdmin)
	admin.POST("/users",
		middleware.RequirePermission(deps.Store, permission.ManageUsers, logger),
		adminHandler.CreateUser)
	admin.PUT("/users/:id/permissions",
		middleware.RequirePermission(deps.Store, permission.ManagePermissions, logger),
		adminHandler.SetPermissions)
	admin.POST("/feedback",
		middleware.RequirePermission(deps.Store, permission.SendEmail, logger),
		adminHandler.Feedback)
	admin.POST("/announcements/:id/email",
		middleware.RequirePermission(deps.Store, permission.SendEmail, logger),
		adminHandler.AnnouncementEmail)
	admin.POST("/faces", faceHandler.Register)

	wsHub := hub.New(logger)
	wsHub.Follow(deps.Feed)
	wsHandler := &handler.WebSocketHandler{Hub: wsHub, Feed: deps.Feed, Store: deps.Store, TokenConfig: deps.TokenConfig, Logger: logger}
	r.GET("/ws", wsHandler.Serve)

	return r
}
