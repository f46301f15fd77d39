package router

import (
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/handler"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session  *handler.SessionHandler
	Progress *handler.ProgressHandler
	WS       *handler.WSHandler
	Monitor  *handler.MonitorHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	publicLimiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log.Logger))
	router.Use(middleware.Brotli(brotli.DefaultCompression))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	requireJWT := middleware.RequireJWT(authService)
	optionalJWT := middleware.OptionalJWT(authService)

	// ─── 1. Public Group (anonymous candidates, rate limited) ──────────
	publicAPI := router.Group("/api/v1/public")
	publicAPI.Use(publicLimiter.Middleware(), middleware.NoStore())
	{
		publicAPI.POST("/sessions/start", optionalJWT, handlers.Session.StartSession)
		publicAPI.POST("/sessions/submit", handlers.Session.SubmitPublic)

		publicAPI.POST("/progress/save", handlers.Progress.SavePublicProgress)
		publicAPI.GET("/progress/load/:email", handlers.Progress.LoadPublicProgress)
		publicAPI.DELETE("/progress/delete/:email", handlers.Progress.DeletePublicProgress)
		publicAPI.POST("/progress/complete/:email", handlers.Progress.CompletePublicProgress)
	}

	// ─── 2. Session Group ──────────────────────────────────────────────
	// State, results and progress are reachable by anonymous candidates
	// through the session id; the service decides per identity mode.
	sessionAPI := router.Group("/api/v1/sessions")
	sessionAPI.Use(middleware.NoStore())
	{
		sessionAPI.POST("/start", requireJWT, handlers.Session.StartSession)
		sessionAPI.POST("/submit", requireJWT, handlers.Session.SubmitAuthenticated)
		sessionAPI.GET("", requireJWT, handlers.Session.ListSessions)

		sessionAPI.GET("/:session_id/state", optionalJWT, handlers.Session.GetState)
		sessionAPI.GET("/:session_id/results", optionalJWT, handlers.Session.GetResults)

		sessionAPI.POST("/:session_id/progress", optionalJWT, handlers.Progress.SaveSessionProgress)
		sessionAPI.GET("/:session_id/progress", optionalJWT, handlers.Progress.LoadSessionProgress)
		sessionAPI.DELETE("/:session_id/progress", optionalJWT, handlers.Progress.DeleteSessionProgress)
		sessionAPI.POST("/:session_id/progress/complete", optionalJWT, handlers.Progress.CompleteSessionProgress)
	}

	// ─── 3. Admin Group (JWT + admin role) ─────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(requireJWT, middleware.RequireAdmin())
	{
		adminAPI.GET("/question-sets/:id/monitor", handlers.Monitor.MonitorQuestionSetSSE)
	}

	// ─── 4. WebSocket Group (token via query, optional) ────────────────
	ws := router.Group("/ws/v1")
	ws.Use(optionalJWT)
	{
		ws.GET("/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	return router
}
