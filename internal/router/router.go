package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/sentraexam-proctor/internal/config"
	"github.com/stemsi/sentraexam-proctor/internal/handler"
	"github.com/stemsi/sentraexam-proctor/internal/middleware"
	"github.com/stemsi/sentraexam-proctor/internal/model"
	"github.com/stemsi/sentraexam-proctor/internal/response"
	"github.com/stemsi/sentraexam-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth   *handler.AuthHandler
	Exam   *handler.ExamHandler
	WS     *handler.WSHandler
	System *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// loginLimiter throttles login attempts per client IP; nil disables it.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	loginLimiter *middleware.RateLimiter,
	log zerolog.Logger,
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
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality: middleware.DefaultBrotliConfig.Quality,
		Skipper: func(c *gin.Context) bool { return c.Request.URL.Path == "/health" },
	}))

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		login := []gin.HandlerFunc{handlers.Auth.Login}
		if loginLimiter != nil {
			login = append([]gin.HandlerFunc{loginLimiter.Middleware()}, login...)
		}
		auth.POST("/login", login...)

		session := auth.Group("")
		session.Use(
			middleware.RequireLearnerJWT(authService),
			middleware.CheckLearnerSession(authService),
		)
		session.POST("/logout", handlers.Auth.Logout)
		session.GET("/me", handlers.Auth.Me)
	}

	// ─── 2. Exam Group (JWT + Backend Session + Students Only) ─────────
	exams := router.Group("/api/v1/exams")
	exams.Use(
		middleware.RequireLearnerJWT(authService),
		middleware.CheckLearnerSession(authService),
		middleware.RequireRole(model.RoleStudent),
		middleware.NoStore(),
	)
	{
		exams.GET("/:exam_id", handlers.Exam.GetPaper)
		exams.POST("/:exam_id/start", handlers.Exam.StartExam)
		exams.DELETE("/:exam_id/session", handlers.Exam.AbandonExam)
		exams.GET("/:exam_id/audit", handlers.Exam.GetAudit)
	}

	// ─── 3. WebSocket Group (Learner WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireLearnerWSAuth(authService),
		middleware.CheckLearnerSession(authService),
		middleware.RequireRole(model.RoleStudent),
	)
	{
		ws.GET("/exams/:exam_id/stream", handlers.WS.ExamStream)
	}

	return router
}
