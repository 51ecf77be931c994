package http

import (
	"time"

	"narrato-server/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ginprometheus "github.com/zsais/go-gin-prometheus"
)

// NewRouter собирает gin-роутер со всеми эндпоинтами сервиса.
// rateLimit (если не nil) вешается на OTP-эндпоинты: отправка кодов на
// почту — единственная операция, которую есть смысл душить по IP.
func NewRouter(h *Handler, allowedOrigins []string, rateLimit gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// HTTP-метрики на /metrics, метрики воркера — отдельным роутом
	prom := ginprometheus.NewPrometheus("gin")
	prom.Use(router)
	router.GET("/metrics/worker", gin.WrapH(promhttp.HandlerFor(worker.Registry(), promhttp.HandlerOpts{})))

	router.GET("/health", h.health)

	api := router.Group("/api")
	{
		api.POST("/start-story-generation", h.optionalAuth, h.startStoryGeneration)
		api.GET("/generation-status/:task_uuid", h.generationStatus)
		api.POST("/run-worker", h.runWorker)
		api.GET("/generate_story_stream", h.optionalAuth, h.generateStoryStream)

		auth := api.Group("/auth")
		if rateLimit != nil {
			auth.Use(rateLimit)
		}
		{
			auth.POST("/send-otp", h.sendOTP)
			auth.POST("/verify-otp", h.verifyOTP)
			auth.POST("/logout", h.logout)
		}

		api.GET("/stories", h.publicStories)
		api.GET("/stories/:story_uuid", h.storyByUUID)
		api.GET("/my-stories", h.requireAuth, h.myStories)
		api.POST("/delete-story", h.requireAuth, h.deleteStory)
	}

	return router
}
