// internal/api/router.go
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryboardStudio/internal/auth"
	"github.com/Corphon/StoryboardStudio/internal/services"
	"github.com/Corphon/StoryboardStudio/internal/utils"
)

// RouterDeps are the services the router is built from
type RouterDeps struct {
	Sessions    *services.SessionService
	Tokens      *auth.TokenConfig
	Metrics     *utils.EditorMetrics
	WebSockets  *WebSocketManager
	RateLimiter *RateLimiter
	Logger      *utils.Logger
	DebugMode   bool
}

// SetupRouter builds the HTTP routes of the editor
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = utils.GetLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = utils.NewEditorMetrics(nil, deps.Logger)
	}
	if deps.RateLimiter == nil {
		deps.RateLimiter = NewRateLimiter()
	}

	handler := NewHandler(deps.Sessions, deps.Tokens, deps.Metrics, deps.WebSockets, deps.Logger)
	limiter := deps.RateLimiter

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(accessLogMiddleware(deps.Logger))
	r.Use(metricsMiddleware(deps.Metrics))
	r.Use(corsMiddleware())

	sessionAuth := SessionAuth(deps.Sessions, deps.Tokens)

	r.GET("/ws/session", sessionAuth, handler.SessionWebSocket)

	api := r.Group("/api")
	api.Use(limiter.DefaultRateLimit())
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.Metrics)
		api.POST("/sessions", handler.CreateSession)

		sessionGroup := api.Group("/sessions", sessionAuth)
		{
			sessionGroup.DELETE("", handler.CloseSession)

			sessionGroup.GET("/storyboard", handler.GetStoryboard)
			sessionGroup.POST("/storyboard", limiter.GenerationRateLimit(), handler.GenerateStoryboard)
			sessionGroup.GET("/settings", handler.GetSettings)
			sessionGroup.PUT("/settings", handler.UpdateSettings)
			sessionGroup.POST("/controls", handler.DispatchControl)

			sessionGroup.GET("/tasks", handler.ListTasks)
			sessionGroup.GET("/tasks/:task", handler.GetTask)

			scenes := sessionGroup.Group("/scenes")
			{
				scenes.POST("/sort", handler.SortScenes)
				scenes.PATCH("/:scene", handler.EditScene)
				scenes.DELETE("/:scene", handler.DeleteScene)
				scenes.POST("/:scene/regenerate", limiter.GenerationRateLimit(), handler.RegenerateScene)

				scenes.PATCH("/:scene/shots/:shot", handler.EditShot)
				scenes.DELETE("/:scene/shots/:shot", handler.DeleteShot)
				scenes.POST("/:scene/shots/:shot/regenerate", limiter.GenerationRateLimit(), handler.RegenerateShot)
				scenes.POST("/:scene/shots/:shot/insert", limiter.GenerationRateLimit(), handler.InsertShot)
			}
		}
	}

	return r
}
