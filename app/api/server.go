package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health", "/metrics"},
	}))

	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler) {
	r.GET("/", handler.GetIndex)
	r.GET("/health", handler.GetHealth)
	r.GET("/metrics", handler.GetMetrics)

	r.GET("/feeds/events.rss", handler.GetEventsFeed)

	api := r.Group("/api")
	{
		api.GET("/events", handler.ListEvents)
		api.GET("/events/today", handler.ListTodayEvents)
		api.GET("/events/:id", handler.GetEvent)
		api.POST("/events", handler.CreateEvent)

		api.GET("/sources", handler.ListSources)
		api.POST("/sources", handler.CreateSource)
		api.POST("/ingest", handler.TriggerIngest)

		api.GET("/tags", handler.ListTags)
		api.GET("/stats", handler.GetStats)

		api.POST("/users", handler.CreateUser)
		api.GET("/users/:id/subscriptions", handler.ListSubscriptions)
		api.POST("/users/:id/subscriptions", handler.AddSubscription)
	}

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})
}
