package v1

import (
	"context"
	"net/http"
	"time"

	"agent_dashboard/api/v1/auth"
	"agent_dashboard/api/v1/middleware"
	"agent_dashboard/api/v1/queue"
	"agent_dashboard/api/v1/subagents"
	"agent_dashboard/internal/archive"
	"agent_dashboard/internal/config"
	"agent_dashboard/internal/httpx"
	"agent_dashboard/internal/preferences"
	queuestore "agent_dashboard/internal/queue"
	"agent_dashboard/internal/service"

	"github.com/gin-gonic/gin"
)

// Deps holds everything the routes are served from
type Deps struct {
	Config      *config.Config
	State       subagents.StateProvider
	Service     *service.SubagentService
	Preferences *preferences.Store
	Queue       *queuestore.Store
	Archive     archive.Sink
	Metrics     http.Handler
	Socket      http.Handler
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, d Deps) {
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}
	if d.Socket != nil {
		r.GET("/socket.io/*any", gin.WrapH(d.Socket))
		r.POST("/socket.io/*any", gin.WrapH(d.Socket))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/ping", pingHandler)
		v1.GET("/health", healthHandler(d.Queue, d.Archive))

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", auth.LoginHandler(d.Config))
		}

		guarded := v1.Group("")
		guarded.Use(middleware.WriteGuard())
		{
			h := subagents.NewHandler(d.State, d.Service, d.Preferences)
			sub := guarded.Group("/subagents")
			{
				sub.GET("", h.List)
				sub.POST("", h.Spawn)
				sub.DELETE("", h.ClearLog)
				sub.POST("/clear-log", h.ClearLog)
				sub.GET("/preferences", h.GetPreferences)
				sub.POST("/preferences", h.SavePreferences)
				sub.GET("/:id", h.Get)
				sub.POST("/:id/status", h.ReportStatus)
				sub.POST("/:id/heartbeat", h.ReportHeartbeat)
			}

			qh := queue.NewHandler(d.Queue, d.Archive)
			q := guarded.Group("/queue")
			{
				q.GET("", qh.Summary)
				q.GET("/archive", qh.Archive)
			}

			guarded.GET("/me", meHandler)
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}

// meHandler returns current user information
func meHandler(c *gin.Context) {
	username, _ := c.Get("username")
	role, _ := c.Get("role")

	httpx.OK(c, gin.H{
		"username": username,
		"role":     role,
	})
}

// healthHandler checks that the queue file and the archive answer
func healthHandler(q *queuestore.Store, sink archive.Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		checks := gin.H{"queue": "ok", "archive": "disabled"}
		healthy := true
		if q != nil {
			if _, err := q.Snapshot(ctx); err != nil {
				checks["queue"] = err.Error()
				healthy = false
			}
		}
		if sink != nil {
			checks["archive"] = "ok"
			if err := sink.Ping(ctx); err != nil {
				checks["archive"] = err.Error()
				healthy = false
			}
		}

		if !healthy {
			httpx.FailErr(c, httpx.NewAppError(http.StatusServiceUnavailable, httpx.CodeUnavailable, "unhealthy", nil).WithData(checks))
			return
		}
		httpx.OK(c, checks)
	}
}
