package router

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"kairo.dev/agent/internal/http/handler"
	"kairo.dev/agent/internal/queue"
	"kairo.dev/agent/internal/runstore"
)

// Deps are the collaborators the HTTP surface needs: a place to persist
// submitted runs, a producer to hand them to the worker, and the Redis
// client the status stream is read from. Everything heavier (the agent
// loop itself) lives in internal/worker, reached only via the queue.
type Deps struct {
	Runs     *runstore.Store
	Producer queue.Producer
	Redis    *redis.Client
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	runHandler := handler.NewRunHandler(deps.Runs, deps.Producer)
	v1 := router.Group("/api/v1")
	{
		v1.POST("/runs", runHandler.Submit)
		v1.GET("/runs/:run_id", runHandler.Get)
	}

	statusHandler := handler.NewAgentStatusHandler(deps.Redis)
	AgentStatusRouter(v1, statusHandler)
}
