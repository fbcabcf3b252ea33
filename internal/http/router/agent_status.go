package router

import (
	"kairo.dev/agent/internal/http/handler"
	"github.com/gin-gonic/gin"
)

func AgentStatusRouter(rg *gin.RouterGroup, h *handler.AgentStatusHandler) {
	rg.GET("/runs/:run_id/stream", h.Stream)
}
