package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"kairo.dev/agent/common/id"
	"kairo.dev/agent/internal/queue"
	"kairo.dev/agent/internal/runstore"
)

// RunHandler exposes the run(task, options) entry point over HTTP: submit
// a goal, get back a run id, then poll/stream its trace via
// AgentStatusHandler.
type RunHandler struct {
	store    *runstore.Store
	producer queue.Producer
}

func NewRunHandler(store *runstore.Store, producer queue.Producer) *RunHandler {
	return &RunHandler{store: store, producer: producer}
}

type submitRunRequest struct {
	Goal    string            `json:"goal" binding:"required"`
	Context map[string]string `json:"context"`
}

type submitRunResponse struct {
	RunID string `json:"run_id"`
}

func (h *RunHandler) Submit(c *gin.Context) {
	var req submitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	runID := fmt.Sprintf("run-%d", id.New())

	if err := h.store.Create(ctx, runID, req.Goal, req.Context); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.producer.Enqueue(ctx, queue.Task{
		TaskType: queue.TaskTypeRunRequest,
		RunID:    runID,
		Goal:     req.Goal,
		Context:  req.Context,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, submitRunResponse{RunID: runID})
}

func (h *RunHandler) Get(c *gin.Context) {
	runID := c.Param("run_id")
	run, err := h.store.GetByID(c.Request.Context(), runID)
	if err != nil {
		if err == runstore.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}
