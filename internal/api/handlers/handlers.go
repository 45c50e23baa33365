package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/MilanSurkos/fakturomat/internal/apperr"
)

// IAsynqClient defines the interface for the Asynq client methods used by the handlers.
// This allows easier mocking than using the concrete asynq.Client.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// respondError translates a service error into the matching HTTP status and a
// user-facing message. Unexpected errors are attached to the gin context so the
// request logger records them.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatusFromErr(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": apperr.DisplayMessage(err)})
}

// pageParam parses the 1-based page query parameter, defaulting to 1.
func pageParam(c *gin.Context) int {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	return page
}
