package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/tollgrid/smarttoll/internal/api/dto"
	"github.com/tollgrid/smarttoll/internal/domain/billing"
	apperrors "github.com/tollgrid/smarttoll/pkg/errors"
	"github.com/tollgrid/smarttoll/pkg/logger"
	"github.com/tollgrid/smarttoll/pkg/websocket"
)

// ReadyCheck probes one dependency for the readiness endpoint.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configures a handler set. Repo and Hub may be nil for services
// that only expose operational endpoints.
type Options struct {
	Service           string
	ReadyChecks       []ReadyCheck
	WSReadBufferSize  int
	WSWriteBufferSize int
}

// Handlers holds all handler dependencies
type Handlers struct {
	Repo   billing.Repository
	Logger *logger.Logger
	Hub    *websocket.Hub
	opts   Options
}

// NewHandlers creates a new Handlers instance
func NewHandlers(repo billing.Repository, log *logger.Logger, hub *websocket.Hub, opts Options) *Handlers {
	if opts.WSReadBufferSize <= 0 {
		opts.WSReadBufferSize = 1024
	}
	if opts.WSWriteBufferSize <= 0 {
		opts.WSWriteBufferSize = 1024
	}
	return &Handlers{
		Repo:   repo,
		Logger: log,
		Hub:    hub,
		opts:   opts,
	}
}

// respondError renders err as the standard error body. Anything that is
// not an AppError becomes a 500 with a generic message; the cause is only
// logged, never leaked to the client.
func (h *Handlers) respondError(c *gin.Context, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.Status >= 500 {
		h.Logger.Error("request failed",
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
	}
	c.JSON(appErr.Status, dto.ErrorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
	})
}
