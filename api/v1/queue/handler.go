package queue

import (
	"agent_dashboard/internal/archive"
	"agent_dashboard/internal/httpx"
	"agent_dashboard/internal/model"
	"agent_dashboard/internal/queue"

	"github.com/gin-gonic/gin"
)

// ArchiveRequest represents archive list query
type ArchiveRequest struct {
	Limit int `form:"limit"`
}

// Handler serves /queue
type Handler struct {
	queue *queue.Store
	sink  archive.Sink
}

// NewHandler creates a queue handler
func NewHandler(q *queue.Store, sink archive.Sink) *Handler {
	return &Handler{queue: q, sink: sink}
}

// Summary returns the queue counters
func (h *Handler) Summary(c *gin.Context) {
	sum, err := h.queue.Summary(c.Request.Context())
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, sum)
}

// Archive lists the most recently archived tasks
func (h *Handler) Archive(c *gin.Context) {
	if h.sink == nil {
		httpx.OKItems(c, []model.ArchivedTask{}, 0)
		return
	}
	var req ArchiveRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("limit must be a number"))
		return
	}

	ctx := c.Request.Context()
	items, err := h.sink.Recent(ctx, req.Limit)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	total, err := h.sink.Count(ctx)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if items == nil {
		items = []model.ArchivedTask{}
	}
	httpx.OKItems(c, items, total)
}
