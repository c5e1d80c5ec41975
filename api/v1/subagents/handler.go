package subagents

import (
	"context"
	"strings"

	"agent_dashboard/internal/dashboard"
	"agent_dashboard/internal/httpx"
	"agent_dashboard/internal/model"
	"agent_dashboard/internal/preferences"
	"agent_dashboard/internal/service"

	"github.com/gin-gonic/gin"
)

// IdempotencyHeader lets clients retry a spawn without creating a second task
const IdempotencyHeader = "Idempotency-Key"

// StateProvider builds the dashboard projection
type StateProvider interface {
	GetDashboardState(ctx context.Context) (dashboard.State, error)
}

// StatusRequest represents a status report from the execution process
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
	Error  string `json:"error"`
}

// HeartbeatRequest represents a progress report from the execution process
type HeartbeatRequest struct {
	CurrentStep string `json:"currentStep"`
	Progress    int    `json:"progress"`
}

// Handler serves /subagents
type Handler struct {
	state StateProvider
	svc   *service.SubagentService
	prefs *preferences.Store
}

// NewHandler creates a subagents handler
func NewHandler(state StateProvider, svc *service.SubagentService, prefs *preferences.Store) *Handler {
	return &Handler{state: state, svc: svc, prefs: prefs}
}

// List returns the dashboard projection
func (h *Handler) List(c *gin.Context) {
	st, err := h.state.GetDashboardState(c.Request.Context())
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, st)
}

// Spawn enqueues a task for a profile
func (h *Handler) Spawn(c *gin.Context) {
	var req service.SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	res, err := h.svc.Spawn(c.Request.Context(), req, strings.TrimSpace(c.GetHeader(IdempotencyHeader)))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OKMsg(c, res.Message, res)
}

// ClearLog empties the activity log
func (h *Handler) ClearLog(c *gin.Context) {
	if err := h.svc.ClearActivity(c.Request.Context()); err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"cleared": true})
}

// Get returns one task
func (h *Handler) Get(c *gin.Context) {
	task, err := h.svc.Task(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, task)
}

// ReportStatus moves a task through its lifecycle
func (h *Handler) ReportStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamMissing("status is required"))
		return
	}
	status, err := model.ParseTaskStatus(strings.TrimSpace(req.Status))
	if err != nil {
		httpx.Fail(c, err)
		return
	}

	task, err := h.svc.ReportStatus(c.Request.Context(), c.Param("id"), status, req.Error)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, task)
}

// ReportHeartbeat records progress for a task
func (h *Handler) ReportHeartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	rec, err := h.svc.ReportHeartbeat(c.Request.Context(), c.Param("id"), req.CurrentStep, req.Progress)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{
		"profileId":     rec.ProfileID,
		"lastHeartbeat": rec.LastHeartbeat,
		"currentStep":   rec.CurrentStep,
		"progress":      rec.Progress,
	})
}

// GetPreferences returns the dashboard preferences
func (h *Handler) GetPreferences(c *gin.Context) {
	httpx.OK(c, h.prefs.Get(c.Request.Context()))
}

// SavePreferences validates and stores the dashboard preferences
func (h *Handler) SavePreferences(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}
	prefs, err := h.prefs.Save(c.Request.Context(), body)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, prefs)
}
