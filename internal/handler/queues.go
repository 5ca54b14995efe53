package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contest/internal/models"
	"contest/internal/queue"
	"contest/internal/repository"
	"contest/internal/scheduler"
)

// QueueHandler exposes queue monitoring and administration endpoints.
type QueueHandler struct {
	Manager   *queue.Manager
	Scheduler *scheduler.AutoUpdate
	Store     repository.Store
	Logger    *zap.Logger
}

func (h *QueueHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1")
	group.GET("/queues", h.listQueues)
	group.GET("/queues/:contest/:queue", h.getQueue)
	group.POST("/queues", h.createQueue)
	group.DELETE("/queues", h.clearQueues)
	group.POST("/update/run", h.forceRun)
	group.GET("/history", h.listHistory)
	group.GET("/scheduler", h.schedulerState)
}

func (h *QueueHandler) listQueues(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusInternalServerError, "queue manager unavailable", nil)
		return
	}
	overview, err := h.Manager.GetAllActiveQueues(c.Request.Context())
	if err != nil {
		h.logWarn("list active queues failed", err)
		Error(c, http.StatusInternalServerError, "failed to list queues", nil)
		return
	}
	Ok(c, overview, nil)
}

func (h *QueueHandler) getQueue(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusInternalServerError, "queue manager unavailable", nil)
		return
	}
	contestKey := strings.TrimSpace(c.Param("contest"))
	queueID := strings.TrimSpace(c.Param("queue"))
	if contestKey == "" || queueID == "" {
		Error(c, http.StatusBadRequest, "contest and queue are required", nil)
		return
	}
	view, err := h.Manager.GetStatus(c.Request.Context(), contestKey, queueID)
	if err != nil {
		h.logWarn("get queue status failed", err)
		Error(c, http.StatusInternalServerError, "failed to read queue status", nil)
		return
	}
	if view == nil {
		Error(c, http.StatusNotFound, "queue not found", nil)
		return
	}
	Ok(c, view, nil)
}

type createQueueRequest struct {
	ContestID  int64   `json:"contest_id"`
	AccountIDs []int64 `json:"account_ids"`
	Initiator  string  `json:"initiator"`
}

func (h *QueueHandler) createQueue(c *gin.Context) {
	if h.Manager == nil || h.Store == nil {
		Error(c, http.StatusInternalServerError, "queue manager unavailable", nil)
		return
	}
	var req createQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	ctx := c.Request.Context()

	contestKey := models.ContestKeyGlobal
	if req.ContestID > 0 {
		contest, err := h.Store.GetContest(ctx, req.ContestID)
		if err != nil {
			h.logWarn("load contest failed", err)
			Error(c, http.StatusInternalServerError, "failed to load contest", nil)
			return
		}
		if contest == nil {
			Error(c, http.StatusNotFound, "contest not found", nil)
			return
		}
		if !contest.IsActive() {
			Error(c, http.StatusConflict, "contest is not active", nil)
			return
		}
		contestKey = strconv.FormatInt(req.ContestID, 10)
	}

	accountIDs := req.AccountIDs
	if len(accountIDs) == 0 && req.ContestID > 0 {
		accounts, err := h.Store.ListAccountsByContest(ctx, req.ContestID)
		if err != nil {
			h.logWarn("list contest accounts failed", err)
			Error(c, http.StatusInternalServerError, "failed to list accounts", nil)
			return
		}
		for i := range accounts {
			accountIDs = append(accountIDs, accounts[i].ID)
		}
	}

	initiator := strings.TrimSpace(req.Initiator)
	if initiator == "" {
		initiator = "admin"
	}
	handle, err := h.Manager.CreateQueue(ctx, contestKey, accountIDs, false, initiator)
	if err != nil {
		h.logWarn("create queue failed", err)
		Error(c, http.StatusInternalServerError, "failed to create queue", nil)
		return
	}
	if handle == nil {
		Ok(c, gin.H{"created": false, "reason": "no accounts to update"}, nil)
		return
	}
	Ok(c, handle, nil)
}

func (h *QueueHandler) clearQueues(c *gin.Context) {
	if h.Manager == nil {
		Error(c, http.StatusInternalServerError, "queue manager unavailable", nil)
		return
	}
	result, err := h.Manager.ClearAllQueues(c.Request.Context())
	if err != nil {
		h.logWarn("clear queues failed", err)
		Error(c, http.StatusInternalServerError, "failed to clear queues", nil)
		return
	}
	Ok(c, result, nil)
}

func (h *QueueHandler) forceRun(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	if err := h.Scheduler.ForceRunNow(c.Request.Context()); err != nil {
		h.logWarn("forced auto-update failed", err)
		Error(c, http.StatusInternalServerError, "auto-update run failed", nil)
		return
	}
	Ok(c, gin.H{"triggered": true}, nil)
}

func (h *QueueHandler) listHistory(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "store unavailable", nil)
		return
	}
	limit := repository.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	items, err := h.Store.ListUpdateHistory(c.Request.Context(), limit)
	if err != nil {
		h.logWarn("list update history failed", err)
		Error(c, http.StatusInternalServerError, "failed to list history", nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

// schedulerState surfaces the last auto-update pass for diagnostics.
func (h *QueueHandler) schedulerState(c *gin.Context) {
	if h.Store == nil {
		Error(c, http.StatusInternalServerError, "store unavailable", nil)
		return
	}
	state, err := h.Store.GetSchedulerState(c.Request.Context(), models.SchedulerScopeAutoUpdate)
	if err != nil {
		h.logWarn("load scheduler state failed", err)
		Error(c, http.StatusInternalServerError, "failed to load scheduler state", nil)
		return
	}
	if state == nil {
		Ok(c, gin.H{"ran": false}, nil)
		return
	}
	Ok(c, state, nil)
}

func (h *QueueHandler) logWarn(msg string, err error) {
	if h == nil || h.Logger == nil {
		return
	}
	h.Logger.Warn(msg, zap.Error(err))
}
