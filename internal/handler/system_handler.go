package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"inbox-ticket-relay/internal/model"
	"inbox-ticket-relay/internal/store"
)

const (
	defaultRecordLimit = 50
	maxRecordLimit     = 500
)

// GetSystemStatus returns config, stats, scheduler state and the last pass
func (h *Handlers) GetSystemStatus(c *gin.Context) {
	ctx := c.Request.Context()

	cfg, err := h.store.GetConfig(ctx)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to load system config")
		return
	}
	stats, err := h.store.GetStats(ctx)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to load system stats")
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		Config: cfg,
		Stats:  stats,
		Scheduler: SchedulerStatus{
			Running: h.scheduler.IsRunning(),
			NextRun: timePtr(h.scheduler.NextRun()),
			LastRun: timePtr(h.scheduler.LastRun()),
		},
		PassInProgress: h.pipeline.InProgress(),
		LastPass:       h.pipeline.LastResult(),
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
	})
}

// GetConfig returns the runtime configuration
func (h *Handlers) GetConfig(c *gin.Context) {
	cfg, err := h.store.GetConfig(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to load system config")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateConfig applies a partial update and re-arms the scheduler when
// the interval or running flag changes. The update is persisted first; if the
// scheduler cannot follow, the persisted fields are restored.
func (h *Handlers) UpdateConfig(c *gin.Context) {
	ctx := c.Request.Context()

	var update model.ConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if update.PollIntervalMinutes != nil && !model.ValidPollInterval(*update.PollIntervalMinutes) {
		abortWithError(c, http.StatusBadRequest, "invalid_request", fmt.Sprintf("poll interval must be between %d and %d minutes",
			model.MinPollIntervalMinutes, model.MaxPollIntervalMinutes))
		return
	}

	prev, err := h.store.GetConfig(ctx)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to load system config")
		return
	}

	cfg, err := h.store.UpdateConfig(ctx, update)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to update system config")
		return
	}

	if err := h.applySchedule(update, prev); err != nil {
		h.restoreSchedule(ctx, update, prev)
		abortWithError(c, http.StatusInternalServerError, "scheduler_error", err.Error())
		return
	}

	h.log.WithField("config", cfg).Info("System config updated")
	c.JSON(http.StatusOK, cfg)
}

// applySchedule brings the live scheduler in line with a persisted update
func (h *Handlers) applySchedule(update model.ConfigUpdate, prev *model.SystemConfig) error {
	if update.PollIntervalMinutes != nil {
		if err := h.scheduler.Reschedule(*update.PollIntervalMinutes); err != nil {
			return err
		}
	}
	if update.IsRunning != nil {
		if err := h.setAutomation(*update.IsRunning); err != nil {
			if update.PollIntervalMinutes != nil {
				_ = h.scheduler.Reschedule(prev.PollIntervalMinutes)
			}
			return err
		}
	}
	return nil
}

// restoreSchedule puts back the scheduler fields of prev that update touched
func (h *Handlers) restoreSchedule(ctx context.Context, update model.ConfigUpdate, prev *model.SystemConfig) {
	var undo model.ConfigUpdate
	if update.PollIntervalMinutes != nil {
		undo.PollIntervalMinutes = &prev.PollIntervalMinutes
	}
	if update.IsRunning != nil {
		undo.IsRunning = &prev.IsRunning
	}
	if _, err := h.store.UpdateConfig(ctx, undo); err != nil {
		h.log.WithError(err).Error("Failed to restore system config after scheduler error")
	}
}

// GetRecords returns the most recent processing records
func (h *Handlers) GetRecords(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRecordLimit)))
	if err != nil || limit < 1 {
		limit = defaultRecordLimit
	}
	if limit > maxRecordLimit {
		limit = maxRecordLimit
	}

	records, err := h.store.ListRecords(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to fetch records")
		return
	}

	c.JSON(http.StatusOK, RecordsResponse{Records: records, Limit: limit})
}

// GetRecord returns one record by message id
func (h *Handlers) GetRecord(c *gin.Context) {
	record, err := h.store.GetRecord(c.Request.Context(), c.Param("messageId"))
	if errors.Is(err, store.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "not_found", "Record not found")
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to fetch record")
		return
	}
	c.JSON(http.StatusOK, record)
}
