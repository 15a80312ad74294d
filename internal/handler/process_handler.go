package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"inbox-ticket-relay/internal/inbox"
	"inbox-ticket-relay/internal/model"
	"inbox-ticket-relay/internal/pipeline"
)

// Process runs one pass immediately
func (h *Handlers) Process(c *gin.Context) {
	result, err := h.scheduler.RunOnce(c.Request.Context())
	switch {
	case errors.Is(err, pipeline.ErrPassInProgress):
		abortWithError(c, http.StatusConflict, "pass_in_progress", err.Error())
		return
	case inbox.IsConnectionError(err):
		abortWithError(c, http.StatusBadGateway, "mailbox_error", err.Error())
		return
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, "processing_error", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Email processing completed successfully",
		"result":  result,
	})
}

// Automation starts or stops scheduled processing
func (h *Handlers) Automation(c *gin.Context) {
	var running bool
	switch action := c.Param("action"); action {
	case "start":
		running = true
	case "stop":
		running = false
	default:
		abortWithError(c, http.StatusBadRequest, "invalid_action", fmt.Sprintf("unknown action %q, expected start or stop", action))
		return
	}

	ctx := c.Request.Context()
	prev, err := h.store.GetConfig(ctx)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to load system config")
		return
	}

	update := model.ConfigUpdate{IsRunning: &running}
	cfg, err := h.store.UpdateConfig(ctx, update)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "database_error", "Failed to update running flag")
		return
	}

	if err := h.setAutomation(running); err != nil {
		h.restoreSchedule(ctx, update, prev)
		abortWithError(c, http.StatusInternalServerError, "scheduler_error", err.Error())
		return
	}

	status := "stopped"
	if running {
		status = "running"
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Automation %s", status),
		"status":  status,
		"config":  cfg,
	})
}

// TestJira checks tracker credentials
func (h *Handlers) TestJira(c *gin.Context) {
	result := h.tickets.TestConnection(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

// TestEmail sends the test notification to the requested address
func (h *Handlers) TestEmail(c *gin.Context) {
	var req TestEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := h.mailer.SendTest(c.Request.Context(), req.Email); err != nil {
		abortWithError(c, http.StatusBadGateway, "delivery_error", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Test email sent", "email": req.Email})
}

// TestProcess runs a synthetic email end to end
func (h *Handlers) TestProcess(c *gin.Context) {
	var req TestProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	record, err := h.pipeline.TestHandle(c.Request.Context(), req.Subject, req.Body)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "processing_error", err.Error())
		return
	}

	c.JSON(http.StatusOK, record)
}

// setAutomation starts or stops the scheduler; both are idempotent
func (h *Handlers) setAutomation(running bool) error {
	if !running {
		return h.scheduler.Stop()
	}
	if h.scheduler.IsRunning() {
		return nil
	}
	return h.scheduler.Start()
}
