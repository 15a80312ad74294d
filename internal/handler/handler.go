package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"inbox-ticket-relay/internal/model"
	"inbox-ticket-relay/internal/pipeline"
	"inbox-ticket-relay/internal/store"
	"inbox-ticket-relay/internal/ticket"
)

// Pipeline is the part of the intake pipeline the API drives
type Pipeline interface {
	TestHandle(ctx context.Context, subject, body string) (*model.ProcessingRecord, error)
	InProgress() bool
	LastResult() *pipeline.PassResult
}

// Scheduler is the part of the scheduler the API drives
type Scheduler interface {
	Start() error
	Stop() error
	IsRunning() bool
	RunOnce(ctx context.Context) (*pipeline.PassResult, error)
	Reschedule(intervalMinutes int) error
	NextRun() time.Time
	LastRun() time.Time
}

// ConnectionTester checks tracker credentials
type ConnectionTester interface {
	TestConnection(ctx context.Context) ticket.ConnectionResult
}

// TestMailer sends the fixed test notification
type TestMailer interface {
	SendTest(ctx context.Context, address string) error
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store     store.Store
	pipeline  Pipeline
	scheduler Scheduler
	tickets   ConnectionTester
	mailer    TestMailer
	gatherer  prometheus.Gatherer
	startedAt time.Time
	log       *logrus.Entry
}

// NewHandlers creates new HTTP handlers. A nil gatherer serves the default registry.
func NewHandlers(st store.Store, p Pipeline, s Scheduler, tickets ConnectionTester, mailer TestMailer, gatherer prometheus.Gatherer) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		store:     st,
		pipeline:  p,
		scheduler: s,
		tickets:   tickets,
		mailer:    mailer,
		gatherer:  gatherer,
		startedAt: time.Now(),
		log:       logrus.WithField("component", "http"),
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/system/status", h.GetSystemStatus)

		api.GET("/config", h.GetConfig)
		api.PUT("/config", h.UpdateConfig)

		api.GET("/records", h.GetRecords)
		api.GET("/records/:messageId", h.GetRecord)

		api.POST("/process", h.Process)
		api.POST("/automation/:action", h.Automation)

		api.POST("/test/jira", h.TestJira)
		api.POST("/test/email", h.TestEmail)
		api.POST("/test/process", h.TestProcess)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Scheduler: "stopped",
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		h.log.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Scheduler = "running"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   code,
		Message: message,
		Code:    status,
	})
}
