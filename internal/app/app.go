package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"inbox-ticket-relay/internal/config"
	"inbox-ticket-relay/internal/handler"
	"inbox-ticket-relay/internal/inbox"
	"inbox-ticket-relay/internal/metrics"
	"inbox-ticket-relay/internal/model"
	"inbox-ticket-relay/internal/notify"
	"inbox-ticket-relay/internal/pipeline"
	"inbox-ticket-relay/internal/router"
	"inbox-ticket-relay/internal/scheduler"
	"inbox-ticket-relay/internal/store"
	"inbox-ticket-relay/internal/ticket"
)

const shutdownTimeout = 30 * time.Second

// Run loads configuration, wires the components and blocks until ctx is
// cancelled (scheduled mode) or one pass completes (once mode).
func Run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	SetupLogging(cfg.Log)
	logrus.Info("Starting Inbox Ticket Relay")

	if err := cfg.Validate(); err != nil {
		return err
	}

	st, err := store.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize record store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logrus.Errorf("Failed to close record store: %v", err)
		}
	}()
	logrus.WithField("driver", cfg.Database.Driver).Info("Record store ready")

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	tickets := ticket.NewClient(JiraSettings(st, cfg.Jira), cfg.Jira.APIToken, cfg.Jira.Timeout)

	transport, err := notify.NewTransport(ctx, cfg.Mail)
	if err != nil {
		return fmt.Errorf("failed to create mail transport: %w", err)
	}
	notifier := notify.NewNotifier(transport, cfg.Mail.SenderAddress(), cfg.Notification.Addresses, st)
	logrus.WithField("transport", notifier.TransportName()).Info("Mail transport ready")

	reader := inbox.NewReader(cfg.IMAP)
	p := pipeline.New(reader, st, tickets, notifier, m, cfg.Pipeline.MessageTimeout)

	sc, err := st.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load system config: %w", err)
	}
	sched := scheduler.New(p, sc.PollIntervalMinutes)

	if cfg.Scheduler.Mode == config.ModeOnce {
		return runOnce(ctx, sched)
	}

	return serve(ctx, cfg, st, sc, p, sched, tickets, notifier)
}

func runOnce(ctx context.Context, sched *scheduler.Scheduler) error {
	result, err := sched.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("inbox pass failed: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"found":     result.Found,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("Single pass completed")
	return nil
}

func serve(
	ctx context.Context,
	cfg *config.Config,
	st store.Store,
	sc *model.SystemConfig,
	p *pipeline.Pipeline,
	sched *scheduler.Scheduler,
	tickets *ticket.Client,
	notifier *notify.Notifier,
) error {
	h := handler.NewHandlers(st, p, sched, tickets, notifier, prometheus.DefaultGatherer)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Scheduler.AutoStart || sc.IsRunning {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		running := true
		if _, err := st.UpdateConfig(ctx, model.ConfigUpdate{IsRunning: &running}); err != nil {
			logrus.Errorf("Failed to persist running flag: %v", err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logrus.Info("Shutting down server...")

		if err := sched.Stop(); err != nil {
			logrus.Errorf("Failed to stop scheduler: %v", err)
		}
		sched.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logrus.Info("Server stopped gracefully")
	return nil
}

// JiraSettings reads the tracker settings from the runtime configuration,
// falling back to process configuration for unset fields
func JiraSettings(st store.Store, jira config.JiraConfig) ticket.SettingsProvider {
	return func(ctx context.Context) (ticket.Settings, error) {
		sc, err := st.GetConfig(ctx)
		if err != nil {
			return ticket.Settings{}, err
		}
		s := ticket.Settings{
			BaseURL:    firstNonEmpty(sc.JiraURL, jira.BaseURL),
			Email:      firstNonEmpty(sc.JiraEmail, jira.Email),
			ProjectKey: firstNonEmpty(sc.JiraProjectKey, jira.ProjectKey),
			IssueType:  firstNonEmpty(sc.JiraIssueType, jira.IssueType, model.DefaultIssueType),
		}
		return s, nil
	}
}

// SetupLogging configures the standard logrus logger
func SetupLogging(cfg config.LogConfig) {
	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
