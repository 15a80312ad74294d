package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"inbox-ticket-relay/internal/app"
	"inbox-ticket-relay/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		if config.IsValidationError(err) {
			logrus.Fatalf("Configuration validation failed: %v", err)
		}
		logrus.Fatalf("application error: %v", err)
	}
}
