package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"outreach-agent/handler"
	"outreach-agent/internal/app"
	"outreach-agent/internal/config"
	"outreach-agent/internal/observability"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := observability.Configure(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	// ---- Components ----
	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		slog.Error("failed to build application", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(a.Orchestrator, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
