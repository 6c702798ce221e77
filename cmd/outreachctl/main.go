package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/alecthomas/kong"

	"outreach-agent/internal/app"
	"outreach-agent/internal/config"
	"outreach-agent/internal/domain"
	"outreach-agent/internal/integrations/gmail"
	pubsubsub "outreach-agent/internal/integrations/pubsub"
	"outreach-agent/internal/observability"
	"outreach-agent/internal/usecase"
)

type globals struct {
	cfg    config.Config
	logger *slog.Logger
}

type cli struct {
	Listen     listenCmd     `cmd:"" help:"Pull mailbox notifications and run conversations until interrupted."`
	Start      startCmd      `cmd:"" help:"Send opening messages and start tracking their threads."`
	Status     statusCmd     `cmd:"" help:"Show the stored state of a conversation."`
	Transcript transcriptCmd `cmd:"" help:"Print the recorded messages of a conversation."`
}

type listenCmd struct {
	NoWatch bool `help:"Do not register or renew the mailbox watch."`
}

func (c *listenCmd) Run(g *globals) error {
	if !g.cfg.PubSubEnabled() {
		return errors.New("GCP_PROJECT and PUBSUB_SUBSCRIPTION are required for listen")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	psClient, err := pubsub.NewClient(ctx, g.cfg.GCPProject)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	defer psClient.Close()

	sub, err := pubsubsub.NewSubscriber(psClient, g.cfg.PubSubSubscription, gmail.ParseNotification,
		pubsubsub.WithLogger(g.logger))
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, g.cfg, g.logger, app.Options{Subscriber: sub})
	if err != nil {
		return err
	}
	defer a.Close()

	if !c.NoWatch && g.cfg.PubSubTopic != "" {
		renewer, err := a.WatchRenewer()
		if err != nil {
			return err
		}
		if err := renewer.Start(ctx); err != nil {
			return err
		}
		defer renewer.Stop()
	}

	if err := a.Orchestrator.Start(ctx); err != nil {
		return err
	}
	g.logger.Info("listening", "subscription", g.cfg.PubSubSubscription)
	<-ctx.Done()
	a.Orchestrator.Stop()
	g.logger.Info("listener stopped")
	return nil
}

type startCmd struct {
	Email   string `help:"Recipient address. Without it every campaign recipient is started."`
	Name    string `help:"Recipient display name."`
	Subject string `help:"Subject line; defaults to the campaign subject."`
	Body    string `help:"Opening body; generated from the opening prompt when empty."`
}

func (c *startCmd) Run(g *globals) error {
	ctx := context.Background()
	a, err := app.Build(ctx, g.cfg, g.logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	subject := c.Subject
	if subject == "" {
		subject = a.Campaign.Subject
	}
	recipients := a.Campaign.DomainRecipients()
	if c.Email != "" {
		recipients = []domain.Recipient{{Email: c.Email, Name: c.Name}}
	}
	if len(recipients) == 0 {
		return errors.New("no recipients: pass --email or set CAMPAIGN_FILE")
	}

	var failed int
	for _, r := range recipients {
		out, err := a.Initiator.Start(ctx, usecase.StartInput{Recipient: r, Subject: subject, Body: c.Body})
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s\tfailed\t%v\n", r.Email, err)
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", r.Email, out.ThreadID, out.MessageID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversations failed to start", failed, len(recipients))
	}
	return nil
}

type statusCmd struct {
	ThreadID string `arg:"" help:"Thread id."`
}

func (c *statusCmd) Run(g *globals) error {
	ctx := context.Background()
	store, err := app.OpenStore(ctx, g.cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	conv, err := store.Get(ctx, c.ThreadID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("thread %s is not tracked", c.ThreadID)
	}
	return printJSON(conv)
}

type transcriptCmd struct {
	ThreadID string `arg:"" help:"Thread id."`
	Limit    int    `help:"Show only the last N messages." default:"0"`
}

func (c *transcriptCmd) Run(g *globals) error {
	ctx := context.Background()
	store, err := app.OpenStore(ctx, g.cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.ListTranscript(ctx, c.ThreadID, c.Limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("--- %s %s %s\n%s\n\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Sender, e.Subject, strings.TrimSpace(e.Body))
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("outreachctl"),
		kong.Description("Run and inspect email outreach conversations."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := observability.Configure(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	kctx.FatalIfErrorf(kctx.Run(&globals{cfg: cfg, logger: logger}))
}
