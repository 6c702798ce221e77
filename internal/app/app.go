// Package app assembles the workflow from configuration for the entry
// points.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"outreach-agent/internal/config"
	"outreach-agent/internal/dedup"
	"outreach-agent/internal/integrations/gmail"
	"outreach-agent/internal/integrations/openai"
	"outreach-agent/internal/integrations/paramstore"
	"outreach-agent/internal/integrations/vertex"
	"outreach-agent/internal/orchestrator"
	"outreach-agent/internal/repository"
	"outreach-agent/internal/usecase"
)

type App struct {
	Config       config.Config
	Campaign     config.Campaign
	Store        repository.Store
	Params       *paramstore.Client
	Mail         *gmail.Client
	Address      *usecase.OwnAddress
	Initiator    *usecase.Initiator
	Machine      *usecase.StateMachine
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger

	closers []func() error
}

// Options carries the optional pieces an entry point may supply.
type Options struct {
	// Subscriber enables Orchestrator.Start; push entry points leave it nil.
	Subscriber orchestrator.Subscriber
	// Generator overrides the configured provider.
	Generator usecase.Generator
}

// Build wires every component. On error, anything already opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		return nil, errors.New("app: logger must not be nil")
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.CampaignFile != "" {
		a.Campaign, err = config.LoadCampaign(cfg.CampaignFile)
		if err != nil {
			return nil, err
		}
	}
	prompts := a.Campaign.UsecasePrompts()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}
	a.Params, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}

	a.Store, err = OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	dd, err := a.buildDedup(ctx)
	if err != nil {
		return nil, err
	}

	httpClient, err := gmail.HTTPClient(ctx, a.Params, cfg.ParamPrefix)
	if err != nil {
		return nil, err
	}
	a.Mail, err = gmail.New(ctx, httpClient)
	if err != nil {
		return nil, err
	}
	a.Address, err = usecase.NewOwnAddress(cfg.OwnAddress, a.Mail)
	if err != nil {
		return nil, err
	}

	gen := opts.Generator
	if gen == nil {
		gen, err = a.buildGenerator(ctx)
		if err != nil {
			return nil, err
		}
	}

	a.Initiator, err = usecase.NewInitiator(a.Store, a.Mail, gen, usecase.InitiatorConfig{
		GenerateTimeout:  cfg.GenerateTimeout,
		TransportTimeout: cfg.TransportTimeout,
		Prompts:          prompts,
		Transcript:       a.Store,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	a.Machine, err = usecase.NewStateMachine(a.Store, a.Mail, gen, a.Address, usecase.MachineConfig{
		MaxSteps:         cfg.MaxSteps,
		GenerateTimeout:  cfg.GenerateTimeout,
		TransportTimeout: cfg.TransportTimeout,
		Prompts:          prompts,
		Transcript:       a.Store,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	classifier, err := usecase.NewClassifier(a.Address, a.Store, nil)
	if err != nil {
		return nil, err
	}
	reconciler, err := usecase.NewReconciler(a.Mail, a.Store, usecase.ReconcilerConfig{
		RecentLimit:      cfg.RecentLimit,
		RecencyWindow:    cfg.RecencyWindow,
		TransportTimeout: cfg.TransportTimeout,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	a.Orchestrator, err = orchestrator.New(opts.Subscriber, reconciler, classifier, a.Machine, dd, orchestrator.Config{Logger: logger})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// OpenStore opens the record store alone, for commands that only read it.
// AWS configuration is loaded only for dynamodb:// DSNs.
func OpenStore(ctx context.Context, cfg config.Config) (repository.Store, error) {
	return repository.BuildFromDSN(ctx, cfg.StoreDSN, func(ctx context.Context) (repository.DynamoDBAPI, error) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
		return awsdynamodb.NewFromConfig(awsCfg), nil
	})
}

// WatchRenewer builds the renewer for the configured topic.
func (a *App) WatchRenewer() (*orchestrator.WatchRenewer, error) {
	return orchestrator.NewWatchRenewer(a.Mail, a.Address, a.Store, orchestrator.RenewerConfig{
		Topic:    a.Config.PubSubTopic,
		Labels:   a.Config.WatchLabels,
		Schedule: a.Config.WatchSchedule,
		Timeout:  a.Config.TransportTimeout,
		Logger:   a.Logger,
	})
}

// Close releases everything Build opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) buildDedup(ctx context.Context) (dedup.Deduplicator, error) {
	if a.Config.RedisAddr == "" {
		return dedup.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("app: redis ping %s: %w", a.Config.RedisAddr, err)
	}
	return dedup.NewRedis(client, "", a.Config.DedupTTL)
}

func (a *App) buildGenerator(ctx context.Context) (usecase.Generator, error) {
	switch a.Config.LLMProvider {
	case config.ProviderVertex:
		return vertex.New(ctx, vertex.Config{
			Project:  a.Config.VertexProject,
			Location: a.Config.VertexLocation,
			Model:    a.Config.VertexModel,
		})
	default:
		return openai.NewClient(a.Params, a.Config.ParamPrefix,
			openai.WithModel(a.Config.OpenAIModel),
			openai.WithBaseURL(a.Config.OpenAIBaseURL),
		)
	}
}
