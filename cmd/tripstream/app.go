package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tripstream/tripstream/config"
	"github.com/tripstream/tripstream/conversation"
	"github.com/tripstream/tripstream/engine"
	"github.com/tripstream/tripstream/gateway"
	"github.com/tripstream/tripstream/gather"
	"github.com/tripstream/tripstream/itinerary"
	"github.com/tripstream/tripstream/llm"
	"github.com/tripstream/tripstream/metrics"
	"github.com/tripstream/tripstream/progress"
	"github.com/tripstream/tripstream/provider"
	"github.com/tripstream/tripstream/task"
)

// App wires together storage, providers, the engine, and the gateway.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	natsConn *nats.Conn
	js       jetstream.JetStream

	engine      *engine.Engine
	gateway     *gateway.Server
	watcher     *config.CredentialsWatcher
	cancelTasks context.CancelFunc
}

// NewApp creates an application instance from validated config.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	return &App{cfg: cfg, logger: logger}, nil
}

// Start connects NATS, builds the pipeline, and begins serving.
func (a *App) Start(ctx context.Context) error {
	conn, err := nats.Connect(a.cfg.NATS.URL,
		nats.Name(a.cfg.NATS.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	a.natsConn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	convBucket, err := conversation.NewBucket(ctx, js)
	if err != nil {
		return fmt.Errorf("conversations bucket: %w", err)
	}
	taskBucket, err := task.NewBucket(ctx, js)
	if err != nil {
		return fmt.Errorf("tasks bucket: %w", err)
	}
	itinBucket, err := itinerary.NewBucket(ctx, js)
	if err != nil {
		return fmt.Errorf("itineraries bucket: %w", err)
	}

	conversations := conversation.NewStore(convBucket, a.logger)
	itineraries := itinerary.NewStore(itinBucket)

	taskStore := task.NewStore(taskBucket)
	publisher := progress.NewPublisher(taskStore,
		progress.WithMirror(conn),
		progress.WithLogger(a.logger))
	tasks := task.NewManager(taskStore,
		task.WithPublisher(publisher),
		task.WithManagerLogger(a.logger))

	registry := provider.NewRegistry(a.cfg.Providers, http.DefaultClient, a.logger)
	if missing := registry.Missing(); len(missing) > 0 {
		a.logger.Warn("Some providers are not configured; their data will be synthesized",
			"missing", missing)
	}

	// Background workers get a context that outlives Start but ends on Stop.
	workerCtx, cancel := context.WithCancel(context.Background())
	a.cancelTasks = cancel

	if path := a.cfg.Providers.CredentialsFile; path != "" {
		watcher, err := config.NewCredentialsWatcher(path, a.logger, registry.ApplyCredentials)
		if err != nil {
			a.logger.Warn("Credentials file watch unavailable", "path", path, "error", err)
		} else {
			a.watcher = watcher
			go watcher.Run(workerCtx)
		}
	}

	client := llm.NewClient(a.cfg.LLM, llm.WithLogger(a.logger))
	gatherer := gather.New(registry,
		gather.WithConcurrency(a.cfg.Engine.GatherConcurrency),
		gather.WithObserver(metrics.GatherObserver),
		gather.WithLogger(a.logger))

	a.engine = engine.New(a.cfg.Engine, engine.Deps{
		Conversations: conversations,
		Tasks:         tasks,
		Itineraries:   itineraries,
		Gatherer:      gatherer,
		Extractor:     llm.NewIntentExtractor(client, a.logger),
		Composer:      llm.NewComposer(client, a.logger),
		Logger:        a.logger,
	})

	sweeper := task.NewSweeper(tasks, a.cfg.Engine.StaleAfter, a.cfg.Engine.SweepInterval, a.logger)
	go sweeper.Run(workerCtx)

	a.gateway = gateway.New(a.cfg.Gateway, a.engine, publisher, itineraries, a.logger)
	go func() {
		if err := a.gateway.ListenAndServe(); err != nil {
			a.logger.Error("Gateway stopped", "error", err)
		}
	}()

	return nil
}

// Stop drains the gateway, waits for in-flight tasks, and closes NATS.
func (a *App) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.gateway != nil {
		if err := a.gateway.Shutdown(ctx); err != nil {
			a.logger.Warn("Gateway shutdown incomplete", "error", err)
		}
	}
	if a.engine != nil {
		if err := a.engine.Shutdown(ctx); err != nil {
			a.logger.Warn("Engine shutdown incomplete", "error", err)
		}
	}
	if a.cancelTasks != nil {
		a.cancelTasks()
	}
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.natsConn != nil {
		a.natsConn.Close()
	}
	return nil
}
