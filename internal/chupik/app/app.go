// Package app wires the agent together and runs it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devdenneg/chupik/common/retry"
	"github.com/devdenneg/chupik/internal/chupik/config"
	"github.com/devdenneg/chupik/internal/chupik/engine"
	"github.com/devdenneg/chupik/internal/chupik/generation"
	"github.com/devdenneg/chupik/internal/chupik/httpapi"
	"github.com/devdenneg/chupik/internal/chupik/knowledge"
	"github.com/devdenneg/chupik/internal/chupik/matrix"
	"github.com/devdenneg/chupik/internal/chupik/memory"
	"github.com/devdenneg/chupik/internal/chupik/metrics"
	"github.com/devdenneg/chupik/internal/chupik/mood"
	"github.com/devdenneg/chupik/internal/chupik/nlp"
	"github.com/devdenneg/chupik/internal/chupik/scheduler"
	"github.com/devdenneg/chupik/internal/chupik/settings"
	"github.com/devdenneg/chupik/internal/chupik/snapshot"
	"github.com/devdenneg/chupik/internal/chupik/stats"
)

const shutdownTimeout = 10 * time.Second

// loop is a background loop started by Run.
type loop interface {
	Run(ctx context.Context) error
}

// App is the running agent.
type App struct {
	cfg *config.Config

	writer  *snapshot.Writer
	memory  *memory.Store
	stores  stores
	tasks   *scheduler.Registry
	metrics *metrics.Metrics
	engine  *engine.Engine
	outbox  *httpapi.Outbox

	http   *httpapi.Server
	matrix *matrix.Client
	loops  map[string]loop

	stopOnce sync.Once
	stopErr  error
}

// New opens storage, restores state and builds every component. Nothing
// runs until Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	backend, db, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("app: open storage: %w", err)
	}
	a, err := build(ctx, cfg, backend, db)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, backend snapshot.Backend, db *sql.DB) (*App, error) {
	a := &App{
		cfg:     cfg,
		writer:  snapshot.NewWriter(backend),
		metrics: metrics.New("chupik"),
		outbox:  httpapi.NewOutbox(0),
		loops:   make(map[string]loop),
	}
	clk := zonedClock{loc: cfg.Location()}

	memCfg := memory.DefaultConfig()
	memCfg.Capacity = cfg.Engine.HistoryCapacity
	memCfg.Expiration = cfg.Engine.HistoryExpiration
	a.memory = memory.NewStore(memCfg)

	a.stores = stores{
		knowledge: knowledge.NewStore(knowledge.DefaultConfig(), a.writer),
		moods:     mood.NewEngine(mood.DefaultConfig(), a.writer),
		settings:  settings.NewRegistry(settings.Defaults(), a.writer),
		stats:     stats.NewTracker(a.writer),
	}
	a.stores.settings.MaxSilenceTimeout = a.memory.Config().Expiration
	if err := a.stores.restore(ctx, a.writer); err != nil {
		return nil, err
	}

	budget := generation.NewTokenBudget(cfg.Generation.DailyTokenBudget)
	provider := newProvider(cfg.Generation, budget, a.metrics)

	a.tasks = scheduler.NewRegistry(ctx)
	a.tasks.OnChange = a.metrics.SetActiveTasks

	if cfg.Matrix.Homeserver != "" {
		mc, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			DisplayName: cfg.Matrix.DisplayName,
			Rooms:       cfg.Matrix.Rooms,
			Typing:      cfg.Matrix.Typing,
			DB:          db,
		})
		if err != nil {
			return nil, err
		}
		a.matrix = mc
	}
	sender := routeSender{outbox: a.outbox}
	if a.matrix != nil {
		sender.matrix = a.matrix
	}

	eng, err := engine.New(engine.Config{
		Persona:              cfg.Persona,
		LocalThreshold:       cfg.Engine.LocalThreshold,
		ReactionChance:       cfg.Engine.ReactionChance,
		EscalationsPerSender: cfg.Engine.EscalationsPerSender,
		EscalationWindow:     cfg.Engine.EscalationWindow,
		DisableAutoLearn:     cfg.Engine.DisableAutoLearn,
	}, engine.Deps{
		Memory:    a.memory,
		Moods:     a.stores.moods,
		Knowledge: a.stores.knowledge,
		Settings:  a.stores.settings,
		Stats:     a.stores.stats,
		Classifier: nlp.NewClassifier(nlp.Config{
			GreetingCooldown: cfg.Engine.GreetingCooldown,
			Templates:        cfg.Templates,
		}, a.stores.knowledge),
		Provider: provider,
		Budget:   budget,
		Sender:   sender,
		Tasks:    a.tasks,
		Metrics:  a.metrics,
		Clock:    clk,
	})
	if err != nil {
		return nil, err
	}
	a.engine = eng

	if err := a.buildLoops(clk); err != nil {
		return nil, err
	}

	if cfg.HTTP.Addr != "" {
		a.http = httpapi.New(cfg.HTTP.Addr, cfg.HTTP.Token, httpapi.Deps{
			Handler:     a.engine,
			Memory:      a.memory,
			Moods:       a.stores.moods,
			Outbox:      a.outbox,
			Metrics:     a.metrics.Handler(),
			ActiveTasks: a.tasks.Len,
			TotalFacts:  a.stores.knowledge.TotalFacts,
		})
	}
	return a, nil
}

// newProvider returns the remote generation client, or generation.Disabled
// when no API key is configured.
func newProvider(cfg config.GenerationConfig, budget *generation.TokenBudget, m *metrics.Metrics) generation.Provider {
	if cfg.APIKey == "" {
		slog.Warn("app: no API key configured; remote generation disabled")
		return generation.Disabled
	}
	rc := retry.DefaultConfig
	rc.OnRetry = m.RetryAttempted
	return generation.NewClient(generation.Config{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		Timeout:           cfg.Timeout,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Retry:             rc,
		Budget:            budget,
	})
}

func (a *App) buildLoops(clk scheduler.Clock) error {
	daily, err := scheduler.ParseSchedule(a.cfg.Schedule.Daily)
	if err != nil {
		return fmt.Errorf("app: daily schedule: %w", err)
	}

	silence := scheduler.SilenceLoop(a.engine.ReviveSilent, clk)
	silence.Interval = a.cfg.Schedule.SilenceScan
	silence.OnError = a.metrics.LoopFailed
	a.loops[silence.Name] = silence

	reset := scheduler.DailyLoop(daily, a.engine.DailyReset, clk)
	reset.OnError = a.metrics.LoopFailed
	a.loops[reset.Name] = reset

	if !a.cfg.Schedule.DisableMorning {
		morning, err := scheduler.ParseSchedule(a.cfg.Schedule.Morning)
		if err != nil {
			return fmt.Errorf("app: morning schedule: %w", err)
		}
		greet := scheduler.MorningLoop(morning, a.engine.MorningGreeting, clk)
		greet.OnError = a.metrics.LoopFailed
		a.loops[greet.Name] = greet
	}
	return nil
}

// Run starts the transports and loops and blocks until ctx is cancelled,
// then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if a.http != nil {
		if err := a.http.Start(ctx); err != nil {
			return err
		}
	}
	if a.matrix != nil {
		slog.Info("app: starting Matrix sync", "homeserver", a.cfg.Matrix.Homeserver)
		if err := a.matrix.Start(ctx, a.engine); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	for name, l := range a.loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Run(ctx); err != nil {
				slog.Error("app: loop exited", "loop", name, "err", err)
			}
		}()
	}

	slog.Info("app: chupik is running", "loops", len(a.loops), "http", a.http != nil, "matrix", a.matrix != nil)
	<-ctx.Done()
	slog.Info("app: shutting down")

	wg.Wait()
	return a.Stop()
}

// Stop stops the transports, cancels detached tasks and closes storage. It
// is safe to call more than once.
func (a *App) Stop() error {
	a.stopOnce.Do(func() { a.stopErr = a.stop() })
	return a.stopErr
}

func (a *App) stop() error {
	if a.matrix != nil {
		slog.Info("app: stopping Matrix client")
		a.matrix.Stop()
	}
	if a.http != nil {
		a.http.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := a.tasks.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("app: shutdown tasks: %w", err))
	}

	slog.Info("app: closing storage", "writes", a.writer.Writes())
	if err := a.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("app: close storage: %w", err))
	}
	return errors.Join(errs...)
}
