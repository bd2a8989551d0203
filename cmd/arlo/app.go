package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"arlo/internal/autonomous"
	"arlo/internal/bus"
	"arlo/internal/config"
	"arlo/internal/errcollect"
	"arlo/internal/improve"
	"arlo/internal/llm"
	"arlo/internal/logging"
	"arlo/internal/memory"
	"arlo/internal/orchestrator"
	"arlo/internal/server"
	"arlo/internal/toolregistry"
	"arlo/internal/tools/builtin"
	"arlo/internal/workspace"
)

// app holds the wired runtime.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	orch      *orchestrator.Orchestrator
	improve   *improve.Loop
	server    *server.Server
	store     *memory.Store
	registry  *toolregistry.Registry
	collector *errcollect.Collector
}

// buildApp wires every component from the config. Ownership of store,
// bus and loops passes to the orchestrator; Stop tears them down.
func buildApp(cfg *config.Config) (*app, error) {
	collector := errcollect.New()
	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Extra:  []slog.Handler{collector},
	})

	if err := os.MkdirAll(cfg.Workspace.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if err := workspace.Set(cfg.Workspace.Root); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Memory.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := memory.Open(cfg.Memory.DBPath)
	if err != nil {
		return nil, err
	}

	provider := llm.NewClient(llm.Config{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     os.Getenv(cfg.Provider.APIKeyEnv),
		Model:      cfg.Provider.Model,
		EmbedModel: cfg.Provider.EmbedModel,
	}, log)

	var vectors *memory.Vectors
	if cfg.Provider.EmbedModel != "" {
		vectors, err = memory.NewVectors(filepath.Join(filepath.Dir(cfg.Memory.DBPath), "vectors"))
		if err != nil {
			log.Warn("vector store unavailable, semantic memory disabled", "err", err)
			vectors = nil
		}
	}

	contextBuilder := memory.NewContextBuilder(store, vectors, provider, log)
	contextBuilder.RecentLimit = cfg.Memory.RecentLimit
	contextBuilder.TopK = cfg.Memory.TopK

	registry := toolregistry.New(log)
	if err := builtin.RegisterWorkspace(registry); err != nil {
		return nil, err
	}
	if err := builtin.RegisterSource(registry); err != nil {
		return nil, err
	}
	if err := builtin.RegisterScheduling(registry, store); err != nil {
		return nil, err
	}

	events := bus.New(256, log)

	orch := orchestrator.New(orchestrator.Deps{
		Provider:       provider,
		Store:          store,
		Vectors:        vectors,
		ContextBuilder: contextBuilder,
		Registry:       registry,
		Events:         events,
		Collector:      collector,
		Logger:         log,
		MaxIterations:  cfg.Agent.MaxIterations,
		MaxParallel:    cfg.Executor.MaxParallel,
	})

	if err := builtin.RegisterProjects(registry, builtin.ProjectToolConfig{
		Store:         store,
		Events:        events,
		Session:       orch.Session(),
		BaseWorkspace: cfg.Workspace.Root,
	}); err != nil {
		return nil, err
	}
	registry.EnableAutoCommit()

	// The improvement loop operates on this binary's own source tree, not
	// the user workspace.
	repoRoot := cfg.Workspace.Root
	if wd, err := os.Getwd(); err == nil {
		if root, err := workspace.ProjectRoot(wd); err == nil {
			repoRoot = root
		}
	}
	improveLoop := improve.New(improve.Config{
		Enabled:                cfg.Improvement.Enabled,
		Interval:               time.Duration(cfg.Improvement.IntervalMinutes) * time.Minute,
		MaxCyclesPerHour:       cfg.Improvement.MaxCyclesPerHour,
		TokenBudgetPerHour:     cfg.Improvement.TokenBudgetPerHour,
		IdleBefore:             time.Duration(cfg.Improvement.IdleMinutesBeforeRun) * time.Minute,
		NoImprovementThreshold: cfg.Improvement.NoImprovementThreshold,
	}, orch, store, collector, repoRoot, log)
	orch.AttachImprovementLoop(improveLoop)

	autoLoop := autonomous.New(autonomous.Config{
		Enabled:     cfg.Autonomous.Enabled,
		TickMinutes: cfg.Autonomous.TickMinutes,
		DailyCap:    cfg.Autonomous.DailyCap,
	}, orch, store, orch.Reminders(), improveLoop.Running, log)
	orch.AttachAutonomousLoop(autoLoop)

	a := &app{
		cfg:       cfg,
		log:       log,
		orch:      orch,
		improve:   improveLoop,
		store:     store,
		registry:  registry,
		collector: collector,
	}
	if cfg.API.Enabled {
		a.server = server.New(server.Config{Host: cfg.API.Host, Port: cfg.API.Port},
			orch, store, events, improveLoop.Status, log)
	}
	return a, nil
}
