package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/frontdesk/internal/booking"
	"github.com/nugget/frontdesk/internal/config"
	"github.com/nugget/frontdesk/internal/events"
	"github.com/nugget/frontdesk/internal/history"
	"github.com/nugget/frontdesk/internal/llm"
	"github.com/nugget/frontdesk/internal/pipeline"
	"github.com/nugget/frontdesk/internal/prompts"
	"github.com/nugget/frontdesk/internal/tools"
	"github.com/nugget/frontdesk/internal/usage"
	"github.com/nugget/frontdesk/internal/window"
)

// app holds the collaborators shared by serve and chat.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.Bus
	llm      llm.Client
	bookings *booking.Store
	history  *history.Store
	usage    *usage.Store
	pipeline *pipeline.Pipeline

	dbs []*sql.DB
}

// newApp opens the databases and assembles the conversation pipeline.
// The caller must Close the returned app.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, bus: events.New()}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error
	a.llm, err = llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("llm client initialized", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	db, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("booking database: %w", err)
	}
	a.dbs = append(a.dbs, db)
	a.bookings, err = booking.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("booking database %s: %w", cfg.Database.Path, err)
	}
	logger.Info("booking database opened", "path", cfg.Database.Path)

	registry := tools.NewRegistry()
	booking.NewTools(a.bookings, logger).Register(registry)

	deps := pipeline.Deps{
		LLM:    a.llm,
		Tools:  registry,
		Bus:    a.bus,
		Logger: logger,
	}
	if cfg.Conversation.Context.Summarizer == "simple" {
		deps.Summarizer = window.SimpleSummarizer{}
	}

	if cfg.History.Enabled {
		hdb, err := openDatabase(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("history database: %w", err)
		}
		a.dbs = append(a.dbs, hdb)
		a.history, err = history.NewStore(hdb)
		if err != nil {
			return nil, fmt.Errorf("history database %s: %w", cfg.History.Path, err)
		}
		deps.Recorder = a.history
		a.usage, err = usage.NewStore(hdb, logger)
		if err != nil {
			return nil, fmt.Errorf("usage ledger %s: %w", cfg.History.Path, err)
		}
		logger.Info("conversation history enabled", "path", cfg.History.Path)
	}

	override, err := cfg.Conversation.SystemPrompt()
	if err != nil {
		return nil, err
	}
	a.pipeline = pipeline.New(pipeline.ConfigFrom(cfg, prompts.ConciergeSystemPrompt(override)), deps)
	ready = true
	return a, nil
}

// Close releases the databases.
func (a *app) Close() error {
	var errs []error
	for _, db := range a.dbs {
		errs = append(errs, db.Close())
	}
	a.dbs = nil
	return errors.Join(errs...)
}
