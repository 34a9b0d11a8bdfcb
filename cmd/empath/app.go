package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/comigor/empath/internal/agent"
	"github.com/comigor/empath/internal/archive"
	"github.com/comigor/empath/internal/config"
	"github.com/comigor/empath/internal/history"
	"github.com/comigor/empath/internal/llm"
	"github.com/comigor/empath/internal/logger"
	"github.com/comigor/empath/internal/metrics"
	"github.com/comigor/empath/internal/store"
)

// app is the wired object graph shared by every command.
type app struct {
	store   store.Store
	repo    *history.Repository
	agent   *agent.Agent
	archive *archive.Gateway
	metrics *metrics.Metrics
	// notice is shown to the user when startup degraded (storage or recovery)
	notice string
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "empath")

	completer, err := llm.NewCompleter(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("init completion provider: %w", err)
	}

	a := &app{metrics: m}
	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		var se *store.Error
		if errors.As(err, &se) {
			a.notice = se.UserMessage()
		} else {
			a.notice = "Having trouble saving your conversation."
		}
	}
	a.store = s

	a.repo = history.New(s, m)
	if err := a.repo.Hydrate(ctx); err != nil {
		var rec *history.RecoveryError
		if !errors.As(err, &rec) {
			return nil, err
		}
		a.notice = rec.UserMessage()
	}

	a.agent = agent.New(completer, a.repo, *cfg, m)
	a.archive = archive.New(a.repo)
	logger.L.Info("advisor ready",
		"provider", cfg.LLM.Provider, "model", cfg.LLM.Model,
		"store", cfg.Store.Backend, "conversations", a.repo.Len())
	return a, nil
}

// close flushes the collection once more and releases the store.
func (a *app) close() {
	ctx := context.Background()
	if a.repo.Len() > 0 {
		if err := a.repo.Persist(ctx); err != nil {
			logger.L.Warn("final save failed", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		logger.L.Warn("closing store", "error", err)
	}
}

func exportTo(ctx context.Context, cfg *config.Config, w io.Writer) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return a.archive.Export(w)
}

// importFrom prepends the document read from r; close persists the result.
func importFrom(ctx context.Context, cfg *config.Config, r io.Reader) (int, error) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer a.close()
	n, err := a.archive.Import(ctx, r)
	var fe *archive.FormatError
	if errors.As(err, &fe) {
		return 0, err
	}
	if err != nil {
		logger.L.Warn("import saved in memory only", "error", err)
	}
	return n, nil
}
