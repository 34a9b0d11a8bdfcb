package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/comigor/empath/internal/config"
	"github.com/comigor/empath/internal/logger"
)

// Open builds the configured backend. When it cannot be opened, Open logs
// a warning and returns an in-memory store together with the failure so
// the caller can keep running and tell the user saving is degraded.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		s, err = NewSQLiteStore(ctx, cfg.Path)
	case "bolt":
		s, err = NewBoltStore(cfg.Path)
	case "postgres":
		s, err = NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		err = unavailable("open", "", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
	if err != nil {
		logger.L.Warn("durable store unavailable; using in-memory store", "backend", cfg.Backend, "error", err)
		return NewMemoryStore(), err
	}
	return s, nil
}
