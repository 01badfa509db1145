// Package storage persists the last applied location and a short refresh
// history across daemon restarts.
package storage

import (
	"context"
	"errors"
	"strings"

	"adhand/internal/prayer"
	"adhand/pkg/logx"
)

// Store is the minimal persistence API used by the orchestrator.
// All calls may touch disk and therefore run on dispatcher workers,
// never on the run loop.
type Store interface {
	SaveLocation(ctx context.Context, loc prayer.Location) error
	// LoadLocation returns (nil, nil) when no location has been saved yet.
	LoadLocation(ctx context.Context) (*prayer.Location, error)
	AppendRefresh(ctx context.Context, rec RefreshRecord) error
	RecentRefreshes(ctx context.Context, limit int) ([]RefreshRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
