package archive

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "crosspub/pkg/logx"
)

// Store is the persistence API for archived items.
type Store interface {
	Append(ctx context.Context, r Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if archival is disabled.
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
		return nil, errors.New("unknown archive driver: " + driver)
	}
}
