package storage

import (
	"context"
	"errors"
	"strings"

	"chtbtr/internal/domain"
	logx "chtbtr/pkg/logx"
)

// Store is the persistence API used by the resolver, the settings provider
// and the dispatcher.
//
// Records for one username are only written from the resolver's serialized
// path, so drivers do not lock per user.
type Store interface {
	// LoadAllMappings returns every readable mapping record. Records that
	// fail to parse are skipped and logged.
	LoadAllMappings(ctx context.Context) (map[domain.Username]domain.ResolutionState, error)
	SaveMapping(ctx context.Context, username domain.Username, state domain.ResolutionState) error

	// LoadSettings returns the user's settings. A missing document is
	// created from the built-in defaults; an unreadable one is an error and
	// is never replaced.
	LoadSettings(ctx context.Context, username domain.Username) (domain.Settings, error)

	AppendAudit(ctx context.Context, rec DeliveryRecord) error
	Close() error
}

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
