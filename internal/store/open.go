package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Open connects to the repository selected by driver. For sqlite and postgres
// pending migrations are applied first when migrate is true.
func Open(ctx context.Context, driver, dsn string, migrate bool) (Repository, error) {
	switch driver {
	case DriverMemory:
		slog.Warn("Using in-memory store, data is lost on restart")
		return NewMemory(), nil
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	if migrate {
		if err := MigrateUp(driver, dsn); err != nil {
			return nil, err
		}
	}

	if driver == DriverSQLite {
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := NewPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}
