package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/appforge/internal/config"
)

// Open returns the Collection selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Collection, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		return New(cfg.SQLitePath, logger)
	case config.StoreDriverRedis:
		return OpenRedis(ctx, cfg.RedisURL, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
