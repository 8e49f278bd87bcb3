package cli

import (
	"context"
	"fmt"

	"github.com/zaqqye/relay/internal/config"
	"github.com/zaqqye/relay/internal/database"
	"github.com/zaqqye/relay/internal/store"
)

// buildStore opens the configured store and seeds the configured accounts.
// Without a database it falls back to an in-memory store, which makes a
// development broker work out of the box.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var st store.Store
	if cfg.HasDatabase() {
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		st = store.NewGorm(db)
	} else {
		st = store.NewMemory()
	}

	if err := database.Seed(ctx, st, cfg); err != nil {
		return nil, fmt.Errorf("seed store: %w", err)
	}
	return st, nil
}
