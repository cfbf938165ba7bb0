package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/impetus-mx/storefront-api/internal/config"
	"github.com/impetus-mx/storefront-api/internal/store"
)

// openStore builds the order store named by config: sqlite (default) or
// postgres.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "", "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "storefront.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("cmd: postgres driver requires store.database_url")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("cmd: unknown store driver %q", cfg.Store.Driver)
	}
}
