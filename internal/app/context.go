package app

import (
	"context"
	"database/sql"
	"fmt"

	"orderline/internal/config"
	"orderline/internal/db"
	"orderline/internal/engine"
	"orderline/internal/migrate"
)

// Bootstrap opens the workspace database, runs migrations, loads the config
// (falling back to the built-in default when orderline.yml is absent) and
// seeds the service catalog. Every entry point goes through here.
func Bootstrap(ctx context.Context, workspace string) (*sql.DB, engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	eng := engine.New(conn, cfg)
	if err := eng.SeedCatalog(ctx); err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("seed catalog: %w", err)
	}
	return conn, eng, nil
}
