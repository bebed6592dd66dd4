package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/relieftrack/activity-import/internal/ingest"
	"github.com/relieftrack/activity-import/internal/store"
)

// openStore connects to the configured activity store. The caller owns
// the returned store and must Close it.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func newImporter(st store.Store) *ingest.Importer {
	return ingest.NewImporter(st, ingest.NewStaging(cfg.Import.StagingDir), cfg.Import)
}
