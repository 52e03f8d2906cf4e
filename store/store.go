// Package store opens the configured credits.Backend.
package store

import (
	"context"
	"fmt"

	"github.com/warp/credit-engine/config"
	"github.com/warp/credit-engine/credits"
	memstore "github.com/warp/credit-engine/credits/store"
	"github.com/warp/credit-engine/store/mongo"
	"github.com/warp/credit-engine/store/postgres"
	"github.com/warp/credit-engine/store/sqlite"
)

// Open connects to the backend named by db.Driver.
func Open(ctx context.Context, db config.Database) (credits.Backend, error) {
	var (
		backend credits.Backend
		err     error
	)
	switch db.Driver {
	case "sqlite":
		backend, err = sqlite.New(db.DSN)
	case "postgres":
		backend, err = postgres.New(ctx, db.DSN)
	case "mongo":
		backend, err = mongo.New(ctx, db.DSN, db.Name)
	case "memory":
		backend = memstore.NewMemory()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", db.Driver, err)
	}
	return backend, nil
}
