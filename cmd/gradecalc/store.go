package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mind-engage/gradecalc/internal/config"
	"github.com/mind-engage/gradecalc/internal/db"
	"github.com/mind-engage/gradecalc/internal/simulation"
)

// openStore opens the configured backend and makes sure its schema (SQL)
// or indexes (Mongo) exist. The returned func releases the connection.
func openStore(ctx context.Context, cfg config.Config) (simulation.Store, func() error, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch db.Driver(cfg.DBDriver) {
	case db.DriverMongo:
		client, mdb, err := db.OpenMongo(ctx, db.DefaultMongoConfig(cfg.MongoURI, cfg.MongoDatabase))
		if err != nil {
			return nil, nil, err
		}
		st := simulation.NewMongoStore(mdb)
		if err := st.EnsureIndexes(ctx); err != nil {
			_ = db.CloseMongo(client)
			return nil, nil, err
		}
		return st, func() error { return db.CloseMongo(client) }, nil
	case db.DriverSQLite, db.DriverPostgres:
		h, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db open: %w", err)
		}
		return simulation.NewSQLStore(h, cfg.DBDriver), h.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported driver: %s", cfg.DBDriver)
	}
}
