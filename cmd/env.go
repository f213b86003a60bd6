package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/potentials/internal/config"
	"github.com/sells-group/potentials/internal/distance"
	"github.com/sells-group/potentials/internal/engine"
	"github.com/sells-group/potentials/internal/metrics"
	"github.com/sells-group/potentials/internal/request"
	"github.com/sells-group/potentials/internal/resilience"
	"github.com/sells-group/potentials/internal/source"
	"github.com/sells-group/potentials/internal/store"
)

// env holds the dependencies shared by the run and serve commands.
type env struct {
	Engine   *engine.Engine
	Metrics  *metrics.Metrics
	Resolver *request.Resolver
	Store    store.Store
	// PostGIS is nil unless postgis.database_url is set.
	PostGIS *pgxpool.Pool
}

// initEnv opens the run log and, when configured, the PostGIS pool.
func initEnv(ctx context.Context, c *config.Config) (*env, error) {
	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	m := metrics.New()
	e := &env{
		Metrics: m,
		Store:   st,
		Engine: engine.New(
			engine.WithCache(distance.NewCache(c.Cache.MaxEntries, c.Cache.TTL())),
			engine.WithMetrics(m),
			engine.WithWorkers(c.Engine.Workers),
			engine.WithMaxCells(c.Engine.MaxCells),
		),
		Resolver: &request.Resolver{Defaults: c.Engine},
	}

	if c.PostGIS.DatabaseURL != "" {
		pool, err := store.NewPool(ctx, c.PostGIS.DatabaseURL, &store.PoolConfig{
			MaxConns: c.PostGIS.MaxConns,
			MinConns: c.PostGIS.MinConns,
		})
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "open postgis")
		}
		e.PostGIS = pool
		e.Resolver.PostGIS = source.NewLoader(pool,
			source.WithRetry(resilience.FromConfig(c.PostGIS.RetryAttempts, c.PostGIS.RetryBackoffMS)))
		zap.L().Debug("postgis source enabled", zap.Int("srid", c.PostGIS.SRID))
	}
	return e, nil
}

// Close releases the store and the PostGIS pool.
func (e *env) Close() {
	if e.PostGIS != nil {
		e.PostGIS.Close()
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
