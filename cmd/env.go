package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/therapy-intel/internal/document"
	"github.com/sells-group/therapy-intel/internal/monitoring"
	"github.com/sells-group/therapy-intel/internal/queue"
	"github.com/sells-group/therapy-intel/internal/revenue"
	"github.com/sells-group/therapy-intel/internal/review"
	"github.com/sells-group/therapy-intel/internal/store"
)

// appEnv holds the services a command needs.
type appEnv struct {
	Store     store.Store
	Queue     *queue.Service
	Review    *review.Engine
	Revenue   *revenue.Service
	Documents *document.Service
	Registry  *prometheus.Registry
	Metrics   *monitoring.Metrics
}

// Close releases the store.
func (e *appEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "therapy.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates config for mode, opens and migrates the store, and wires
// the services. Document storage is opened only when withStorage is set.
func initEnv(ctx context.Context, mode string, withStorage bool) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(reg)

	env := &appEnv{
		Store:    st,
		Queue:    queue.New(st, cfg.Queue),
		Review:   review.NewEngine(st).WithRecorder(metrics),
		Revenue:  revenue.NewService(st),
		Registry: reg,
		Metrics:  metrics,
	}

	if withStorage {
		storage, err := initStorage(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Documents = document.NewService(st, env.Queue, storage)
	}
	return env, nil
}

func initStorage(ctx context.Context) (document.Storage, error) {
	storage, err := document.NewStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if az, ok := storage.(*document.AzureStorage); ok {
		if err := az.EnsureContainer(ctx); err != nil {
			return nil, err
		}
	}
	return storage, nil
}
