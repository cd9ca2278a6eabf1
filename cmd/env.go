package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-pipeline/internal/pipeline"
	"github.com/sells-group/valuation-pipeline/internal/registry"
	"github.com/sells-group/valuation-pipeline/internal/resilience"
	"github.com/sells-group/valuation-pipeline/internal/store"
	"github.com/sells-group/valuation-pipeline/pkg/anthropic"
)

// pipelineEnv holds the initialized store, registry, and orchestrator shared
// by the serve/worker/advance commands.
type pipelineEnv struct {
	Store    store.Store
	Registry *registry.Registry
	Orch     *pipeline.Orchestrator
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initEnv validates the config for the given mode and wires the store,
// generation client, and orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	// The database may still be coming up when serve/worker boots.
	migrateRetry := resilience.DefaultRetryConfig()
	migrateRetry.OnRetry = resilience.RetryLogger("store", "migrate")
	if err := resilience.Do(ctx, migrateRetry, st.Migrate); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg, err := registry.Load()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	orch := pipeline.New(st, anthropic.NewClient(cfg.Anthropic.Key), reg, pipeline.Config{
		ExtractionModel: cfg.Anthropic.ExtractionModel,
		NarrativeModel:  cfg.Anthropic.NarrativeModel,
		Poll:            cfg.Poll,
		Valuation:       cfg.Valuation,
		Gates:           cfg.Gates,
	})

	return &pipelineEnv{Store: st, Registry: reg, Orch: orch}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "valuation.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
