package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/canvaslog/internal/config"
	"github.com/roach88/canvaslog/internal/store"
	"github.com/roach88/canvaslog/internal/store/memstore"
	"github.com/roach88/canvaslog/internal/store/postgres"
	"github.com/roach88/canvaslog/internal/store/sqlite"
)

// StoreOptions holds the flags shared by commands that read or write one
// store.
type StoreOptions struct {
	*RootOptions

	// Database overrides the configured store with the SQLite file at this
	// path.
	Database string
}

func (o *StoreOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Database, "db", "", "path to SQLite database (default: configured store)")
}

// resolve loads the configuration and applies --db.
func (o *StoreOptions) resolve() (config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return config.Config{}, err
	}
	if o.Database != "" {
		cfg.StoreDriver = config.DriverSQLite
		cfg.SQLitePath = o.Database
	}
	return cfg, nil
}

// openStore opens the engine cfg.StoreDriver names.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.SQLitePath, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func closeStore(st store.Store, logger *slog.Logger) {
	if err := st.Close(); err != nil {
		logger.Error("error closing store", "error", err)
	}
}
