package cli

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/schema"
	"github.com/roach88/ndicore/internal/store"
	"github.com/roach88/ndicore/internal/store/fsstore"
	"github.com/roach88/ndicore/internal/store/sqlstore"
)

// binaryDir holds document binaries for the SQL backends.
const binaryDir = ".ndi/binaries"

// loadRegistry returns the built-in schemas plus the classes declared in
// opts.Schemas.
func loadRegistry(opts *RootOptions) (*schema.Registry, error) {
	reg, err := schema.NewRegistry()
	if err != nil {
		return nil, err
	}
	if opts.Schemas != "" {
		if err := reg.LoadDir(opts.Schemas); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// openStore opens the store selected by the global flags: Postgres, then
// SQLite, then the directory store under opts.Dir.
func openStore(ctx context.Context, opts *RootOptions) (*store.Store, error) {
	if opts.DB != "" && opts.Postgres != "" {
		return nil, ndierr.Invalid("cli.open_store", "--db and --postgres are mutually exclusive")
	}
	reg, err := loadRegistry(opts)
	if err != nil {
		return nil, err
	}
	storeOpts := []store.Option{store.WithRegistry(reg), store.WithLogger(slog.Default())}
	binaries := filepath.Join(opts.Dir, filepath.FromSlash(binaryDir))

	switch {
	case opts.Postgres != "":
		slog.Debug("opening store", "backend", "postgres")
		return sqlstore.OpenPostgres(ctx, opts.Postgres, binaries, storeOpts...)
	case opts.DB != "":
		slog.Debug("opening store", "backend", "sqlite", "path", opts.DB)
		return sqlstore.Open(opts.DB, binaries, storeOpts...)
	default:
		slog.Debug("opening store", "backend", "fs", "dir", opts.Dir)
		return fsstore.Open(opts.Dir, storeOpts...)
	}
}

// closeStore closes st, logging a failure.
func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
}
