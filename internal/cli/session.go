package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/datatable/internal/database"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/memadapter"
	"github.com/roach88/datatable/internal/schemafile"
	"github.com/roach88/datatable/internal/sqladapter"
	"github.com/roach88/datatable/internal/sqlcompile"
	"github.com/roach88/datatable/internal/table"
)

// DriverMemory selects the in-memory adapter. Its data lives only as long
// as the command.
const DriverMemory = "memory"

// session is an open database together with its schema catalog.
type session struct {
	db      *database.Database
	catalog *schemafile.Catalog
	dialect sqlcompile.Dialect
	close   func() error
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func loadCatalog(cfg *Config) (*schemafile.Catalog, error) {
	catalog, err := schemafile.Load(cfg.Schema)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	return catalog, nil
}

// dialectFor returns the SQL dialect statements for driver compile to.
// The memory driver reports SQLite.
func dialectFor(driver string) (sqlcompile.Dialect, error) {
	if driver == DriverMemory {
		return sqlcompile.SQLite, nil
	}
	d, err := sqlcompile.DialectFor(driver)
	if err != nil {
		return sqlcompile.Dialect{}, WrapExitError(ExitCommandError, "unsupported driver", err)
	}
	return d, nil
}

func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg := opts.Config
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	dialect, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	if cfg.Driver == DriverMemory {
		a := memadapter.New(catalog.Tables())
		return &session{
			db:      database.New(a, database.WithLogger(logger)),
			catalog: catalog,
			dialect: dialect,
			close:   func() error { return nil },
		}, nil
	}

	if cfg.DSN == "" {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("dsn is required for driver %s", cfg.Driver))
	}
	a, err := sqladapter.Open(cfg.Driver, cfg.DSN, sqladapter.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return &session{
		db:      database.New(a, database.WithLogger(logger)),
		catalog: catalog,
		dialect: dialect,
		close:   a.Close,
	}, nil
}

func (s *session) table(name string) (*table.Table, error) {
	t, ok := s.catalog.Table(name)
	if !ok {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown table %q", name))
	}
	return t, nil
}

// createTables runs CREATE TABLE IF NOT EXISTS for every catalog table.
func (s *session) createTables(ctx context.Context) error {
	if _, ok := s.db.Adapter().(*memadapter.Adapter); ok {
		return nil
	}
	compiler := sqlcompile.New(s.dialect)
	for _, t := range s.catalog.Tables() {
		if _, err := s.db.Exec(ctx, compiler.CreateTable(t)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name(), err)
		}
	}
	return nil
}

// reportError writes err through f and converts it to an ExitError.
// Engine errors keep their kind as the error code.
func reportError(f *OutputFormatter, err error) error {
	if _, ok := err.(*ExitError); ok {
		return err
	}
	code := "ERROR"
	var details any
	if e, ok := dberr.As(err); ok {
		code = string(e.Kind)
		if len(e.Issues) > 0 {
			details = e.Issues
		}
	}
	if outErr := f.Error(code, err.Error(), details); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "statement failed", err)
}
