package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/database"
	"github.com/roach88/datatable/internal/memadapter"
	"github.com/roach88/datatable/internal/schemafile"
	"github.com/roach88/datatable/internal/sqladapter"
	"github.com/roach88/datatable/internal/sqlcompile"
	"github.com/roach88/datatable/internal/testutil"
)

// Backend names.
const (
	BackendMemory         = "memory"
	BackendMemoryEmulated = "memory-emulated"
	BackendSQLite         = "sqlite3"
	BackendSQLiteEmulated = "sqlite3-emulated"
	BackendModernc        = "modernc"
)

// Backends lists every backend a scenario can run on. The emulated
// variants turn native RETURNING off.
var Backends = []string{BackendMemory, BackendMemoryEmulated, BackendSQLite, BackendSQLiteEmulated, BackendModernc}

var emulated = adapter.Capabilities{Savepoints: true, Upsert: true, InsertID: true}

// Harness executes one scenario against one database.
type Harness struct {
	db      *database.Database
	catalog *schemafile.Catalog
	result  *Result
}

// Run executes a scenario on a fresh database of the given backend.
//
// Execution flow:
// 1. Load the schema catalog and open the backend
// 2. Insert the seed rows
// 3. Execute steps, stopping at the first failed expectation
// 4. Evaluate assertions against the final state
func Run(ctx context.Context, scenario *Scenario, backend string) (*Result, error) {
	catalog, err := schemafile.Load(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	db, closeFn, err := openBackend(ctx, backend, catalog)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	h := &Harness{db: db, catalog: catalog, result: NewResult(backend)}
	if err := h.seed(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, h.db, step, 0); err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d] (%s): %v", i, step.Op, err))
			return h.result, nil
		}
	}

	for i, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a); err != nil {
			h.result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return h.result, nil
}

// RunAll runs a scenario on each of its backends concurrently. Results are
// returned in backend order.
func RunAll(ctx context.Context, scenario *Scenario) ([]*Result, error) {
	backends := scenario.Backends
	if len(backends) == 0 {
		backends = Backends
	}

	results := make([]*Result, len(backends))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range backends {
		g.Go(func() error {
			res, err := Run(gctx, scenario, b)
			if err != nil {
				return fmt.Errorf("%s: %w", b, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func openBackend(ctx context.Context, backend string, catalog *schemafile.Catalog) (*database.Database, func(), error) {
	logger := slog.New(slog.DiscardHandler)
	dbOpts := []database.Option{
		database.WithNow(testutil.NewDeterministicClock().Now),
		database.WithLogger(logger),
	}

	switch backend {
	case BackendMemory, BackendMemoryEmulated:
		var opts []memadapter.Option
		if backend == BackendMemoryEmulated {
			opts = append(opts, memadapter.WithCapabilities(emulated))
		}
		a := memadapter.New(catalog.Tables(), opts...)
		return database.New(a, dbOpts...), func() {}, nil

	case BackendSQLite, BackendSQLiteEmulated, BackendModernc:
		driver := "sqlite3"
		if backend == BackendModernc {
			driver = "sqlite"
		}
		opts := []sqladapter.Option{sqladapter.WithLogger(logger)}
		if backend == BackendSQLiteEmulated {
			opts = append(opts, sqladapter.WithCapabilities(emulated))
		}

		dir, err := os.MkdirTemp("", "datatable-harness-*")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		a, err := sqladapter.Open(driver, filepath.Join(dir, "scenario.db"), opts...)
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, fmt.Errorf("failed to open %s: %w", backend, err)
		}
		closeFn := func() {
			a.Close()
			os.RemoveAll(dir)
		}

		compiler := sqlcompile.New(sqlcompile.SQLite)
		for _, t := range catalog.Tables() {
			if _, err := a.DB().ExecContext(ctx, compiler.CreateTable(t)); err != nil {
				closeFn()
				return nil, nil, fmt.Errorf("failed to create table %s: %w", t.Name(), err)
			}
		}
		return database.New(a, dbOpts...), closeFn, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// seed inserts rows in catalog order.
func (h *Harness) seed(ctx context.Context, seed map[string][]map[string]any) error {
	for name := range seed {
		if _, ok := h.catalog.Table(name); !ok {
			return fmt.Errorf("unknown table %q", name)
		}
	}
	for _, t := range h.catalog.Tables() {
		rows := seed[t.Name()]
		if len(rows) == 0 {
			continue
		}
		values := make([]database.Values, len(rows))
		for i, r := range rows {
			values[i] = database.Values(r)
		}
		if _, err := h.db.Query(t).InsertMany(ctx, values); err != nil {
			return fmt.Errorf("%s: %w", t.Name(), err)
		}
	}
	return nil
}
