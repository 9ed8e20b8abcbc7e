// Package database is the query runtime: an immutable query builder over
// table definitions, write operations with RETURNING emulation, nested
// transactions layered on savepoints, and eager relation loading.
//
// A root Database is bound to no transaction:
//
//	db := database.New(adp)
//	rows, err := db.Query(accounts).
//		Where(predicate.Eq("status", "active")).
//		OrderBy("id", adapter.Asc).
//		With("projects", accountProjects).
//		All(ctx)
//
// Transaction hands its callback a Database bound to the transaction token.
// Calling Transaction again on that handle opens a savepoint.
package database

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/table"
)

// Option configures a Database.
type Option func(*Database)

// WithNow sets the clock used to fill timestamp columns.
func WithNow(now func() time.Time) Option {
	return func(db *Database) { db.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(db *Database) { db.logger = l }
}

// Database executes queries through an adapter, optionally inside a
// transaction.
type Database struct {
	adapter adapter.Adapter
	tx      *adapter.TxToken
	now     func() time.Time
	logger  *slog.Logger

	// savepoints is owned by the root Database and shared with every
	// transaction handle derived from it.
	savepoints *atomic.Int64
}

// New creates a root Database.
func New(a adapter.Adapter, opts ...Option) *Database {
	db := &Database{
		adapter:    a,
		now:        time.Now,
		logger:     slog.Default(),
		savepoints: new(atomic.Int64),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// withTx returns a handle bound to tok that shares db's lineage.
func (db *Database) withTx(tok *adapter.TxToken) *Database {
	next := *db
	next.tx = tok
	return &next
}

// Adapter returns the underlying adapter.
func (db *Database) Adapter() adapter.Adapter { return db.adapter }

// InTransaction reports whether db is bound to a transaction.
func (db *Database) InTransaction() bool { return db.tx != nil }

// TxToken returns the bound transaction token, or nil.
func (db *Database) TxToken() *adapter.TxToken { return db.tx }

// Query starts a query against t.
func (db *Database) Query(t *table.Table) *QueryBuilder {
	return &QueryBuilder{db: db, table: t}
}

// execute runs one statement with db's token. Adapter failures that are not
// already classified become AdapterErrors.
func (db *Database) execute(ctx context.Context, stmt adapter.Statement) (adapter.Result, error) {
	res, err := db.adapter.Execute(ctx, adapter.Request{Statement: stmt, Tx: db.tx})
	if err != nil {
		return adapter.Result{}, db.wrap(string(stmt.Kind()), err)
	}
	for _, row := range res.Rows {
		normalizeRow(row)
	}
	return res, nil
}

func (db *Database) wrap(kind string, err error) error {
	if _, ok := dberr.As(err); ok {
		return err
	}
	return dberr.NewAdapterError(db.adapter.Dialect(), kind, err)
}

// normalizeRow converts driver byte slices to strings.
func normalizeRow(row adapter.Row) {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
}

// Exec runs a pre-built SQL statement with positional arguments, inside
// db's transaction if any.
func (db *Database) Exec(ctx context.Context, sql string, args ...any) (adapter.Result, error) {
	db.logger.DebugContext(ctx, "exec raw statement", "dialect", db.adapter.Dialect(), "args", len(args))
	return db.execute(ctx, adapter.Raw{SQL: sql, Args: args})
}

// ExecNamed runs a statement written with :name parameters. Each parameter
// is replaced by the adapter dialect's placeholder and bound from params.
func (db *Database) ExecNamed(ctx context.Context, sql string, params map[string]any) (adapter.Result, error) {
	text, args, err := bindNamed(db.adapter.Dialect(), sql, params)
	if err != nil {
		return adapter.Result{}, err
	}
	return db.Exec(ctx, text, args...)
}
