// Package sqladapter runs adapter statements against a database/sql
// connection, compiling them with sqlcompile.
//
// Open understands three drivers:
//   - "sqlite3": github.com/mattn/go-sqlite3 (cgo)
//   - "sqlite": modernc.org/sqlite (pure Go)
//   - "postgres": github.com/lib/pq
//
// The driver packages are registered by the program, not by this package;
// see cmd/datatable.
//
// Transactions map one token to one *sql.Tx. Savepoints are plain SAVEPOINT
// statements on that transaction.
package sqladapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/sqlcompile"
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the statement logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithCapabilities overrides the capabilities inferred from the dialect.
func WithCapabilities(caps adapter.Capabilities) Option {
	return func(a *Adapter) { a.caps = caps }
}

// WithSlowThreshold logs statements slower than d at warn level.
// Zero disables slow statement logging.
func WithSlowThreshold(d time.Duration) Option {
	return func(a *Adapter) { a.slow = d }
}

type txEntry struct {
	tx       *sql.Tx
	readOnly bool
}

// Adapter is an adapter.Adapter over a *sql.DB.
type Adapter struct {
	db       *sql.DB
	dialect  sqlcompile.Dialect
	compiler *sqlcompile.Compiler
	caps     adapter.Capabilities
	logger   *slog.Logger
	slow     time.Duration

	mu  sync.Mutex
	txs map[string]*txEntry
}

// DefaultCapabilities returns the capabilities of a dialect. SQLite reports
// generated keys through LastInsertId; lib/pq does not.
func DefaultCapabilities(d sqlcompile.Dialect) adapter.Capabilities {
	return adapter.Capabilities{
		Returning:  true,
		Savepoints: true,
		Upsert:     true,
		InsertID:   d.Name == sqlcompile.SQLite.Name,
	}
}

// New wraps an open database.
func New(db *sql.DB, d sqlcompile.Dialect, opts ...Option) *Adapter {
	a := &Adapter{
		db:       db,
		dialect:  d,
		compiler: sqlcompile.New(d),
		caps:     DefaultCapabilities(d),
		logger:   slog.Default(),
		slow:     100 * time.Millisecond,
		txs:      make(map[string]*txEntry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open connects with the named driver. SQLite connections are limited to a
// single connection and get WAL, a busy timeout and foreign key enforcement.
func Open(driver, dsn string, opts ...Option) (*Adapter, error) {
	d, err := sqlcompile.DialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if d.Name == sqlcompile.SQLite.Name {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}
	return New(db, d, opts...), nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database.
func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// DB returns the underlying database.
func (a *Adapter) DB() *sql.DB { return a.db }

// Dialect implements adapter.Adapter.
func (a *Adapter) Dialect() string { return a.dialect.Name }

// Capabilities implements adapter.Adapter.
func (a *Adapter) Capabilities() adapter.Capabilities { return a.caps }

// Compiler returns the statement compiler.
func (a *Adapter) Compiler() *sqlcompile.Compiler { return a.compiler }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (a *Adapter) querier(tok *adapter.TxToken) (querier, error) {
	if tok == nil {
		return a.db, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.txs[tok.ID]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", tok.ID)
	}
	return e.tx, nil
}

// Execute implements adapter.Adapter.
func (a *Adapter) Execute(ctx context.Context, req adapter.Request) (adapter.Result, error) {
	kind := ""
	if req.Statement != nil {
		kind = string(req.Statement.Kind())
	}
	text, args, err := a.compiler.Compile(req.Statement)
	if err != nil {
		return adapter.Result{}, err
	}
	q, err := a.querier(req.Tx)
	if err != nil {
		return adapter.Result{}, dberr.NewAdapterError(a.dialect.Name, kind, err)
	}

	start := time.Now()
	res, err := a.run(ctx, q, req.Statement, text, args)
	a.logStatement(ctx, kind, text, args, time.Since(start), err)
	if err != nil {
		return adapter.Result{}, a.classify(kind, err)
	}
	return res, nil
}

func (a *Adapter) run(ctx context.Context, q querier, stmt adapter.Statement, text string, args []any) (adapter.Result, error) {
	if returnsRows(stmt) {
		rows, err := q.QueryContext(ctx, text, args...)
		if err != nil {
			return adapter.Result{}, err
		}
		out, err := scanRows(rows)
		if err != nil {
			return adapter.Result{}, err
		}
		res := adapter.Result{Rows: out}
		if isWrite(stmt) {
			res.AffectedRows = int64(len(out))
		}
		return res, nil
	}

	r, err := q.ExecContext(ctx, text, args...)
	if err != nil {
		return adapter.Result{}, err
	}
	var res adapter.Result
	if n, err := r.RowsAffected(); err == nil {
		res.AffectedRows = n
	}
	if a.caps.InsertID && isInsert(stmt) && res.AffectedRows > 0 {
		if id, err := r.LastInsertId(); err == nil {
			res.InsertID = id
		}
	}
	return res, nil
}

func (a *Adapter) logStatement(ctx context.Context, kind, text string, args []any, d time.Duration, err error) {
	attrs := []any{"dialect", a.dialect.Name, "statement", kind, "sql", text, "args", len(args), "duration", d}
	if err != nil {
		a.logger.DebugContext(ctx, "statement failed", append(attrs, "error", err)...)
		return
	}
	if a.slow > 0 && d > a.slow {
		a.logger.WarnContext(ctx, "slow statement", attrs...)
		return
	}
	a.logger.DebugContext(ctx, "statement executed", attrs...)
}

func scanRows(rows *sql.Rows) ([]adapter.Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []adapter.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(adapter.Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// BeginTransaction implements adapter.Adapter.
//
// On PostgreSQL the options become sql.TxOptions. SQLite has a single
// isolation level; ReadOnly is applied with PRAGMA query_only for the
// lifetime of the transaction.
func (a *Adapter) BeginTransaction(ctx context.Context, opts *adapter.TxOptions) (adapter.TxToken, error) {
	var txOpts *sql.TxOptions
	readOnly := opts != nil && opts.ReadOnly
	sqlite := a.dialect.Name == sqlcompile.SQLite.Name
	if opts != nil && !sqlite {
		txOpts = &sql.TxOptions{Isolation: isolation(opts.Isolation), ReadOnly: opts.ReadOnly}
	}

	tx, err := a.db.BeginTx(ctx, txOpts)
	if err != nil {
		return adapter.TxToken{}, dberr.NewAdapterError(a.dialect.Name, "begin", err)
	}
	if readOnly && sqlite {
		if _, err := tx.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			tx.Rollback()
			return adapter.TxToken{}, dberr.NewAdapterError(a.dialect.Name, "begin", err)
		}
	}

	tok := adapter.TxToken{ID: uuid.Must(uuid.NewV7()).String()}
	a.mu.Lock()
	a.txs[tok.ID] = &txEntry{tx: tx, readOnly: readOnly && sqlite}
	a.mu.Unlock()

	a.logger.DebugContext(ctx, "transaction started", "tx", tok.ID, "read_only", readOnly)
	return tok, nil
}

func isolation(l adapter.IsolationLevel) sql.IsolationLevel {
	switch l {
	case adapter.IsolationReadCommitted:
		return sql.LevelReadCommitted
	case adapter.IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case adapter.IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// take removes the transaction from the registry.
func (a *Adapter) take(tok adapter.TxToken) (*txEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.txs[tok.ID]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", tok.ID)
	}
	delete(a.txs, tok.ID)
	return e, nil
}

func (a *Adapter) end(ctx context.Context, tok adapter.TxToken, op string) error {
	e, err := a.take(tok)
	if err != nil {
		return dberr.NewAdapterError(a.dialect.Name, op, err)
	}
	if e.readOnly {
		// query_only is per connection and would outlive the transaction.
		if _, err := e.tx.ExecContext(ctx, "PRAGMA query_only = OFF"); err != nil {
			e.tx.Rollback()
			return dberr.NewAdapterError(a.dialect.Name, op, err)
		}
	}
	if op == "commit" {
		err = e.tx.Commit()
	} else {
		err = e.tx.Rollback()
	}
	if err != nil {
		return a.classify(op, err)
	}
	a.logger.DebugContext(ctx, "transaction finished", "tx", tok.ID, "op", op)
	return nil
}

// CommitTransaction implements adapter.Adapter.
func (a *Adapter) CommitTransaction(ctx context.Context, tok adapter.TxToken) error {
	return a.end(ctx, tok, "commit")
}

// RollbackTransaction implements adapter.Adapter.
func (a *Adapter) RollbackTransaction(ctx context.Context, tok adapter.TxToken) error {
	return a.end(ctx, tok, "rollback")
}

func (a *Adapter) savepoint(ctx context.Context, tok adapter.TxToken, op, stmt string) error {
	q, err := a.querier(&tok)
	if err != nil {
		return dberr.NewAdapterError(a.dialect.Name, op, err)
	}
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return a.classify(op, err)
	}
	a.logger.DebugContext(ctx, "savepoint", "tx", tok.ID, "op", op, "sql", stmt)
	return nil
}

// CreateSavepoint implements adapter.Adapter.
func (a *Adapter) CreateSavepoint(ctx context.Context, tok adapter.TxToken, name string) error {
	return a.savepoint(ctx, tok, "savepoint", "savepoint "+sqlcompile.QuoteIdent(name))
}

// RollbackToSavepoint implements adapter.Adapter.
func (a *Adapter) RollbackToSavepoint(ctx context.Context, tok adapter.TxToken, name string) error {
	return a.savepoint(ctx, tok, "rollbackToSavepoint", "rollback to savepoint "+sqlcompile.QuoteIdent(name))
}

// ReleaseSavepoint implements adapter.Adapter.
func (a *Adapter) ReleaseSavepoint(ctx context.Context, tok adapter.TxToken, name string) error {
	return a.savepoint(ctx, tok, "releaseSavepoint", "release savepoint "+sqlcompile.QuoteIdent(name))
}

var _ adapter.Adapter = (*Adapter)(nil)
