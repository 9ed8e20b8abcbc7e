package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
)

// TxOption configures a root transaction. Nested transactions ignore them.
type TxOption func(*adapter.TxOptions)

// WithIsolation requests an isolation level.
func WithIsolation(level adapter.IsolationLevel) TxOption {
	return func(o *adapter.TxOptions) { o.Isolation = level }
}

// ReadOnly marks the transaction read-only.
func ReadOnly() TxOption {
	return func(o *adapter.TxOptions) { o.ReadOnly = true }
}

// Transaction runs fn inside a transaction. On a root Database it begins a
// transaction, commits when fn returns nil and rolls back otherwise. On a
// transaction handle it opens a savepoint instead, so an inner failure
// undoes only the inner work. A panic in fn rolls back and is re-raised.
func (db *Database) Transaction(ctx context.Context, fn func(tx *Database) error, opts ...TxOption) error {
	if db.tx != nil {
		return db.nested(ctx, fn)
	}

	var txOpts *adapter.TxOptions
	if len(opts) > 0 {
		txOpts = &adapter.TxOptions{}
		for _, opt := range opts {
			opt(txOpts)
		}
	}

	tok, err := db.adapter.BeginTransaction(ctx, txOpts)
	if err != nil {
		return db.wrap("begin", err)
	}
	db.logger.DebugContext(ctx, "transaction started", "tx", tok.ID)

	tx := db.withTx(&tok)
	committed := false
	defer func() {
		if committed {
			return
		}
		if p := recover(); p != nil {
			if rbErr := db.adapter.RollbackTransaction(context.WithoutCancel(ctx), tok); rbErr != nil {
				db.logger.ErrorContext(ctx, "rollback after panic failed", "tx", tok.ID, "error", rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		committed = true
		db.logger.DebugContext(ctx, "transaction rolling back", "tx", tok.ID, "error", err)
		if rbErr := db.adapter.RollbackTransaction(context.WithoutCancel(ctx), tok); rbErr != nil {
			return errors.Join(err, db.wrap("rollback", rbErr))
		}
		return err
	}
	committed = true
	if err := db.adapter.CommitTransaction(ctx, tok); err != nil {
		return db.wrap("commit", err)
	}
	db.logger.DebugContext(ctx, "transaction committed", "tx", tok.ID)
	return nil
}

// nested runs fn under a savepoint of db's transaction. The handle passed
// to fn carries the same token.
func (db *Database) nested(ctx context.Context, fn func(tx *Database) error) error {
	if !db.adapter.Capabilities().Savepoints {
		return dberr.NewQueryError("nested transactions require savepoint support")
	}
	tok := *db.tx
	name := fmt.Sprintf("sp_%d", db.savepoints.Add(1))

	if err := db.adapter.CreateSavepoint(ctx, tok, name); err != nil {
		return db.wrap("savepoint", err)
	}
	db.logger.DebugContext(ctx, "savepoint created", "tx", tok.ID, "savepoint", name)

	undo := func() error {
		bg := context.WithoutCancel(ctx)
		if err := db.adapter.RollbackToSavepoint(bg, tok, name); err != nil {
			return db.wrap("rollback to savepoint", err)
		}
		if err := db.adapter.ReleaseSavepoint(bg, tok, name); err != nil {
			return db.wrap("release savepoint", err)
		}
		return nil
	}

	done := false
	defer func() {
		if done {
			return
		}
		if p := recover(); p != nil {
			if err := undo(); err != nil {
				db.logger.ErrorContext(ctx, "savepoint rollback after panic failed", "savepoint", name, "error", err)
			}
			panic(p)
		}
	}()

	if err := fn(db); err != nil {
		done = true
		db.logger.DebugContext(ctx, "savepoint rolling back", "tx", tok.ID, "savepoint", name, "error", err)
		if uErr := undo(); uErr != nil {
			return errors.Join(err, uErr)
		}
		return err
	}
	done = true
	if err := db.adapter.ReleaseSavepoint(ctx, tok, name); err != nil {
		return db.wrap("release savepoint", err)
	}
	db.logger.DebugContext(ctx, "savepoint released", "tx", tok.ID, "savepoint", name)
	return nil
}

// atomic runs fn in db's transaction when there is one, and in a fresh
// transaction otherwise.
func (db *Database) atomic(ctx context.Context, fn func(tx *Database) error) error {
	if db.tx != nil {
		return fn(db)
	}
	return db.Transaction(ctx, fn)
}
