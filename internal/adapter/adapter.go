// Package adapter defines the contract between the query runtime and a
// storage backend: the statement algebra, capability flags, and the
// transaction/savepoint lifecycle.
//
// # Statements
//
// The runtime emits one Statement per round trip:
//
//	Select, Count, Exists           reads
//	Insert, InsertMany              inserts
//	Update, Delete, Upsert          writes
//	Raw                             pre-built SQL
//
// # Transactions
//
// BeginTransaction returns a TxToken. Every statement executed inside the
// transaction carries that token so the adapter can route it to the right
// connection or session. Nested scopes are savepoints on the same token.
//
// # Capabilities
//
// Capabilities are declared, never probed. The runtime reads them before
// building capability-dependent statements (RETURNING, savepoints, upsert).
package adapter

import (
	"context"
)

// Row is one result row keyed by column name or alias.
type Row = map[string]any

// Capabilities declares what an adapter supports natively.
type Capabilities struct {
	// Returning means write statements may carry a RETURNING list.
	Returning bool

	// Savepoints means nested transactions can be emulated with savepoints.
	Savepoints bool

	// Upsert means the Upsert statement is supported.
	Upsert bool

	// InsertID means Result.InsertID is reported for inserts into tables with
	// a generated integer key.
	InsertID bool
}

// TxToken identifies an in-flight transaction.
type TxToken struct {
	ID   string
	Meta map[string]string
}

// IsolationLevel is a transaction isolation hint.
type IsolationLevel string

const (
	IsolationDefault        IsolationLevel = ""
	IsolationReadCommitted  IsolationLevel = "read committed"
	IsolationRepeatableRead IsolationLevel = "repeatable read"
	IsolationSerializable   IsolationLevel = "serializable"
)

// TxOptions are best-effort hints. An adapter may ignore them or apply them
// eagerly when the transaction begins.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// Request is one statement, optionally bound to a transaction.
type Request struct {
	Statement Statement
	Tx        *TxToken
}

// Result is what an adapter returns for a statement.
type Result struct {
	Rows         []Row
	AffectedRows int64

	// InsertID is the generated key of the last inserted row, or nil.
	InsertID any
}

// Adapter is implemented by every storage backend.
type Adapter interface {
	// Dialect is a short tag such as "sqlite" or "memory".
	Dialect() string

	// Capabilities reports native support for optional features.
	Capabilities() Capabilities

	// Execute runs one statement.
	Execute(ctx context.Context, req Request) (Result, error)

	BeginTransaction(ctx context.Context, opts *TxOptions) (TxToken, error)
	CommitTransaction(ctx context.Context, tx TxToken) error
	RollbackTransaction(ctx context.Context, tx TxToken) error

	CreateSavepoint(ctx context.Context, tx TxToken, name string) error
	RollbackToSavepoint(ctx context.Context, tx TxToken, name string) error
	ReleaseSavepoint(ctx context.Context, tx TxToken, name string) error
}
