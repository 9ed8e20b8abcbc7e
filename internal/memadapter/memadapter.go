// Package memadapter is an in-memory adapter used as the reference backend
// in tests and in the conformance harness.
//
// Table data is deep-copied when a transaction or savepoint begins. A commit
// replaces the committed data wholesale with the transaction's copy; a
// rollback drops the copy. Writes outside a transaction apply directly.
//
// The adapter evaluates predicates itself and does not understand raw SQL,
// group by, having, right joins or full joins.
package memadapter

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/table"
)

// Dialect is the dialect tag reported by the adapter.
const Dialect = "memory"

// DefaultCapabilities are the capabilities of a new adapter.
var DefaultCapabilities = adapter.Capabilities{
	Returning:  true,
	Savepoints: true,
	Upsert:     true,
	InsertID:   true,
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithCapabilities overrides the advertised capabilities. Features switched
// off are rejected when used.
func WithCapabilities(caps adapter.Capabilities) Option {
	return func(a *Adapter) { a.caps = caps }
}

type tableData struct {
	rows   []adapter.Row
	nextID int64
}

type dataset map[string]*tableData

func (d dataset) clone() dataset {
	out := make(dataset, len(d))
	for name, td := range d {
		rows := make([]adapter.Row, len(td.rows))
		for i, r := range td.rows {
			rows[i] = maps.Clone(r)
		}
		out[name] = &tableData{rows: rows, nextID: td.nextID}
	}
	return out
}

type savepoint struct {
	name string
	data dataset
}

type txState struct {
	data       dataset
	savepoints []savepoint
}

// Adapter stores rows of the registered tables in memory.
type Adapter struct {
	mu     sync.Mutex
	tables map[string]*table.Table
	data   dataset
	txs    map[string]*txState
	caps   adapter.Capabilities
}

// New creates an adapter holding the given tables, all empty.
func New(tables []*table.Table, opts ...Option) *Adapter {
	a := &Adapter{
		tables: make(map[string]*table.Table, len(tables)),
		data:   make(dataset, len(tables)),
		txs:    make(map[string]*txState),
		caps:   DefaultCapabilities,
	}
	for _, t := range tables {
		a.tables[t.Name()] = t
		a.data[t.Name()] = &tableData{nextID: 1}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dialect implements adapter.Adapter.
func (a *Adapter) Dialect() string { return Dialect }

// Capabilities implements adapter.Adapter.
func (a *Adapter) Capabilities() adapter.Capabilities { return a.caps }

// Rows returns a copy of the committed rows of a table in storage order.
func (a *Adapter) Rows(name string) []adapter.Row {
	a.mu.Lock()
	defer a.mu.Unlock()
	td, ok := a.data[name]
	if !ok {
		return nil
	}
	out := make([]adapter.Row, len(td.rows))
	for i, r := range td.rows {
		out[i] = maps.Clone(r)
	}
	return out
}

// Load replaces the committed rows of a table. Missing columns are stored
// as nil.
func (a *Adapter) Load(name string, rows []adapter.Row) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tables[name]
	if !ok {
		return fmt.Errorf("unknown table %q", name)
	}
	td := &tableData{nextID: 1}
	for _, r := range rows {
		stored := make(adapter.Row, len(t.Columns()))
		for _, c := range t.Columns() {
			stored[c] = r[c]
		}
		td.rows = append(td.rows, stored)
		td.observeID(t, stored)
	}
	a.data[name] = td
	return nil
}

// InTransaction reports whether a transaction is open.
func (a *Adapter) InTransaction() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.txs) > 0
}

// Execute implements adapter.Adapter.
func (a *Adapter) Execute(ctx context.Context, req adapter.Request) (adapter.Result, error) {
	if err := ctx.Err(); err != nil {
		return adapter.Result{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	data := a.data
	if req.Tx != nil {
		tx, ok := a.txs[req.Tx.ID]
		if !ok {
			return adapter.Result{}, fmt.Errorf("unknown transaction %s", req.Tx.ID)
		}
		data = tx.data
	}
	return a.execute(data, req.Statement)
}

// BeginTransaction implements adapter.Adapter. Options are ignored.
func (a *Adapter) BeginTransaction(ctx context.Context, _ *adapter.TxOptions) (adapter.TxToken, error) {
	if err := ctx.Err(); err != nil {
		return adapter.TxToken{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	tok := adapter.TxToken{ID: uuid.Must(uuid.NewV7()).String()}
	a.txs[tok.ID] = &txState{data: a.data.clone()}
	return tok, nil
}

func (a *Adapter) tx(tok adapter.TxToken) (*txState, error) {
	tx, ok := a.txs[tok.ID]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", tok.ID)
	}
	return tx, nil
}

// CommitTransaction implements adapter.Adapter.
func (a *Adapter) CommitTransaction(_ context.Context, tok adapter.TxToken) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	tx, err := a.tx(tok)
	if err != nil {
		return err
	}
	a.data = tx.data
	delete(a.txs, tok.ID)
	return nil
}

// RollbackTransaction implements adapter.Adapter.
func (a *Adapter) RollbackTransaction(_ context.Context, tok adapter.TxToken) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.tx(tok); err != nil {
		return err
	}
	delete(a.txs, tok.ID)
	return nil
}

// CreateSavepoint implements adapter.Adapter.
func (a *Adapter) CreateSavepoint(_ context.Context, tok adapter.TxToken, name string) error {
	if !a.caps.Savepoints {
		return fmt.Errorf("savepoints are not supported")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	tx, err := a.tx(tok)
	if err != nil {
		return err
	}
	tx.savepoints = append(tx.savepoints, savepoint{name: name, data: tx.data.clone()})
	return nil
}

func (tx *txState) find(name string) (int, error) {
	for i := len(tx.savepoints) - 1; i >= 0; i-- {
		if tx.savepoints[i].name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("no such savepoint: %s", name)
}

// RollbackToSavepoint implements adapter.Adapter. The savepoint stays
// active; later savepoints are discarded.
func (a *Adapter) RollbackToSavepoint(_ context.Context, tok adapter.TxToken, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	tx, err := a.tx(tok)
	if err != nil {
		return err
	}
	i, err := tx.find(name)
	if err != nil {
		return err
	}
	tx.data = tx.savepoints[i].data.clone()
	tx.savepoints = tx.savepoints[:i+1]
	return nil
}

// ReleaseSavepoint implements adapter.Adapter. The savepoint and every
// later one are discarded; their changes stay.
func (a *Adapter) ReleaseSavepoint(_ context.Context, tok adapter.TxToken, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	tx, err := a.tx(tok)
	if err != nil {
		return err
	}
	i, err := tx.find(name)
	if err != nil {
		return err
	}
	tx.savepoints = slices.Delete(tx.savepoints, i, len(tx.savepoints))
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
