package database

import (
	"context"
	"slices"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/predicate"
	"github.com/roach88/datatable/internal/table"
)

// Values maps column names to the values written to them.
type Values map[string]any

// WriteResult is the outcome of a write. Rows is set only when Returning
// was requested.
type WriteResult struct {
	Rows         []adapter.Row
	AffectedRows int64
	InsertID     any
}

type writeConfig struct {
	returning []string
	conflict  []string
	update    []string
	doUpdate  bool
	doNothing bool
}

// WriteOption configures a write.
type WriteOption func(*writeConfig)

// Returning asks for the written rows, projected to cols. With no columns
// every table column is returned.
func Returning(cols ...string) WriteOption {
	return func(c *writeConfig) {
		c.returning = slices.Clone(cols)
		if c.returning == nil {
			c.returning = []string{}
		}
	}
}

// OnConflict sets the upsert conflict target. Defaults to the primary key.
func OnConflict(cols ...string) WriteOption {
	return func(c *writeConfig) { c.conflict = slices.Clone(cols) }
}

// DoUpdate sets the columns an upsert overwrites on conflict. Defaults to
// every inserted column outside the conflict target.
func DoUpdate(cols ...string) WriteOption {
	return func(c *writeConfig) {
		c.update = slices.Clone(cols)
		c.doUpdate = true
	}
}

// DoNothing makes an upsert leave conflicting rows untouched.
func DoNothing() WriteOption {
	return func(c *writeConfig) { c.doNothing = true }
}

func applyWrite(opts []WriteOption) writeConfig {
	var c writeConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c writeConfig) wantsRows() bool { return c.returning != nil }

// returningColumns resolves the requested columns against t.
func (c writeConfig) returningColumns(t *table.Table) ([]string, error) {
	if c.returning == nil {
		return nil, nil
	}
	if len(c.returning) == 0 {
		return t.Columns(), nil
	}
	for _, col := range c.returning {
		if !t.HasColumn(col) {
			return nil, tableQueryError(t, "returning column %q does not exist", col)
		}
	}
	return c.returning, nil
}

func tableQueryError(t *table.Table, format string, args ...any) *dberr.Error {
	err := dberr.NewQueryError(format, args...)
	err.Table = t.Name()
	return err
}

type writeMode int

const (
	modeInsert writeMode = iota
	modeUpdate
)

// prepareValues stamps timestamps, runs every value through its column
// schema and returns the assignments in table column order.
func (db *Database) prepareValues(t *table.Table, values Values, mode writeMode) (adapter.Assignments, error) {
	for col := range values {
		if !t.HasColumn(col) {
			return nil, tableQueryError(t, "unknown column %q", col)
		}
	}

	stamped := make(Values, len(values)+2)
	for k, v := range values {
		stamped[k] = v
	}
	created, updated := t.Timestamps()
	now := db.now()
	if mode == modeInsert && created != "" {
		if _, ok := stamped[created]; !ok {
			stamped[created] = now
		}
	}
	if updated != "" {
		if _, ok := stamped[updated]; !ok {
			stamped[updated] = now
		}
	}

	out := make(adapter.Assignments, 0, len(stamped))
	for _, col := range t.Columns() {
		v, ok := stamped[col]
		if !ok {
			continue
		}
		s, _ := t.Schema(col)
		res := s.Parse(v)
		if !res.OK() {
			return nil, dberr.NewValidationError(t.Name(), col, res.Issues)
		}
		out = append(out, adapter.Assignment{Column: col, Value: res.Value})
	}
	return out, nil
}

// bind returns q running on db.
func (q *QueryBuilder) bind(db *Database) *QueryBuilder {
	return &QueryBuilder{db: db, table: q.table, st: q.st}
}

// fetchByKeys selects cols of the rows of t keyed by keys, in key order.
// Keys with no row are skipped.
func (db *Database) fetchByKeys(ctx context.Context, t *table.Table, keyCols []string, keys [][]any, cols []string) ([]adapter.Row, error) {
	if len(keys) == 0 {
		return []adapter.Row{}, nil
	}
	sel := slices.Clone(cols)
	for _, c := range keyCols {
		if !slices.Contains(sel, c) {
			sel = append(sel, c)
		}
	}
	rows, err := db.Query(t).Select(sel...).Where(keyFilter(keyCols, keys)).All(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]adapter.Row, len(rows))
	for _, r := range rows {
		if k, ok := tupleKey(r, keyCols); ok {
			byKey[k] = r
		}
	}
	out := make([]adapter.Row, 0, len(keys))
	for _, key := range keys {
		k, ok := tupleKey(tupleRow(keyCols, key), keyCols)
		if !ok {
			continue
		}
		if r, found := byKey[k]; found {
			out = append(out, project(r, cols))
		}
	}
	return out, nil
}

func project(row adapter.Row, cols []string) adapter.Row {
	out := make(adapter.Row, len(cols))
	for _, c := range cols {
		out[c] = row[c]
	}
	return out
}

// keyOf returns the values of cols in as, or false when one is missing or
// nil.
func keyOf(as adapter.Assignments, cols []string) ([]any, bool) {
	key := make([]any, len(cols))
	for i, c := range cols {
		v, ok := as.Get(c)
		if !ok || v == nil {
			return nil, false
		}
		key[i] = v
	}
	return key, true
}

// Insert writes one row.
func (q *QueryBuilder) Insert(ctx context.Context, values Values, opts ...WriteOption) (WriteResult, error) {
	return q.InsertMany(ctx, []Values{values}, opts...)
}

// InsertMany writes rows in one statement. Without native RETURNING the
// written rows are read back by primary key, taken from the values or from
// the adapter-reported insert id.
func (q *QueryBuilder) InsertMany(ctx context.Context, rows []Values, opts ...WriteOption) (WriteResult, error) {
	t := q.table
	cfg := applyWrite(opts)
	cols, err := cfg.returningColumns(t)
	if err != nil {
		return WriteResult{}, err
	}
	if len(rows) == 0 {
		out := WriteResult{}
		if cfg.wantsRows() {
			out.Rows = []adapter.Row{}
		}
		return out, nil
	}

	prepared := make([]adapter.Assignments, len(rows))
	for i, v := range rows {
		if prepared[i], err = q.db.prepareValues(t, v, modeInsert); err != nil {
			return WriteResult{}, err
		}
	}

	caps := q.db.adapter.Capabilities()
	native := cfg.wantsRows() && caps.Returning
	emulate := cfg.wantsRows() && !caps.Returning

	pk := t.PrimaryKey()
	var keys [][]any
	generated := false
	if emulate {
		keys, generated, err = insertKeys(t, prepared, caps)
		if err != nil {
			return WriteResult{}, err
		}
	}

	var stmt adapter.Statement
	if len(prepared) == 1 {
		ins := adapter.Insert{Table: t.Name(), Values: prepared[0]}
		if native {
			ins.Returning = cols
		}
		stmt = ins
	} else {
		ins := adapter.InsertMany{Table: t.Name(), Rows: prepared}
		if native {
			ins.Returning = cols
		}
		stmt = ins
	}

	res, err := q.db.execute(ctx, stmt)
	if err != nil {
		return WriteResult{}, err
	}
	out := WriteResult{AffectedRows: res.AffectedRows, InsertID: res.InsertID}
	switch {
	case native:
		out.Rows = orEmpty(res.Rows)
	case emulate:
		if generated {
			if keys, err = generatedKeys(res.InsertID, len(prepared)); err != nil {
				return WriteResult{}, tableQueryError(t, "returning cannot be reconstructed: %v", err)
			}
		}
		if out.Rows, err = q.db.fetchByKeys(ctx, t, pk, keys, cols); err != nil {
			return WriteResult{}, err
		}
	}
	return out, nil
}

// insertKeys derives the primary keys of rows before they are written.
// Either every row carries its key, or none does and the key is a single
// column the adapter reports through the insert id.
func insertKeys(t *table.Table, rows []adapter.Assignments, caps adapter.Capabilities) ([][]any, bool, error) {
	pk := t.PrimaryKey()
	keys := make([][]any, 0, len(rows))
	missing := 0
	for _, r := range rows {
		if key, ok := keyOf(r, pk); ok {
			keys = append(keys, key)
		} else {
			missing++
		}
	}
	switch {
	case missing == 0:
		return keys, false, nil
	case missing == len(rows) && len(pk) == 1 && caps.InsertID:
		return nil, true, nil
	}
	return nil, false, tableQueryError(t, "returning cannot be reconstructed: primary key %v is not derivable from the values", pk)
}

// generatedKeys expands the last insert id of n rows into their ids. The
// ids of one multi-row insert are assumed contiguous.
func generatedKeys(last any, n int) ([][]any, error) {
	if last == nil {
		return nil, dberr.NewQueryError("adapter reported no insert id")
	}
	id, err := toInt64(last)
	if err != nil {
		return nil, err
	}
	keys := make([][]any, n)
	for i := range n {
		keys[i] = []any{id - int64(n-1-i)}
	}
	return keys, nil
}

func orEmpty(rows []adapter.Row) []adapter.Row {
	if rows == nil {
		return []adapter.Row{}
	}
	return rows
}

// scoped reports whether the query narrows its rows by more than a where
// clause, so a write cannot be expressed as a plain predicate.
func (q *QueryBuilder) scoped() bool {
	s := q.st
	return len(s.joins) > 0 || len(s.orderBy) > 0 || s.limit != nil || s.offset != nil ||
		len(s.groupBy) > 0 || len(s.having) > 0
}

// keyQuery selects the qualified primary key of every row the query
// matches, keeping its order, limit and offset.
func (q *QueryBuilder) keyQuery(extra []string) *QueryBuilder {
	pk := q.table.PrimaryKey()
	return q.derive(func(s *state) {
		s.columns = nil
		s.with = nil
		s.distinct = false
		for _, c := range slices.Concat(pk, extra) {
			if slices.ContainsFunc(s.columns, func(sel adapter.Selection) bool { return sel.Alias == c }) {
				continue
			}
			s.columns = append(s.columns, adapter.Selection{Alias: c, Column: q.table.Name() + "." + c})
		}
	})
}

// Update sets values on every matched row. An ordered, limited, offset or
// joined query is resolved to its primary-key set first, inside a
// transaction, and the write is issued against that set.
func (q *QueryBuilder) Update(ctx context.Context, values Values, opts ...WriteOption) (WriteResult, error) {
	t := q.table
	if err := q.validate(); err != nil {
		return WriteResult{}, err
	}
	if len(values) == 0 {
		return WriteResult{}, tableQueryError(t, "update sets no columns")
	}
	cfg := applyWrite(opts)
	cols, err := cfg.returningColumns(t)
	if err != nil {
		return WriteResult{}, err
	}
	set, err := q.db.prepareValues(t, values, modeUpdate)
	if err != nil {
		return WriteResult{}, err
	}

	caps := q.db.adapter.Capabilities()
	native := cfg.wantsRows() && caps.Returning
	emulate := cfg.wantsRows() && !caps.Returning

	if !q.scoped() && !emulate {
		stmt := adapter.Update{Table: t.Name(), Set: set, Where: q.st.where}
		if native {
			stmt.Returning = cols
		}
		return q.db.write(ctx, stmt, cfg)
	}

	var out WriteResult
	err = q.db.atomic(ctx, func(tx *Database) error {
		pk := t.PrimaryKey()
		keyRows, err := q.bind(tx).keyQuery(nil).All(ctx)
		if err != nil {
			return err
		}
		keys := tuples(keyRows, pk)
		if len(keys) == 0 {
			if cfg.wantsRows() {
				out.Rows = []adapter.Row{}
			}
			return nil
		}

		stmt := adapter.Update{Table: t.Name(), Set: set, Where: []predicate.Predicate{keyFilter(pk, keys)}}
		if native {
			stmt.Returning = cols
		}
		if out, err = tx.write(ctx, stmt, cfg); err != nil {
			return err
		}
		if !emulate {
			return nil
		}

		// Primary key columns the update assigns move the rows.
		moved := make([][]any, len(keys))
		for i, key := range keys {
			moved[i] = slices.Clone(key)
			for j, c := range pk {
				if v, ok := set.Get(c); ok {
					moved[i][j] = v
				}
			}
		}
		out.Rows, err = tx.fetchByKeys(ctx, t, pk, moved, cols)
		return err
	})
	if err != nil {
		return WriteResult{}, err
	}
	return out, nil
}

// Delete removes every matched row. Scoping follows Update.
func (q *QueryBuilder) Delete(ctx context.Context, opts ...WriteOption) (WriteResult, error) {
	t := q.table
	if err := q.validate(); err != nil {
		return WriteResult{}, err
	}
	cfg := applyWrite(opts)
	cols, err := cfg.returningColumns(t)
	if err != nil {
		return WriteResult{}, err
	}

	caps := q.db.adapter.Capabilities()
	native := cfg.wantsRows() && caps.Returning
	emulate := cfg.wantsRows() && !caps.Returning

	if !q.scoped() && !emulate {
		stmt := adapter.Delete{Table: t.Name(), Where: q.st.where}
		if native {
			stmt.Returning = cols
		}
		return q.db.write(ctx, stmt, cfg)
	}

	var out WriteResult
	err = q.db.atomic(ctx, func(tx *Database) error {
		pk := t.PrimaryKey()
		var extra []string
		if emulate {
			extra = cols
		}
		captured, err := q.bind(tx).keyQuery(extra).All(ctx)
		if err != nil {
			return err
		}
		keys := tuples(captured, pk)
		if len(keys) == 0 {
			if cfg.wantsRows() {
				out.Rows = []adapter.Row{}
			}
			return nil
		}

		stmt := adapter.Delete{Table: t.Name(), Where: []predicate.Predicate{keyFilter(pk, keys)}}
		if native {
			stmt.Returning = cols
		}
		if out, err = tx.write(ctx, stmt, cfg); err != nil {
			return err
		}
		if emulate {
			// A join repeats a row once per match; report each deleted row once.
			seen := map[string]bool{}
			out.Rows = make([]adapter.Row, 0, len(keys))
			for _, r := range captured {
				k, ok := tupleKey(r, pk)
				if !ok || seen[k] {
					continue
				}
				seen[k] = true
				out.Rows = append(out.Rows, project(r, cols))
			}
		}
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}
	return out, nil
}

func (db *Database) write(ctx context.Context, stmt adapter.Statement, cfg writeConfig) (WriteResult, error) {
	res, err := db.execute(ctx, stmt)
	if err != nil {
		return WriteResult{}, err
	}
	out := WriteResult{AffectedRows: res.AffectedRows, InsertID: res.InsertID}
	if cfg.wantsRows() {
		out.Rows = orEmpty(res.Rows)
	}
	return out, nil
}

// Upsert inserts values or, when a row with the same conflict target
// exists, updates it. With DoNothing a conflicting row is left as is and no
// row is returned for it.
func (q *QueryBuilder) Upsert(ctx context.Context, values Values, opts ...WriteOption) (WriteResult, error) {
	t := q.table
	caps := q.db.adapter.Capabilities()
	if !caps.Upsert {
		return WriteResult{}, tableQueryError(t, "upsert is not supported by the %s adapter", q.db.adapter.Dialect())
	}
	if len(values) == 0 {
		return WriteResult{}, tableQueryError(t, "upsert has no columns")
	}
	cfg := applyWrite(opts)
	cols, err := cfg.returningColumns(t)
	if err != nil {
		return WriteResult{}, err
	}
	prepared, err := q.db.prepareValues(t, values, modeInsert)
	if err != nil {
		return WriteResult{}, err
	}

	conflict := cfg.conflict
	if len(conflict) == 0 {
		conflict = t.PrimaryKey()
	}
	for _, c := range conflict {
		if !t.HasColumn(c) {
			return WriteResult{}, tableQueryError(t, "conflict column %q does not exist", c)
		}
	}

	var update []string
	switch {
	case cfg.doNothing:
	case cfg.doUpdate:
		for _, c := range cfg.update {
			if _, ok := prepared.Get(c); !ok {
				return WriteResult{}, tableQueryError(t, "update column %q is not among the upserted values", c)
			}
		}
		update = cfg.update
	default:
		created, _ := t.Timestamps()
		for _, c := range prepared.Columns() {
			if c != created && !slices.Contains(conflict, c) {
				update = append(update, c)
			}
		}
	}

	native := cfg.wantsRows() && caps.Returning
	emulate := cfg.wantsRows() && !caps.Returning
	stmt := adapter.Upsert{Table: t.Name(), Values: prepared, Conflict: conflict, Update: update}

	if !emulate {
		if native {
			stmt.Returning = cols
		}
		return q.db.write(ctx, stmt, cfg)
	}

	key, ok := keyOf(prepared, conflict)
	if !ok {
		return WriteResult{}, tableQueryError(t, "returning cannot be reconstructed: conflict target %v is not in the values", conflict)
	}
	var out WriteResult
	err = q.db.atomic(ctx, func(tx *Database) error {
		var (
			existed bool
			err     error
		)
		if len(update) == 0 {
			existed, err = tx.Query(t).Where(keyFilter(conflict, [][]any{key})).Exists(ctx)
			if err != nil {
				return err
			}
		}
		if out, err = tx.write(ctx, stmt, cfg); err != nil {
			return err
		}
		if existed {
			out.Rows = []adapter.Row{}
			return nil
		}
		out.Rows, err = tx.fetchByKeys(ctx, t, conflict, [][]any{key}, cols)
		return err
	})
	if err != nil {
		return WriteResult{}, err
	}
	return out, nil
}
