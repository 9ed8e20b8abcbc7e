// Package schemafile loads table and relation definitions from CUE.
//
// A schema file declares tables under "tables" and named relations under
// "relations", keyed by their source table:
//
//	tables: accounts: {
//		timestamps: {created: "created_at", updated: "updated_at"}
//		columns: {
//			id:     {type: "int"}
//			email:  {type: "string", match: "^[^@]+@[^@]+$"}
//			status: {type: "string", one_of: ["active", "closed"]}
//			age:    {type: "int", nullable: true, constraint: ">=0 & <=150"}
//		}
//	}
//
//	relations: accounts: projects: {
//		kind:     "hasMany"
//		target:   "projects"
//		order_by: [{column: "id", direction: "asc"}]
//	}
//
// Columns keep their declaration order. A hasManyThrough relation names
// another relation of the same source table in "via".
package schemafile

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/datatable/internal/table"
)

// Error is a schema file problem with its source position.
type Error struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func errorAt(v cue.Value, format string, args ...any) *Error {
	return &Error{
		Path:    v.Path().String(),
		Message: fmt.Sprintf(format, args...),
		Pos:     v.Pos(),
	}
}

// formatCUEError keeps the position of the first CUE error.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{Path: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// Catalog holds the loaded tables and relations.
type Catalog struct {
	tables    []*table.Table
	byName    map[string]*table.Table
	relations map[string]map[string]*table.Relation
}

// Tables returns the tables in declaration order.
func (c *Catalog) Tables() []*table.Table { return slices.Clone(c.tables) }

// Table looks up a table by name.
func (c *Catalog) Table(name string) (*table.Table, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// Relation looks up a relation declared on a source table.
func (c *Catalog) Relation(source, name string) (*table.Relation, bool) {
	r, ok := c.relations[source][name]
	return r, ok
}

// RelationNames returns the sorted relation names declared on source.
func (c *Catalog) RelationNames(source string) []string {
	names := make([]string, 0, len(c.relations[source]))
	for n := range c.relations[source] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load reads every CUE file in dir as one package and builds a catalog.
func Load(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return LoadFile(dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", formatCUEError(err))
	}
	v := ctx.BuildInstance(instances[0])
	return Compile(v)
}

// LoadFile reads a single CUE file.
func LoadFile(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	ctx := cuecontext.New()
	return Compile(ctx.CompileBytes(src, cue.Filename(filepath.Base(path))))
}

// CompileString builds a catalog from CUE source.
func CompileString(src string) (*Catalog, error) {
	return Compile(cuecontext.New().CompileString(src))
}

// Compile builds a catalog from a CUE value holding "tables" and an
// optional "relations" struct.
func Compile(v cue.Value) (*Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	c := &Catalog{
		byName:    make(map[string]*table.Table),
		relations: make(map[string]map[string]*table.Relation),
	}

	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, errorAt(v, "tables is required")
	}
	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		t, err := compileTable(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		c.tables = append(c.tables, t)
		c.byName[t.Name()] = t
	}
	if len(c.tables) == 0 {
		return nil, errorAt(tablesVal, "at least one table is required")
	}

	relVal := v.LookupPath(cue.ParsePath("relations"))
	if relVal.Exists() {
		if err := c.compileRelations(relVal); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func compileTable(name string, v cue.Value) (*table.Table, error) {
	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if !colsVal.Exists() {
		return nil, errorAt(v, "columns is required")
	}
	iter, err := colsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var cols []table.ColumnDef
	for iter.Next() {
		s, err := compileColumn(iter.Value())
		if err != nil {
			return nil, err
		}
		cols = append(cols, table.Column(iter.Label(), s))
	}

	var opts []table.Option
	if pk := v.LookupPath(cue.ParsePath("primary_key")); pk.Exists() {
		keys, err := stringList(pk)
		if err != nil {
			return nil, err
		}
		opts = append(opts, table.WithPrimaryKey(keys...))
	}
	if ts := v.LookupPath(cue.ParsePath("timestamps")); ts.Exists() {
		created, err := optionalString(ts, "created")
		if err != nil {
			return nil, err
		}
		updated, err := optionalString(ts, "updated")
		if err != nil {
			return nil, err
		}
		opts = append(opts, table.WithTimestamps(created, updated))
	}

	t, err := table.New(name, cols, opts...)
	if err != nil {
		return nil, &Error{Path: v.Path().String(), Message: err.Error(), Pos: v.Pos()}
	}
	return t, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalInt(v cue.Value, field string) (*int64, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return nil, nil
	}
	n, err := f.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	return &n, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errorAt(v, "list must not be empty")
	}
	return out, nil
}
