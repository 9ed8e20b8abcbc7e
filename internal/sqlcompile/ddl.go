package sqlcompile

import (
	"strings"

	"github.com/roach88/datatable/internal/schema"
	"github.com/roach88/datatable/internal/table"
)

var columnTypes = map[string]map[schema.Type]string{
	"sqlite": {
		schema.TypeInt:    "INTEGER",
		schema.TypeString: "TEXT",
		schema.TypeFloat:  "REAL",
		schema.TypeBool:   "BOOLEAN",
		schema.TypeTime:   "TIMESTAMP",
		schema.TypeJSON:   "TEXT",
	},
	"postgres": {
		schema.TypeInt:    "BIGINT",
		schema.TypeString: "TEXT",
		schema.TypeFloat:  "DOUBLE PRECISION",
		schema.TypeBool:   "BOOLEAN",
		schema.TypeTime:   "TIMESTAMPTZ",
		schema.TypeJSON:   "JSONB",
		schema.TypeAny:    "TEXT",
	},
}

// CreateTable renders a "create table if not exists" statement for t.
// Column types come from the column schemas; SQLite leaves untyped columns
// without a declared type. A single integer primary key becomes the
// backend's auto-assigned key.
func (c *Compiler) CreateTable(t *table.Table) string {
	types := columnTypes[c.dialect.Name]
	pk := t.PrimaryKey()
	autoKey := ""
	if len(pk) == 1 {
		if s, _ := t.Schema(pk[0]); schema.TypeOf(s) == schema.TypeInt {
			autoKey = pk[0]
		}
	}

	defs := make([]string, 0, len(t.Columns())+1)
	for _, col := range t.Columns() {
		s, _ := t.Schema(col)
		def := QuoteIdent(col)
		if col == autoKey {
			if c.dialect.Name == "postgres" {
				def += " BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
			} else {
				def += " INTEGER PRIMARY KEY"
			}
		} else if typ := types[schema.TypeOf(s)]; typ != "" {
			def += " " + typ
		}
		defs = append(defs, def)
	}
	if autoKey == "" {
		defs = append(defs, "PRIMARY KEY ("+quoteList(pk)+")")
	}

	var sb strings.Builder
	sb.WriteString("create table if not exists ")
	sb.WriteString(QuoteIdent(t.Name()))
	sb.WriteString(" (\n  ")
	sb.WriteString(strings.Join(defs, ",\n  "))
	sb.WriteString("\n)")
	return sb.String()
}
