package sqlcompile

import (
	"strconv"

	"github.com/roach88/datatable/internal/dberr"
)

// Dialect holds the per-backend differences the compiler knows about.
type Dialect struct {
	// Name is the adapter dialect tag.
	Name string

	// Numbered placeholders ($1, $2, ...) instead of "?".
	Numbered bool

	// BoolAsInt binds booleans as 1 and 0.
	BoolAsInt bool

	// NativeILike compiles ilike to the ILIKE operator; otherwise it becomes
	// lower(x) like lower(?).
	NativeILike bool

	// LimitAll is the limit emitted when only an offset is given, or empty
	// when the backend accepts a bare OFFSET.
	LimitAll string
}

// SQLite is the reference dialect.
//
// Right and full joins compile to RIGHT JOIN / FULL JOIN, which SQLite only
// accepts from 3.39 on. Older engines reject the statement at prepare time.
var SQLite = Dialect{
	Name:      "sqlite",
	BoolAsInt: true,
	LimitAll:  "-1",
}

// Postgres is the PostgreSQL flavour of the same compiler.
var Postgres = Dialect{
	Name:        "postgres",
	Numbered:    true,
	NativeILike: true,
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	default:
		return Dialect{}, dberr.NewQueryError("unknown sql dialect %q", name)
	}
}

// Placeholder returns the placeholder for the n-th bound value (1-based).
func (d Dialect) Placeholder(n int) string {
	if d.Numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Bind converts v to the form handed to the driver.
func (d Dialect) Bind(v any) any {
	if b, ok := v.(bool); ok && d.BoolAsInt {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}
