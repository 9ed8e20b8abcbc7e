package database

import (
	"strings"

	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/sqlcompile"
)

func isNameRune(r byte) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// bindNamed rewrites :name parameters into positional placeholders.
// Quoted strings and identifiers are copied untouched, and a double colon
// (a PostgreSQL cast) is not a parameter.
func bindNamed(dialectName, sql string, params map[string]any) (string, []any, error) {
	d, err := sqlcompile.DialectFor(dialectName)
	if err != nil {
		d = sqlcompile.SQLite
	}

	var sb strings.Builder
	var args []any
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			sb.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			sb.WriteByte(c)
		case c == ':' && i+1 < len(sql) && sql[i+1] == ':':
			sb.WriteString("::")
			i++
		case c == ':' && i+1 < len(sql) && isNameRune(sql[i+1]):
			j := i + 1
			for j < len(sql) && isNameRune(sql[j]) {
				j++
			}
			name := sql[i+1 : j]
			v, ok := params[name]
			if !ok {
				return "", nil, dberr.NewQueryError("missing value for parameter :%s", name)
			}
			args = append(args, v)
			sb.WriteString(d.Placeholder(len(args)))
			i = j - 1
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), args, nil
}
