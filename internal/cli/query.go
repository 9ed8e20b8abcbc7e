package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/database"
	"github.com/roach88/datatable/internal/predicate"
)

// QueryOptions holds flags for the query and count commands.
type QueryOptions struct {
	*RootOptions
	Where   []string // col=value
	Select  []string
	OrderBy []string // col or col:desc
	Limit   int
	Offset  int
	With    []string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Select rows from a table",
		Long: `Select rows from a table, optionally filtered, ordered, paginated
and with relations eager-loaded.

Values in --where are read as null, true, false, integers or floats
when they parse as one, and as strings otherwise.

Examples:
  datatable query accounts
  datatable query accounts --where status=active --order id:desc --limit 10
  datatable query projects --select id,name,account_id --with account,tags
  datatable query accounts --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd, args[0])
		},
	}

	addFilterFlags(cmd, opts)
	cmd.Flags().StringSliceVarP(&opts.Select, "select", "s", nil, "columns to select (default all)")
	cmd.Flags().StringArrayVarP(&opts.OrderBy, "order", "o", nil, "order by column, col or col:desc (repeatable)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "l", -1, "maximum number of rows")
	cmd.Flags().IntVar(&opts.Offset, "offset", -1, "rows to skip")
	cmd.Flags().StringSliceVar(&opts.With, "with", nil, "relations to eager-load")

	return cmd
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "count <table>",
		Short: "Count the rows of a table",
		Long: `Count the rows of a table matching the filters.

Examples:
  datatable count accounts
  datatable count accounts --where status=paused`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			q, err := buildQuery(s, opts, args[0])
			if err != nil {
				return err
			}
			f := opts.formatter(cmd)
			n, err := q.Count(cmd.Context())
			if err != nil {
				return reportError(f, err)
			}
			if f.Format == "json" {
				return f.Success(map[string]int64{"count": n})
			}
			return f.Success(n)
		},
	}

	addFilterFlags(cmd, opts)
	return cmd
}

func addFilterFlags(cmd *cobra.Command, opts *QueryOptions) {
	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "equality filter col=value (repeatable)")
}

func runQuery(opts *QueryOptions, cmd *cobra.Command, tableName string) error {
	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	q, err := buildQuery(s, opts, tableName)
	if err != nil {
		return err
	}
	for _, ob := range opts.OrderBy {
		col, dir, err := parseOrderFlag(ob)
		if err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}
		q = q.OrderBy(col, dir)
	}
	if opts.Limit >= 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset >= 0 {
		q = q.Offset(opts.Offset)
	}
	if len(opts.Select) > 0 {
		q = q.Select(opts.Select...)
	}
	for _, name := range opts.With {
		rel, ok := s.catalog.Relation(tableName, name)
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown relation %q on %s", name, tableName))
		}
		q = q.With(name, rel)
	}

	f := opts.formatter(cmd)
	f.VerboseLog("query %s on %s", tableName, opts.Config.Driver)
	rows, err := q.All(cmd.Context())
	if err != nil {
		return reportError(f, err)
	}
	return f.Rows(rows, opts.Select)
}

func buildQuery(s *session, opts *QueryOptions, tableName string) (*database.QueryBuilder, error) {
	t, err := s.table(tableName)
	if err != nil {
		return nil, err
	}
	where, err := parseAssignments(opts.Where)
	if err != nil {
		return nil, NewExitError(ExitCommandError, err.Error())
	}
	q := s.db.Query(t)
	if len(where) > 0 {
		q = q.Where(predicate.Where(where))
	}
	return q, nil
}

// parseAssignments reads col=value pairs.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		col, raw, ok := strings.Cut(p, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid filter %q: want col=value", p)
		}
		out[col] = parseValue(raw)
	}
	return out, nil
}

// parseValue reads a command-line literal.
func parseValue(raw string) any {
	switch raw {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if !strings.ContainsAny(raw, "0123456789") {
		return raw
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func parseOrderFlag(s string) (string, adapter.Direction, error) {
	col, dir, found := strings.Cut(s, ":")
	if col == "" {
		return "", "", fmt.Errorf("invalid order %q", s)
	}
	if !found {
		return col, adapter.Asc, nil
	}
	switch d := adapter.Direction(strings.ToLower(dir)); d {
	case adapter.Asc, adapter.Desc:
		return col, d, nil
	}
	return "", "", fmt.Errorf("invalid order direction %q: must be asc or desc", dir)
}
