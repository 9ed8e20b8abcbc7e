package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/datatable/internal/adapter"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Params []string // name=value for :name parameters
}

// ExecResult is the JSON payload of the exec command.
type ExecResult struct {
	Rows         []adapter.Row `json:"rows,omitempty"`
	AffectedRows int64         `json:"affected_rows"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <sql> [args...]",
		Short: "Run a raw SQL statement",
		Long: `Run a raw SQL statement. Positional arguments bind to the
dialect's placeholders in order; --param binds :name parameters instead.

Examples:
  datatable exec "delete from accounts where status = ?" closed
  datatable exec "select * from accounts where id = :id" --param id=3`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, cmd, args[0], args[1:])
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "named parameter name=value (repeatable)")
	return cmd
}

func runExec(opts *ExecOptions, cmd *cobra.Command, sql string, rawArgs []string) error {
	if len(opts.Params) > 0 && len(rawArgs) > 0 {
		return NewExitError(ExitCommandError, "use either positional arguments or --param, not both")
	}
	if opts.Config.Driver == DriverMemory {
		return NewExitError(ExitCommandError, "exec needs a SQL driver")
	}

	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	f := opts.formatter(cmd)
	var res adapter.Result
	if len(opts.Params) > 0 {
		params, perr := parseAssignments(opts.Params)
		if perr != nil {
			return NewExitError(ExitCommandError, perr.Error())
		}
		res, err = s.db.ExecNamed(cmd.Context(), sql, params)
	} else {
		args := make([]any, len(rawArgs))
		for i, a := range rawArgs {
			args[i] = parseValue(a)
		}
		res, err = s.db.Exec(cmd.Context(), sql, args...)
	}
	if err != nil {
		return reportError(f, err)
	}

	if f.Format == "json" {
		return f.Success(ExecResult{Rows: res.Rows, AffectedRows: res.AffectedRows})
	}
	if len(res.Rows) > 0 {
		return f.Rows(res.Rows, nil)
	}
	return f.Success(fmt.Sprintf("%d rows affected", res.AffectedRows))
}
