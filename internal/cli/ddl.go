package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/datatable/internal/sqlcompile"
)

// DDLOptions holds flags for the ddl command.
type DDLOptions struct {
	*RootOptions
	Apply bool
}

// NewDDLCommand creates the ddl command.
func NewDDLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DDLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print or apply CREATE TABLE statements for the schema",
		Long: `Print a CREATE TABLE IF NOT EXISTS statement for every table of the
schema in the configured driver's dialect. With --apply the statements
are run against the database instead.

Examples:
  datatable ddl --driver postgres
  datatable ddl --dsn ./app.db --apply`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			if opts.Apply {
				s, err := openSession(opts.RootOptions, cmd)
				if err != nil {
					return err
				}
				defer s.close()
				if err := s.createTables(cmd.Context()); err != nil {
					return reportError(f, err)
				}
				names := make([]string, 0)
				for _, t := range s.catalog.Tables() {
					names = append(names, t.Name())
				}
				if f.Format == "json" {
					return f.Success(map[string][]string{"created": names})
				}
				okStyle.Fprint(cmd.OutOrStdout(), "✓ ")
				return f.Success("created " + strings.Join(names, ", "))
			}

			catalog, err := loadCatalog(opts.Config)
			if err != nil {
				return err
			}
			dialect, err := dialectFor(opts.Config.Driver)
			if err != nil {
				return err
			}
			compiler := sqlcompile.New(dialect)
			stmts := make([]string, 0)
			for _, t := range catalog.Tables() {
				stmts = append(stmts, compiler.CreateTable(t))
			}
			if f.Format == "json" {
				return f.Success(map[string][]string{"statements": stmts})
			}
			return f.Success(strings.Join(stmts, ";\n\n") + ";")
		},
	}

	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "run the statements against the database")
	return cmd
}
