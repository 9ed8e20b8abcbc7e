package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// Fs is the filesystem the config and .env files are read from.
	Fs afero.Fs

	// Config is resolved before any subcommand runs.
	Config *Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the datatable CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(afero.NewOsFs())
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	opts := &RootOptions{Fs: fs}

	cmd := &cobra.Command{
		Use:   "datatable",
		Short: "datatable - query tables through one engine",
		Long: `Build and run queries against SQLite, PostgreSQL or an in-memory store
from table and relation definitions written in CUE.

Settings come from flags, DATATABLE_* environment variables, a .env file
and datatable.yaml, in that order of precedence.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := LoadConfig(opts.Fs, opts.ConfigFile, cmd.Root().PersistentFlags())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			opts.Config = cfg
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigFile, "config", "c", "", "config file (default ./datatable.yaml)")
	flags.String("driver", "", "database driver: sqlite3, sqlite, postgres or memory (default sqlite3)")
	flags.String("dsn", "", "data source name")
	flags.String("schema", "", "CUE schema file or directory (default ./schema)")

	cmd.AddCommand(NewTablesCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewExecCommand(opts))
	cmd.AddCommand(NewDDLCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
