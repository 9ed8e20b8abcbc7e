package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/datatable/internal/schema"
)

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableInfo describes one table of the schema catalog.
type TableInfo struct {
	Name       string       `json:"name"`
	Columns    []ColumnInfo `json:"columns"`
	PrimaryKey []string     `json:"primary_key"`
	Timestamps []string     `json:"timestamps,omitempty"`
	Relations  []string     `json:"relations,omitempty"`
}

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables and relations of the schema",
		Long: `List every table defined in the CUE schema with its columns,
primary key, timestamp columns and relation names.

Examples:
  datatable tables --schema ./schema
  datatable tables --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(rootOpts.Config)
			if err != nil {
				return err
			}

			var infos []TableInfo
			for _, t := range catalog.Tables() {
				info := TableInfo{
					Name:       t.Name(),
					PrimaryKey: t.PrimaryKey(),
					Relations:  catalog.RelationNames(t.Name()),
				}
				for _, c := range t.Columns() {
					s, _ := t.Schema(c)
					info.Columns = append(info.Columns, ColumnInfo{Name: c, Type: string(schema.TypeOf(s))})
				}
				if created, updated := t.Timestamps(); created != "" || updated != "" {
					info.Timestamps = []string{created, updated}
				}
				infos = append(infos, info)
			}

			f := rootOpts.formatter(cmd)
			if f.Format == "json" {
				return f.Success(infos)
			}
			w := cmd.OutOrStdout()
			for i, info := range infos {
				if i > 0 {
					fmt.Fprintln(w)
				}
				headerStyle.Fprintln(w, info.Name)
				for _, c := range info.Columns {
					marker := " "
					for _, k := range info.PrimaryKey {
						if k == c.Name {
							marker = "*"
						}
					}
					fmt.Fprintf(w, "  %s %s %s\n", marker, c.Name, dimStyle.Sprint(c.Type))
				}
				if len(info.Relations) > 0 {
					fmt.Fprintf(w, "  relations: %s\n", strings.Join(info.Relations, ", "))
				}
			}
			return nil
		},
	}
}
