package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/casesmith/internal/config"
	"github.com/fyrsmithlabs/casesmith/internal/template"
)

var headerCell = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var bodyCell = lipgloss.NewStyle().Padding(0, 1)

func newTemplatesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List available test case templates",
		Long: `List the test case templates casesmith can load. Templates in the
directory set by templates.dir shadow the built-in ones of the same type.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}

			infos, listErr := template.NewStore(cfg.Templates.Dir).List()
			if len(infos) == 0 {
				if listErr != nil {
					return listErr
				}
				return fmt.Errorf("no templates found")
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("TYPE", "NAME", "VERSION", "SOURCE").
				StyleFunc(func(row, _ int) lipgloss.Style {
					if row == table.HeaderRow {
						return headerCell
					}
					return bodyCell
				})
			for _, info := range infos {
				t.Row(info.TestType, info.Name, info.Version, info.Source)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())

			if listErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "some templates failed to load: %v\n", listErr)
			}
			return nil
		},
	}
}
