package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/alpineclim/climsync/internal/backlog"
	"github.com/alpineclim/climsync/internal/config"
)

func newBacklogCmd() *cobra.Command {
	var missingPath string

	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Show the pending observation backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if missingPath == "" {
				missingPath = cfg.MissingPath
			}

			entries, recovered := backlog.Load(missingPath)
			if recovered {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s was unreadable, showing empty backlog\n", missingPath)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "backlog empty")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Station", "Pending", "Oldest", "Newest"})
			for _, e := range entries {
				oldest, newest := "", ""
				if len(e.Dates) > 0 {
					oldest = e.Dates[0]
					newest = e.Dates[len(e.Dates)-1]
				}
				t.AppendRow(table.Row{e.ID, len(e.Dates), oldest, newest})
			}
			t.AppendFooter(table.Row{"Total", backlog.CountDates(entries), "", ""})
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&missingPath, "missing", "", "backlog file (default from config)")
	return cmd
}
