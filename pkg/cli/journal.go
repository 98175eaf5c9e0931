package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gw-resize/pkg/journal"
)

func newJournalCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "journal [run-id]",
		Short: "Show route changes recorded locally for a run, or list unfinished runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Journal == "" {
				return errors.New("journal is disabled")
			}
			j, err := journal.Open(a.cfg.Journal, a.log)
			if err != nil {
				return err
			}
			defer j.Close()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				ids, err := j.Unfinished(cmd.Context())
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					fmt.Fprintln(out, "no unfinished runs")
					return nil
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			run, err := j.Run(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			changes, err := j.Changes(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "run %s: %s %s %s\n", run.ID, run.Gateway, run.Status, run.Outcome)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPHASE\tTABLE\tROUTE\tFROM\tTO")
			for _, c := range changes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Timestamp.Local().Format(time.TimeOnly), c.Phase, c.Table, c.RouteName, c.From, c.To)
			}
			return w.Flush()
		},
	}
}
