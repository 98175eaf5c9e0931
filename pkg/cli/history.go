package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gw-resize/pkg/db"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit   int
		gateway string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs from the shared history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.HistoryDSN == "" {
				return errors.New("history needs --history-dsn or MYSQL_DSN")
			}
			h, err := db.Open(a.cfg.HistoryDSN, a.log)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer h.Close()
			runs, err := h.Runs(cmd.Context(), gateway, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tGATEWAY\tFROM\tTO\tSTATUS\tOUTCOME\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Gateway, r.FromSize, r.ToSize, r.Status, r.Outcome, r.StartedAt.Local().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.Flags().StringVar(&gateway, "gateway", "", "only runs for this gateway")
	return cmd
}
