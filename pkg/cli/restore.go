package cli

import (
	"github.com/spf13/cobra"

	"gw-resize/pkg/resize"
)

func newRestoreCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Rewrite every route back to the next hop saved in the snapshot",
		Long: `restore reads the snapshot written by an earlier run (routes_save.txt by default, or
consul with --snapshot-store consul -g <gateway>) and puts every route back on its
original next hop. Gateways are not resized.

The snapshot file is a JSON object {"runId", "gateway", "createdAt", "tables"} where
"tables" maps "<route_table>:<resource_group>" to the saved routes. Files in the older
layout, a bare object keyed by route table name, are still read; tables in them that
hold no routes are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			snaps, locker, err := a.snapshotStore(a.flags.gateway)
			if err != nil {
				return err
			}
			snap, err := snaps.Load(ctx)
			if err != nil {
				return err
			}
			hc, err := a.httpClient()
			if err != nil {
				return err
			}
			routes, err := a.routeClient(hc)
			if err != nil {
				return err
			}
			obs, release, err := a.observers(ctx, false)
			defer release()
			if err != nil {
				return err
			}
			a.log.Infof("restoring %d route(s) from %s", snap.RouteCount(), snaps.Location())
			extra := []resize.Option{resize.WithLogger(a.log), resize.WithObserver(obs...)}
			if locker != nil {
				extra = append(extra, resize.WithLocker(locker))
			}
			o := resize.New(nil, routes, snaps, a.cfg.ResizeOptions(), extra...)
			res, err := o.Restore(ctx, snap)
			printResult(cmd.OutOrStdout(), res)
			return err
		},
	}
}
