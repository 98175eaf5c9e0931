package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"gw-resize/pkg/resize"
)

func (a *app) runResize(cmd *cobra.Command, _ []string) error {
	cfg := a.cfg
	if err := requireValues(cmd,
		"controller_ip", cfg.Controller.Host,
		"controller_user", cfg.Controller.User,
		"controller_password", cfg.Controller.Password,
		"gateway_name", a.flags.gateway,
		"gateway_size", a.flags.size,
	); err != nil {
		return err
	}
	ctx := cmd.Context()

	hc, err := a.httpClient()
	if err != nil {
		return err
	}
	ctrl, err := a.controllerClient(hc)
	if err != nil {
		return err
	}
	routes, err := a.routeClient(hc)
	if err != nil {
		return err
	}
	snaps, locker, err := a.snapshotStore(a.flags.gateway)
	if err != nil {
		return err
	}
	obs, release, err := a.observers(ctx, true)
	defer release()
	if err != nil {
		return err
	}

	extra := []resize.Option{resize.WithLogger(a.log), resize.WithObserver(obs...)}
	if locker != nil {
		extra = append(extra, resize.WithLocker(locker))
	}
	o := resize.New(ctrl, routes, snaps, cfg.ResizeOptions(), extra...)
	res, err := o.Run(ctx, resize.Request{
		Username: cfg.Controller.User,
		Password: cfg.Controller.Password,
		Gateway:  a.flags.gateway,
		Size:     a.flags.size,
	})
	printResult(cmd.OutOrStdout(), res)
	return err
}

func printResult(w io.Writer, res *resize.Result) {
	if res == nil {
		return
	}
	run := res.Run
	fmt.Fprintf(w, "run %s: %s %s", run.ID, run.Gateway, run.Outcome)
	if run.FromSize != "" && run.ToSize != "" {
		fmt.Fprintf(w, " (%s -> %s)", run.FromSize, run.ToSize)
	}
	fmt.Fprintln(w)
	for _, d := range res.Drift {
		for _, r := range d.Added {
			fmt.Fprintf(w, "  drift %s: added %s (%s via %s), left unchanged\n", d.Table, r.Name, r.AddressPrefix, r.NextHopAddress)
		}
		for _, r := range d.Removed {
			fmt.Fprintf(w, "  drift %s: removed %s (%s), not recreated\n", d.Table, r.Name, r.AddressPrefix)
		}
		for _, r := range d.Modified {
			fmt.Fprintf(w, "  drift %s: modified %s (%s %s)\n", d.Table, r.Name, r.AddressPrefix, r.NextHopType)
		}
	}
}
