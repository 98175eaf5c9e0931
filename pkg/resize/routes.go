package resize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"gw-resize/pkg/cloud"
	"gw-resize/pkg/model"
	"gw-resize/pkg/topology"
)

// redirect rewrites every route whose next hop is vacate to target, table by table, then waits
// until the cloud reports the new next hops.
func (rs *runState) redirect(ctx context.Context, phase, vacate, target string, budget time.Duration) error {
	rs.log.Infof("redirecting routes from %s to %s", vacate, target)
	var planned []topology.RouteUpdate
	for _, t := range rs.tables {
		routes, err := rs.listRoutes(ctx, t)
		if err != nil {
			return err
		}
		for _, u := range topology.PlanRedirect(t, routes, vacate, target) {
			if err := rs.apply(ctx, phase, u); err != nil {
				return err
			}
			planned = append(planned, u)
		}
	}
	rs.log.Infof("waiting for %d route(s) to be updated", len(planned))
	if err := rs.converge(ctx, phase, planned, budget); err != nil {
		return err
	}
	rs.done(fmt.Sprintf("%d route(s) now via %s", len(planned), target))
	return nil
}

// restore puts every route captured in the snapshot back on its original next hop.
// Routes absent from the snapshot were created during the run and are flagged, not touched.
func (rs *runState) restore(ctx context.Context) error {
	rs.log.Infof("restoring original route tables")
	var planned []topology.RouteUpdate
	for _, t := range rs.tables {
		routes, err := rs.listRoutes(ctx, t)
		if err != nil {
			return err
		}
		updates, unknown := topology.PlanRestore(t, routes, rs.snap)
		for _, r := range unknown {
			rs.log.Warnf("route %s in %s is not in the snapshot, leaving next hop %s as is", r.Name, t, r.NextHopAddress)
		}
		for _, u := range updates {
			if err := rs.apply(ctx, model.PhaseRestore, u); err != nil {
				return err
			}
			planned = append(planned, u)
		}
	}
	rs.log.Infof("waiting for %d route(s) to be updated", len(planned))
	if err := rs.converge(ctx, model.PhaseRestore, planned, rs.o.opts.RestoreWait); err != nil {
		return err
	}
	rs.done(fmt.Sprintf("%d route(s) restored", len(planned)))
	return nil
}

// checkConsistency compares the tables with the snapshot before restoring. Drift is reported, not fatal.
func (rs *runState) checkConsistency(ctx context.Context) error {
	var added, removed, modified int
	for _, t := range rs.tables {
		routes, err := rs.listRoutes(ctx, t)
		if err != nil {
			return err
		}
		d := topology.Diff(t, routes, rs.snap)
		if d.Empty() {
			continue
		}
		rs.drift = append(rs.drift, d)
		added += len(d.Added)
		removed += len(d.Removed)
		modified += len(d.Modified)
		for _, r := range d.Added {
			rs.flag(t, "route_added", r)
		}
		for _, r := range d.Removed {
			rs.flag(t, "route_removed", r)
		}
		for _, r := range d.Modified {
			rs.flag(t, "route_modified", r)
		}
	}
	if added+removed+modified == 0 {
		rs.done("tables match snapshot")
		return nil
	}
	msg := fmt.Sprintf("drift since snapshot: %d added, %d removed, %d modified", added, removed, modified)
	rs.log.Warnf("%s", msg)
	rs.done(msg)
	return nil
}

func (rs *runState) flag(t model.RouteTableRef, action string, r model.RouteRecord) {
	rs.log.Warnf("%s: %s %s prefix=%s next_hop=%s", t, action, r.Name, r.AddressPrefix, r.NextHopAddress)
	rs.o.obs.audit(model.AuditEntry{
		RunID:     rs.run.ID,
		Actor:     "gw-resize",
		Action:    action,
		Target:    t.String() + "/" + r.Name,
		Detail:    fmt.Sprintf("prefix=%s type=%s next_hop=%s", r.AddressPrefix, r.NextHopType, r.NextHopAddress),
		Timestamp: time.Now().UTC(),
	})
}

// apply submits one rewrite and records its inverse on the undo stack.
func (rs *runState) apply(ctx context.Context, phase string, u topology.RouteUpdate) error {
	if err := rs.upsert(ctx, u.Table, u.After); err != nil {
		return err
	}
	rs.record(phase, u)
	inverse := topology.RouteUpdate{Table: u.Table, Before: u.After, After: u.Before}
	rs.undo.pushRoute(u.Table.String()+"/"+u.Before.Name, inverse, func(ctx context.Context) error {
		if err := rs.upsert(ctx, inverse.Table, inverse.After); err != nil {
			return err
		}
		rs.record(model.PhaseRollback, inverse)
		return nil
	})
	return nil
}

func (rs *runState) record(phase string, u topology.RouteUpdate) {
	c := model.RouteChange{
		RunID:     rs.run.ID,
		Table:     u.Table.String(),
		RouteID:   u.After.ID,
		RouteName: u.After.Name,
		From:      u.Before.NextHopAddress,
		To:        u.After.NextHopAddress,
		Phase:     phase,
		Timestamp: time.Now().UTC(),
	}
	rs.changes = append(rs.changes, c)
	rs.log.Debugf("%s: %s %s -> %s", phase, c.RouteName, c.From, c.To)
	rs.o.obs.routeChanged(c)
}

func (rs *runState) listRoutes(ctx context.Context, t model.RouteTableRef) ([]model.RouteRecord, error) {
	var out []model.RouteRecord
	err := rs.retry(ctx, "list routes "+t.String(), func() error {
		var err error
		out, err = rs.o.routes.ListRoutes(ctx, t)
		return err
	})
	return out, err
}

func (rs *runState) upsert(ctx context.Context, t model.RouteTableRef, r model.RouteRecord) error {
	return rs.retry(ctx, "update route "+r.Name, func() error {
		return rs.o.routes.UpsertRoute(ctx, t, r)
	})
}

// retry repeats fn on transient and rate-limit failures only; anything else aborts at once.
func (rs *runState) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rs.o.opts.PollInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, rs.o.opts.CloudRetries), ctx)
	err := backoff.RetryNotify(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		err = cloud.Wrap(op, err)
		if cloud.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		rs.log.Warnf("%v, retrying in %s", err, wait)
	})
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return err
}

// converge polls the affected tables until no planned update is pending or the budget runs out.
func (rs *runState) converge(ctx context.Context, phase string, planned []topology.RouteUpdate, budget time.Duration) error {
	if len(planned) > 0 {
		byTable := make(map[string][]topology.RouteUpdate)
		var order []model.RouteTableRef
		for _, u := range planned {
			key := u.Table.String()
			if _, ok := byTable[key]; !ok {
				order = append(order, u.Table)
			}
			byTable[key] = append(byTable[key], u)
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = rs.o.opts.PollInterval
		b.MaxInterval = 15 * time.Second
		b.MaxElapsedTime = budget
		var pending []topology.RouteUpdate
		err := backoff.Retry(func() error {
			pending = pending[:0]
			for _, t := range order {
				routes, err := rs.o.routes.ListRoutes(ctx, t)
				if err != nil {
					if cloud.IsRetryable(err) {
						return err
					}
					return backoff.Permanent(cloud.Wrap("list routes "+t.String(), err))
				}
				pending = append(pending, topology.Pending(routes, byTable[t.String()])...)
			}
			if len(pending) > 0 {
				return fmt.Errorf("%d route(s) pending", len(pending))
			}
			return nil
		}, backoff.WithContext(b, ctx))
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%s: %w", phase, ctx.Err())
			}
			var ce *cloud.Error
			if errors.As(err, &ce) && !ce.Retryable() {
				return err
			}
			return &ConvergenceError{Phase: phase, Pending: append([]topology.RouteUpdate(nil), pending...), Budget: budget}
		}
		rs.log.Debugf("%s converged, %d route(s)", phase, len(planned))
	}
	return rs.settle(ctx)
}

func (rs *runState) settle(ctx context.Context) error {
	d := rs.o.opts.SettleDelay
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// waitForSize polls the controller until the gateway reports size. Controller errors while the
// gateway is being replaced are expected and retried until the timeout.
func (rs *runState) waitForSize(ctx context.Context, name, size string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rs.o.opts.PollInterval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = rs.o.opts.ResizeTimeout
	var last string
	err := backoff.Retry(func() error {
		gw, err := rs.o.ctrl.GatewayInfo(ctx, rs.cid, name)
		if err != nil {
			return err
		}
		last = gw.Size
		if gw.Size != size {
			return fmt.Errorf("gateway %s reports size %s", name, gw.Size)
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("wait for %s resize: %w", name, ctx.Err())
		}
		return fmt.Errorf("gateway %s did not report size %s within %s (last %q): %w", name, size, rs.o.opts.ResizeTimeout, last, err)
	}
	return nil
}
