package resize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"gw-resize/pkg/model"
)

// Restore rewrites every route back to the next hop recorded in snap. It is the operator's
// recovery path after an interrupted run and does not touch gateways.
func (o *Orchestrator) Restore(ctx context.Context, snap *model.RouteSnapshot) (*Result, error) {
	if snap == nil || len(snap.Tables) == 0 {
		return nil, errors.New("snapshot holds no route tables")
	}
	run := &model.Run{
		ID:        uuid.NewString(),
		Gateway:   snap.Gateway,
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	rs := &runState{o: o, run: run, log: o.log.With("run", run.ID), snap: snap}
	o.obs.runUpdated(run)

	keys := make([]string, 0, len(snap.Tables))
	for k := range snap.Tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ref, err := model.ParseRouteTableRef(k)
		if err != nil {
			rs.finish(err)
			return &Result{Run: *run, Snapshot: snap}, fmt.Errorf("snapshot table key: %w", err)
		}
		rs.tables = append(rs.tables, ref)
	}

	if o.locker != nil && snap.Gateway == "" {
		err := errors.New("snapshot names no gateway to lock")
		rs.finish(err)
		return &Result{Run: *run, Snapshot: snap}, err
	}
	lctx, err := rs.acquire(ctx, snap.Gateway)
	if err != nil {
		rs.finish(err)
		return &Result{Run: *run, Snapshot: snap}, err
	}
	err = rs.restoreOnly(lctx)
	if err != nil && rs.lockLost() && !errors.Is(err, ErrLockLost) {
		err = fmt.Errorf("%w: %w", ErrLockLost, err)
	}
	rs.unlock()
	if err == nil {
		run.Outcome = model.OutcomeRestored
	}
	rs.finish(err)
	return &Result{Run: *run, Snapshot: snap, Drift: rs.drift, Changes: rs.changes}, err
}

func (rs *runState) restoreOnly(ctx context.Context) error {
	if err := rs.start(ctx, StepConsistencyCheck); err != nil {
		return err
	}
	if err := rs.checkConsistency(ctx); err != nil {
		return err
	}
	if err := rs.start(ctx, StepRestoreOriginal); err != nil {
		return err
	}
	rs.mutating = true
	return rs.restore(ctx)
}
