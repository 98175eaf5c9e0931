package resize_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gw-resize/pkg/model"
	"gw-resize/pkg/resize"
)

func TestRestoreFromSnapshot(t *testing.T) {
	f := newFixture()
	current := f.mem.Routes(rt1)
	snap := model.NewRouteSnapshot("earlier", "spoke1")
	snap.Tables[rt1.String()] = current

	// Simulate an interrupted run that left every route on the active gateway.
	for _, r := range current {
		r.NextHopAddress = activeIP
		require.NoError(t, f.mem.UpsertRoute(context.Background(), rt1, r))
	}

	res, err := f.orchestrator(testOptions(), nil).Restore(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRestored, res.Run.Outcome)
	assert.Equal(t, nextHops(current), nextHops(f.mem.Routes(rt1)))
	assert.Len(t, res.Changes, 2)
	assert.Empty(t, f.ctrl.Resizes())
}

func TestRestoreRejectsEmptySnapshot(t *testing.T) {
	f := newFixture()
	_, err := f.orchestrator(testOptions(), nil).Restore(context.Background(), model.NewRouteSnapshot("", ""))
	assert.Error(t, err)

	snap := model.NewRouteSnapshot("", "")
	snap.Tables["legacy-name-only"] = nil
	res, err := f.orchestrator(testOptions(), nil).Restore(context.Background(), snap)
	require.Error(t, err)
	assert.Equal(t, model.RunFailed, res.Run.Status)
	_, ok := res.Run.Step(resize.StepConsistencyCheck)
	assert.False(t, ok)
}

func TestRestoreHoldsLock(t *testing.T) {
	f := newFixture()
	current := f.mem.Routes(rt1)
	snap := model.NewRouteSnapshot("earlier", "spoke1")
	snap.Tables[rt1.String()] = current
	for _, r := range current {
		r.NextHopAddress = activeIP
		require.NoError(t, f.mem.UpsertRoute(context.Background(), rt1, r))
	}

	lock := newHeldLock()
	routes := &guardedRoutes{MemoryClient: f.mem, lock: lock}
	o := resize.New(nil, routes, f.snaps, testOptions(), resize.WithLocker(lock))
	res, err := o.Restore(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRestored, res.Run.Outcome)
	assert.Zero(t, routes.unlocked)
	assert.Equal(t, 1, lock.unlocks)

	anonymous := model.NewRouteSnapshot("earlier", "")
	anonymous.Tables[rt1.String()] = current
	_, err = o.Restore(context.Background(), anonymous)
	assert.ErrorContains(t, err, "no gateway to lock")
	assert.Equal(t, 1, lock.unlocks)
}
