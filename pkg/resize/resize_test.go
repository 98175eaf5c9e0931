package resize_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gw-resize/pkg/cloud"
	"gw-resize/pkg/controller"
	"gw-resize/pkg/model"
	"gw-resize/pkg/resize"
	"gw-resize/pkg/store"
)

const (
	activeIP = "10.0.0.4"
	haIP     = "10.0.0.5"
)

var rt1 = model.RouteTableRef{Name: "rt1", ResourceGroup: "rg1"}

type fakeController struct {
	mu       sync.Mutex
	sizes    []string
	gateways map[string]model.GatewaySpec
	resizes  []string
	failSize map[string]error
	onResize func(name string)

	// reportLag is how many GatewayInfo polls still show the old size after a resize.
	// A negative value never shows the new size.
	reportLag int
	stale     map[string]staleSize
	infoCalls int
}

type staleSize struct {
	size  string
	polls int
}

func newFakeController() *fakeController {
	base := model.GatewaySpec{
		Vendor:      model.VendorAzureARM,
		SpokeVPC:    model.SpokeVPCYes,
		VpcID:       "vnet1:rg1",
		Region:      "West Europe",
		AccountName: "acct",
		Size:        "Standard_B1ms",
	}
	active, ha := base, base
	active.Name, active.PrivateIP = "spoke1", activeIP
	ha.Name, ha.PrivateIP = "spoke1-hagw", haIP
	return &fakeController{
		sizes:    []string{"Standard_B1ms", "Standard_B2ms", "Standard_D2_v3"},
		gateways: map[string]model.GatewaySpec{active.Name: active, ha.Name: ha},
		failSize: map[string]error{},
		stale:    map[string]staleSize{},
	}
}

func (f *fakeController) Login(_ context.Context, user, password string) (string, error) {
	if user == "" || password == "" {
		return "", &controller.APIError{Action: controller.ActionLogin, Reason: "invalid credentials"}
	}
	return "cid-1", nil
}

func (f *fakeController) SupportedSizes(context.Context, string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, s := range f.sizes {
		out[s] = struct{}{}
	}
	return out, nil
}

func (f *fakeController) GatewayInfo(_ context.Context, _, name string) (model.GatewaySpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	gw, ok := f.gateways[name]
	if !ok {
		return model.GatewaySpec{}, &controller.APIError{Action: controller.ActionGatewayInfo, Reason: "gateway " + name + " does not exist"}
	}
	if st, ok := f.stale[name]; ok {
		switch {
		case st.polls < 0:
			gw.Size = st.size
		case st.polls > 0:
			gw.Size = st.size
			st.polls--
			f.stale[name] = st
		default:
			delete(f.stale, name)
		}
	}
	return gw, nil
}

func (f *fakeController) ListRouteTables(context.Context, string, string, string, string) ([]model.RouteTableRef, error) {
	return []model.RouteTableRef{rt1}, nil
}

func (f *fakeController) ResizeGateway(_ context.Context, _, name, size string) error {
	f.mu.Lock()
	if err := f.failSize[name]; err != nil {
		f.mu.Unlock()
		return err
	}
	gw := f.gateways[name]
	if f.reportLag != 0 {
		f.stale[name] = staleSize{size: gw.Size, polls: f.reportLag}
	}
	gw.Size = size
	f.gateways[name] = gw
	f.resizes = append(f.resizes, name+"="+size)
	hook := f.onResize
	f.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return nil
}

func (f *fakeController) InfoCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infoCalls
}

func (f *fakeController) Resizes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resizes...)
}

type recorder struct {
	resize.NopObserver
	mu      sync.Mutex
	runs    []model.Run
	changes []model.RouteChange
	audits  []model.AuditEntry
}

func (r *recorder) RunUpdated(run model.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
}

func (r *recorder) RouteChanged(c model.RouteChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) Audit(e model.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, e)
}

func originalRoutes() []model.RouteRecord {
	return []model.RouteRecord{
		{Name: "r1", AddressPrefix: "10.1.0.0/16", NextHopType: "VirtualAppliance", NextHopAddress: haIP},
		{Name: "r2", AddressPrefix: "10.2.0.0/16", NextHopType: "VirtualAppliance", NextHopAddress: haIP},
		{Name: "r3", AddressPrefix: "10.3.0.0/16", NextHopType: "VirtualAppliance", NextHopAddress: activeIP},
	}
}

func testOptions() resize.Options {
	return resize.Options{
		RedirectToActiveWait: time.Second,
		RedirectToHAWait:     time.Second,
		RestoreWait:          time.Second,
		PollInterval:         time.Millisecond,
		ResizeTimeout:        time.Second,
		RollbackTimeout:      time.Second,
		CloudRetries:         3,
	}
}

type fixture struct {
	ctrl  *fakeController
	mem   *cloud.MemoryClient
	snaps *store.MemoryStore
	rec   *recorder
}

func newFixture() *fixture {
	mem := cloud.NewMemoryClient()
	mem.PutTable(rt1, originalRoutes())
	return &fixture{ctrl: newFakeController(), mem: mem, snaps: store.NewMemoryStore(), rec: &recorder{}}
}

func (f *fixture) orchestrator(opts resize.Options, routes cloud.RouteClient) *resize.Orchestrator {
	if routes == nil {
		routes = f.mem
	}
	return resize.New(f.ctrl, routes, f.snaps, opts, resize.WithObserver(f.rec))
}

func request(size string) resize.Request {
	return resize.Request{Username: "admin", Password: "secret", Gateway: "spoke1", Size: size}
}

func nextHops(routes []model.RouteRecord) map[string]string {
	out := make(map[string]string, len(routes))
	for _, r := range routes {
		out[r.Name] = r.NextHopAddress
	}
	return out
}

func TestRunResizesPairAndRestoresRoutes(t *testing.T) {
	f := newFixture()
	before := nextHops(f.mem.Routes(rt1))

	res, err := f.orchestrator(testOptions(), nil).Run(context.Background(), request("Standard_B2ms"))
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, model.RunSucceeded, res.Run.Status)
	assert.Equal(t, model.OutcomeResized, res.Run.Outcome)
	assert.Equal(t, "Standard_B1ms", res.Run.FromSize)
	assert.Equal(t, []string{"spoke1-hagw=Standard_B2ms", "spoke1=Standard_B2ms"}, f.ctrl.Resizes())
	assert.Equal(t, before, nextHops(f.mem.Routes(rt1)))
	assert.Equal(t, 1, f.snaps.Saves())
	assert.Equal(t, 3, res.Snapshot.RouteCount())
	assert.Empty(t, res.Drift)

	phases := map[string]int{}
	for _, c := range res.Changes {
		phases[c.Phase]++
	}
	assert.Equal(t, map[string]int{
		model.PhaseRedirectToActive: 2,
		model.PhaseRedirectToHA:     3,
		model.PhaseRestore:          1,
	}, phases)
	assert.Len(t, f.rec.changes, 6)

	for _, step := range []string{
		resize.StepLogin, resize.StepValidateSize, resize.StepInspectHA, resize.StepInspectActive,
		resize.StepListRouteTables, resize.StepSnapshotRoutes, resize.StepRedirectToActive,
		resize.StepResizeHA, resize.StepRedirectToHA, resize.StepResizeActive,
		resize.StepConsistencyCheck, resize.StepRestoreOriginal,
	} {
		s, ok := res.Run.Step(step)
		require.True(t, ok, step)
		assert.Equal(t, model.StepSuccess, s.Status, step)
	}
	last := f.rec.runs[len(f.rec.runs)-1]
	assert.Equal(t, model.RunSucceeded, last.Status)
}

func TestRunKeepsTrafficOnUnresizedGateway(t *testing.T) {
	f := newFixture()
	var seen []map[string]string
	f.ctrl.onResize = func(string) {
		seen = append(seen, nextHops(f.mem.Routes(rt1)))
	}

	_, err := f.orchestrator(testOptions(), nil).Run(context.Background(), request("Standard_B2ms"))
	require.NoError(t, err)
	require.Len(t, seen, 2)
	// While the HA gateway is resized everything points at the active one, and vice versa.
	assert.Equal(t, map[string]string{"r1": activeIP, "r2": activeIP, "r3": activeIP}, seen[0])
	assert.Equal(t, map[string]string{"r1": haIP, "r2": haIP, "r3": haIP}, seen[1])
}

func TestRunSameSizeIsNoop(t *testing.T) {
	f := newFixture()
	res, err := f.orchestrator(testOptions(), nil).Run(context.Background(), request("Standard_B1ms"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUnchanged, res.Run.Outcome)
	assert.Equal(t, model.RunSucceeded, res.Run.Status)

	lists, upserts := f.mem.Counts()
	assert.Zero(t, lists)
	assert.Zero(t, upserts)
	assert.Empty(t, f.ctrl.Resizes())
	assert.Zero(t, f.snaps.Saves())
}

func TestRunRejectsUnsupportedSize(t *testing.T) {
	f := newFixture()
	res, err := f.orchestrator(testOptions(), nil).Run(context.Background(), request("Standard_Huge"))
	var verr *resize.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "unsupported")
	assert.Equal(t, model.OutcomeRejected, res.Run.Outcome)
	assert.Equal(t, model.RunFailed, res.Run.Status)

	_, upserts := f.mem.Counts()
	assert.Zero(t, upserts)
	assert.Empty(t, f.ctrl.Resizes())
}

func TestRunRejectsUnsupportedGateways(t *testing.T) {
	cases := map[string]func(*model.GatewaySpec){
		"vendor":  func(g *model.GatewaySpec) { g.Vendor = "AWS" },
		"transit": func(g *model.GatewaySpec) { g.SpokeVPC = "no" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			ha := f.ctrl.gateways["spoke1-hagw"]
			mutate(&ha)
			f.ctrl.gateways["spoke1-hagw"] = ha

			res, err := f.orchestrator(testOptions(), nil).Run(context.Background(), request("Standard_B2ms"))
			var verr *resize.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, model.OutcomeRejected, res.Run.Outcome)
			lists, upserts := f.mem.Counts()
			assert.Zero(t, lists)
			assert.Zero(t, upserts)
			assert.Empty(t, f.ctrl.Resizes())
		})
	}
}

func TestRunMissingHAGateway(t *testing.T) {
	f := newFixture()
	delete(f.ctrl.gateways, "spoke1-hagw")
	res, err := f.orchestrator(testOptions(), nil).Run(context.Background(), request("Standard_B2ms"))
	var apiErr *controller.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, model.OutcomeAborted, res.Run.Outcome)
	s, ok := res.Run.Step(resize.StepInspectHA)
	require.True(t, ok)
	assert.Equal(t, model.StepFail, s.Status)
}

func TestRunRollsBackWhenActiveResizeFails(t *testing.T) {
	f := newFixture()
	before := nextHops(f.mem.Routes(rt1))
	f.ctrl.failSize["spoke1"] = &controller.APIError{Action: controller.ActionChangeSize, Reason: "quota exceeded"}

	res, err := f.orchestrator(testOptions(), nil).Run(context.Background(), request("Standard_B2ms"))
	var rerr *resize.RollbackError
	require.ErrorAs(t, err, &rerr)
	assert.True(t, rerr.Complete())
	assert.Equal(t, 5, rerr.Undone)
	var apiErr *controller.APIError
	assert.ErrorAs(t, err, &apiErr)

	assert.Equal(t, before, nextHops(f.mem.Routes(rt1)))
	assert.Equal(t, model.OutcomeRolledBack, res.Run.Outcome)
	assert.Equal(t, model.RunFailed, res.Run.Status)

	s, ok := res.Run.Step(resize.StepResizeActive)
	require.True(t, ok)
	assert.Equal(t, model.StepFail, s.Status)
	s, ok = res.Run.Step(resize.StepRollback)
	require.True(t, ok)
	assert.Equal(t, model.StepSuccess, s.Status)

	var rollbacks int
	for _, c := range res.Changes {
		if c.Phase == model.PhaseRollback {
			rollbacks++
		}
	}
	assert.Equal(t, 5, rollbacks)
}

func TestRunRollbackResizesHABack(t *testing.T) {
	f := newFixture()
	f.ctrl.failSize["spoke1"] = errors.New("boom")
	opts := testOptions()
	opts.RollbackResize = true

	_, err := f.orchestrator(opts, nil).Run(context.Background(), request("Standard_B2ms"))
	require.Error(t, err)
	assert.Equal(t, []string{"spoke1-hagw=Standard_B2ms", "spoke1-hagw=Standard_B1ms"}, f.ctrl.Resizes())
}

func TestRunConvergenceTimeout(t *testing.T) {
	f := newFixture()
	f.mem.SetLag(1 << 20)
	opts := testOptions()
	opts.RedirectToActiveWait = 20 * time.Millisecond
	opts.RestoreWait = 20 * time.Millisecond

	res, err := f.orchestrator(opts, nil).Run(context.Background(), request("Standard_B2ms"))
	var cerr *resize.ConvergenceError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, model.PhaseRedirectToActive, cerr.Phase)
	assert.Len(t, cerr.Pending, 2)
	assert.Empty(t, f.ctrl.Resizes())
	assert.Equal(t, model.OutcomeRolledBack, res.Run.Outcome)
}

func TestRunToleratesDelayedApplication(t *testing.T) {
	f := newFixture()
	f.mem.SetLag(2)
	before := nextHops(f.mem.Routes(rt1))

	res, err := f.orchestrator(testOptions(), nil).Run(context.Background(), request("Standard_B2ms"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResized, res.Run.Outcome)
	// Drain anything still queued in the simulated cloud.
	for i := 0; i < 3; i++ {
		_, _ = f.mem.ListRoutes(context.Background(), rt1)
	}
	assert.Equal(t, before, nextHops(f.mem.Routes(rt1)))
}

func TestRunFlagsDriftAndLeavesUnknownRoutes(t *testing.T) {
	f := newFixture()
	f.ctrl.onResize = func(name string) {
		if name != "spoke1-hagw" {
			return
		}
		_ = f.mem.UpsertRoute(context.Background(), rt1, model.RouteRecord{
			Name: "r4", AddressPrefix: "10.4.0.0/16", NextHopType: "VirtualAppliance", NextHopAddress: "10.9.9.9",
		})
	}

	res, err := f.orchestrator(testOptions(), nil).Run(context.Background(), request("Standard_B2ms"))
	require.NoError(t, err)
	require.Len(t, res.Drift, 1)
	require.Len(t, res.Drift[0].Added, 1)
	assert.Equal(t, "r4", res.Drift[0].Added[0].Name)

	hops := nextHops(f.mem.Routes(rt1))
	assert.Equal(t, "10.9.9.9", hops["r4"])
	assert.Equal(t, haIP, hops["r1"])
	assert.Equal(t, activeIP, hops["r3"])

	var flagged bool
	for _, a := range f.rec.audits {
		if a.Action == "route_added" {
			flagged = true
		}
	}
	assert.True(t, flagged)
}

func TestRunSecondPassIsUnchanged(t *testing.T) {
	f := newFixture()
	o := f.orchestrator(testOptions(), nil)
	_, err := o.Run(context.Background(), request("Standard_B2ms"))
	require.NoError(t, err)
	_, upsertsAfterFirst := f.mem.Counts()

	res, err := o.Run(context.Background(), request("Standard_B2ms"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeUnchanged, res.Run.Outcome)
	_, upserts := f.mem.Counts()
	assert.Equal(t, upsertsAfterFirst, upserts)
}

func TestRunVerifiesReportedSize(t *testing.T) {
	f := newFixture()
	opts := testOptions()
	opts.VerifyResize = true

	res, err := f.orchestrator(opts, nil).Run(context.Background(), request("Standard_B2ms"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResized, res.Run.Outcome)
}

func TestRunWaitsForReportedSize(t *testing.T) {
	f := newFixture()
	f.ctrl.reportLag = 3
	opts := testOptions()
	opts.VerifyResize = true

	res, err := f.orchestrator(opts, nil).Run(context.Background(), request("Standard_B2ms"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResized, res.Run.Outcome)
	// two inspections, then four polls per gateway until the new size shows
	assert.GreaterOrEqual(t, f.ctrl.InfoCalls(), 10)
}

func TestRunRollsBackWhenSizeNeverReported(t *testing.T) {
	f := newFixture()
	before := nextHops(f.mem.Routes(rt1))
	f.ctrl.reportLag = -1
	opts := testOptions()
	opts.VerifyResize = true
	opts.ResizeTimeout = 30 * time.Millisecond

	res, err := f.orchestrator(opts, nil).Run(context.Background(), request("Standard_B2ms"))
	var rerr *resize.RollbackError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, err.Error(), "did not report size Standard_B2ms")
	assert.Equal(t, 2, rerr.Undone)
	assert.Equal(t, model.OutcomeRolledBack, res.Run.Outcome)
	assert.Equal(t, []string{"spoke1-hagw=Standard_B2ms"}, f.ctrl.Resizes())
	assert.Equal(t, before, nextHops(f.mem.Routes(rt1)))

	s, ok := res.Run.Step(resize.StepResizeHA)
	require.True(t, ok)
	assert.Equal(t, model.StepFail, s.Status)
}

// flakyRoutes fails the first n upserts with err.
type flakyRoutes struct {
	*cloud.MemoryClient
	mu  sync.Mutex
	n   int
	err error
}

func (f *flakyRoutes) UpsertRoute(ctx context.Context, table model.RouteTableRef, route model.RouteRecord) error {
	f.mu.Lock()
	if f.n > 0 {
		f.n--
		f.mu.Unlock()
		return f.err
	}
	f.mu.Unlock()
	return f.MemoryClient.UpsertRoute(ctx, table, route)
}

func TestRunRetriesTransientCloudErrors(t *testing.T) {
	f := newFixture()
	routes := &flakyRoutes{MemoryClient: f.mem, n: 2, err: &cloud.StatusError{StatusCode: 503, Body: "busy"}}

	res, err := f.orchestrator(testOptions(), routes).Run(context.Background(), request("Standard_B2ms"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResized, res.Run.Outcome)
}

func TestRunAbortsOnAuthError(t *testing.T) {
	f := newFixture()
	routes := &flakyRoutes{MemoryClient: f.mem, n: 100, err: &cloud.StatusError{StatusCode: 403, Body: "forbidden"}}

	res, err := f.orchestrator(testOptions(), routes).Run(context.Background(), request("Standard_B2ms"))
	require.Error(t, err)
	assert.Equal(t, cloud.KindAuth, cloud.KindOf(err))
	assert.Contains(t, err.Error(), "cloud login unsuccessful")
	assert.Empty(t, f.ctrl.Resizes())
	assert.Equal(t, model.OutcomeRolledBack, res.Run.Outcome)
	assert.Equal(t, 99, routes.n, "auth failures must not be retried")
}

type countingLocker struct {
	locks, unlocks int
	err            error
}

func (l *countingLocker) Lock(context.Context, string) (<-chan struct{}, func() error, error) {
	if l.err != nil {
		return nil, nil, l.err
	}
	l.locks++
	return nil, func() error { l.unlocks++; return nil }, nil
}

func TestRunHoldsLock(t *testing.T) {
	f := newFixture()
	l := &countingLocker{}
	o := resize.New(f.ctrl, f.mem, f.snaps, testOptions(), resize.WithLocker(l))
	_, err := o.Run(context.Background(), request("Standard_B2ms"))
	require.NoError(t, err)
	assert.Equal(t, 1, l.locks)
	assert.Equal(t, 1, l.unlocks)

	l = &countingLocker{err: fmt.Errorf("held by another run")}
	o = resize.New(f.ctrl, f.mem, f.snaps, testOptions(), resize.WithLocker(l))
	_, err = o.Run(context.Background(), request("Standard_D2_v3"))
	require.ErrorContains(t, err, "held by another run")
	_, upserts := f.mem.Counts()
	assert.Equal(t, 6, upserts)
}

// heldLock records whether the lock is held and can be taken away through lose.
type heldLock struct {
	mu      sync.Mutex
	held    bool
	unlocks int
	lost    chan struct{}
}

func newHeldLock() *heldLock { return &heldLock{lost: make(chan struct{})} }

func (l *heldLock) Lock(context.Context, string) (<-chan struct{}, func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = true
	return l.lost, func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.unlocks++
		return nil
	}, nil
}

func (l *heldLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *heldLock) lose() { close(l.lost) }

// guardedRoutes counts upserts issued while the lock is not held.
type guardedRoutes struct {
	*cloud.MemoryClient
	lock     *heldLock
	mu       sync.Mutex
	unlocked int
}

func (g *guardedRoutes) UpsertRoute(ctx context.Context, table model.RouteTableRef, route model.RouteRecord) error {
	if !g.lock.Held() {
		g.mu.Lock()
		g.unlocked++
		g.mu.Unlock()
	}
	return g.MemoryClient.UpsertRoute(ctx, table, route)
}

func TestRunKeepsLockThroughRollback(t *testing.T) {
	f := newFixture()
	before := nextHops(f.mem.Routes(rt1))
	f.ctrl.failSize["spoke1"] = errors.New("quota exceeded")
	lock := newHeldLock()
	routes := &guardedRoutes{MemoryClient: f.mem, lock: lock}

	o := resize.New(f.ctrl, routes, f.snaps, testOptions(), resize.WithLocker(lock))
	res, err := o.Run(context.Background(), request("Standard_B2ms"))
	var rerr *resize.RollbackError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 5, rerr.Undone)
	assert.Equal(t, model.OutcomeRolledBack, res.Run.Outcome)
	assert.Equal(t, before, nextHops(f.mem.Routes(rt1)))

	assert.Zero(t, routes.unlocked, "route upserts issued after the lock was released")
	assert.False(t, lock.Held())
	assert.Equal(t, 1, lock.unlocks)
}

func TestRunStopsWhenLockLost(t *testing.T) {
	f := newFixture()
	before := nextHops(f.mem.Routes(rt1))
	lock := newHeldLock()
	f.ctrl.onResize = func(name string) {
		if name == "spoke1-hagw" {
			lock.lose()
		}
	}

	o := resize.New(f.ctrl, f.mem, f.snaps, testOptions(), resize.WithLocker(lock))
	res, err := o.Run(context.Background(), request("Standard_B2ms"))
	require.ErrorIs(t, err, resize.ErrLockLost)
	assert.Equal(t, []string{"spoke1-hagw=Standard_B2ms"}, f.ctrl.Resizes())
	assert.Equal(t, before, nextHops(f.mem.Routes(rt1)))
	assert.Equal(t, model.OutcomeRolledBack, res.Run.Outcome)
	assert.Equal(t, 1, lock.unlocks)

	s, ok := res.Run.Step(resize.StepRedirectToHA)
	require.True(t, ok)
	assert.Equal(t, model.StepFail, s.Status)
}
