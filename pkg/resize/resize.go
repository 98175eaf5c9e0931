// Package resize resizes an active gateway and its HA peer while keeping cloud
// route tables pointed at whichever gateway of the pair is not being resized.
//
// Sequence:
//   - log in, validate the size, inspect the HA gateway (early exit when already at size)
//   - inspect the active gateway, list and snapshot the VNet route tables
//   - move routes off the HA gateway, resize it, move routes onto it, resize the active gateway
//   - check the tables for drift and restore every route to its snapshot next hop
//
// Every route rewrite and (optionally) every resize records a compensating action;
// a failure after the snapshot unwinds them newest first before the error is returned.
package resize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gw-resize/pkg/cloud"
	"gw-resize/pkg/logging"
	"gw-resize/pkg/model"
	"gw-resize/pkg/store"
	"gw-resize/pkg/topology"
)

// Step names, in execution order.
const (
	StepLogin            = "login"
	StepValidateSize     = "validate_size"
	StepInspectHA        = "inspect_ha"
	StepInspectActive    = "inspect_active"
	StepListRouteTables  = "list_route_tables"
	StepSnapshotRoutes   = "snapshot_routes"
	StepRedirectToActive = model.PhaseRedirectToActive
	StepResizeHA         = "resize_ha"
	StepRedirectToHA     = model.PhaseRedirectToHA
	StepResizeActive     = "resize_active"
	StepConsistencyCheck = "consistency_check"
	StepRestoreOriginal  = "restore_original"
	StepRollback         = model.PhaseRollback
)

// Controller is the subset of the controller API the orchestrator drives.
type Controller interface {
	Login(ctx context.Context, user, password string) (string, error)
	SupportedSizes(ctx context.Context, cid string) (map[string]struct{}, error)
	GatewayInfo(ctx context.Context, cid, name string) (model.GatewaySpec, error)
	ListRouteTables(ctx context.Context, cid, account, region, vpcID string) ([]model.RouteTableRef, error)
	ResizeGateway(ctx context.Context, cid, name, size string) error
}

// Locker grants exclusive access to a gateway pair for the duration of a run, rollback included.
// lost is closed when the lock is taken away before unlock is called; it may be nil.
type Locker interface {
	Lock(ctx context.Context, gateway string) (lost <-chan struct{}, unlock func() error, err error)
}

// Options tunes the orchestration.
type Options struct {
	HASuffix string
	Vendor   string

	// Convergence budgets after each route phase.
	RedirectToActiveWait time.Duration
	RedirectToHAWait     time.Duration
	RestoreWait          time.Duration
	PollInterval         time.Duration
	SettleDelay          time.Duration

	VerifyResize  bool
	ResizeTimeout time.Duration

	RollbackResize  bool
	RollbackTimeout time.Duration

	CloudRetries uint64
}

// DefaultOptions mirrors the waits operators are used to (30s, 120s, 120s).
func DefaultOptions() Options {
	return Options{
		HASuffix:             model.DefaultHASuffix,
		Vendor:               model.VendorAzureARM,
		RedirectToActiveWait: 30 * time.Second,
		RedirectToHAWait:     120 * time.Second,
		RestoreWait:          120 * time.Second,
		PollInterval:         2 * time.Second,
		VerifyResize:         true,
		ResizeTimeout:        15 * time.Minute,
		RollbackTimeout:      5 * time.Minute,
		CloudRetries:         4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HASuffix == "" {
		o.HASuffix = d.HASuffix
	}
	if o.Vendor == "" {
		o.Vendor = d.Vendor
	}
	if o.RedirectToActiveWait <= 0 {
		o.RedirectToActiveWait = d.RedirectToActiveWait
	}
	if o.RedirectToHAWait <= 0 {
		o.RedirectToHAWait = d.RedirectToHAWait
	}
	if o.RestoreWait <= 0 {
		o.RestoreWait = d.RestoreWait
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ResizeTimeout <= 0 {
		o.ResizeTimeout = d.ResizeTimeout
	}
	if o.RollbackTimeout <= 0 {
		o.RollbackTimeout = d.RollbackTimeout
	}
	return o
}

// Request names the gateway pair and the target size.
type Request struct {
	Username string
	Password string
	Gateway  string
	Size     string
}

// Result is returned for every run, including failed ones.
type Result struct {
	Run      model.Run
	Snapshot *model.RouteSnapshot
	Drift    []topology.Drift
	Changes  []model.RouteChange
}

// Orchestrator runs one resize at a time. It is not safe for concurrent Runs.
type Orchestrator struct {
	ctrl   Controller
	routes cloud.RouteClient
	snaps  store.SnapshotStore
	locker Locker
	obs    observers
	log    *zap.SugaredLogger
	opts   Options
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithObserver(obs ...Observer) Option {
	return func(o *Orchestrator) {
		for _, ob := range obs {
			if ob != nil {
				o.obs = append(o.obs, ob)
			}
		}
	}
}

func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

func New(ctrl Controller, routes cloud.RouteClient, snaps store.SnapshotStore, opts Options, extra ...Option) *Orchestrator {
	o := &Orchestrator{
		ctrl:   ctrl,
		routes: routes,
		snaps:  snaps,
		log:    logging.Nop(),
		opts:   opts.withDefaults(),
	}
	for _, e := range extra {
		e(o)
	}
	return o
}

// Run executes the full sequence. The Result is always non-nil.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	run := &model.Run{
		ID:        uuid.NewString(),
		Gateway:   req.Gateway,
		HAGateway: model.HAName(req.Gateway, o.opts.HASuffix),
		ToSize:    req.Size,
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	rs := &runState{o: o, run: run, log: o.log.With("run", run.ID)}
	o.obs.runUpdated(run)

	err := rs.execute(ctx, req)
	if err != nil && rs.lockLost() && !errors.Is(err, ErrLockLost) {
		err = fmt.Errorf("%w: %w", ErrLockLost, err)
	}
	if err != nil && rs.mutating {
		err = rs.rollback(ctx, err)
	}
	rs.unlock()
	rs.finish(err)
	return &Result{Run: *run, Snapshot: rs.snap, Drift: rs.drift, Changes: rs.changes}, err
}

// runState carries everything learned during one run.
type runState struct {
	o   *Orchestrator
	run *model.Run
	log *zap.SugaredLogger

	cid     string
	ha      model.GatewaySpec
	active  model.GatewaySpec
	tables  []model.RouteTableRef
	snap    *model.RouteSnapshot
	drift   []topology.Drift
	changes []model.RouteChange
	undo    undoStack

	mutating bool
	current  string

	lockCtx context.Context
	lost    <-chan struct{}
	release func()
}

// acquire takes the gateway lock when a Locker is configured. The returned context is
// cancelled with ErrLockLost if the lock goes away; the lock is held until unlock.
func (rs *runState) acquire(ctx context.Context, gateway string) (context.Context, error) {
	if rs.o.locker == nil {
		return ctx, nil
	}
	lost, unlock, err := rs.o.locker.Lock(ctx, gateway)
	if err != nil {
		return ctx, fmt.Errorf("lock gateway pair: %w", err)
	}
	lctx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-lost:
			rs.log.Errorf("lock on gateway pair %s lost", gateway)
			cancel(ErrLockLost)
		case <-stop:
		}
	}()
	rs.lockCtx = lctx
	rs.lost = lost
	rs.release = func() {
		close(stop)
		cancel(nil)
		if err := unlock(); err != nil {
			rs.log.Warnf("release lock failed: %v", err)
		}
	}
	return lctx, nil
}

func (rs *runState) unlock() {
	if rs.release != nil {
		rs.release()
		rs.release = nil
	}
}

func (rs *runState) lockLost() bool {
	if rs.lost != nil {
		select {
		case <-rs.lost:
			return true
		default:
		}
	}
	return rs.lockCtx != nil && errors.Is(context.Cause(rs.lockCtx), ErrLockLost)
}

// start begins a mutating step. It refuses to go on once the lock is lost or ctx is done.
func (rs *runState) start(ctx context.Context, step string) error {
	rs.begin(step)
	if rs.lockLost() {
		return ErrLockLost
	}
	return context.Cause(ctx)
}

func (rs *runState) execute(ctx context.Context, req Request) error {
	o := rs.o
	if req.Gateway == "" || req.Size == "" {
		rs.run.Outcome = model.OutcomeRejected
		return &ValidationError{Gateway: req.Gateway, Reason: "gateway name and size are required"}
	}

	rs.begin(StepLogin)
	cid, err := o.ctrl.Login(ctx, req.Username, req.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	rs.cid = cid
	rs.done("session established")

	rs.begin(StepValidateSize)
	sizes, err := o.ctrl.SupportedSizes(ctx, cid)
	if err != nil {
		return fmt.Errorf("supported sizes: %w", err)
	}
	if _, ok := sizes[req.Size]; !ok {
		rs.run.Outcome = model.OutcomeRejected
		return &ValidationError{Gateway: req.Gateway, Reason: fmt.Sprintf("size %s is unsupported, select a supported gateway size", req.Size)}
	}
	rs.done("size " + req.Size + " supported")

	rs.begin(StepInspectHA)
	ha, err := o.ctrl.GatewayInfo(ctx, cid, rs.run.HAGateway)
	if err != nil {
		return fmt.Errorf("inspect ha gateway %s: %w", rs.run.HAGateway, err)
	}
	rs.ha = ha
	rs.run.FromSize = ha.Size
	rs.log.Infof("current gateway size: %s", ha.Size)
	if ha.Size == req.Size {
		rs.run.Outcome = model.OutcomeUnchanged
		rs.done("current and new gateway size are the same, nothing to do")
		rs.log.Infof("current and new gateway size are the same, nothing to do")
		return nil
	}
	if ha.Vendor != o.opts.Vendor {
		rs.run.Outcome = model.OutcomeRejected
		return &ValidationError{Gateway: ha.Name, Reason: fmt.Sprintf("vendor %q unsupported, only %s gateways are supported", ha.Vendor, o.opts.Vendor)}
	}
	if ha.TopologyRole() != model.TopologySpoke {
		rs.run.Outcome = model.OutcomeRejected
		return &ValidationError{Gateway: ha.Name, Reason: "only spoke gateways are supported"}
	}
	rs.log.Infof("ha gateway private ip: %s", ha.PrivateIP)
	rs.done("ha " + ha.Name + " at " + ha.PrivateIP)

	rs.begin(StepInspectActive)
	active, err := o.ctrl.GatewayInfo(ctx, cid, req.Gateway)
	if err != nil {
		return fmt.Errorf("inspect gateway %s: %w", req.Gateway, err)
	}
	if active.PrivateIP == ha.PrivateIP {
		rs.run.Outcome = model.OutcomeRejected
		return &ValidationError{Gateway: req.Gateway, Reason: "active and ha gateway report the same private ip " + ha.PrivateIP}
	}
	rs.active = active
	rs.log.Infof("main gateway private ip: %s", active.PrivateIP)
	rs.done("active " + active.Name + " at " + active.PrivateIP)

	lctx, err := rs.acquire(ctx, req.Gateway)
	if err != nil {
		return err
	}
	ctx = lctx

	rs.begin(StepListRouteTables)
	tables, err := o.ctrl.ListRouteTables(ctx, cid, active.AccountName, active.Region, active.VpcID)
	if err != nil {
		return fmt.Errorf("querying route tables: %w", err)
	}
	rs.tables = tables
	rs.done(fmt.Sprintf("%d route table(s)", len(tables)))

	rs.begin(StepSnapshotRoutes)
	if err := rs.snapshot(ctx); err != nil {
		return err
	}

	// Everything below mutates routes or gateways and is unwound on failure.
	rs.mutating = true

	if err := rs.start(ctx, StepRedirectToActive); err != nil {
		return err
	}
	if err := rs.redirect(ctx, model.PhaseRedirectToActive, ha.PrivateIP, active.PrivateIP, o.opts.RedirectToActiveWait); err != nil {
		return err
	}

	if err := rs.start(ctx, StepResizeHA); err != nil {
		return err
	}
	if err := rs.resize(ctx, ha, req.Size); err != nil {
		return err
	}

	if err := rs.start(ctx, StepRedirectToHA); err != nil {
		return err
	}
	if err := rs.redirect(ctx, model.PhaseRedirectToHA, active.PrivateIP, ha.PrivateIP, o.opts.RedirectToHAWait); err != nil {
		return err
	}

	if err := rs.start(ctx, StepResizeActive); err != nil {
		return err
	}
	if err := rs.resize(ctx, active, req.Size); err != nil {
		return err
	}

	if err := rs.start(ctx, StepConsistencyCheck); err != nil {
		return err
	}
	if err := rs.checkConsistency(ctx); err != nil {
		return err
	}

	if err := rs.start(ctx, StepRestoreOriginal); err != nil {
		return err
	}
	if err := rs.restore(ctx); err != nil {
		return err
	}
	rs.log.Infof("original route tables restored")

	rs.undo.discard()
	rs.run.Outcome = model.OutcomeResized
	return nil
}

func (rs *runState) snapshot(ctx context.Context) error {
	snap := model.NewRouteSnapshot(rs.run.ID, rs.run.Gateway)
	for _, t := range rs.tables {
		routes, err := rs.listRoutes(ctx, t)
		if err != nil {
			return err
		}
		snap.Tables[t.String()] = routes
	}
	rs.snap = snap
	if err := rs.o.snaps.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot to %s: %w", rs.o.snaps.Location(), err)
	}
	rs.log.Infof("saved %d original route(s) to %s", snap.RouteCount(), rs.o.snaps.Location())
	rs.done(fmt.Sprintf("%d route(s) saved to %s", snap.RouteCount(), rs.o.snaps.Location()))
	return nil
}

func (rs *runState) resize(ctx context.Context, gw model.GatewaySpec, size string) error {
	o := rs.o
	rs.log.Infof("resizing gateway %s from %s to %s", gw.Name, gw.Size, size)
	if err := o.ctrl.ResizeGateway(ctx, rs.cid, gw.Name, size); err != nil {
		return fmt.Errorf("resize %s: %w", gw.Name, err)
	}
	if o.opts.RollbackResize {
		rs.undo.push("resize "+gw.Name+" back to "+gw.Size, func(ctx context.Context) error {
			return o.ctrl.ResizeGateway(ctx, rs.cid, gw.Name, gw.Size)
		})
	}
	o.obs.audit(model.AuditEntry{
		RunID:     rs.run.ID,
		Actor:     "gw-resize",
		Action:    "change_gateway_size",
		Target:    gw.Name,
		Detail:    gw.Size + " -> " + size,
		Timestamp: time.Now().UTC(),
	})
	if o.opts.VerifyResize {
		if err := rs.waitForSize(ctx, gw.Name, size); err != nil {
			return err
		}
	}
	rs.log.Infof("gateway %s resized", gw.Name)
	rs.done(gw.Name + " now " + size)
	return nil
}

func (rs *runState) begin(step string) {
	rs.current = step
	rs.run.SetStep(step, model.StepRunning, "")
	rs.log.Debugf("step %s started", step)
	rs.o.obs.runUpdated(rs.run)
}

func (rs *runState) done(msg string) {
	rs.run.SetStep(rs.current, model.StepSuccess, msg)
	rs.o.obs.runUpdated(rs.run)
}

func (rs *runState) finish(err error) {
	rs.run.FinishedAt = time.Now().UTC()
	if err == nil {
		rs.run.Status = model.RunSucceeded
		rs.o.obs.runUpdated(rs.run)
		return
	}
	rs.run.Status = model.RunFailed
	rs.run.Error = err.Error()
	if rs.current != "" {
		if s, ok := rs.run.Step(rs.current); ok && s.Status == model.StepRunning {
			rs.run.SetStep(rs.current, model.StepFail, err.Error())
		}
	}
	if rs.run.Outcome == "" {
		rs.run.Outcome = model.OutcomeAborted
		if rs.mutating {
			rs.run.Outcome = model.OutcomeIncomplete
		}
	}
	rs.o.obs.runUpdated(rs.run)
}

// rollback unwinds the undo stack on a context that survives cancellation of ctx.
func (rs *runState) rollback(ctx context.Context, cause error) error {
	failed := rs.current
	if s, ok := rs.run.Step(failed); ok && s.Status == model.StepRunning {
		rs.run.SetStep(failed, model.StepFail, cause.Error())
	}
	if rs.undo.len() == 0 {
		rs.run.Outcome = model.OutcomeRolledBack
		return cause
	}
	rs.log.Warnf("%s failed, rolling back %d change(s): %v", failed, rs.undo.len(), cause)
	if rs.lockLost() {
		rs.log.Warnf("rolling back without the gateway pair lock")
	}
	rs.begin(StepRollback)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rs.o.opts.RollbackTimeout)
	defer cancel()
	done, reverted, failures := rs.undo.unwind(rctx)
	if len(failures) == 0 && len(reverted) > 0 {
		if err := rs.converge(rctx, model.PhaseRollback, latest(reverted), rs.o.opts.RestoreWait); err != nil {
			var ce *ConvergenceError
			if !errors.As(err, &ce) {
				failures = append(failures, err)
			} else {
				rs.log.Warnf("rollback submitted but not yet visible: %v", err)
			}
		}
	}
	rerr := &RollbackError{Cause: cause, Undone: done, Failures: failures}
	if rerr.Complete() {
		rs.run.Outcome = model.OutcomeRolledBack
		rs.done(fmt.Sprintf("%d change(s) undone", done))
	} else {
		rs.run.Outcome = model.OutcomeIncomplete
		rs.run.SetStep(StepRollback, model.StepFail, errors.Join(failures...).Error())
		rs.log.Errorf("rollback incomplete, restore manually from %s: %v", rs.o.snaps.Location(), errors.Join(failures...))
	}
	return rerr
}
