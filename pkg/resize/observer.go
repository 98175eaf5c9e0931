package resize

import "gw-resize/pkg/model"

// Observer receives run progress. Calls are synchronous and must not block for long.
type Observer interface {
	RunUpdated(run model.Run)
	RouteChanged(change model.RouteChange)
	Audit(entry model.AuditEntry)
}

// NopObserver can be embedded by observers interested in a subset of events.
type NopObserver struct{}

func (NopObserver) RunUpdated(model.Run) {}
func (NopObserver) RouteChanged(model.RouteChange) {}
func (NopObserver) Audit(model.AuditEntry) {}

// observers fans events out in registration order.
type observers []Observer

func (os observers) runUpdated(run *model.Run) {
	if len(os) == 0 {
		return
	}
	cp := *run
	cp.Steps = append([]model.RunStep(nil), run.Steps...)
	for _, o := range os {
		o.RunUpdated(cp)
	}
}

func (os observers) routeChanged(c model.RouteChange) {
	for _, o := range os {
		o.RouteChanged(c)
	}
}

func (os observers) audit(e model.AuditEntry) {
	for _, o := range os {
		o.Audit(e)
	}
}
