package resize

import (
	"context"
	"fmt"

	"gw-resize/pkg/topology"
)

type undoAction struct {
	desc  string
	fn    func(context.Context) error
	route *topology.RouteUpdate // set for route rewrites, already inverted
}

// undoStack records compensating actions for every successful mutation.
type undoStack struct {
	actions []undoAction
}

func (u *undoStack) push(desc string, fn func(context.Context) error) {
	u.actions = append(u.actions, undoAction{desc: desc, fn: fn})
}

func (u *undoStack) pushRoute(desc string, inverse topology.RouteUpdate, fn func(context.Context) error) {
	u.actions = append(u.actions, undoAction{desc: desc, fn: fn, route: &inverse})
}

func (u *undoStack) len() int { return len(u.actions) }

func (u *undoStack) discard() { u.actions = nil }

// unwind runs every action newest first. Failures do not stop the unwind.
func (u *undoStack) unwind(ctx context.Context) (done int, reverted []topology.RouteUpdate, failures []error) {
	for i := len(u.actions) - 1; i >= 0; i-- {
		a := u.actions[i]
		if err := a.fn(ctx); err != nil {
			failures = append(failures, fmt.Errorf("undo %s: %w", a.desc, err))
			continue
		}
		done++
		if a.route != nil {
			reverted = append(reverted, *a.route)
		}
	}
	u.actions = nil
	return done, reverted, failures
}

// latest keeps only the last update per route, which is the state the route ends up in.
func latest(updates []topology.RouteUpdate) []topology.RouteUpdate {
	last := make(map[string]int, len(updates))
	for i, u := range updates {
		last[u.Table.String()+"|"+u.After.ID] = i
	}
	out := make([]topology.RouteUpdate, 0, len(last))
	for i, u := range updates {
		if last[u.Table.String()+"|"+u.After.ID] == i {
			out = append(out, u)
		}
	}
	return out
}
