package topology

import (
	"sort"

	"gw-resize/pkg/model"
)

// RouteUpdate is a planned next-hop rewrite of one route.
type RouteUpdate struct {
	Table  model.RouteTableRef
	Before model.RouteRecord
	After  model.RouteRecord
}

// PlanRedirect rewrites every route whose next hop is exactly vacate so it points at target.
// Routes pointing anywhere else are left alone, so running it again on the result plans nothing.
func PlanRedirect(table model.RouteTableRef, routes []model.RouteRecord, vacate, target string) []RouteUpdate {
	if vacate == "" || vacate == target {
		return nil
	}
	var out []RouteUpdate
	for _, r := range routes {
		if r.NextHopAddress != vacate {
			continue
		}
		after := r
		after.NextHopAddress = target
		out = append(out, RouteUpdate{Table: table, Before: r, After: after})
	}
	return out
}

// PlanRestore rewrites routes back to the next hop captured in the snapshot, matched by route ID.
// Routes absent from the snapshot are returned as unknown and never rewritten.
func PlanRestore(table model.RouteTableRef, current []model.RouteRecord, snap *model.RouteSnapshot) (updates []RouteUpdate, unknown []model.RouteRecord) {
	for _, r := range current {
		orig, ok := snap.Lookup(table, r.ID)
		if !ok {
			unknown = append(unknown, r)
			continue
		}
		if r.NextHopAddress == orig.NextHopAddress {
			continue
		}
		after := r
		after.NextHopAddress = orig.NextHopAddress
		updates = append(updates, RouteUpdate{Table: table, Before: r, After: after})
	}
	return updates, unknown
}

// Pending returns the planned updates whose route does not yet show the expected next hop.
// Updates for routes that disappeared from the table are dropped.
func Pending(current []model.RouteRecord, planned []RouteUpdate) []RouteUpdate {
	byID := make(map[string]model.RouteRecord, len(current))
	for _, r := range current {
		byID[r.ID] = r
	}
	var out []RouteUpdate
	for _, u := range planned {
		r, ok := byID[u.After.ID]
		if !ok {
			continue
		}
		if r.NextHopAddress != u.After.NextHopAddress {
			out = append(out, u)
		}
	}
	return out
}

// Drift describes how a table moved away from its snapshot outside of this run's own rewrites.
type Drift struct {
	Table    model.RouteTableRef
	Added    []model.RouteRecord
	Removed  []model.RouteRecord
	Modified []model.RouteRecord
}

// Empty reports whether nothing drifted.
func (d Drift) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Diff compares current routes with the snapshot by route ID. Next-hop addresses are
// expected to differ mid-run and are ignored; prefix and next-hop type changes count as drift.
func Diff(table model.RouteTableRef, current []model.RouteRecord, snap *model.RouteSnapshot) Drift {
	d := Drift{Table: table}
	seen := make(map[string]struct{}, len(current))
	for _, r := range current {
		seen[r.ID] = struct{}{}
		orig, ok := snap.Lookup(table, r.ID)
		if !ok {
			d.Added = append(d.Added, r)
			continue
		}
		if orig.AddressPrefix != r.AddressPrefix || orig.NextHopType != r.NextHopType {
			d.Modified = append(d.Modified, r)
		}
	}
	if snap != nil {
		for _, orig := range snap.Tables[table.String()] {
			if _, ok := seen[orig.ID]; !ok {
				d.Removed = append(d.Removed, orig)
			}
		}
	}
	sortRecords(d.Added)
	sortRecords(d.Removed)
	sortRecords(d.Modified)
	return d
}

func sortRecords(rs []model.RouteRecord) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Name < rs[j].Name })
}
