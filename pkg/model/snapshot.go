package model

import "time"

// RouteSnapshot is the pre-change state of every route in scope, keyed by RouteTableRef.String().
type RouteSnapshot struct {
	RunID     string                   `json:"runId,omitempty"`
	Gateway   string                   `json:"gateway,omitempty"`
	CreatedAt time.Time                `json:"createdAt"`
	Tables    map[string][]RouteRecord `json:"tables"`
}

// NewRouteSnapshot returns an empty snapshot for a run.
func NewRouteSnapshot(runID, gateway string) *RouteSnapshot {
	return &RouteSnapshot{
		RunID:     runID,
		Gateway:   gateway,
		CreatedAt: time.Now().UTC(),
		Tables:    make(map[string][]RouteRecord),
	}
}

// Lookup finds the captured record for a route ID in a table.
func (s *RouteSnapshot) Lookup(table RouteTableRef, routeID string) (RouteRecord, bool) {
	if s == nil {
		return RouteRecord{}, false
	}
	for _, r := range s.Tables[table.String()] {
		if r.ID == routeID {
			return r, true
		}
	}
	return RouteRecord{}, false
}

// RouteCount returns the number of captured routes across all tables.
func (s *RouteSnapshot) RouteCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, routes := range s.Tables {
		n += len(routes)
	}
	return n
}
