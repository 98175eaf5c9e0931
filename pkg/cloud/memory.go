package cloud

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gw-resize/pkg/model"
)

// MemoryClient is an in-memory RouteClient backing the simulator and tests.
// With a lag > 0 an accepted update only becomes visible after that many
// ListRoutes calls on its table, mimicking asynchronous cloud-side application.
type MemoryClient struct {
	mu      sync.Mutex
	tables  map[string][]model.RouteRecord
	pending map[string][]pendingUpdate
	lag     int
	lists   int
	upserts int
}

type pendingUpdate struct {
	route     model.RouteRecord
	remaining int
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		tables:  make(map[string][]model.RouteRecord),
		pending: make(map[string][]pendingUpdate),
	}
}

// SetLag sets how many list calls an update stays invisible for.
func (m *MemoryClient) SetLag(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lag = n
}

// PutTable replaces the contents of a table.
func (m *MemoryClient) PutTable(table model.RouteTableRef, routes []model.RouteRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.RouteRecord, 0, len(routes))
	for _, r := range routes {
		if r.ResourceGroup == "" {
			r.ResourceGroup = table.ResourceGroup
		}
		if r.ID == "" {
			r.ID = routeID(table, r.Name)
		}
		cp = append(cp, r)
	}
	m.tables[table.String()] = cp
	delete(m.pending, table.String())
}

// DeleteRoute removes a route by name.
func (m *MemoryClient) DeleteRoute(table model.RouteTableRef, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	routes := m.tables[table.String()]
	keep := routes[:0]
	for _, r := range routes {
		if r.Name != name {
			keep = append(keep, r)
		}
	}
	m.tables[table.String()] = keep
}

// Tables lists the known table references.
func (m *MemoryClient) Tables() []model.RouteTableRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RouteTableRef, 0, len(m.tables))
	for k := range m.tables {
		if ref, err := model.ParseRouteTableRef(k); err == nil {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Routes returns the applied contents of a table without advancing pending updates.
func (m *MemoryClient) Routes(table model.RouteTableRef) []model.RouteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.RouteRecord(nil), m.tables[table.String()]...)
}

// Counts reports how many list and upsert calls were served.
func (m *MemoryClient) Counts() (lists, upserts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists, m.upserts
}

func (m *MemoryClient) ListRoutes(_ context.Context, table model.RouteTableRef) ([]model.RouteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := table.String()
	routes, ok := m.tables[key]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Op: "list routes " + key, Err: fmt.Errorf("route table not found")}
	}
	m.lists++
	var still []pendingUpdate
	for _, p := range m.pending[key] {
		p.remaining--
		if p.remaining <= 0 {
			routes = applyRoute(routes, p.route)
			continue
		}
		still = append(still, p)
	}
	m.pending[key] = still
	m.tables[key] = routes
	return append([]model.RouteRecord(nil), routes...), nil
}

func (m *MemoryClient) UpsertRoute(_ context.Context, table model.RouteTableRef, route model.RouteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := table.String()
	if _, ok := m.tables[key]; !ok {
		return &Error{Kind: KindNotFound, Op: "update route " + route.Name, Err: fmt.Errorf("route table %s not found", key)}
	}
	if route.Name == "" {
		return &Error{Kind: KindUnknown, Op: "update route", Err: fmt.Errorf("route name is required")}
	}
	if route.ResourceGroup == "" {
		route.ResourceGroup = table.ResourceGroup
	}
	if route.ID == "" {
		route.ID = routeID(table, route.Name)
	}
	m.upserts++
	if m.lag > 0 {
		m.pending[key] = append(m.pending[key], pendingUpdate{route: route, remaining: m.lag})
		return nil
	}
	m.tables[key] = applyRoute(m.tables[key], route)
	return nil
}

func applyRoute(routes []model.RouteRecord, route model.RouteRecord) []model.RouteRecord {
	for i := range routes {
		if routes[i].Name == route.Name {
			route.ID = routes[i].ID
			routes[i] = route
			return routes
		}
	}
	return append(routes, route)
}

func routeID(table model.RouteTableRef, name string) string {
	return fmt.Sprintf("/resourceGroups/%s/providers/Microsoft.Network/routeTables/%s/routes/%s", table.ResourceGroup, table.Name, name)
}
