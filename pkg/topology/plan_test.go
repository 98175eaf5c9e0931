package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gw-resize/pkg/model"
)

var table = model.RouteTableRef{Name: "rt1", ResourceGroup: "rg1"}

func routes() []model.RouteRecord {
	return []model.RouteRecord{
		{ID: "id1", Name: "r1", AddressPrefix: "10.1.0.0/16", NextHopType: "VirtualAppliance", NextHopAddress: "10.0.0.5"},
		{ID: "id2", Name: "r2", AddressPrefix: "10.2.0.0/16", NextHopType: "VirtualAppliance", NextHopAddress: "10.0.0.5"},
		{ID: "id3", Name: "r3", AddressPrefix: "10.3.0.0/16", NextHopType: "VirtualAppliance", NextHopAddress: "10.0.0.4"},
		{ID: "id4", Name: "r4", AddressPrefix: "0.0.0.0/0", NextHopType: "Internet"},
	}
}

func snapshotOf(rs []model.RouteRecord) *model.RouteSnapshot {
	snap := model.NewRouteSnapshot("run", "spoke1")
	snap.Tables[table.String()] = append([]model.RouteRecord(nil), rs...)
	return snap
}

func apply(rs []model.RouteRecord, updates []RouteUpdate) []model.RouteRecord {
	out := append([]model.RouteRecord(nil), rs...)
	for _, u := range updates {
		for i := range out {
			if out[i].ID == u.After.ID {
				out[i] = u.After
			}
		}
	}
	return out
}

func TestPlanRedirect(t *testing.T) {
	updates := PlanRedirect(table, routes(), "10.0.0.5", "10.0.0.4")
	require.Len(t, updates, 2)
	assert.Equal(t, "r1", updates[0].Before.Name)
	assert.Equal(t, "10.0.0.5", updates[0].Before.NextHopAddress)
	assert.Equal(t, "10.0.0.4", updates[0].After.NextHopAddress)
	assert.Equal(t, updates[0].Before.AddressPrefix, updates[0].After.AddressPrefix)

	again := PlanRedirect(table, apply(routes(), updates), "10.0.0.5", "10.0.0.4")
	assert.Empty(t, again)
}

func TestPlanRedirectIgnoresEmptyAndSelf(t *testing.T) {
	assert.Empty(t, PlanRedirect(table, routes(), "", "10.0.0.4"))
	assert.Empty(t, PlanRedirect(table, routes(), "10.0.0.4", "10.0.0.4"))
}

func TestPlanRestore(t *testing.T) {
	orig := routes()
	snap := snapshotOf(orig)
	moved := apply(orig, PlanRedirect(table, orig, "10.0.0.4", "10.0.0.5"))
	moved = append(moved, model.RouteRecord{ID: "id9", Name: "new", NextHopAddress: "10.0.0.5"})

	updates, unknown := PlanRestore(table, moved, snap)
	require.Len(t, updates, 1)
	assert.Equal(t, "r3", updates[0].After.Name)
	assert.Equal(t, "10.0.0.4", updates[0].After.NextHopAddress)
	require.Len(t, unknown, 1)
	assert.Equal(t, "new", unknown[0].Name)

	restored := apply(moved, updates)
	assert.Equal(t, orig, restored[:len(orig)])
}

func TestPending(t *testing.T) {
	planned := PlanRedirect(table, routes(), "10.0.0.5", "10.0.0.4")
	assert.Len(t, Pending(routes(), planned), 2)
	assert.Empty(t, Pending(apply(routes(), planned), planned))

	partial := apply(routes(), planned[:1])
	left := Pending(partial, planned)
	require.Len(t, left, 1)
	assert.Equal(t, "r2", left[0].After.Name)

	// r2 deleted out from under us is no longer waited for.
	assert.Empty(t, Pending(partial[:1], planned))
}

func TestDiff(t *testing.T) {
	snap := snapshotOf(routes())
	cur := apply(routes(), PlanRedirect(table, routes(), "10.0.0.5", "10.0.0.4"))
	assert.True(t, Diff(table, cur, snap).Empty(), "next-hop moves are not drift")

	cur[1].AddressPrefix = "10.22.0.0/16"
	cur = append(cur[:2], cur[3:]...)
	cur = append(cur, model.RouteRecord{ID: "id5", Name: "r5", AddressPrefix: "10.5.0.0/16"})

	d := Diff(table, cur, snap)
	require.Len(t, d.Added, 1)
	assert.Equal(t, "r5", d.Added[0].Name)
	require.Len(t, d.Removed, 1)
	assert.Equal(t, "r3", d.Removed[0].Name)
	require.Len(t, d.Modified, 1)
	assert.Equal(t, "r2", d.Modified[0].Name)
}

func TestDiffNilSnapshotTreatsAllAsAdded(t *testing.T) {
	d := Diff(table, routes(), nil)
	assert.Len(t, d.Added, 4)
	assert.Empty(t, d.Removed)
}
