package model

import (
	"fmt"
	"strings"
	"time"
)

// RouteTableRef addresses a cloud route table.
type RouteTableRef struct {
	Name          string `json:"name"`
	ResourceGroup string `json:"resource_group"`
}

// String renders the controller encoding "name:resource_group".
func (r RouteTableRef) String() string {
	return r.Name + ":" + r.ResourceGroup
}

// ParseRouteTableRef parses the controller encoding "name:resource_group".
func ParseRouteTableRef(s string) (RouteTableRef, error) {
	name, rg, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || name == "" || rg == "" {
		return RouteTableRef{}, fmt.Errorf("invalid route table reference %q", s)
	}
	return RouteTableRef{Name: name, ResourceGroup: rg}, nil
}

// RouteRecord is a single route as read from a route table.
// JSON keys match the routes_save.txt layout operators already use.
type RouteRecord struct {
	Name           string `json:"name"`
	ID             string `json:"id"`
	ResourceGroup  string `json:"rg_name"`
	AddressPrefix  string `json:"prefix"`
	NextHopType    string `json:"nh_type"`
	NextHopAddress string `json:"next_hop"`
}

// Route change phases.
const (
	PhaseRedirectToActive = "redirect_to_active"
	PhaseRedirectToHA     = "redirect_to_ha"
	PhaseRestore          = "restore"
	PhaseRollback         = "rollback"
)

// RouteChange records one submitted next-hop mutation.
type RouteChange struct {
	RunID     string    `json:"runId"`
	Table     string    `json:"table"`
	RouteID   string    `json:"routeId"`
	RouteName string    `json:"routeName"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}
