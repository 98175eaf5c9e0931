// Package cloud reads and rewrites route tables in the hosting cloud.
package cloud

import (
	"context"

	"gw-resize/pkg/model"
)

// RouteClient lists and updates routes in a route table.
// ListRoutes re-enumerates the table on every call; UpsertRoute returns once the
// cloud accepted the update, not when it has converged.
type RouteClient interface {
	ListRoutes(ctx context.Context, table model.RouteTableRef) ([]model.RouteRecord, error)
	UpsertRoute(ctx context.Context, table model.RouteTableRef, route model.RouteRecord) error
}

// Credentials holds the client-credential flow inputs scoped to a subscription.
type Credentials struct {
	TenantID       string `yaml:"tenantId"`
	ClientID       string `yaml:"clientId"`
	ClientSecret   string `yaml:"-"`
	SubscriptionID string `yaml:"subscriptionId"`
}

// Missing lists the names of unset fields.
func (c Credentials) Missing() []string {
	var out []string
	if c.TenantID == "" {
		out = append(out, "tenant id")
	}
	if c.ClientID == "" {
		out = append(out, "client id")
	}
	if c.SubscriptionID == "" {
		out = append(out, "subscription id")
	}
	if c.ClientSecret == "" {
		out = append(out, "client secret")
	}
	return out
}
