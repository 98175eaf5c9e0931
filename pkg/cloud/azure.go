package cloud

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v5"

	"gw-resize/pkg/model"
)

// AzureClient manages routes through Azure Resource Manager.
type AzureClient struct {
	routes *armnetwork.RoutesClient
}

// NewAzureClient authenticates with a client secret and scopes the routes client to the subscription.
// Bad credentials only surface on the first call; they come back as KindAuth.
func NewAzureClient(creds Credentials) (*AzureClient, error) {
	cred, err := azidentity.NewClientSecretCredential(creds.TenantID, creds.ClientID, creds.ClientSecret, nil)
	if err != nil {
		return nil, &Error{Kind: KindAuth, Op: "credential", Err: err}
	}
	rc, err := armnetwork.NewRoutesClient(creds.SubscriptionID, cred, nil)
	if err != nil {
		return nil, &Error{Kind: KindAuth, Op: "routes client", Err: err}
	}
	return &AzureClient{routes: rc}, nil
}

func (a *AzureClient) ListRoutes(ctx context.Context, table model.RouteTableRef) ([]model.RouteRecord, error) {
	pager := a.routes.NewListPager(table.ResourceGroup, table.Name, nil)
	var out []model.RouteRecord
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, Wrap("list routes "+table.String(), err)
		}
		for _, r := range page.Value {
			if r == nil {
				continue
			}
			out = append(out, recordFromAzure(table, r))
		}
	}
	return out, nil
}

func (a *AzureClient) UpsertRoute(ctx context.Context, table model.RouteTableRef, route model.RouteRecord) error {
	params := armnetwork.Route{
		Name: to.Ptr(route.Name),
		Properties: &armnetwork.RoutePropertiesFormat{
			AddressPrefix:    to.Ptr(route.AddressPrefix),
			NextHopType:      to.Ptr(armnetwork.RouteNextHopType(route.NextHopType)),
			NextHopIPAddress: to.Ptr(route.NextHopAddress),
		},
	}
	if route.ID != "" {
		params.ID = to.Ptr(route.ID)
	}
	// The poller is dropped: convergence is checked by re-listing the table.
	if _, err := a.routes.BeginCreateOrUpdate(ctx, table.ResourceGroup, table.Name, route.Name, params, nil); err != nil {
		return Wrap("update route "+route.Name, err)
	}
	return nil
}

func recordFromAzure(table model.RouteTableRef, r *armnetwork.Route) model.RouteRecord {
	rec := model.RouteRecord{
		Name:          deref(r.Name),
		ID:            deref(r.ID),
		ResourceGroup: table.ResourceGroup,
	}
	if p := r.Properties; p != nil {
		rec.AddressPrefix = deref(p.AddressPrefix)
		rec.NextHopAddress = deref(p.NextHopIPAddress)
		if p.NextHopType != nil {
			rec.NextHopType = string(*p.NextHopType)
		}
	}
	return rec
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
