package model

// Vendor and topology markers reported by the controller's get_gateway_info action.
const (
	VendorAzureARM  = "Azure ARM"
	CloudTypeAzure  = 8
	SpokeVPCYes     = "yes"
	DefaultHASuffix = "-hagw"
	TopologySpoke   = "spoke"
	TopologyTransit = "transit"
)

// GatewaySpec captures the controller's view of a single gateway.
type GatewaySpec struct {
	Name        string `json:"gw_name"`
	PrivateIP   string `json:"private_ip"`
	Vendor      string `json:"vendor_name"`
	SpokeVPC    string `json:"spoke_vpc"`
	VpcID       string `json:"vpc_id"`
	Region      string `json:"vpc_region"`
	AccountName string `json:"account_name"`
	Size        string `json:"vpc_size"`
	CloudType   int    `json:"cloud_type,omitempty"`
}

// TopologyRole maps the spoke_vpc flag onto a role name.
func (g GatewaySpec) TopologyRole() string {
	if g.SpokeVPC == SpokeVPCYes {
		return TopologySpoke
	}
	return TopologyTransit
}

// HAName derives the HA peer name for an active gateway.
func HAName(active, suffix string) string {
	if suffix == "" {
		suffix = DefaultHASuffix
	}
	return active + suffix
}
