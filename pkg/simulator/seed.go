package simulator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gw-resize/pkg/model"
)

// Seed is the YAML description of the simulated controller and cloud.
type Seed struct {
	Users      []SeedUser       `yaml:"users"`
	Sizes      map[int][]string `yaml:"sizes"`
	Gateways   []SeedGateway    `yaml:"gateways"`
	Tables     []SeedTable      `yaml:"route_tables"`
	RouteToken string           `yaml:"route_token"`
	Faults     Faults           `yaml:"faults"`
}

type SeedUser struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

type SeedGateway struct {
	Name        string `yaml:"name"`
	PrivateIP   string `yaml:"private_ip"`
	Vendor      string `yaml:"vendor"`
	SpokeVPC    string `yaml:"spoke_vpc"`
	VpcID       string `yaml:"vpc_id"`
	Region      string `yaml:"region"`
	AccountName string `yaml:"account_name"`
	Size        string `yaml:"size"`
}

func (g SeedGateway) spec() model.GatewaySpec {
	vendor := g.Vendor
	if vendor == "" {
		vendor = model.VendorAzureARM
	}
	spoke := g.SpokeVPC
	if spoke == "" {
		spoke = model.SpokeVPCYes
	}
	return model.GatewaySpec{
		Name:        g.Name,
		PrivateIP:   g.PrivateIP,
		Vendor:      vendor,
		SpokeVPC:    spoke,
		VpcID:       g.VpcID,
		Region:      g.Region,
		AccountName: g.AccountName,
		Size:        g.Size,
		CloudType:   model.CloudTypeAzure,
	}
}

type SeedTable struct {
	Name          string      `yaml:"name"`
	ResourceGroup string      `yaml:"resource_group"`
	VpcID         string      `yaml:"vpc_id"`
	Routes        []SeedRoute `yaml:"routes"`
}

type SeedRoute struct {
	Name    string `yaml:"name"`
	Prefix  string `yaml:"prefix"`
	NHType  string `yaml:"nh_type"`
	NextHop string `yaml:"next_hop"`
}

// Faults injects failures for rollback drills.
type Faults struct {
	// RouteLag delays visibility of route updates by that many list calls.
	RouteLag int `yaml:"route_lag"`
	// ResizePolls is how many get_gateway_info calls still report the old size after a resize.
	ResizePolls int `yaml:"resize_polls"`
	// FailResize lists gateways whose change_gateway_size is refused.
	FailResize []string `yaml:"fail_resize"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if len(s.Users) == 0 {
		return nil, fmt.Errorf("seed defines no users")
	}
	for _, g := range s.Gateways {
		if g.Name == "" || g.PrivateIP == "" || g.Size == "" {
			return nil, fmt.Errorf("seed gateway %q needs name, private_ip and size", g.Name)
		}
	}
	for _, t := range s.Tables {
		if t.Name == "" || t.ResourceGroup == "" || t.VpcID == "" {
			return nil, fmt.Errorf("seed route table %q needs name, resource_group and vpc_id", t.Name)
		}
	}
	return &s, nil
}
