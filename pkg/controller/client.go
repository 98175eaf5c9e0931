package controller

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gw-resize/pkg/model"
)

// Controller API actions.
const (
	ActionLogin          = "login"
	ActionSupportedSizes = "get_gateway_supported_size"
	ActionGatewayInfo    = "get_gateway_info"
	ActionListRouteTabs  = "list_vpc_route_tables"
	ActionChangeSize     = "change_gateway_size"
)

// APIError is a controller-reported failure (return: false).
type APIError struct {
	Action string
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("controller action %s failed: %s", e.Action, e.Reason)
}

// envelope is the common response shape of /v1/api.
type envelope struct {
	Return  bool            `json:"return"`
	Results json.RawMessage `json:"results,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	CID     string          `json:"CID,omitempty"`
}

// Client talks to the controller's /v1/api action endpoint. Every call is a single attempt.
type Client struct {
	endpoint  string
	http      *http.Client
	cloudType int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithCloudType selects the key used to read supported sizes (8 = Azure ARM).
func WithCloudType(t int) Option {
	return func(c *Client) { c.cloudType = t }
}

// New builds a client for host. A bare host or host:port becomes https://host/v1/api.
func New(host string, opts ...Option) (*Client, error) {
	endpoint, err := endpointFor(host)
	if err != nil {
		return nil, err
	}
	c := &Client{
		endpoint:  endpoint,
		http:      &http.Client{Timeout: 60 * time.Second},
		cloudType: model.CloudTypeAzure,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func endpointFor(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("controller host is required")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("parse controller host: %w", err)
	}
	u.Path = "/v1/api"
	return u.String(), nil
}

// BuildHTTPClient returns a transport trusting caFile (optional). insecure skips verification.
func BuildHTTPClient(caFile string, insecure bool) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: insecure, MinVersion: tls.VersionTLS12} //nolint:gosec
	if caFile != "" {
		caData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		tlsConfig.RootCAs = pool
	}
	return &http.Client{
		Timeout:   60 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsConfig, Proxy: http.ProxyFromEnvironment},
	}, nil
}

// Login exchanges credentials for a session token (CID).
func (c *Client) Login(ctx context.Context, user, password string) (string, error) {
	env, err := c.do(ctx, http.MethodPost, url.Values{
		"action":   {ActionLogin},
		"username": {user},
		"password": {password},
	})
	if err != nil {
		return "", err
	}
	if env.CID == "" {
		if env.Reason != "" {
			return "", &APIError{Action: ActionLogin, Reason: env.Reason}
		}
		return "", fmt.Errorf("login response carried no CID")
	}
	return env.CID, nil
}

// SupportedSizes returns the gateway sizes the controller accepts for the configured cloud type.
func (c *Client) SupportedSizes(ctx context.Context, cid string) (map[string]struct{}, error) {
	env, err := c.call(ctx, http.MethodGet, ActionSupportedSizes, url.Values{"CID": {cid}})
	if err != nil {
		return nil, err
	}
	var byCloud map[string][]string
	if err := json.Unmarshal(env.Results, &byCloud); err != nil {
		return nil, fmt.Errorf("decode supported sizes: %w", err)
	}
	list, ok := byCloud[strconv.Itoa(c.cloudType)]
	if !ok {
		return nil, fmt.Errorf("supported sizes missing cloud type %d", c.cloudType)
	}
	out := make(map[string]struct{}, len(list))
	for _, s := range list {
		out[s] = struct{}{}
	}
	return out, nil
}

// GatewayInfo fetches a gateway's configuration.
func (c *Client) GatewayInfo(ctx context.Context, cid, name string) (model.GatewaySpec, error) {
	env, err := c.call(ctx, http.MethodGet, ActionGatewayInfo, url.Values{"CID": {cid}, "gateway_name": {name}})
	if err != nil {
		return model.GatewaySpec{}, err
	}
	var gw model.GatewaySpec
	if err := json.Unmarshal(env.Results, &gw); err != nil {
		return model.GatewaySpec{}, fmt.Errorf("decode gateway info for %s: %w", name, err)
	}
	if gw.Name == "" {
		gw.Name = name
	}
	if gw.PrivateIP == "" || gw.Size == "" {
		return model.GatewaySpec{}, fmt.Errorf("gateway info for %s missing private_ip or vpc_size", name)
	}
	return gw, nil
}

// ListRouteTables lists the route tables attached to a VPC/VNet.
func (c *Client) ListRouteTables(ctx context.Context, cid, account, region, vpcID string) ([]model.RouteTableRef, error) {
	env, err := c.call(ctx, http.MethodGet, ActionListRouteTabs, url.Values{
		"CID":          {cid},
		"account_name": {account},
		"vpc_region":   {region},
		"vpc_id":       {vpcID},
	})
	if err != nil {
		return nil, err
	}
	var res struct {
		Tables []string `json:"vpc_rtbs_list"`
	}
	if err := json.Unmarshal(env.Results, &res); err != nil {
		return nil, fmt.Errorf("decode route tables: %w", err)
	}
	out := make([]model.RouteTableRef, 0, len(res.Tables))
	for _, t := range res.Tables {
		ref, err := model.ParseRouteTableRef(t)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

// ResizeGateway asks the controller to change a gateway's size.
func (c *Client) ResizeGateway(ctx context.Context, cid, name, size string) error {
	_, err := c.call(ctx, http.MethodPost, ActionChangeSize, url.Values{
		"CID":     {cid},
		"gw_name": {name},
		"gw_size": {size},
	})
	return err
}

// call performs an action and turns return:false into an APIError.
func (c *Client) call(ctx context.Context, method, action string, params url.Values) (envelope, error) {
	params.Set("action", action)
	env, err := c.do(ctx, method, params)
	if err != nil {
		return envelope{}, err
	}
	if !env.Return {
		return envelope{}, &APIError{Action: action, Reason: env.Reason}
	}
	return env, nil
}

func (c *Client) do(ctx context.Context, method string, params url.Values) (envelope, error) {
	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.endpoint, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return envelope{}, fmt.Errorf("build request: %w", err)
	}
	action := params.Get("action")
	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, fmt.Errorf("%s: read body: %w", action, err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("%s: controller returned %s body=%s", action, resp.Status, truncate(strings.TrimSpace(string(body)), 256))
	}
	return env, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
