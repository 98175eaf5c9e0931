package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T, handle func(action string, form map[string]string) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/api", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}
		if r.Method == http.MethodPost {
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handle(form["action"], form))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestEndpointFor(t *testing.T) {
	ep, err := endpointFor("10.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "https://10.1.1.1/v1/api", ep)

	ep, err = endpointFor("http://localhost:8443/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8443/v1/api", ep)

	_, err = endpointFor("  ")
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	srv := fakeAPI(t, func(action string, form map[string]string) any {
		assert.Equal(t, ActionLogin, action)
		if form["password"] != "secret" {
			return map[string]any{"return": false, "reason": "invalid username or password"}
		}
		return map[string]any{"return": true, "CID": "abc123"}
	})
	c := newTestClient(t, srv)

	cid, err := c.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "abc123", cid)

	_, err = c.Login(context.Background(), "admin", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid username or password", apiErr.Reason)
}

func TestSupportedSizesReadsCloudType(t *testing.T) {
	srv := fakeAPI(t, func(action string, form map[string]string) any {
		assert.Equal(t, ActionSupportedSizes, action)
		assert.Equal(t, "abc", form["CID"])
		return map[string]any{"return": true, "results": map[string][]string{
			"1": {"t3.small"},
			"8": {"Standard_B1ms", "Standard_B2ms"},
		}}
	})
	c := newTestClient(t, srv)

	sizes, err := c.SupportedSizes(context.Background(), "abc")
	require.NoError(t, err)
	assert.Len(t, sizes, 2)
	assert.Contains(t, sizes, "Standard_B2ms")
	assert.NotContains(t, sizes, "t3.small")

	c.cloudType = 4
	_, err = c.SupportedSizes(context.Background(), "abc")
	assert.ErrorContains(t, err, "cloud type 4")
}

func TestGatewayInfo(t *testing.T) {
	srv := fakeAPI(t, func(action string, form map[string]string) any {
		switch form["gateway_name"] {
		case "spoke1":
			return map[string]any{"return": true, "results": map[string]any{
				"gw_name": "spoke1", "private_ip": "10.0.0.4", "vendor_name": "Azure ARM",
				"spoke_vpc": "yes", "vpc_id": "vnet1:rg1", "vpc_region": "West Europe",
				"account_name": "acct", "vpc_size": "Standard_B1ms",
			}}
		case "broken":
			return map[string]any{"return": true, "results": map[string]any{"gw_name": "broken"}}
		default:
			return map[string]any{"return": false, "reason": "gateway does not exist"}
		}
	})
	c := newTestClient(t, srv)

	gw, err := c.GatewayInfo(context.Background(), "cid", "spoke1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.4", gw.PrivateIP)
	assert.Equal(t, "spoke", gw.TopologyRole())
	assert.Equal(t, "Standard_B1ms", gw.Size)

	_, err = c.GatewayInfo(context.Background(), "cid", "broken")
	assert.ErrorContains(t, err, "missing private_ip")

	_, err = c.GatewayInfo(context.Background(), "cid", "nope")
	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
}

func TestListRouteTables(t *testing.T) {
	srv := fakeAPI(t, func(action string, form map[string]string) any {
		assert.Equal(t, ActionListRouteTabs, action)
		assert.Equal(t, "vnet1:rg1", form["vpc_id"])
		return map[string]any{"return": true, "results": map[string]any{
			"vpc_rtbs_list": []string{"rt-a:rg1", "rt-b:rg2"},
		}}
	})
	c := newTestClient(t, srv)

	tables, err := c.ListRouteTables(context.Background(), "cid", "acct", "West Europe", "vnet1:rg1")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "rt-b", tables[1].Name)
	assert.Equal(t, "rg2", tables[1].ResourceGroup)
}

func TestResizeGateway(t *testing.T) {
	var got map[string]string
	srv := fakeAPI(t, func(action string, form map[string]string) any {
		got = form
		return map[string]any{"return": true, "results": "resized"}
	})
	c := newTestClient(t, srv)

	require.NoError(t, c.ResizeGateway(context.Background(), "cid", "spoke1", "Standard_B2ms"))
	assert.Equal(t, ActionChangeSize, got["action"])
	assert.Equal(t, "spoke1", got["gw_name"])
	assert.Equal(t, "Standard_B2ms", got["gw_size"])
}

func TestNonJSONResponse(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.Login(context.Background(), "u", "p")
	assert.ErrorContains(t, err, "502")
}

func TestBuildHTTPClientRejectsBadCA(t *testing.T) {
	_, err := BuildHTTPClient("/nonexistent/ca.pem", false)
	assert.Error(t, err)

	hc, err := BuildHTTPClient("", true)
	require.NoError(t, err)
	assert.NotNil(t, hc.Transport)
}
