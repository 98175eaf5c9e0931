package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gw-resize/pkg/model"
)

// SimulatorClient talks to the route endpoints served by gw-sim.
type SimulatorClient struct {
	base  string
	token string
	http  *http.Client
}

// NewSimulatorClient returns a client for a gw-sim base URL. token is sent as a bearer token when set.
func NewSimulatorClient(baseURL, token string, hc *http.Client) *SimulatorClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &SimulatorClient{base: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

// BaseURL is the simulator root the client was built for.
func (s *SimulatorClient) BaseURL() string { return s.base }

func (s *SimulatorClient) tableURL(table model.RouteTableRef) string {
	return fmt.Sprintf("%s/v1/routetables/%s/%s/routes", s.base, url.PathEscape(table.ResourceGroup), url.PathEscape(table.Name))
}

func (s *SimulatorClient) ListRoutes(ctx context.Context, table model.RouteTableRef) ([]model.RouteRecord, error) {
	var out []model.RouteRecord
	if err := s.doJSON(ctx, http.MethodGet, s.tableURL(table), nil, &out); err != nil {
		return nil, Wrap("list routes "+table.String(), err)
	}
	return out, nil
}

func (s *SimulatorClient) UpsertRoute(ctx context.Context, table model.RouteTableRef, route model.RouteRecord) error {
	u := s.tableURL(table) + "/" + url.PathEscape(route.Name)
	if err := s.doJSON(ctx, http.MethodPut, u, route, nil); err != nil {
		return Wrap("update route "+route.Name, err)
	}
	return nil
}

func (s *SimulatorClient) doJSON(ctx context.Context, method, u string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
