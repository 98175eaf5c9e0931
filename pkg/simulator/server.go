// Package simulator serves a fake controller /v1/api and fake cloud route tables,
// so a resize can be rehearsed end to end without touching real infrastructure.
package simulator

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gw-resize/pkg/auth"
	"gw-resize/pkg/cloud"
	"gw-resize/pkg/controller"
	"gw-resize/pkg/logging"
	"gw-resize/pkg/model"
)

// Server holds the simulated state. It is safe for concurrent requests.
type Server struct {
	log    *zap.SugaredLogger
	issuer *auth.Issuer
	routes *cloud.MemoryClient
	token  string

	mu        sync.Mutex
	users     map[string][]byte
	sizes     map[int][]string
	gateways  map[string]model.GatewaySpec
	vpcTables map[string][]model.RouteTableRef
	pending   map[string]pendingResize
	failures  map[string]struct{}
	polls     int
	resizes   []string
}

type pendingResize struct {
	size      string
	remaining int
}

// New builds a simulator from a seed.
func New(seed *Seed, issuer *auth.Issuer, log *zap.SugaredLogger) (*Server, error) {
	if log == nil {
		log = logging.Nop()
	}
	if issuer == nil {
		issuer = auth.NewIssuer("", 0)
	}
	s := &Server{
		log:       log,
		issuer:    issuer,
		routes:    cloud.NewMemoryClient(),
		token:     seed.RouteToken,
		users:     map[string][]byte{},
		sizes:     seed.Sizes,
		gateways:  map[string]model.GatewaySpec{},
		vpcTables: map[string][]model.RouteTableRef{},
		pending:   map[string]pendingResize{},
		failures:  map[string]struct{}{},
		polls:     seed.Faults.ResizePolls,
	}
	if s.sizes == nil {
		s.sizes = map[int][]string{}
	}
	for _, u := range seed.Users {
		hash := []byte(u.PasswordHash)
		if len(hash) == 0 {
			var err error
			hash, err = bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, err
			}
		}
		s.users[u.Username] = hash
	}
	for _, g := range seed.Gateways {
		s.gateways[g.Name] = g.spec()
	}
	for _, t := range seed.Tables {
		ref := model.RouteTableRef{Name: t.Name, ResourceGroup: t.ResourceGroup}
		s.vpcTables[t.VpcID] = append(s.vpcTables[t.VpcID], ref)
		routes := make([]model.RouteRecord, 0, len(t.Routes))
		for _, r := range t.Routes {
			routes = append(routes, model.RouteRecord{
				Name:           r.Name,
				AddressPrefix:  r.Prefix,
				NextHopType:    r.NHType,
				NextHopAddress: r.NextHop,
			})
		}
		s.routes.PutTable(ref, routes)
	}
	for _, name := range seed.Faults.FailResize {
		s.failures[name] = struct{}{}
	}
	s.routes.SetLag(seed.Faults.RouteLag)
	return s, nil
}

// Routes exposes the simulated route tables.
func (s *Server) Routes() *cloud.MemoryClient { return s.routes }

// Gateway returns the current state of a simulated gateway.
func (s *Server) Gateway(name string) (model.GatewaySpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gateways[name]
	return g, ok
}

// Resizes lists accepted change_gateway_size calls as name=size.
func (s *Server) Resizes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.resizes...)
}

// Handler wires the controller API and the route endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/api", s.handleAPI)
	mux.HandleFunc("GET /v1/routetables/{rg}/{table}/routes", s.routeAuth(s.handleListRoutes))
	mux.HandleFunc("PUT /v1/routetables/{rg}/{table}/routes/{name}", s.routeAuth(s.handlePutRoute))
	return mux
}

type apiResponse struct {
	Return  bool        `json:"return"`
	Results interface{} `json:"results,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	CID     string      `json:"CID,omitempty"`
}

func fail(reason string) apiResponse { return apiResponse{Return: false, Reason: reason} }

func ok(results interface{}) apiResponse { return apiResponse{Return: true, Results: results} }

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	action := r.Form.Get("action")
	if action == controller.ActionLogin {
		writeJSON(w, http.StatusOK, s.login(r.Form.Get("username"), r.Form.Get("password")))
		return
	}
	claims, err := s.issuer.Parse(r.Form.Get("CID"))
	if err != nil {
		writeJSON(w, http.StatusOK, fail("CID is invalid or expired."))
		return
	}
	var resp apiResponse
	switch action {
	case controller.ActionSupportedSizes:
		resp = s.supportedSizes()
	case controller.ActionGatewayInfo:
		resp = s.gatewayInfo(r.Form.Get("gateway_name"))
	case controller.ActionListRouteTabs:
		resp = s.listRouteTables(r.Form.Get("vpc_id"))
	case controller.ActionChangeSize:
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp = s.changeSize(claims.Username, r.Form.Get("gw_name"), r.Form.Get("gw_size"))
	default:
		resp = fail("unknown action " + action)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) login(user, password string) apiResponse {
	s.mu.Lock()
	hash, known := s.users[user]
	s.mu.Unlock()
	if !known || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return fail("Invalid username or password.")
	}
	cid, err := s.issuer.Generate(user)
	if err != nil {
		return fail("unable to issue session: " + err.Error())
	}
	s.log.Infof("login user=%s", user)
	return apiResponse{Return: true, Results: "User login:" + user + " in account: admin has been authorized successfully", CID: cid}
}

func (s *Server) supportedSizes() apiResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.sizes))
	for k, v := range s.sizes {
		out[strconv.Itoa(k)] = v
	}
	return ok(out)
}

func (s *Server) gatewayInfo(name string) apiResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, found := s.gateways[name]
	if !found {
		return fail("Gateway " + name + " does not exist.")
	}
	if p, busy := s.pending[name]; busy {
		p.remaining--
		if p.remaining <= 0 {
			g.Size = p.size
			s.gateways[name] = g
			delete(s.pending, name)
		} else {
			s.pending[name] = p
		}
	}
	return ok(g)
}

func (s *Server) listRouteTables(vpcID string) apiResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.vpcTables[vpcID]
	list := make([]string, 0, len(refs))
	for _, ref := range refs {
		list = append(list, ref.String())
	}
	sort.Strings(list)
	return ok(map[string]interface{}{"vpc_rtbs_list": list})
}

func (s *Server) changeSize(user, name, size string) apiResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, found := s.gateways[name]
	if !found {
		return fail("Gateway " + name + " does not exist.")
	}
	if !contains(s.sizes[g.CloudType], size) {
		return fail("Gateway size " + size + " is not supported.")
	}
	if _, refused := s.failures[name]; refused {
		return fail("Failed to resize " + name + ": simulated failure.")
	}
	s.resizes = append(s.resizes, name+"="+size)
	s.log.Infof("resize gateway=%s from=%s to=%s by=%s", name, g.Size, size, user)
	if s.polls > 0 {
		s.pending[name] = pendingResize{size: size, remaining: s.polls}
	} else {
		g.Size = size
		s.gateways[name] = g
	}
	return ok("Gateway " + name + " resized to " + size)
}

func (s *Server) routeAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next(w, r)
			return
		}
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") || strings.TrimPrefix(h, "Bearer ") != s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func tableRef(r *http.Request) model.RouteTableRef {
	return model.RouteTableRef{Name: r.PathValue("table"), ResourceGroup: r.PathValue("rg")}
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.routes.ListRoutes(r.Context(), tableRef(r))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handlePutRoute(w http.ResponseWriter, r *http.Request) {
	var route model.RouteRecord
	if err := json.NewDecoder(r.Body).Decode(&route); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	route.Name = r.PathValue("name")
	if err := s.routes.UpsertRoute(r.Context(), tableRef(r), route); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func statusFor(err error) int {
	switch cloud.KindOf(err) {
	case cloud.KindNotFound:
		return http.StatusNotFound
	case cloud.KindAuth:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
