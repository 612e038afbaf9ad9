package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/endpoint-cloud/internal/auth"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/config"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/logging"
	"github.com/nerrad567/endpoint-cloud/internal/topology"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// echoHandler reports what reached the integration.
type echoHandler struct{}

func (echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body) //nolint:errcheck // test handler
	writeJSON(w, http.StatusOK, map[string]string{
		"method":    r.Method,
		"path":      r.URL.Path,
		"query":     r.URL.RawQuery,
		"body":      string(body),
		"header":    r.Header.Get("X-Custom"),
		"principal": PrincipalFrom(r.Context()),
	})
}

func stackConfig(authorizer bool) *config.Config {
	cfg := &config.Config{}
	cfg.Stack = config.StackConfig{
		Name:                 "EndpointCloud",
		Region:               "us-east-1",
		APIID:                "abc123",
		EndpointDetailsTable: "EndpointDetails",
		UsersTable:           "Users",
		EndpointFunction:     config.FunctionConfig{Name: "EndpointAdapter", Timeout: 6, MemoryMB: 128},
		SkillFunction:        config.FunctionConfig{Name: "SkillAdapter", Timeout: 7, MemoryMB: 128},
	}
	cfg.Security.JWT.Secret = testSecret
	cfg.Security.Authorizer.Enabled = authorizer
	cfg.WebSocket = config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	return cfg
}

func testServer(t *testing.T, authorizer bool) *Server {
	t.Helper()
	cfg := stackConfig(authorizer)
	topo, err := topology.FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig() error: %v", err)
	}
	return newServer(t, cfg, topo)
}

func newServer(t *testing.T, cfg *config.Config, topo *topology.Topology) *Server {
	t.Helper()
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   logging.Discard(),
		Topology: topo,
		Handlers: map[string]http.Handler{"EndpointAdapter": echoHandler{}},
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func unitToken(t *testing.T, kind auth.Kind, subject string) string {
	t.Helper()
	token, err := auth.IssueToken(kind, subject, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}
	return token
}

func serve(srv *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestNew_Validation(t *testing.T) {
	cfg := stackConfig(false)
	topo, err := topology.FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig() error: %v", err)
	}

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Topology: topo}},
		{"no topology", Deps{Logger: logging.Discard()}},
		{"missing integration", Deps{Logger: logging.Discard(), Topology: topo}},
		{"authorizer without secret", Deps{
			Logger:   logging.Discard(),
			Topology: topo,
			Handlers: map[string]http.Handler{"EndpointAdapter": echoHandler{}},
			Security: config.SecurityConfig{Authorizer: config.AuthorizerConfig{Enabled: true}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t, true)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
}

func TestOutputs(t *testing.T) {
	srv := testServer(t, false)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/outputs", nil))

	var outputs map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &outputs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]string{
		topology.OutputEndpointAPIID:           "abc123",
		topology.OutputEndpointAPIURL:          "https://abc123.execute-api.us-east-1.amazonaws.com/",
		topology.OutputEndpointAPIAuthRedirect: "https://abc123.execute-api.us-east-1.amazonaws.com/auth-redirect",
		topology.OutputSkillAdapterID:          "arn:aws:lambda:us-east-1:*:function:SkillAdapter",
		topology.OutputEndpointDetailsTable:    "EndpointDetails",
		topology.OutputUsersTable:              "Users",
	}
	for k, v := range want {
		if outputs[k] != v {
			t.Errorf("output %s = %q, want %q", k, outputs[k], v)
		}
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv := testServer(t, false)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = serve(srv, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv := testServer(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/endpoints", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(srv, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestRecovery(t *testing.T) {
	cfg := stackConfig(false)
	topo, err := topology.FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig() error: %v", err)
	}
	srv, err := New(Deps{
		Logger:   logging.Discard(),
		Topology: topo,
		Handlers: map[string]http.Handler{"EndpointAdapter": http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		})},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ─── Routing Tests ─────────────────────────────────────────────────

func TestRoutes_ForwardVerbatim(t *testing.T) {
	srv := testServer(t, false)

	tests := []struct {
		method string
		target string
		body   string
	}{
		{http.MethodGet, "/endpoints?userId=u1", ""},
		{http.MethodPost, "/endpoints", `{"userId":"u1","endpointId":"e1"}`},
		{http.MethodDelete, "/endpoints", `{"endpointId":"e1"}`},
		{http.MethodPost, "/directives", `{"directive":{}}`},
		{http.MethodPost, "/events", `{"event":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			req.Header.Set("X-Custom", "kept")
			w := serve(srv, req)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body)
			}

			var got map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			path, query, _ := strings.Cut(tt.target, "?")
			if got["method"] != tt.method || got["path"] != path || got["query"] != query {
				t.Errorf("forwarded %s %s?%s", got["method"], got["path"], got["query"])
			}
			if got["body"] != tt.body || got["header"] != "kept" {
				t.Errorf("forwarded body %q header %q", got["body"], got["header"])
			}
		})
	}
}

func TestRoutes_UnknownAndDisallowed(t *testing.T) {
	srv := testServer(t, false)

	if w := serve(srv, httptest.NewRequest(http.MethodGet, "/nonexistent", nil)); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", w.Code)
	}
	if w := serve(srv, httptest.NewRequest(http.MethodGet, "/directives", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /directives status = %d, want 405", w.Code)
	}
}

// ─── Authorizer Tests ──────────────────────────────────────────────

func TestAuthorizer(t *testing.T) {
	srv := testServer(t, true)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"user token", "Bearer " + unitToken(t, auth.KindUser, "u1"), http.StatusForbidden},
		{"unknown unit", "Bearer " + unitToken(t, auth.KindUnit, "Stranger"), http.StatusForbidden},
		{"skill unit", "Bearer " + unitToken(t, auth.KindUnit, "SkillAdapter"), http.StatusOK},
		{"endpoint unit", "Bearer " + unitToken(t, auth.KindUnit, "EndpointAdapter"), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/directives", strings.NewReader(`{}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(srv, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestAuthorizer_PrincipalReachesHandler(t *testing.T) {
	srv := testServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/endpoints", nil)
	req.Header.Set("Authorization", "Bearer "+unitToken(t, auth.KindUnit, "SkillAdapter"))
	w := serve(srv, req)

	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["principal"] != "SkillAdapter" {
		t.Errorf("principal = %q, want SkillAdapter", got["principal"])
	}
}

func TestAuthorizer_PolicyScopedToRoute(t *testing.T) {
	cfg := stackConfig(true)
	arns := topology.ARNs{Region: "us-east-1"}
	topo, err := topology.NewBuilder("Scoped", "us-east-1").
		Function(topology.Function{Name: "EndpointAdapter", Timeout: time.Second}).
		Function(topology.Function{Name: "Reader", Timeout: time.Second}).
		Grant("Reader", topology.Statement{
			Sid:       "ReadOnly",
			Effect:    topology.Allow,
			Actions:   []string{topology.ActionInvokeAPI},
			Resources: []string{arns.Route("abc123", http.MethodGet, topology.PathEndpoints)},
		}).
		API("abc123", "https://api.example.test").
		Route(topology.PathEndpoints, "EndpointAdapter", topology.AuthSigned, http.MethodGet, http.MethodPost).
		Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	srv := newServer(t, cfg, topo)
	token := "Bearer " + unitToken(t, auth.KindUnit, "Reader")

	for method, want := range map[string]int{
		http.MethodGet:  http.StatusOK,
		http.MethodPost: http.StatusForbidden,
	} {
		req := httptest.NewRequest(method, topology.PathEndpoints, nil)
		req.Header.Set("Authorization", token)
		if w := serve(srv, req); w.Code != want {
			t.Errorf("%s status = %d, want %d", method, w.Code, want)
		}
	}
}

func TestAuthorizer_DisabledLeavesRoutesOpen(t *testing.T) {
	srv := testServer(t, false)
	w := serve(srv, httptest.NewRequest(http.MethodPost, "/directives", strings.NewReader(`{}`)))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// ─── Hub Tests ─────────────────────────────────────────────────────

func testHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := testHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"endpoint.state_changed": {}},
	}
	hub.Register(client)

	hub.Broadcast("endpoint.state_changed", map[string]any{"endpointId": "e1", "powerState": "ON"})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != "endpoint.state_changed" {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, "endpoint.state_changed")
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := testHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"endpoint.added": {}},
	}
	hub.Register(client)

	hub.Broadcast("endpoint.state_changed", map[string]any{"endpointId": "e1"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := testHub(t)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── WebSocket Tests ───────────────────────────────────────────────

func dialWS(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestWebSocket_RequiresUnitToken(t *testing.T) {
	srv := testServer(t, true)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, resp, err := dialWS(t, ts, "")
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}

	_, resp, err = dialWS(t, ts, "?token="+unitToken(t, auth.KindUser, "u1"))
	if err == nil {
		t.Fatal("dial with a user token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}

func TestWebSocket_SubscribeAndBroadcast(t *testing.T) {
	srv := testServer(t, true)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws, _, err := dialWS(t, ts, "?token="+unitToken(t, auth.KindUnit, "EndpointAdapter"))
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"endpoint.added"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Errorf("subscribe response = %+v", resp)
	}

	srv.Hub().Broadcast("endpoint.added", map[string]string{"endpointId": "e1"})

	var event WSMessage
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != "endpoint.added" {
		t.Errorf("event = %+v", event)
	}
}

func TestWebSocket_PingAndUnknown(t *testing.T) {
	srv := testServer(t, false)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ws, _, err := dialWS(t, ts, "")
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	tests := []struct {
		msg  string
		want string
	}{
		{`{"type":"ping","id":"p1"}`, WSTypePong},
		{`{"type":"shout","id":"x"}`, WSTypeError},
		{`not json`, WSTypeError},
	}
	for _, tt := range tests {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.msg)); err != nil {
			t.Fatalf("write %s: %v", tt.msg, err)
		}
		var resp WSMessage
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("read reply to %s: %v", tt.msg, err)
		}
		if resp.Type != tt.want {
			t.Errorf("reply to %s type = %q, want %q", tt.msg, resp.Type, tt.want)
		}
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	cfg := stackConfig(false)
	topo, err := topology.FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig() error: %v", err)
	}
	port := 19180
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     port,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       cfg.WebSocket,
		Logger:   logging.Discard(),
		Topology: topo,
		Handlers: map[string]http.Handler{"EndpointAdapter": echoHandler{}},
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}
