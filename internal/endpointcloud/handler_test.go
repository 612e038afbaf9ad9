package endpointcloud

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/endpoint-cloud/internal/alexa"
	"github.com/nerrad567/endpoint-cloud/internal/auth"
	"github.com/nerrad567/endpoint-cloud/internal/directive"
	"github.com/nerrad567/endpoint-cloud/internal/endpoint"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/config"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/database"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/logging"
	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/mqtt"
	"github.com/nerrad567/endpoint-cloud/internal/thing"
	"github.com/nerrad567/endpoint-cloud/internal/user"
	"github.com/nerrad567/endpoint-cloud/migrations"
)

const devToken = "access-token-from-skill"

// spyRegistry counts calls and can fail a named operation.
type spyRegistry struct {
	thing.Registry

	mu     sync.Mutex
	calls  int
	failOn string
}

func (s *spyRegistry) hit(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn == op {
		return errors.New(op + " unavailable")
	}
	return nil
}

func (s *spyRegistry) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *spyRegistry) CreateThingType(ctx context.Context, tt thing.ThingType) error {
	if err := s.hit("CreateThingType"); err != nil {
		return err
	}
	return s.Registry.CreateThingType(ctx, tt)
}

func (s *spyRegistry) UpdateThing(ctx context.Context, t thing.Thing) (*thing.Thing, error) {
	if err := s.hit("UpdateThing"); err != nil {
		return nil, err
	}
	return s.Registry.UpdateThing(ctx, t)
}

func (s *spyRegistry) GetThingShadow(ctx context.Context, name string) (*thing.Shadow, error) {
	if err := s.hit("GetThingShadow"); err != nil {
		return nil, err
	}
	return s.Registry.GetThingShadow(ctx, name)
}

func (s *spyRegistry) UpdateThingShadow(ctx context.Context, name string, u thing.ShadowUpdate) (*thing.Shadow, error) {
	if err := s.hit("UpdateThingShadow"); err != nil {
		return nil, err
	}
	return s.Registry.UpdateThingShadow(ctx, name, u)
}

type fakeHub struct {
	mu     sync.Mutex
	events []string
	last   map[string]any
}

func (h *fakeHub) Broadcast(channel string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, channel)
	if h.last == nil {
		h.last = map[string]any{}
	}
	h.last[channel] = payload
}

func (h *fakeHub) channels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.events)
}

type point struct {
	endpointID, userID string
	props              map[string]any
}

type fakeTelemetry struct {
	mu     sync.Mutex
	points []point
}

func (f *fakeTelemetry) WriteEndpointState(endpointID, userID string, props map[string]any, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, point{endpointID, userID, props})
}

type fakeEvents struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakeEvents) PublishJSON(topic string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

type fixture struct {
	h         *Handler
	local     *thing.LocalRegistry
	registry  *spyRegistry
	endpoints endpoint.Repository
	users     user.Repository
	hub       *fakeHub
	telemetry *fakeTelemetry
	events    *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	local := thing.NewLocalRegistry(db.DB)
	reg := &spyRegistry{Registry: local}
	eps := endpoint.NewSQLiteRepository(db.DB)
	users := user.NewSQLiteRepository(db.DB)

	resolver := auth.NewResolver(config.SecurityConfig{
		JWT:      config.JWTConfig{Secret: "endpointcloud-test-secret-0123456789"},
		DevToken: config.DevTokenConfig{Enabled: true, Token: devToken, UserID: "0"},
	})

	f := &fixture{
		local:     local,
		registry:  reg,
		endpoints: eps,
		users:     users,
		hub:       &fakeHub{},
		telemetry: &fakeTelemetry{},
		events:    &fakeEvents{},
	}
	h, err := New(Deps{
		Settings:   Settings{EndpointDetailsTable: "EndpointDetails", UsersTable: "Users"},
		Logger:     logging.Discard(),
		Endpoints:  eps,
		Users:      users,
		Registry:   reg,
		Directives: directive.NewDispatcher(eps, users, reg, resolver, nil),
		ThingGroup: "Samples",
		Telemetry:  f.telemetry,
		Hub:        f.hub,
		Events:     f.events,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.h = h
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	switch b := body.(type) {
	case nil:
		r = httptest.NewRequest(method, target, nil)
	case string:
		r = httptest.NewRequest(method, target, strings.NewReader(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = httptest.NewRequest(method, target, bytes.NewReader(data))
	}
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, r)
	return w
}

func (f *fixture) create(t *testing.T, userID, id string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/endpoints", map[string]any{
		"userId":       userID,
		"endpointId":   id,
		"friendlyName": "Light " + id,
		"sku":          "LI01",
		"capabilities": []map[string]any{{
			"type": "AlexaInterface", "interface": "Alexa.PowerController", "version": "3",
			"properties": map[string]any{"supported": []map[string]string{{"name": "powerState"}}, "retrievable": true},
		}},
	})
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("POST /endpoints %s status = %d, body = %s", id, w.Code, w.Body)
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", w.Body, err)
	}
	return v
}

func ids(eps []endpoint.Endpoint) []string {
	out := make([]string, len(eps))
	for i, e := range eps {
		out[i] = e.EndpointID
	}
	return out
}

func TestLoadSettings(t *testing.T) {
	s, err := LoadSettings(map[string]string{
		"API_ID":                 "abc123",
		"ENDPOINT_DETAILS_TABLE": "EndpointDetails",
		"USERS_TABLE":            "Users",
		"REGION":                 "eu-west-1",
	})
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	want := Settings{
		APIID:                "abc123",
		EndpointDetailsTable: "EndpointDetails",
		UsersTable:           "Users",
		Region:               "eu-west-1",
		FunctionName:         "EndpointAdapter",
	}
	if s != want {
		t.Errorf("LoadSettings() = %+v, want %+v", s, want)
	}

	if _, err := LoadSettings(map[string]string{"USERS_TABLE": "Users"}); err == nil {
		t.Error("LoadSettings() without ENDPOINT_DETAILS_TABLE should fail")
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no deps should fail")
	}
}

func TestThingTypeFor(t *testing.T) {
	tests := []struct {
		sku  string
		want string
	}{
		{"LI00", "SampleLight"},
		{"li07", "SampleLight"},
		{"MW00", "SampleMicrowave"},
		{"SW01", "SampleSwitch"},
		{"TT00", "SampleToaster"},
		{"OT00", "SampleOther"},
		{"X", "SampleOther"},
		{"", "SampleOther"},
	}
	for _, tt := range tests {
		if got := ThingTypeFor(tt.sku); got != tt.want {
			t.Errorf("ThingTypeFor(%q) = %q, want %q", tt.sku, got, tt.want)
		}
	}
}

func TestEndToEnd(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/endpoints", map[string]any{"userId": "u1", "endpointId": "e1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST status = %d, body = %s", w.Code, w.Body)
	}

	w = f.do(t, http.MethodGet, "/endpoints?userId=u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	if got := ids(decode[[]endpoint.Endpoint](t, w)); !slices.Equal(got, []string{"e1"}) {
		t.Fatalf("GET ?userId=u1 = %v, want [e1]", got)
	}

	w = f.do(t, http.MethodDelete, "/endpoints", map[string]any{"endpointId": "e1"})
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d, body = %s", w.Code, w.Body)
	}

	w = f.do(t, http.MethodGet, "/endpoints?endpointId=e1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", w.Code)
	}
	w = f.do(t, http.MethodGet, "/endpoints?userId=u1", nil)
	if got := decode[[]endpoint.Endpoint](t, w); len(got) != 0 {
		t.Errorf("GET ?userId=u1 after delete = %v, want empty", ids(got))
	}
}

func TestPostEndpoint_DefaultsAndRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.do(t, http.MethodPost, "/endpoints",
		`{"event":{"endpoint":{"userId":"u9","sku":"MW00","displayCategories":"MICROWAVE","capabilities":[]}}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	ep := decode[endpoint.Endpoint](t, w)

	if !regexp.MustCompile(`^SAMPLE_ENDPOINT_[A-Z0-9]{8}$`).MatchString(ep.EndpointID) {
		t.Errorf("EndpointID = %q, want generated sample id", ep.EndpointID)
	}
	if !strings.HasSuffix(ep.FriendlyName, " Sample Endpoint") {
		t.Errorf("FriendlyName = %q", ep.FriendlyName)
	}
	if ep.Description != DefaultDescription || ep.ManufacturerName != DefaultManufacturerName {
		t.Errorf("defaults = %q / %q", ep.Description, ep.ManufacturerName)
	}
	if !slices.Equal(ep.DisplayCategories, []string{"MICROWAVE"}) {
		t.Errorf("DisplayCategories = %v", ep.DisplayCategories)
	}

	ok, err := f.users.Exists(ctx, "u9")
	if err != nil || !ok {
		t.Errorf("user u9 should be registered: %v", err)
	}

	th, err := f.local.DescribeThing(ctx, ep.EndpointID)
	if err != nil {
		t.Fatalf("DescribeThing() error = %v", err)
	}
	if th.ThingType != "SampleMicrowave" || th.Attributes[thing.AttrUserID] != "u9" {
		t.Errorf("thing = %+v", th)
	}
	members, err := f.local.GroupMembers(ctx, "Samples")
	if err != nil {
		t.Fatalf("GroupMembers() error = %v", err)
	}
	if !slices.Equal(members, []string{ep.EndpointID}) {
		t.Errorf("group members = %v", members)
	}

	if got := f.hub.channels(); !slices.Equal(got, []string{ChannelEndpointAdded}) {
		t.Errorf("broadcasts = %v", got)
	}
	if len(f.events.topics) != 1 || f.events.topics[0] != "endpointcloud/events/endpoint.added" {
		t.Errorf("bus events = %v", f.events.topics)
	}
}

func TestPostEndpoint_UpdateKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, "u1", "e1")
	if err := f.endpoints.UpdateState(ctx, "e1", endpoint.State{"powerState": "ON"}); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	w := f.do(t, http.MethodPost, "/endpoints", map[string]any{"userId": "u2", "id": "e1", "friendlyName": "Renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("second POST status = %d, want 200, body = %s", w.Code, w.Body)
	}
	ep, err := f.endpoints.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ep.FriendlyName != "Renamed" || ep.UserID != "u2" || ep.State["powerState"] != "ON" {
		t.Errorf("endpoint = %+v", ep)
	}
	th, err := f.local.DescribeThing(ctx, "e1")
	if err != nil {
		t.Fatalf("DescribeThing() error = %v", err)
	}
	if th.Attributes[thing.AttrUserID] != "u2" {
		t.Errorf("thing owner = %q, want u2", th.Attributes[thing.AttrUserID])
	}
}

func TestPostEndpoint_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"empty", "", http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
		{"no user", map[string]any{"endpointId": "e1"}, http.StatusBadRequest},
		{"bad id", map[string]any{"userId": "u1", "endpointId": "has space"}, http.StatusBadRequest},
		{"wrapped without endpoint", `{"event":{}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/endpoints", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body)
			}
		})
	}

	f.registry.failOn = "CreateThingType"
	w := f.do(t, http.MethodPost, "/endpoints", map[string]any{"userId": "u1", "endpointId": "e1"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("registry failure status = %d, want 502", w.Code)
	}
	if _, err := f.endpoints.Get(context.Background(), "e1"); !errors.Is(err, endpoint.ErrEndpointNotFound) {
		t.Errorf("endpoint should not be written when the registry fails, Get() error = %v", err)
	}
}

func TestGetEndpoints_ReverseIndex(t *testing.T) {
	f := newFixture(t)

	for _, c := range []struct{ user, id string }{
		{"u1", "e3"}, {"u2", "e2"}, {"u1", "e1"}, {"u3", "e4"}, {"u1", "e5"},
	} {
		f.create(t, c.user, c.id)
	}

	w := f.do(t, http.MethodGet, "/endpoints?userId=u1", nil)
	if got := ids(decode[[]endpoint.Endpoint](t, w)); !slices.Equal(got, []string{"e1", "e3", "e5"}) {
		t.Errorf("?userId=u1 = %v, want [e1 e3 e5]", got)
	}
	w = f.do(t, http.MethodGet, "/endpoints?user_id=nobody", nil)
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("unknown user body = %s, want []", body)
	}
	w = f.do(t, http.MethodGet, "/endpoints", nil)
	if got := ids(decode[[]endpoint.Endpoint](t, w)); len(got) != 5 {
		t.Errorf("scan = %v, want 5 endpoints", got)
	}

	w = f.do(t, http.MethodGet, "/endpoints?endpoint_id=e2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("point read status = %d", w.Code)
	}
	if ep := decode[endpoint.Endpoint](t, w); ep.UserID != "u2" || ep.FriendlyName != "Light e2" {
		t.Errorf("point read = %+v", ep)
	}
}

func TestDeleteEndpoints(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		body        any
		wantDeleted []string
		wantMissing []string
	}{
		{"array", "/endpoints", []string{"e1", "nope"}, []string{"e1"}, []string{"nope"}},
		{"ids object", "/endpoints", map[string]any{"endpointIds": []string{"e2", "e3"}}, []string{"e2", "e3"}, []string{}},
		{"query", "/endpoints?endpointId=e3", nil, []string{"e3"}, []string{}},
		{"all", "/endpoints", []string{"*"}, []string{"e1", "e2", "e3"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for _, id := range []string{"e1", "e2", "e3"} {
				f.create(t, "u1", id)
			}

			w := f.do(t, http.MethodDelete, tt.target, tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body)
			}
			res := decode[DeleteResult](t, w)
			if !slices.Equal(res.Deleted, tt.wantDeleted) || !slices.Equal(res.Missing, tt.wantMissing) {
				t.Errorf("result = %+v, want deleted %v missing %v", res, tt.wantDeleted, tt.wantMissing)
			}
			for _, id := range tt.wantDeleted {
				th, err := f.local.DescribeThing(context.Background(), id)
				if err != nil {
					t.Fatalf("DescribeThing(%s) error = %v", id, err)
				}
				if _, ok := th.Attributes[thing.AttrUserID]; ok {
					t.Errorf("thing %s still has an owner", id)
				}
			}
		})
	}

	f := newFixture(t)
	if w := f.do(t, http.MethodDelete, "/endpoints", nil); w.Code != http.StatusBadRequest {
		t.Errorf("DELETE without ids status = %d, want 400", w.Code)
	}
}

func TestDeleteEndpoints_RegistryFailure(t *testing.T) {
	f := newFixture(t)
	f.create(t, "u1", "e1")

	f.registry.failOn = "UpdateThing"
	w := f.do(t, http.MethodDelete, "/endpoints?endpoint_id=e1", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body = %s", w.Code, w.Body)
	}
	if _, err := f.endpoints.Get(context.Background(), "e1"); err != nil {
		t.Errorf("endpoint should be kept when the registry fails, Get() error = %v", err)
	}
	th, err := f.local.DescribeThing(context.Background(), "e1")
	if err != nil {
		t.Fatalf("DescribeThing() error = %v", err)
	}
	if th.Attributes[thing.AttrUserID] != "u1" {
		t.Errorf("thing owner = %q, want u1", th.Attributes[thing.AttrUserID])
	}
	if slices.Contains(f.hub.channels(), ChannelEndpointRemoved) {
		t.Error("removal broadcast after a failed delete")
	}

	f.registry.failOn = ""
	w = f.do(t, http.MethodDelete, "/endpoints?endpoint_id=e1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body = %s", w.Code, w.Body)
	}
	if res := decode[DeleteResult](t, w); !slices.Equal(res.Deleted, []string{"e1"}) {
		t.Errorf("retry result = %+v, want e1 deleted", res)
	}
}

func TestConcurrentPostsLastWriteWins(t *testing.T) {
	f := newFixture(t)
	f.create(t, "u1", "e1")

	names := []string{"Kitchen", "Hallway"}
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.do(t, http.MethodPost, "/endpoints", map[string]any{"userId": "u1", "endpointId": "e1", "friendlyName": name})
		}()
	}
	wg.Wait()

	ep, err := f.endpoints.Get(context.Background(), "e1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !slices.Contains(names, ep.FriendlyName) {
		t.Errorf("FriendlyName = %q, want one of %v", ep.FriendlyName, names)
	}
}

func TestDirectives(t *testing.T) {
	f := newFixture(t)
	f.create(t, "0", "e1")
	before := f.registry.callCount()

	directiveBody := func(id string) string {
		return fmt.Sprintf(`{"directive":{"header":{"namespace":"Alexa.PowerController","name":"TurnOn","messageId":"m","correlationToken":"c","payloadVersion":"3"},
			"endpoint":{"scope":{"type":"BearerToken","token":%q},"endpointId":%q},"payload":{}}}`, devToken, id)
	}

	w := f.do(t, http.MethodPost, "/directives", directiveBody("missing"))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing endpoint status = %d, want 404", w.Code)
	}
	if n := f.registry.callCount() - before; n != 0 {
		t.Errorf("registry calls for missing endpoint = %d, want 0", n)
	}

	w = f.do(t, http.MethodPost, "/directives", directiveBody("e1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	resp := decode[alexa.Response](t, w)
	if resp.Event.Header.Name != alexa.NameResponse || resp.Event.Header.CorrelationToken != "c" {
		t.Errorf("header = %+v", resp.Event.Header)
	}

	w = f.do(t, http.MethodPost, "/directives", "")
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "Empty Body") {
		t.Errorf("empty body = %d %s", w.Code, w.Body)
	}
}

func TestDirectives_IdentityProviderToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{ //nolint:errcheck // test server
			"kty": "RSA", "use": "sig", "alg": "RS256", "kid": "k1",
			"n": base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer jwks.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resolver, err := auth.LoadResolver(ctx, config.SecurityConfig{
		JWT:      config.JWTConfig{Secret: "endpointcloud-test-secret-0123456789"},
		Identity: config.IdentityConfig{JWKSURL: jwks.URL, ClientID: "skill-client"},
	})
	if err != nil {
		t.Fatalf("LoadResolver() error = %v", err)
	}

	f := newFixture(t)
	h, err := New(Deps{
		Settings:   Settings{EndpointDetailsTable: "EndpointDetails", UsersTable: "Users"},
		Logger:     logging.Discard(),
		Endpoints:  f.endpoints,
		Users:      f.users,
		Registry:   f.registry,
		Directives: directive.NewDispatcher(f.endpoints, f.users, f.registry, resolver, nil),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.h = h
	f.create(t, "amzn1.account.U1", "e1")
	f.create(t, "amzn1.account.U2", "e2")

	accessToken := func(sub string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"sub":       sub,
			"client_id": "skill-client",
			"exp":       time.Now().Add(time.Hour).Unix(),
		})
		tok.Header["kid"] = "k1"
		signed, err := tok.SignedString(key)
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return signed
	}
	discover := func(token string) string {
		return fmt.Sprintf(`{"directive":{"header":{"namespace":"Alexa.Discovery","name":"Discover","messageId":"m","payloadVersion":"3"},
			"payload":{"scope":{"type":"BearerToken","token":%q}}}}`, token)
	}

	w := f.do(t, http.MethodPost, "/directives", discover(accessToken("amzn1.account.U1")))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"endpointId":"e1"`) || strings.Contains(body, `"endpointId":"e2"`) {
		t.Errorf("discovery for U1 = %s, want only e1", body)
	}

	w = f.do(t, http.MethodPost, "/directives", discover("not-a-token"))
	if !strings.Contains(w.Body.String(), string(alexa.ErrorInvalidCredential)) {
		t.Errorf("bad token body = %s, want %s", w.Body, alexa.ErrorInvalidCredential)
	}
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	f.create(t, "u1", "e1")
	ctx := context.Background()

	compact := map[string]any{"endpointId": "e1", "properties": map[string]any{"powerState": "ON"}}
	w := f.do(t, http.MethodPost, "/events", compact)
	if w.Code != http.StatusOK {
		t.Fatalf("compact status = %d, body = %s", w.Code, w.Body)
	}

	change := `{"context":{"properties":[{"namespace":"Alexa.PowerController","name":"powerState","value":"ON","timeOfSample":"2024-01-01T00:00:00.000Z","uncertaintyInMilliseconds":0}]},
		"event":{"header":{"namespace":"Alexa","name":"ChangeReport","messageId":"m","payloadVersion":"3"},
		"endpoint":{"endpointId":"e1"},
		"payload":{"change":{"cause":{"type":"PHYSICAL_INTERACTION"},"properties":[{"namespace":"Alexa.RangeController","instance":"Blinds.Position","name":"rangeValue","value":4,"timeOfSample":"2024-01-01T00:00:00.000Z","uncertaintyInMilliseconds":0}]}}}}`
	w = f.do(t, http.MethodPost, "/events", change)
	if w.Code != http.StatusOK {
		t.Fatalf("change report status = %d, body = %s", w.Code, w.Body)
	}
	res := decode[IngestResult](t, w)
	if res.State["powerState"] != "ON" || res.State["Blinds.Position.rangeValue"] != float64(4) {
		t.Errorf("merged state = %v", res.State)
	}

	shadow, err := f.local.GetThingShadow(ctx, "e1")
	if err != nil {
		t.Fatalf("GetThingShadow() error = %v", err)
	}
	if shadow.State.Reported["Blinds.Position.rangeValue"] != float64(4) {
		t.Errorf("reported = %v", shadow.State.Reported)
	}
	if len(f.telemetry.points) != 2 || f.telemetry.points[1].userID != "u1" {
		t.Errorf("telemetry = %+v", f.telemetry.points)
	}
	if got := f.hub.channels(); got[len(got)-1] != ChannelStateChanged {
		t.Errorf("broadcasts = %v", got)
	}

	for _, tt := range []struct {
		name string
		body string
		want int
	}{
		{"unknown endpoint", `{"endpointId":"nope","properties":{"powerState":"ON"}}`, http.StatusNotFound},
		{"no properties", `{"endpointId":"e1"}`, http.StatusBadRequest},
		{"unsupported event", `{"event":{"header":{"namespace":"Alexa","name":"Other"},"endpoint":{"endpointId":"e1"}}}`, http.StatusBadRequest},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, http.MethodPost, "/events", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body)
			}
		})
	}

	f.registry.failOn = "UpdateThingShadow"
	if w := f.do(t, http.MethodPost, "/events", compact); w.Code != http.StatusBadGateway {
		t.Errorf("registry failure status = %d, want 502", w.Code)
	}
}

type fakeBus struct {
	topic   string
	handler mqtt.MessageHandler
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.topic = topic
	b.handler = handler
	return nil
}

func TestSubscribeReported(t *testing.T) {
	f := newFixture(t)
	f.create(t, "u1", "e1")
	ctx := context.Background()

	bus := &fakeBus{}
	if err := f.h.SubscribeReported(ctx, bus, 1); err != nil {
		t.Fatalf("SubscribeReported() error = %v", err)
	}
	if bus.topic != "endpointcloud/things/+/shadow/reported" {
		t.Errorf("topic = %q", bus.topic)
	}

	if err := bus.handler("endpointcloud/things/e1/shadow/reported", []byte(`{"powerState":"ON"}`)); err != nil {
		t.Fatalf("flat payload error = %v", err)
	}
	if err := bus.handler("endpointcloud/things/e1/shadow/reported", []byte(`{"state":{"reported":{"Oscillate.toggleState":"ON"}}}`)); err != nil {
		t.Fatalf("document payload error = %v", err)
	}
	ep, err := f.endpoints.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ep.State["powerState"] != "ON" || ep.State["Oscillate.toggleState"] != "ON" {
		t.Errorf("state = %v", ep.State)
	}

	if err := bus.handler("endpointcloud/things/nope/shadow/reported", []byte(`{"powerState":"ON"}`)); !errors.Is(err, endpoint.ErrEndpointNotFound) {
		t.Errorf("unknown thing error = %v, want ErrEndpointNotFound", err)
	}
	if err := bus.handler("endpointcloud/things/e1/shadow/reported", []byte(`{}`)); err == nil {
		t.Error("empty payload should fail")
	}
}

type blockingDispatcher struct{}

func (blockingDispatcher) Dispatch(ctx context.Context, _ []byte) *alexa.Response {
	<-ctx.Done()
	return alexa.NewErrorResponse(nil, alexa.ErrorInternal, "cancelled")
}

func TestTimeout(t *testing.T) {
	f := newFixture(t)
	h, err := New(Deps{
		Logger:     logging.Discard(),
		Endpoints:  f.endpoints,
		Users:      f.users,
		Registry:   f.registry,
		Directives: blockingDispatcher{},
		Timeout:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/directives", strings.NewReader(`{}`)))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), ErrCodeTimeout) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodGet, "/nowhere", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w := f.do(t, http.MethodPut, "/endpoints", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
