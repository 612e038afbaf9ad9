package topology

import (
	"net/http"

	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/config"
)

// Canonical key and index names.
const (
	EndpointKey   = "EndpointId"
	UserKey       = "UserId"
	ByUserIDIndex = "byUserId"
)

// Environment keys injected into compute units.
const (
	EnvAPIID                = "API_ID"
	EnvEndpointDetailsTable = "ENDPOINT_DETAILS_TABLE"
	EnvUsersTable           = "USERS_TABLE"
	EnvAPIURL               = "API_URL"
	EnvRegion               = "REGION"
	EnvFunctionName         = "FUNCTION_NAME"
)

// Output keys.
const (
	OutputEndpointAPIID           = "EndpointApiId"
	OutputEndpointAPIURL          = "EndpointApiUrl"
	OutputEndpointAPIAuthRedirect = "EndpointApiAuthRedirectUrl"
	OutputSkillAdapterID          = "SkillAdapterId"
	OutputEndpointDetailsTable    = "EndpointDetailsTableName"
	OutputUsersTable              = "UsersTableName"
)

// Public route paths.
const (
	PathEndpoints  = "/endpoints"
	PathDirectives = "/directives"
	PathEvents     = "/events"
)

// AuthRedirectPath is appended to the router base URL for account linking.
const AuthRedirectPath = "auth-redirect"

// FromConfig builds the smart-home backend: the endpoint and user tables, the
// endpoint and skill compute units, their grants, the three public routes and
// the published outputs.
func FromConfig(cfg *config.Config) (*Topology, error) {
	st := cfg.Stack
	endpointFn := st.EndpointFunction.Name
	skillFn := st.SkillFunction.Name
	baseURL := cfg.BaseURL()

	auth := AuthNone
	if cfg.Security.Authorizer.Enabled {
		auth = AuthSigned
	}

	b := NewBuilder(st.Name, st.Region)

	b.Table(Table{
		Name:         st.EndpointDetailsTable,
		PartitionKey: EndpointKey,
		Indexes:      []Index{{Name: ByUserIDIndex, PartitionKey: UserKey}},
	}).Table(Table{
		Name:         st.UsersTable,
		PartitionKey: UserKey,
	})

	b.Function(Function{
		Name:     endpointFn,
		Timeout:  st.EndpointFunction.TimeoutDuration(),
		MemoryMB: st.EndpointFunction.MemoryMB,
		Environment: map[string]string{
			EnvAPIID:                st.APIID,
			EnvEndpointDetailsTable: st.EndpointDetailsTable,
			EnvUsersTable:           st.UsersTable,
			EnvRegion:               st.Region,
			EnvFunctionName:         endpointFn,
		},
	}).Function(Function{
		Name:     skillFn,
		Timeout:  st.SkillFunction.TimeoutDuration(),
		MemoryMB: st.SkillFunction.MemoryMB,
		Environment: map[string]string{
			EnvAPIURL:       baseURL,
			EnvRegion:       st.Region,
			EnvFunctionName: skillFn,
		},
	})

	invoke := Statement{
		Sid:       "InvokeApi",
		Effect:    Allow,
		Actions:   []string{ActionInvokeAPI},
		Resources: []string{"arn:aws:execute-api:*:*:*"},
	}
	b.Grant(endpointFn, invoke).
		Grant(endpointFn, Statement{
			Sid:       "Logs",
			Effect:    Allow,
			Actions:   []string{ActionLogsAll},
			Resources: []string{"*"},
		}).
		Grant(endpointFn, Statement{
			Sid:       "DeviceRegistry",
			Effect:    Allow,
			Actions:   RegistryActions,
			Resources: []string{"*"},
		}).
		GrantFullAccess(st.EndpointDetailsTable, endpointFn).
		GrantFullAccess(st.UsersTable, endpointFn).
		Grant(skillFn, invoke)

	b.API(st.APIID, baseURL).
		Route(PathEndpoints, endpointFn, auth, http.MethodGet, http.MethodPost, http.MethodDelete).
		Route(PathDirectives, endpointFn, auth, http.MethodPost).
		Route(PathEvents, endpointFn, auth, http.MethodPost)

	b.Output(OutputEndpointAPIID, st.APIID, "Router identifier").
		Output(OutputEndpointAPIURL, baseURL, "Router base URL").
		Output(OutputEndpointAPIAuthRedirect, baseURL+AuthRedirectPath, "Account linking redirect URL").
		Output(OutputSkillAdapterID, b.ARNs().Function(skillFn), "Skill handler identifier").
		Output(OutputEndpointDetailsTable, st.EndpointDetailsTable, "Endpoint store name").
		Output(OutputUsersTable, st.UsersTable, "Identity store name")

	return b.Build()
}
