package topology

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"
)

type stage int

const (
	stageStores stage = iota
	stageFunctions
	stageGrants
	stageRoutes
	stageOutputs
)

func (s stage) String() string {
	switch s {
	case stageStores:
		return "stores"
	case stageFunctions:
		return "functions"
	case stageGrants:
		return "grants"
	case stageRoutes:
		return "routes"
	default:
		return "outputs"
	}
}

// Table is a keyed record store.
type Table struct {
	Name         string  `json:"name" yaml:"name"`
	PartitionKey string  `json:"partitionKey" yaml:"partition_key"`
	Indexes      []Index `json:"indexes,omitempty" yaml:"indexes,omitempty"`
}

// Index is a secondary lookup path on a table.
type Index struct {
	Name         string `json:"name" yaml:"name"`
	PartitionKey string `json:"partitionKey" yaml:"partition_key"`
}

// Function is a compute unit with its provisioning-time environment and the
// policy it runs under.
type Function struct {
	Name        string            `json:"name" yaml:"name"`
	Timeout     time.Duration     `json:"timeout" yaml:"timeout"`
	MemoryMB    int               `json:"memoryMb" yaml:"memory_mb"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Policy      Policy            `json:"policy" yaml:"policy"`
}

// Route maps a path and its methods onto a compute unit.
type Route struct {
	Path          string   `json:"path" yaml:"path"`
	Methods       []string `json:"methods" yaml:"methods"`
	Integration   string   `json:"integration" yaml:"integration"`
	Authorization string   `json:"authorization" yaml:"authorization"`
}

// Route authorization modes.
const (
	AuthNone   = "NONE"
	AuthSigned = "SIGNED_IDENTITY"
)

// API is the router's identity.
type API struct {
	ID      string `json:"id" yaml:"id"`
	BaseURL string `json:"baseUrl" yaml:"base_url"`
}

// Output is a published configuration value.
type Output struct {
	Key         string `json:"key" yaml:"key"`
	Value       string `json:"value" yaml:"value"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Builder assembles a Topology in the fixed order stores, compute units,
// grants, routes, outputs. Calls made out of order, or naming resources that
// do not exist yet, are recorded and reported by Build.
type Builder struct {
	name  string
	arns  ARNs
	stage stage

	tables    []Table
	functions []Function
	api       *API
	routes    []Route
	outputs   []Output

	errs []error
}

// NewBuilder starts a topology for the named stack in region.
func NewBuilder(name, region string) *Builder {
	return &Builder{name: name, arns: ARNs{Region: region}}
}

// ARNs returns the resource name renderer for the builder's region.
func (b *Builder) ARNs() ARNs {
	return b.arns
}

func (b *Builder) enter(s stage, what string) bool {
	if s < b.stage {
		b.errs = append(b.errs, fmt.Errorf("%w: %s after %s", ErrOutOfOrder, what, b.stage))
		return false
	}
	b.stage = s
	return true
}

func (b *Builder) fail(err error) *Builder {
	b.errs = append(b.errs, err)
	return b
}

func (b *Builder) tableIndex(name string) int {
	for i := range b.tables {
		if b.tables[i].Name == name {
			return i
		}
	}
	return -1
}

func (b *Builder) functionIndex(name string) int {
	for i := range b.functions {
		if b.functions[i].Name == name {
			return i
		}
	}
	return -1
}

// Table adds a store.
func (b *Builder) Table(t Table) *Builder {
	if !b.enter(stageStores, "table "+t.Name) {
		return b
	}
	if t.Name == "" || t.PartitionKey == "" {
		return b.fail(fmt.Errorf("%w: table needs a name and a partition key", ErrInvalid))
	}
	if b.tableIndex(t.Name) >= 0 {
		return b.fail(fmt.Errorf("%w: table %s", ErrDuplicate, t.Name))
	}
	seen := make(map[string]bool, len(t.Indexes))
	for _, idx := range t.Indexes {
		if idx.Name == "" || idx.PartitionKey == "" || seen[idx.Name] {
			return b.fail(fmt.Errorf("%w: index %q on table %s", ErrInvalid, idx.Name, t.Name))
		}
		seen[idx.Name] = true
	}
	t.Indexes = append([]Index(nil), t.Indexes...)
	b.tables = append(b.tables, t)
	return b
}

// Function adds a compute unit. Its policy starts empty.
func (b *Builder) Function(f Function) *Builder {
	if !b.enter(stageFunctions, "function "+f.Name) {
		return b
	}
	if f.Name == "" {
		return b.fail(fmt.Errorf("%w: function needs a name", ErrInvalid))
	}
	if f.Timeout <= 0 {
		return b.fail(fmt.Errorf("%w: function %s needs a positive timeout", ErrInvalid, f.Name))
	}
	if b.functionIndex(f.Name) >= 0 {
		return b.fail(fmt.Errorf("%w: function %s", ErrDuplicate, f.Name))
	}
	f.Environment = maps.Clone(f.Environment)
	if f.Environment == nil {
		f.Environment = map[string]string{}
	}
	f.Policy = Policy{}
	b.functions = append(b.functions, f)
	return b
}

// Grant attaches a statement to a compute unit's policy.
func (b *Builder) Grant(function string, s Statement) *Builder {
	if !b.enter(stageGrants, "grant to "+function) {
		return b
	}
	i := b.functionIndex(function)
	if i < 0 {
		return b.fail(fmt.Errorf("%w: %s", ErrUnknownFunction, function))
	}
	if !s.validate() {
		return b.fail(fmt.Errorf("%w: statement %q for %s", ErrInvalid, s.Sid, function))
	}
	s.Actions = append([]string(nil), s.Actions...)
	s.Resources = append([]string(nil), s.Resources...)
	b.functions[i].Policy.Statements = append(b.functions[i].Policy.Statements, s)
	return b
}

// GrantFullAccess gives a compute unit every data action on a table and its
// indexes.
func (b *Builder) GrantFullAccess(table, function string) *Builder {
	if b.tableIndex(table) < 0 {
		return b.fail(fmt.Errorf("%w: %s", ErrUnknownTable, table))
	}
	return b.Grant(function, Statement{
		Sid:       "FullAccess" + table,
		Effect:    Allow,
		Actions:   []string{ActionDynamoAll},
		Resources: []string{b.arns.Table(table), b.arns.TableIndexes(table)},
	})
}

// API declares the router. It must precede its routes.
func (b *Builder) API(id, baseURL string) *Builder {
	if !b.enter(stageRoutes, "api "+id) {
		return b
	}
	if b.api != nil {
		return b.fail(fmt.Errorf("%w: api %s", ErrDuplicate, id))
	}
	if id == "" {
		return b.fail(fmt.Errorf("%w: api needs an id", ErrInvalid))
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	b.api = &API{ID: id, BaseURL: baseURL}
	return b
}

// Route maps path and methods onto a compute unit.
func (b *Builder) Route(path, integration, authorization string, methods ...string) *Builder {
	if !b.enter(stageRoutes, "route "+path) {
		return b
	}
	if b.api == nil {
		return b.fail(fmt.Errorf("%w: route %s before api", ErrOutOfOrder, path))
	}
	if !strings.HasPrefix(path, "/") {
		return b.fail(fmt.Errorf("%w: route path %q must start with /", ErrInvalid, path))
	}
	if b.functionIndex(integration) < 0 {
		return b.fail(fmt.Errorf("%w: %s (route %s)", ErrUnknownFunction, integration, path))
	}
	if len(methods) == 0 {
		return b.fail(fmt.Errorf("%w: route %s has no methods", ErrInvalid, path))
	}
	switch authorization {
	case AuthNone, AuthSigned:
	default:
		return b.fail(fmt.Errorf("%w: route %s authorization %q", ErrInvalid, path, authorization))
	}
	norm := make([]string, 0, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(m)
		switch m {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return b.fail(fmt.Errorf("%w: route %s method %q", ErrInvalid, path, m))
		}
		for _, r := range b.routes {
			if r.Path == path && containsString(r.Methods, m) {
				return b.fail(fmt.Errorf("%w: route %s %s", ErrDuplicate, m, path))
			}
		}
		if containsString(norm, m) {
			return b.fail(fmt.Errorf("%w: route %s %s", ErrDuplicate, m, path))
		}
		norm = append(norm, m)
	}
	b.routes = append(b.routes, Route{Path: path, Methods: norm, Integration: integration, Authorization: authorization})
	return b
}

// Output publishes a value.
func (b *Builder) Output(key, value, description string) *Builder {
	if !b.enter(stageOutputs, "output "+key) {
		return b
	}
	if key == "" {
		return b.fail(fmt.Errorf("%w: output needs a key", ErrInvalid))
	}
	for _, o := range b.outputs {
		if o.Key == key {
			return b.fail(fmt.Errorf("%w: output %s", ErrDuplicate, key))
		}
	}
	b.outputs = append(b.outputs, Output{Key: key, Value: value, Description: description})
	return b
}

// Build returns the finished topology or every error recorded on the way.
func (b *Builder) Build() (*Topology, error) {
	if b.api == nil {
		b.errs = append(b.errs, fmt.Errorf("%w: no api declared", ErrInvalid))
	}
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return &Topology{
		name:      b.name,
		arns:      b.arns,
		api:       *b.api,
		tables:    b.tables,
		functions: b.functions,
		routes:    b.routes,
		outputs:   b.outputs,
	}, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
