package topology

import (
	"fmt"
	"maps"
	"slices"
)

// Topology is an immutable, fully wired deployment graph.
type Topology struct {
	name      string
	arns      ARNs
	api       API
	tables    []Table
	functions []Function
	routes    []Route
	outputs   []Output
}

// Name returns the stack name.
func (t *Topology) Name() string { return t.name }

// Region returns the stack region.
func (t *Topology) Region() string { return t.arns.Region }

// ARNs returns the resource name renderer for the topology's region.
func (t *Topology) ARNs() ARNs { return t.arns }

// API returns the router identity.
func (t *Topology) API() API { return t.api }

// Tables returns the stores in declaration order.
func (t *Topology) Tables() []Table {
	out := make([]Table, len(t.tables))
	for i, tb := range t.tables {
		tb.Indexes = slices.Clone(tb.Indexes)
		out[i] = tb
	}
	return out
}

// Table looks up a store by name.
func (t *Topology) Table(name string) (Table, bool) {
	for _, tb := range t.tables {
		if tb.Name == name {
			tb.Indexes = slices.Clone(tb.Indexes)
			return tb, true
		}
	}
	return Table{}, false
}

// Functions returns the compute units in declaration order.
func (t *Topology) Functions() []Function {
	out := make([]Function, len(t.functions))
	for i, f := range t.functions {
		out[i] = cloneFunction(f)
	}
	return out
}

// Function looks up a compute unit by name.
func (t *Topology) Function(name string) (Function, error) {
	for _, f := range t.functions {
		if f.Name == name {
			return cloneFunction(f), nil
		}
	}
	return Function{}, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
}

// Grants returns the policy of a compute unit.
func (t *Topology) Grants(name string) (Policy, error) {
	f, err := t.Function(name)
	if err != nil {
		return Policy{}, err
	}
	return f.Policy, nil
}

// Enforcer returns the run-time enforcer for a compute unit.
func (t *Topology) Enforcer(name string) (*Enforcer, error) {
	p, err := t.Grants(name)
	if err != nil {
		return nil, err
	}
	return NewEnforcer(name, p), nil
}

// Routes returns the routes in declaration order.
func (t *Topology) Routes() []Route {
	out := make([]Route, len(t.routes))
	for i, r := range t.routes {
		r.Methods = slices.Clone(r.Methods)
		out[i] = r
	}
	return out
}

// RouteARN returns the resource name a caller must be allowed to invoke to
// reach method on path.
func (t *Topology) RouteARN(method, path string) string {
	return t.arns.Route(t.api.ID, method, path)
}

// Outputs returns the published values in declaration order.
func (t *Topology) Outputs() []Output {
	return slices.Clone(t.outputs)
}

// Output returns one published value.
func (t *Topology) Output(key string) (string, bool) {
	for _, o := range t.outputs {
		if o.Key == key {
			return o.Value, true
		}
	}
	return "", false
}

// OutputMap returns the published values keyed by name.
func (t *Topology) OutputMap() map[string]string {
	m := make(map[string]string, len(t.outputs))
	for _, o := range t.outputs {
		m[o.Key] = o.Value
	}
	return m
}

func cloneFunction(f Function) Function {
	f.Environment = maps.Clone(f.Environment)
	stmts := make([]Statement, len(f.Policy.Statements))
	for i, s := range f.Policy.Statements {
		s.Actions = slices.Clone(s.Actions)
		s.Resources = slices.Clone(s.Resources)
		stmts[i] = s
	}
	f.Policy = Policy{Statements: stmts}
	return f
}
