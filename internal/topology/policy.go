package topology

import "strings"

// Effect is the outcome of a matching statement.
type Effect string

// Statement effects.
const (
	Allow Effect = "Allow"
	Deny  Effect = "Deny"
)

// Actions granted to compute units.
const (
	ActionInvokeAPI = "execute-api:Invoke"
	ActionLogsAll   = "logs:*"
	ActionDynamoAll = "dynamodb:*"

	ActionGetItem    = "dynamodb:GetItem"
	ActionPutItem    = "dynamodb:PutItem"
	ActionDeleteItem = "dynamodb:DeleteItem"
	ActionUpdateItem = "dynamodb:UpdateItem"
	ActionQuery      = "dynamodb:Query"
	ActionScan       = "dynamodb:Scan"

	ActionAddThingToThingGroup = "iot:AddThingToThingGroup"
	ActionCreateThing          = "iot:CreateThing"
	ActionCreateThingType      = "iot:CreateThingType"
	ActionCreateThingGroup     = "iot:CreateThingGroup"
	ActionDescribeThing        = "iot:DescribeThing"
	ActionGetThingShadow       = "iot:GetThingShadow"
	ActionListThings           = "iot:ListThings"
	ActionListThingGroups      = "iot:ListThingGroups"
	ActionUpdateThing          = "iot:UpdateThing"
	ActionUpdateThingShadow    = "iot:UpdateThingShadow"
)

// RegistryActions is the device-registry management set held by the
// endpoint handler.
var RegistryActions = []string{
	ActionAddThingToThingGroup,
	ActionCreateThing,
	ActionCreateThingType,
	ActionCreateThingGroup,
	ActionDescribeThing,
	ActionGetThingShadow,
	ActionListThings,
	ActionListThingGroups,
	ActionUpdateThing,
	ActionUpdateThingShadow,
}

// Statement grants or denies a set of actions on a set of resources.
// Actions and resources may contain * and ? wildcards.
type Statement struct {
	Sid       string   `json:"Sid,omitempty" yaml:"sid,omitempty"`
	Effect    Effect   `json:"Effect" yaml:"effect"`
	Actions   []string `json:"Action" yaml:"actions"`
	Resources []string `json:"Resource" yaml:"resources"`
}

// Policy is the set of statements attached to one compute unit.
// The zero value denies everything.
type Policy struct {
	Statements []Statement `json:"Statement" yaml:"statements"`
}

// Allows reports whether action on resource is permitted. An explicit Deny
// wins over any Allow; with no matching statement the answer is no.
func (p Policy) Allows(action, resource string) bool {
	allowed := false
	for _, s := range p.Statements {
		if !s.matches(action, resource) {
			continue
		}
		if s.Effect == Deny {
			return false
		}
		if s.Effect == Allow {
			allowed = true
		}
	}
	return allowed
}

// Actions returns every action pattern the policy allows, in statement order.
func (p Policy) Actions() []string {
	var out []string
	for _, s := range p.Statements {
		if s.Effect == Allow {
			out = append(out, s.Actions...)
		}
	}
	return out
}

func (s Statement) matches(action, resource string) bool {
	actionHit := false
	for _, a := range s.Actions {
		// Action names are case-insensitive, resources are not.
		if wildcardMatch(strings.ToLower(a), strings.ToLower(action)) {
			actionHit = true
			break
		}
	}
	if !actionHit {
		return false
	}
	for _, r := range s.Resources {
		if wildcardMatch(r, resource) {
			return true
		}
	}
	return false
}

func (s Statement) validate() bool {
	if s.Effect != Allow && s.Effect != Deny {
		return false
	}
	return len(s.Actions) > 0 && len(s.Resources) > 0
}

// wildcardMatch matches value against pattern where * is any run of
// characters (including "/" and ":") and ? is exactly one character.
func wildcardMatch(pattern, value string) bool {
	p, v := 0, 0
	star, mark := -1, 0
	for v < len(value) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == value[v]):
			p++
			v++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = v
			p++
		case star >= 0:
			p = star + 1
			mark++
			v = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
