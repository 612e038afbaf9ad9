package topology

import (
	"errors"
	"testing"
)

func TestWildcardMatch(t *testing.T) {
	tests := []struct {
		pattern, value string
		want           bool
	}{
		{"*", "", true},
		{"*", "arn:aws:dynamodb:us-east-1:*:table/Users", true},
		{"iot:*", "iot:CreateThing", true},
		{"iot:Create*", "iot:CreateThingGroup", true},
		{"iot:Create*", "iot:UpdateThing", false},
		{"arn:aws:execute-api:*:*:*", "arn:aws:execute-api:eu-west-1:*:abc/*/GET/endpoints", true},
		{"arn:aws:dynamodb:us-east-1:*:table/Users", "arn:aws:dynamodb:us-east-1:*:table/Users/index/x", false},
		{"table/Users/index/*", "table/Users/index/byUserId", true},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "axxbyy", false},
		{"", "", true},
		{"", "x", false},
	}
	for _, tt := range tests {
		if got := wildcardMatch(tt.pattern, tt.value); got != tt.want {
			t.Errorf("wildcardMatch(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}
}

func TestPolicyAllows(t *testing.T) {
	p := Policy{Statements: []Statement{
		{Effect: Allow, Actions: []string{"dynamodb:*"}, Resources: []string{"arn:aws:dynamodb:*:*:table/Users"}},
		{Effect: Allow, Actions: []string{"iot:*"}, Resources: []string{"*"}},
		{Effect: Deny, Actions: []string{"iot:CreateThingGroup"}, Resources: []string{"*"}},
	}}

	tests := []struct {
		name             string
		action, resource string
		want             bool
	}{
		{"allowed table", "dynamodb:GetItem", "arn:aws:dynamodb:us-east-1:*:table/Users", true},
		{"action case-insensitive", "DynamoDB:GetItem", "arn:aws:dynamodb:us-east-1:*:table/Users", true},
		{"other table", "dynamodb:GetItem", "arn:aws:dynamodb:us-east-1:*:table/EndpointDetails", false},
		{"registry", "iot:DescribeThing", "arn:aws:iot:us-east-1:*:thing/x", true},
		{"explicit deny wins", "iot:CreateThingGroup", "arn:aws:iot:us-east-1:*:thinggroup/Samples", false},
		{"default deny", "logs:PutLogEvents", "*", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Allows(tt.action, tt.resource); got != tt.want {
				t.Errorf("Allows(%q, %q) = %v, want %v", tt.action, tt.resource, got, tt.want)
			}
		})
	}
}

func TestZeroPolicyDeniesEverything(t *testing.T) {
	var p Policy
	if p.Allows("execute-api:Invoke", "*") {
		t.Error("zero Policy allowed an action")
	}
}

func TestEnforcerAuthorize(t *testing.T) {
	e := NewEnforcer("SkillAdapter", Policy{Statements: []Statement{
		{Effect: Allow, Actions: []string{ActionInvokeAPI}, Resources: []string{"*"}},
	}})

	if err := e.Authorize(ActionInvokeAPI, "arn:aws:execute-api:us-east-1:*:local/*/POST/directives"); err != nil {
		t.Errorf("Authorize(invoke) error = %v", err)
	}
	err := e.Authorize(ActionGetItem, "arn:aws:dynamodb:us-east-1:*:table/Users")
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Authorize(GetItem) error = %v, want ErrAccessDenied", err)
	}
	if e.Principal() != "SkillAdapter" {
		t.Errorf("Principal() = %q, want %q", e.Principal(), "SkillAdapter")
	}
}
