package thing

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/endpoint-cloud/internal/topology"
)

func TestGuarded(t *testing.T) {
	ctx := context.Background()
	arns := topology.ARNs{Region: "us-east-1"}
	local := NewLocalRegistry(setupTestDB(t).DB)

	full := NewGuarded(local, topology.NewEnforcer("EndpointAdapter", topology.Policy{Statements: []topology.Statement{
		{Effect: topology.Allow, Actions: topology.RegistryActions, Resources: []string{"*"}},
	}}), arns)

	if _, err := full.CreateThing(ctx, Thing{Name: "e1"}); err != nil {
		t.Fatalf("CreateThing() error = %v", err)
	}
	if _, err := full.UpdateThingShadow(ctx, "e1", Desired(map[string]any{"powerState": "ON"})); err != nil {
		t.Errorf("UpdateThingShadow() error = %v", err)
	}

	// Read-only on one thing.
	readOnly := NewGuarded(local, topology.NewEnforcer("Reader", topology.Policy{Statements: []topology.Statement{
		{Effect: topology.Allow, Actions: []string{"iot:Describe*", "iot:GetThingShadow"}, Resources: []string{arns.Thing("e1")}},
	}}), arns)

	if _, err := readOnly.DescribeThing(ctx, "e1"); err != nil {
		t.Errorf("DescribeThing() error = %v", err)
	}
	if _, err := readOnly.GetThingShadow(ctx, "e1"); err != nil {
		t.Errorf("GetThingShadow() error = %v", err)
	}
	if _, err := readOnly.DescribeThing(ctx, "e2"); !errors.Is(err, topology.ErrAccessDenied) {
		t.Errorf("DescribeThing(other) error = %v, want ErrAccessDenied", err)
	}
	if _, err := readOnly.UpdateThingShadow(ctx, "e1", Desired(map[string]any{"powerState": "OFF"})); !errors.Is(err, topology.ErrAccessDenied) {
		t.Errorf("UpdateThingShadow() error = %v, want ErrAccessDenied", err)
	}

	skill := NewGuarded(local, topology.NewEnforcer("SkillAdapter", topology.Policy{Statements: []topology.Statement{
		{Effect: topology.Allow, Actions: []string{topology.ActionInvokeAPI}, Resources: []string{"*"}},
	}}), arns)
	calls := []struct {
		name string
		call func() error
	}{
		{"CreateThingType", func() error { return skill.CreateThingType(ctx, ThingType{Name: "SampleLight"}) }},
		{"ListThings", func() error { _, err := skill.ListThings(ctx, ListFilter{}); return err }},
		{"CreateThingGroup", func() error { return skill.CreateThingGroup(ctx, ThingGroup{Name: "Samples"}) }},
		{"ListThingGroups", func() error { _, err := skill.ListThingGroups(ctx); return err }},
		{"AddThingToThingGroup", func() error { return skill.AddThingToThingGroup(ctx, "Samples", "e1") }},
		{"UpdateThing", func() error { _, err := skill.UpdateThing(ctx, Thing{Name: "e1"}); return err }},
	}
	for _, c := range calls {
		t.Run(c.name, func(t *testing.T) {
			if err := c.call(); !errors.Is(err, topology.ErrAccessDenied) {
				t.Errorf("%s() error = %v, want ErrAccessDenied", c.name, err)
			}
		})
	}

	shadow, err := local.GetThingShadow(ctx, "e1")
	if err != nil {
		t.Fatalf("GetThingShadow() error = %v", err)
	}
	if shadow.State.Desired["powerState"] != "ON" {
		t.Error("denied update reached the registry")
	}
}
