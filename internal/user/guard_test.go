package user

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/endpoint-cloud/internal/topology"
)

func TestGuarded(t *testing.T) {
	ctx := context.Background()
	arns := topology.ARNs{Region: "us-east-1"}
	resource := arns.Table("Users")

	mem, err := NewMemoryRepository()
	if err != nil {
		t.Fatalf("NewMemoryRepository() error = %v", err)
	}

	allowed := NewGuarded(mem, topology.NewEnforcer("EndpointAdapter", topology.Policy{Statements: []topology.Statement{
		{Effect: topology.Allow, Actions: []string{topology.ActionDynamoAll}, Resources: []string{resource}},
	}}), resource)

	if err := allowed.Put(ctx, &User{UserID: "u1"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := allowed.Get(ctx, "u1"); err != nil {
		t.Errorf("Get() error = %v", err)
	}

	denied := NewGuarded(mem, topology.NewEnforcer("SkillAdapter", topology.Policy{Statements: []topology.Statement{
		{Effect: topology.Allow, Actions: []string{topology.ActionInvokeAPI}, Resources: []string{"*"}},
	}}), resource)

	if _, err := denied.Get(ctx, "u1"); !errors.Is(err, topology.ErrAccessDenied) {
		t.Errorf("Get() error = %v, want ErrAccessDenied", err)
	}
	if err := denied.Put(ctx, &User{UserID: "u2"}); !errors.Is(err, topology.ErrAccessDenied) {
		t.Errorf("Put() error = %v, want ErrAccessDenied", err)
	}
	if _, err := denied.Exists(ctx, "u1"); !errors.Is(err, topology.ErrAccessDenied) {
		t.Errorf("Exists() error = %v, want ErrAccessDenied", err)
	}
	if ok, _ := mem.Exists(ctx, "u2"); ok {
		t.Error("denied Put reached the store")
	}
}
