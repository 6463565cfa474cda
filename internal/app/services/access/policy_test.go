package access

import (
	"context"
	"errors"
	"testing"

	domain "github.com/R3E-Network/marcasino/internal/app/domain/access"
	"github.com/R3E-Network/marcasino/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
)

func TestGrantRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	policy := New(memory.New(), nil)
	if err := policy.Bootstrap(ctx, "root", " "); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	if err := policy.Grant(ctx, "mallory", "coin", domain.RoleGame); !errors.Is(err, apperrors.ErrNotAuthorized) {
		t.Fatalf("expected NotAuthorized, got %v", err)
	}
	if err := policy.Grant(ctx, "root", "coin", domain.RoleGame); err != nil {
		t.Fatalf("grant: %v", err)
	}
	ok, err := policy.Has(ctx, "coin", domain.RoleGame)
	if err != nil || !ok {
		t.Fatalf("expected coin to hold game role: %v %v", ok, err)
	}

	if err := policy.Revoke(ctx, "root", "coin", domain.RoleGame); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := policy.Has(ctx, "coin", domain.RoleGame); ok {
		t.Fatalf("role survived revoke")
	}

	grants, err := policy.Grants(ctx)
	if err != nil {
		t.Fatalf("grants: %v", err)
	}
	if len(grants) != 1 || grants[0].Subject != "root" {
		t.Fatalf("unexpected grants %+v", grants)
	}
}
