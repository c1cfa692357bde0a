package trace

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateID_Unique(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	if !strings.HasPrefix(a, "t_") || len(a) != len("t_")+36 {
		t.Errorf("unexpected id format: %q", a)
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" || FromContext(ctx) != id {
		t.Fatalf("Ensure did not attach an id: %q", id)
	}

	ctx2, id2 := Ensure(ctx)
	if id2 != id || ctx2 != ctx {
		t.Errorf("Ensure replaced an existing id: %q -> %q", id, id2)
	}

	if FromContext(context.Background()) != "" {
		t.Error("expected empty id on bare context")
	}
}
