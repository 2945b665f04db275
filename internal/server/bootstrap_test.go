package server

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"servchat/internal/auth"
	"servchat/internal/store"
)

func TestEnsureAdmin(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	created, err := EnsureAdmin(ctx, st, "root@corp.example", "password123", zap.NewNop())
	if err != nil || !created {
		t.Fatalf("expected admin created, got %v %v", created, err)
	}
	u, err := st.GetUserByEmail(ctx, "root@corp.example")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if !auth.CheckPassword(u.PasswordHash, "password123") {
		t.Fatalf("expected bootstrap password to verify")
	}

	created, err = EnsureAdmin(ctx, st, "other@corp.example", "password123", zap.NewNop())
	if err != nil || created {
		t.Fatalf("expected no second admin, got %v %v", created, err)
	}
}

func TestEnsureAdmin_WeakPassword(t *testing.T) {
	if _, err := EnsureAdmin(context.Background(), store.NewMemory(), "root@corp.example", "short", zap.NewNop()); err == nil {
		t.Fatalf("expected error")
	}
}
