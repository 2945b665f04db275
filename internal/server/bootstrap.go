package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"servchat/internal/auth"
	"servchat/internal/model"
	"servchat/internal/store"
)

// EnsureAdmin creates the first administrator when the store has none. It
// reports whether an account was created.
func EnsureAdmin(ctx context.Context, st store.Store, email, password string, logger *zap.Logger) (bool, error) {
	if email == "" {
		return false, nil
	}
	n, err := st.CountAdmins(ctx)
	if err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("bootstrap admin password: %w", err)
	}
	u, err := st.CreateUser(ctx, model.User{
		Email:        email,
		Name:         "Administrator",
		Role:         model.RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	logger.Info("bootstrap admin created", zap.String("user_id", u.ID), zap.String("email", u.Email))
	return true, nil
}
