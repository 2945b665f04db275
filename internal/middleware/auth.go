package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/auth"
	"servchat/internal/model"
	"servchat/internal/permission"
)

const (
	userIDContextKey = "userID"
	roleContextKey   = "role"
)

func UserIDFromContext(c *gin.Context) (string, bool) {
	userID, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	value, ok := userID.(string)
	return value, ok && value != ""
}

func RoleFromContext(c *gin.Context) model.Role {
	role, _ := c.Get(roleContextKey)
	value, _ := role.(model.Role)
	return value
}

func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyToken(parts[1], cfg)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(userIDContextKey, claims.UserID)
		c.Set(roleContextKey, claims.Role)
		c.Next()
	}
}

func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if RoleFromContext(c) != role {
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// PermissionLookup returns the flags granted to a user.
type PermissionLookup interface {
	GetPermissions(ctx context.Context, userID string) (permission.Set, error)
}

// RequirePermission lets admins through and checks the stored flags of
// everyone else.
func RequirePermission(lookup PermissionLookup, kind permission.Kind, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		userID, ok := UserIDFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		role := RoleFromContext(c)
		var granted permission.Set
		if role != model.RoleAdmin {
			set, err := lookup.GetPermissions(c.Request.Context(), userID)
			if err != nil {
				logger.Error("permission lookup failed", zap.String("user_id", userID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
				c.Abort()
				return
			}
			granted = set
		}

		if !permission.Allowed(role, granted, kind) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Missing permission " + kind.String()})
			c.Abort()
			return
		}
		c.Next()
	}
}
