package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"servchat/internal/auth"
	"servchat/internal/model"
	"servchat/internal/permission"
)

var testTokenConfig = auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

func bearer(t *testing.T, userID string, role model.Role) string {
	t.Helper()
	tok, err := auth.CreateToken(userID, role, testTokenConfig)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return "Bearer " + tok
}

func TestRequireAuth_SetsUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/", RequireAuth(testTokenConfig), func(c *gin.Context) {
		uid, ok := UserIDFromContext(c)
		if !ok || uid != "user-1" || RoleFromContext(c) != model.RoleEmployee {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, "user-1", model.RoleEmployee))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequireAuth_RejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/", RequireAuth(testTokenConfig), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

type staticPermissions struct {
	sets map[string]permission.Set
	err  error
}

func (s staticPermissions) GetPermissions(_ context.Context, userID string) (permission.Set, error) {
	return s.sets[userID], s.err
}

func TestRequirePermission(t *testing.T) {
	gin.SetMode(gin.TestMode)

	lookup := staticPermissions{sets: map[string]permission.Set{
		"mailer": permission.NewSet(permission.SendEmail),
	}}

	r := gin.New()
	r.POST("/mail", RequireAuth(testTokenConfig), RequirePermission(lookup, permission.SendEmail, nil), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		user string
		role model.Role
		want int
	}{
		{"mailer", model.RoleEmployee, http.StatusNoContent},
		{"plain", model.RoleEmployee, http.StatusForbidden},
		{"boss", model.RoleAdmin, http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/mail", nil)
		req.Header.Set("Authorization", bearer(t, tc.user, tc.role))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.user, tc.want, w.Code)
		}
	}
}

func TestRequirePermission_LookupFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.POST("/mail", RequireAuth(testTokenConfig), RequirePermission(staticPermissions{err: errors.New("db down")}, permission.SendEmail, nil), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/mail", nil)
	req.Header.Set("Authorization", bearer(t, "u", model.RoleEmployee))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.POST("/admins", RequireAuth(testTokenConfig), RequireRole(model.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/admins", nil)
	req.Header.Set("Authorization", bearer(t, "u", model.RoleEmployee))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
