package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servchat/internal/auth"
	"servchat/internal/model"
	"servchat/internal/server"
	"servchat/internal/store"
)

func TestLoginPrintsToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := store.NewMemory()
	tokenCfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	srv := httptest.NewServer(server.NewRouter(server.Deps{Store: st, TokenConfig: tokenCfg}))
	defer srv.Close()

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	u, err := st.CreateUser(context.Background(), model.User{
		Email: "ana@corp.example", Name: "Ana", Sector: "ti", Role: model.RoleEmployee, PasswordHash: hash,
	})
	require.NoError(t, err)

	orig := readPassword
	readPassword = func(int) ([]byte, error) { return []byte("password123"), nil }
	defer func() { readPassword = orig }()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"--server", srv.URL, "login", "--email", "ana@corp.example"})
	require.NoError(t, rootCmd.Execute())

	claims, err := auth.VerifyToken(strings.TrimSpace(out.String()), tokenCfg)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Contains(t, errOut.String(), "Signed in as Ana")
}

func TestPrinterSkipsRepeats(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	p.line("tmp-1", "Ana", "oi")
	p.line("m1", "Ana", "oi")
	p.line("m1", "Ana", "oi")

	assert.Equal(t, "  (sending) oi\n[Ana] oi\n", buf.String())
}
