package blob

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "servchat/internal/config"
)

func newTestSigner(t *testing.T) *S3Signer {
	t.Helper()
	s, err := NewS3Signer(context.Background(), appconfig.S3Config{
		Bucket:    "servchat",
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestPresignPut_KeyAndURL(t *testing.T) {
	s := newTestSigner(t)

	key, raw, err := s.PresignPut(context.Background(), "u1", "photo.JPG")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "uploads/u1/2026/03/"), key)
	assert.True(t, strings.HasSuffix(key, ".jpg"), key)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", u.Host)
	assert.Equal(t, "/servchat/"+key, u.Path)
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
}

func TestPresignGet_RejectsForeignKeys(t *testing.T) {
	s := newTestSigner(t)

	_, err := s.PresignGet(context.Background(), "secrets/payroll.pdf")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = s.PresignGet(context.Background(), "uploads/../secrets")
	assert.ErrorIs(t, err, ErrInvalidKey)

	raw, err := s.PresignGet(context.Background(), "uploads/u1/2026/03/x.png")
	require.NoError(t, err)
	assert.Contains(t, raw, "/servchat/uploads/u1/2026/03/x.png")
}

func TestObjectKey_DropsOddExtensions(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.NotContains(t, ObjectKey("u", "evil.p h p", now), " ")
	assert.True(t, strings.HasPrefix(ObjectKey("u", "noext", now), "uploads/u/2026/01/"))
	assert.False(t, strings.Contains(ObjectKey("u", "a.verylongextension", now), ".verylong"))
}

func TestNewS3Signer_RequiresBucket(t *testing.T) {
	_, err := NewS3Signer(context.Background(), appconfig.S3Config{})
	assert.Error(t, err)
}
