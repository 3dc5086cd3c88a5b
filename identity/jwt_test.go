package identity

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escritoresnogueira/backend/user"
)

var testSecret = bytes.Repeat([]byte("k"), MinSecretLength)

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret, "backend-dev")
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifier(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"), "backend-dev")
	require.Error(t, err)
	_, err = NewJWTVerifier(testSecret, "")
	require.Error(t, err)

	secret := bytes.Repeat([]byte("s"), MinSecretLength)
	_, err = NewJWTVerifier(secret, "backend-dev")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("s"), MinSecretLength), secret, "caller's secret must not be wiped")
}

func TestJWTVerifierRoundTrip(t *testing.T) {
	v := newTestVerifier(t)
	tok, err := v.Issue(Identity{
		Subject:     "uid-123",
		Email:       "ana@example.com",
		DisplayName: "Ana Silva",
		AvatarURL:   "https://example.com/ana.png",
		Provider:    user.ProviderGoogle,
	}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "uid-123", id.Subject)
	assert.Equal(t, "ana@example.com", id.Email)
	assert.Equal(t, "Ana Silva", id.DisplayName)
	assert.Equal(t, "https://example.com/ana.png", id.AvatarURL)
	assert.Equal(t, user.ProviderGoogle, id.Provider)
}

func TestJWTVerifierDefaultsProvider(t *testing.T) {
	v := newTestVerifier(t)
	tok, err := v.Issue(Identity{Subject: "uid-1"}, time.Hour)
	require.NoError(t, err)
	id, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, user.ProviderLocal, id.Provider)
}

func TestJWTVerifierRejects(t *testing.T) {
	ctx := context.Background()
	v := newTestVerifier(t)

	t.Run("Empty", func(t *testing.T) {
		_, err := v.Verify(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := v.Verify(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("Expired", func(t *testing.T) {
		past := newTestVerifier(t)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		tok, err := past.Issue(Identity{Subject: "uid-1"}, time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other, err := NewJWTVerifier(bytes.Repeat([]byte("x"), MinSecretLength), "backend-dev")
		require.NoError(t, err)
		tok, err := other.Issue(Identity{Subject: "uid-1"}, time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("WrongIssuer", func(t *testing.T) {
		other, err := NewJWTVerifier(testSecret, "someone-else")
		require.NoError(t, err)
		tok, err := other.Issue(Identity{Subject: "uid-1"}, time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("NoExpiry", func(t *testing.T) {
		claims := jwt.RegisteredClaims{Subject: "uid-1", Issuer: "backend-dev"}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
		require.NoError(t, err)
		_, err = v.Verify(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("NoSubject", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Issuer:    "backend-dev",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
		require.NoError(t, err)
		_, err = v.Verify(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("AlgNone", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "uid-1",
			Issuer:    "backend-dev",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = v.Verify(ctx, tok)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})
}

func TestIssueRequiresSubject(t *testing.T) {
	_, err := newTestVerifier(t).Issue(Identity{}, time.Hour)
	require.Error(t, err)
}
