package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escritoresnogueira/backend/identity"
	"github.com/escritoresnogueira/backend/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" WARN "))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, &buf).Info("dropped")
	assert.Empty(t, buf.String())

	newLogger(&config.Config{LogLevel: "info", LogFormat: "json"}, &buf).Info("kept")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "backend", line["service"])

	buf.Reset()
	newLogger(&config.Config{LogFormat: "text"}, &buf).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()

	repo, err := openRepository(ctx, &config.Config{StorageBackend: config.StorageMemory})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	path := filepath.Join(t.TempDir(), "nested", "backend.db")
	repo, err = openRepository(ctx, &config.Config{StorageBackend: config.StorageBbolt, BboltPath: path})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	_, err = openRepository(ctx, &config.Config{StorageBackend: config.StoragePostgres})
	assert.Error(t, err)
	_, err = openRepository(ctx, &config.Config{StorageBackend: "mongo"})
	assert.Error(t, err)
}

func TestNewVerifierJWT(t *testing.T) {
	verifier, err := newVerifier(context.Background(), &config.Config{
		IdentityProvider: config.IdentityJWT,
		DevJWTSecret:     testSecret,
		DevJWTIssuer:     "backend-dev",
	})
	require.NoError(t, err)
	assert.IsType(t, &identity.JWTVerifier{}, verifier)

	_, err = newVerifier(context.Background(), &config.Config{IdentityProvider: "saml"})
	assert.Error(t, err)
}

func TestDevTokenCommand(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "none.env"))
	t.Setenv("APP_ENV", "development")
	t.Setenv("DEV_JWT_SECRET", testSecret)
	t.Setenv("DEV_JWT_ISSUER", "backend-dev")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"dev-token", "--subject", "fb-dev", "--email", "dev@example.com"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())

	jv, err := identity.NewJWTVerifier([]byte(testSecret), "backend-dev")
	require.NoError(t, err)
	id, err := jv.Verify(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "fb-dev", id.Subject)
	assert.Equal(t, "dev@example.com", id.Email)
}
