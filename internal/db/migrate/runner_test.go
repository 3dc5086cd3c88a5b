package migrate

import (
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escritoresnogueira/backend/internal/db"
)

func TestRunValidatesArguments(t *testing.T) {
	assert.ErrorContains(t, Run("", Up), "DATABASE_URL")
	assert.ErrorContains(t, Run("postgres://localhost/db", "sideways"), "direction")
}

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestRunAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("BACKEND_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BACKEND_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}
	require.NoError(t, Run(dsn, Up))
	require.NoError(t, Run(dsn, Up), "second run is a no-op")

	v, dirty, err := Version(dsn)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.EqualValues(t, 1, v)
}
