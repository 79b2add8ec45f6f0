package database

import (
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseName(t *testing.T) {
	tests := map[string]string{
		"mongodb://localhost:27017":                              "trialguard",
		"mongodb://localhost:27017/":                             "trialguard",
		"mongodb://localhost:27017/trials":                       "trials",
		"mongodb+srv://u:p@cluster.example.net/prod?retryWrites": "prod",
	}
	for uri, want := range tests {
		assert.Equal(t, want, DatabaseName(uri), uri)
	}
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(MigrationFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(MigrationFS, "migrations/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}

func TestMigrateRejectsBadInput(t *testing.T) {
	assert.Error(t, Migrate("", "up"))
	assert.ErrorContains(t, Migrate("postgres://localhost/x", "sideways"), "direction")
}

func TestMigrateIntegration(t *testing.T) {
	dsn := os.Getenv("TRIALGUARD_TEST_POSTGRES_URI")
	if dsn == "" {
		t.Skip("TRIALGUARD_TEST_POSTGRES_URI not set")
	}
	require.NoError(t, Migrate(dsn, "up"))
	assert.ErrorIs(t, MigrateStrict(dsn, "up"), ErrNoChange)
	require.NoError(t, ConnectPostgres(dsn))
	defer DisconnectPostgres()

	var n int
	require.NoError(t, PostgresDB.QueryRow(`SELECT COUNT(*) FROM admin_actions`).Scan(&n))
}
