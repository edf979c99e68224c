package db

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasColumn(t *testing.T, database *DB, table, column string) bool {
	t.Helper()
	var n int
	err := database.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestLatestMigrationVersion(t *testing.T) {
	v, err := LatestMigrationVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestMigrateDownAndUp(t *testing.T) {
	database := newTestDB(t)
	migrations := MigrationsFS()
	require.True(t, hasColumn(t, database, "runs", "notes"))

	require.NoError(t, database.MigrateDown(migrations))
	v, dirty, err := database.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
	assert.False(t, hasColumn(t, database, "runs", "notes"))

	require.NoError(t, database.MigrateUp(migrations))
	require.NoError(t, database.MigrateUp(migrations), "up at latest is a no-op")
	assert.True(t, hasColumn(t, database, "runs", "notes"))
}

func TestMigrateToAndForce(t *testing.T) {
	database, err := OpenDB(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer database.Close()
	migrations := MigrationsFS()

	v, dirty, err := database.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(0), v, "fresh database has no version")
	assert.False(t, dirty)

	require.NoError(t, database.MigrateTo(migrations, 1))
	v, _, err = database.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, hasColumn(t, database, "runs", "notes"))

	require.NoError(t, database.MigrateForce(migrations, 2))
	v, _, err = database.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, hasColumn(t, database, "runs", "notes"), "force does not run migrations")
}

func TestRunMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"status"}, dbPath, &out))
	assert.Contains(t, out.String(), "Current version: 0")
	assert.Contains(t, out.String(), "2 migration(s) pending")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"up"}, dbPath, &out))
	assert.Contains(t, out.String(), "Current version: 2 (dirty: false)")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, dbPath, &out))
	assert.Contains(t, out.String(), "up to date")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, dbPath, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"version", "2"}, dbPath, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"force", "1"}, dbPath, &out))
	assert.Contains(t, out.String(), "Forced version to 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"help"}, dbPath, &out))
	assert.Contains(t, out.String(), "Usage: refpathd migrate")

	for _, args := range [][]string{{}, {"sideways"}, {"version"}, {"force", "x"}} {
		out.Reset()
		assert.Error(t, RunMigrateCommand(args, dbPath, &out), "args %v", args)
	}
}
