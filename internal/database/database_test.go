package database

import (
	"errors"
	"fmt"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(pgx.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, mapErr(fmt.Errorf("scan: %w", pgx.ErrNoRows)), ErrNotFound)

	dup := mapErr(&pgconn.PgError{Code: "23505", ConstraintName: "teams_challenge_id_name_key"})
	assert.ErrorIs(t, dup, ErrConflict)
	assert.Contains(t, dup.Error(), "teams_challenge_id_name_key")

	assert.ErrorIs(t, mapErr(&pgconn.PgError{Code: "23503"}), ErrNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, mapErr(other))
}

func TestReadMigrationDir_SortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_teams.sql":  {Data: []byte("SELECT 2;")},
		"m/001_init.sql":   {Data: []byte("SELECT 1;")},
		"m/README.md":      {Data: []byte("notes")},
		"m/nested/003.sql": {Data: []byte("SELECT 3;")},
	}

	files, err := readMigrationDir(fsys, "m")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001_init.sql", files[0].name)
	assert.Equal(t, "002_teams.sql", files[1].name)
	assert.Equal(t, "SELECT 1;", string(files[0].data))
}

func TestLoadMigrations_FallsBackToEmbedded(t *testing.T) {
	files, err := loadMigrations(t.TempDir() + "/missing")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "001_init.sql", files[0].name)
	assert.Contains(t, string(files[0].data), "step_entries")

	files, err = loadMigrations("")
	require.NoError(t, err)
	assert.NotEmpty(t, files)
}
