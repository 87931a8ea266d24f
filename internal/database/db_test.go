package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, profile Profile) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db"), Profile: profile, Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	schema := `CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`

	require.NoError(t, db.Migrate(schema))
	require.NoError(t, db.Migrate(schema), "re-running the same schema must not error")

	_, err := db.Exec(`INSERT INTO widgets (name) VALUES (?)`, "bolt")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	require.NoError(t, db.Migrate(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`))

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO widgets (name) VALUES (?)`, "bolt"); err != nil {
			return err
		}
		return errors.New("force rollback")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestQuickCheckSucceedsOnOpenConnection(t *testing.T) {
	db := newTestDB(t, ProfileCache)
	assert.NoError(t, db.QuickCheck(context.Background()))
}
