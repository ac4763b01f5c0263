package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestPendingFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"002_blacklist.sql": "SELECT 2;",
		"001_templates.sql": "SELECT 1;",
		"003_scheduled.sql": "SELECT 3;",
		"README.md":         "notes",
	})
	got, err := pendingFiles(dir, map[string]bool{"001_templates.sql": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"002_blacklist.sql", "003_scheduled.sql"}, got)

	_, err = pendingFiles(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}

func TestApplyRecordsInSameTransaction(t *testing.T) {
	dir := writeFiles(t, map[string]string{"001_x.sql": "CREATE TABLE whatsapp_x (id INT);"})
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE whatsapp_x").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO whatsapp_schema_migrations").WithArgs("001_x.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, apply(db, dir, "001_x.sql"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRollsBackOnFailure(t *testing.T) {
	dir := writeFiles(t, map[string]string{"001_x.sql": "CREATE TABLE broken"})
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	assert.Error(t, apply(db, dir, "001_x.sql"))
	require.NoError(t, mock.ExpectationsWereMet())
}
