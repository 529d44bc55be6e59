package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func newTestMigrator(t *testing.T, dir string) (*migrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &migrator{db: sqlx.NewDb(db, "postgres"), dir: dir, logger: zap.NewNop()}, mock
}

func TestLoadMigrations(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"002_b.sql":  "SELECT 2;",
		"001_a.sql":  "SELECT 1;",
		"README.txt": "ignored",
	})

	migrations, err := loadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001_a.sql", migrations[0].name)
	assert.Equal(t, "002_b.sql", migrations[1].name)
	assert.Len(t, migrations[0].checksum, 64)

	_, err = loadMigrations(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestMigrator_Up(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_a.sql": "CREATE TABLE a (id INT);",
		"002_b.sql": "CREATE TABLE b (id INT);",
	})
	m, mock := newTestMigrator(t, dir)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT filename, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"filename", "checksum"}).
			AddRow("001_a.sql", calculateChecksum([]byte("CREATE TABLE a (id INT);"))))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)")).
		WithArgs("002_b.sql", calculateChecksum([]byte("CREATE TABLE b (id INT);"))).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	n, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_UpRollsBackFailedFile(t *testing.T) {
	dir := writeMigrations(t, map[string]string{"001_a.sql": "CREATE TABLE a (id INT);"})
	m, mock := newTestMigrator(t, dir)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT filename, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"filename", "checksum"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id INT);")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	n, err := m.Up(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "001_a.sql")
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_ChangedFile(t *testing.T) {
	dir := writeMigrations(t, map[string]string{"001_a.sql": "CREATE TABLE a (id BIGINT);"})
	m, mock := newTestMigrator(t, dir)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT filename, checksum FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"filename", "checksum"}).
			AddRow("001_a.sql", calculateChecksum([]byte("CREATE TABLE a (id INT);"))))

	err := m.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_a.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}
