package datastore

import (
	"path/filepath"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteManager_CreatesDatabaseFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data")
	mgr, err := Open(Config{Type: "sqlite", DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	assert.False(t, mgr.IsMySQL())
	require.NoError(t, mgr.DB().Exec("SELECT 1").Error)
	assert.FileExists(t, filepath.Join(dir, sqliteFileName))
}

func TestOpen_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Type: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestMySQLDSN(t *testing.T) {
	t.Parallel()

	dsn := MySQLDSN(conf.MySQLSettings{
		Host:     "db.internal",
		Port:     3307,
		Username: "gateway",
		Password: "p@ss/word",
		Database: "menu_builder",
	})

	cfg, err := gomysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "gateway", cfg.User)
	assert.Equal(t, "p@ss/word", cfg.Passwd)
	assert.Equal(t, "db.internal:3307", cfg.Addr)
	assert.Equal(t, "menu_builder", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "utf8mb4", cfg.Params["charset"])
}
