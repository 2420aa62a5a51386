// Package datastore opens the gateway database shared by the offline submission
// store and the database-backed cache registry.
package datastore

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/menubuilder/offline-gateway/internal/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// sqliteFileName is the database file created under Config.DataDir.
const sqliteFileName = "gateway.db"

// Config selects and configures the database.
type Config struct {
	Type    string
	DataDir string
	MySQL   conf.MySQLSettings
	// Debug enables GORM SQL logging.
	Debug bool
}

// ConfigFromSettings builds a Config from gateway settings.
func ConfigFromSettings(s *conf.Settings) Config {
	return Config{
		Type:    s.Database.Type,
		DataDir: s.Database.DataDir,
		MySQL:   s.Database.MySQL,
		Debug:   s.Main.LogLevel == "debug",
	}
}

// Manager owns the GORM connection.
type Manager struct {
	db      *gorm.DB
	isMySQL bool
}

// Open connects to the database described by cfg.
func Open(cfg Config) (*Manager, error) {
	switch cfg.Type {
	case conf.DatabaseMySQL:
		return NewMySQLManager(cfg)
	case conf.DatabaseSQLite, "":
		return NewSQLiteManager(cfg)
	default:
		return nil, errors.Newf("unsupported database type %q", cfg.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// NewSQLiteManager opens (creating if needed) the SQLite database in cfg.DataDir.
func NewSQLiteManager(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.New(fmt.Errorf("failed to create data dir: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("data_dir", cfg.DataDir).
			Build()
	}
	path := filepath.Join(cfg.DataDir, sqliteFileName)
	dsn := "file:" + path + "?_foreign_keys=ON&_busy_timeout=5000&_journal_mode=WAL"

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg.Debug))
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open sqlite database: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("path", path).
			Build()
	}

	// SQLite serialises writers; one connection avoids SQLITE_BUSY under load.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &Manager{db: db}, nil
}

// NewMySQLManager connects to the MySQL server described by cfg.MySQL.
func NewMySQLManager(cfg Config) (*Manager, error) {
	m := cfg.MySQL
	db, err := gorm.Open(mysql.Open(MySQLDSN(m)), gormConfig(cfg.Debug))
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open mysql database: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("host", m.Host).
			Context("database", m.Database).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Manager{db: db, isMySQL: true}, nil
}

// MySQLDSN formats connection settings as a go-sql-driver DSN. Credentials are
// escaped by the driver's formatter.
func MySQLDSN(m conf.MySQLSettings) string {
	c := gomysql.NewConfig()
	c.User = m.Username
	c.Passwd = m.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	c.DBName = m.Database
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

func gormConfig(debug bool) *gorm.Config {
	level := gorm_logger.Silent
	if debug {
		level = gorm_logger.Info
	}
	return &gorm.Config{
		Logger: gorm_logger.Default.LogMode(level),
	}
}

// DB returns the GORM handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// IsMySQL reports whether the connection uses the MySQL dialect.
func (m *Manager) IsMySQL() bool {
	return m.isMySQL
}

// Close releases the underlying connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
