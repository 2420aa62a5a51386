//go:build integration

package containers

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/menubuilder/offline-gateway/internal/conf"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

// MySQLContainer wraps a testcontainers MySQL instance.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	settings  conf.MySQLSettings
}

// MySQLConfig holds configuration for MySQL container creation.
type MySQLConfig struct {
	Database string
	Username string
	Password string
	ImageTag string
}

// DefaultMySQLConfig returns the configuration used by the gateway tests.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Database: "menu_builder_test",
		Username: "gateway",
		Password: "gateway",
		ImageTag: "8.0",
	}
}

// NewMySQLContainer starts a MySQL container. A nil config uses DefaultMySQLConfig.
func NewMySQLContainer(ctx context.Context, config *MySQLConfig) (*MySQLContainer, error) {
	if config == nil {
		defaultCfg := DefaultMySQLConfig()
		config = &defaultCfg
	}

	container, err := mysql.Run(ctx, "mysql:"+config.ImageTag,
		mysql.WithDatabase(config.Database),
		mysql.WithUsername(config.Username),
		mysql.WithPassword(config.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		// Background context so cleanup succeeds even if ctx expired.
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	portNum, err := strconv.Atoi(port.Port())
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("invalid mapped port %q: %w", port.Port(), err)
	}

	return &MySQLContainer{
		container: container,
		settings: conf.MySQLSettings{
			Host:     host,
			Port:     portNum,
			Username: config.Username,
			Password: config.Password,
			Database: config.Database,
		},
	}, nil
}

// Settings returns connection settings for datastore.Open.
func (c *MySQLContainer) Settings(t *testing.T) conf.MySQLSettings {
	t.Helper()
	if c.settings.Host == "" {
		t.Fatal("MySQL container is not running")
	}
	return c.settings
}

// Terminate stops and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
