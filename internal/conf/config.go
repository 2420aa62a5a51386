// Package conf loads and validates gateway settings.
package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Settings is the complete gateway configuration.
type Settings struct {
	Main      MainSettings      `mapstructure:"main" yaml:"main" json:"main"`
	Worker    WorkerSettings    `mapstructure:"worker" yaml:"worker" json:"worker"`
	Origin    OriginSettings    `mapstructure:"origin" yaml:"origin" json:"origin"`
	Cache     CacheSettings     `mapstructure:"cache" yaml:"cache" json:"cache"`
	Database  DatabaseSettings  `mapstructure:"database" yaml:"database" json:"database"`
	Sync      SyncSettings      `mapstructure:"sync" yaml:"sync" json:"sync"`
	WebServer WebServerSettings `mapstructure:"webserver" yaml:"webserver" json:"webserver"`
	MQTT      MQTTSettings      `mapstructure:"mqtt" yaml:"mqtt" json:"mqtt"`
	Sentry    SentrySettings    `mapstructure:"sentry" yaml:"sentry" json:"-"`
}

// MainSettings holds process-wide options.
type MainSettings struct {
	Name     string `mapstructure:"name" yaml:"name" json:"name"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	TimeZone string `mapstructure:"timezone" yaml:"timezone" json:"timezone"`
}

// WorkerSettings controls cache naming, precaching and request routing.
type WorkerSettings struct {
	CachePrefix      string   `mapstructure:"cache_prefix" yaml:"cache_prefix" json:"cache_prefix"`
	Version          string   `mapstructure:"version" yaml:"version" json:"version"`
	SkipWaiting      bool     `mapstructure:"skip_waiting" yaml:"skip_waiting" json:"skip_waiting"`
	MaxWaiting       Duration `mapstructure:"max_waiting" yaml:"max_waiting" json:"max_waiting"`
	Precache         []string `mapstructure:"precache" yaml:"precache" json:"precache"`
	APIPrefix        string   `mapstructure:"api_prefix" yaml:"api_prefix" json:"api_prefix"`
	StaticPrefix     string   `mapstructure:"static_prefix" yaml:"static_prefix" json:"static_prefix"`
	StaticExtensions []string `mapstructure:"static_extensions" yaml:"static_extensions" json:"static_extensions"`
	CDNHosts         []string `mapstructure:"cdn_hosts" yaml:"cdn_hosts" json:"cdn_hosts"`
	OfflinePath      string   `mapstructure:"offline_path" yaml:"offline_path" json:"offline_path"`
}

// OriginSettings points at the menu-builder backend.
type OriginSettings struct {
	URL string `mapstructure:"url" yaml:"url" json:"url"`
	// Timeout of zero leaves network fetches unbounded.
	Timeout Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// CacheSettings selects the cache registry backend.
type CacheSettings struct {
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"`
}

// DatabaseSettings configures the GORM connection shared by the submission store
// and the database cache backend.
type DatabaseSettings struct {
	Type    string        `mapstructure:"type" yaml:"type" json:"type"`
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`
	MySQL   MySQLSettings `mapstructure:"mysql" yaml:"mysql" json:"mysql"`
}

// MySQLSettings is used when Database.Type is "mysql".
type MySQLSettings struct {
	Host     string `mapstructure:"host" yaml:"host" json:"host"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	Database string `mapstructure:"database" yaml:"database" json:"database"`
}

// SyncSettings configures background sync.
type SyncSettings struct {
	// ProbeInterval of zero disables the connectivity monitor.
	ProbeInterval Duration `mapstructure:"probe_interval" yaml:"probe_interval" json:"probe_interval"`
	ProbePath     string   `mapstructure:"probe_path" yaml:"probe_path" json:"probe_path"`
}

// WebServerSettings configures the listener.
type WebServerSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen" json:"listen"`
}

// MQTTSettings configures the optional event publisher.
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker" json:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic" json:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	Username string `mapstructure:"username" yaml:"username" json:"-"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// Cache backends.
const (
	CacheBackendMemory   = "memory"
	CacheBackendDatabase = "database"
)

// Database types.
const (
	DatabaseSQLite = "sqlite"
	DatabaseMySQL  = "mysql"
)

// EnvPrefix is the prefix for environment overrides, e.g. MENUBUILDER_ORIGIN_URL.
const EnvPrefix = "MENUBUILDER"

// Defaults returns the built-in settings.
func Defaults() *Settings {
	return &Settings{
		Main: MainSettings{
			Name:     "menu-builder-gateway",
			LogLevel: "info",
		},
		Worker: WorkerSettings{
			CachePrefix: "menu-builder",
			Version:     "1.0.0",
			Precache: []string{
				"/",
				"/dashboard",
				"/offline", // rendered locally, never fetched
				"/static/css/style.css",
				"/static/js/app.js",
				"/static/js/product-builder.js",
				"/static/js/charts.js",
				"/static/manifest.json",
				"/static/icons/icon-192x192.png",
				"/static/icons/icon-512x512.png",
			},
			APIPrefix:    "/api/",
			StaticPrefix: "/static/",
			StaticExtensions: []string{
				".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg",
				".ico", ".woff", ".woff2", ".ttf", ".eot", ".webp",
			},
			CDNHosts: []string{
				"cdn.jsdelivr.net",
				"cdnjs.cloudflare.com",
				"fonts.googleapis.com",
				"fonts.gstatic.com",
			},
			OfflinePath: "/offline",
		},
		Origin: OriginSettings{
			URL: "http://127.0.0.1:5000",
		},
		Cache: CacheSettings{
			Backend: CacheBackendDatabase,
		},
		Database: DatabaseSettings{
			Type:    DatabaseSQLite,
			DataDir: "data",
			MySQL: MySQLSettings{
				Host:     "127.0.0.1",
				Port:     3306,
				Database: "menu_builder_gateway",
			},
		},
		Sync: SyncSettings{
			ProbeInterval: Duration(30 * time.Second),
			ProbePath:     "/",
		},
		WebServer: WebServerSettings{
			Listen: ":8080",
		},
		MQTT: MQTTSettings{
			Topic:    "menu-builder/gateway",
			ClientID: "menu-builder-gateway",
		},
	}
}

// Validate checks settings for values the gateway cannot start with.
func (s *Settings) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Worker.CachePrefix) == "" {
		problems = append(problems, "worker.cache_prefix is required")
	}
	if strings.TrimSpace(s.Worker.Version) == "" {
		problems = append(problems, "worker.version is required")
	}
	if !strings.HasPrefix(s.Worker.APIPrefix, "/") {
		problems = append(problems, "worker.api_prefix must start with /")
	}
	if !strings.HasPrefix(s.Worker.StaticPrefix, "/") {
		problems = append(problems, "worker.static_prefix must start with /")
	}
	if !strings.HasPrefix(s.Worker.OfflinePath, "/") {
		problems = append(problems, "worker.offline_path must start with /")
	}
	if u, err := url.Parse(s.Origin.URL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("origin.url %q is not an absolute URL", s.Origin.URL))
	}
	switch s.Cache.Backend {
	case CacheBackendMemory, CacheBackendDatabase:
	default:
		problems = append(problems, fmt.Sprintf("cache.backend %q must be memory or database", s.Cache.Backend))
	}
	switch s.Database.Type {
	case DatabaseSQLite, DatabaseMySQL:
	default:
		problems = append(problems, fmt.Sprintf("database.type %q must be sqlite or mysql", s.Database.Type))
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		problems = append(problems, "mqtt.broker is required when mqtt is enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		problems = append(problems, "sentry.dsn is required when sentry is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

var (
	settings   *Settings
	settingsMu sync.RWMutex
)

// GetSettings returns the settings loaded by the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings
}

func setSettings(s *Settings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	settings = s
}

// Load reads settings from path (or the default search locations when path is
// empty), applies MENUBUILDER_* environment overrides and validates the result.
// A missing config file is not an error; defaults apply.
func Load(path string) (*Settings, error) {
	v := viper.New()
	applyDefaults(v, Defaults())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "menu-builder-gateway"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	setSettings(s)
	return s, nil
}

// applyDefaults registers every leaf of defaults with viper so environment
// variables can override keys that are absent from the config file.
func applyDefaults(v *viper.Viper, d *Settings) {
	v.SetDefault("main.name", d.Main.Name)
	v.SetDefault("main.log_level", d.Main.LogLevel)
	v.SetDefault("main.timezone", d.Main.TimeZone)

	v.SetDefault("worker.cache_prefix", d.Worker.CachePrefix)
	v.SetDefault("worker.version", d.Worker.Version)
	v.SetDefault("worker.skip_waiting", d.Worker.SkipWaiting)
	v.SetDefault("worker.max_waiting", d.Worker.MaxWaiting.String())
	v.SetDefault("worker.precache", d.Worker.Precache)
	v.SetDefault("worker.api_prefix", d.Worker.APIPrefix)
	v.SetDefault("worker.static_prefix", d.Worker.StaticPrefix)
	v.SetDefault("worker.static_extensions", d.Worker.StaticExtensions)
	v.SetDefault("worker.cdn_hosts", d.Worker.CDNHosts)
	v.SetDefault("worker.offline_path", d.Worker.OfflinePath)

	v.SetDefault("origin.url", d.Origin.URL)
	v.SetDefault("origin.timeout", d.Origin.Timeout.String())

	v.SetDefault("cache.backend", d.Cache.Backend)

	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.data_dir", d.Database.DataDir)
	v.SetDefault("database.mysql.host", d.Database.MySQL.Host)
	v.SetDefault("database.mysql.port", d.Database.MySQL.Port)
	v.SetDefault("database.mysql.username", d.Database.MySQL.Username)
	v.SetDefault("database.mysql.password", d.Database.MySQL.Password)
	v.SetDefault("database.mysql.database", d.Database.MySQL.Database)

	v.SetDefault("sync.probe_interval", d.Sync.ProbeInterval.String())
	v.SetDefault("sync.probe_path", d.Sync.ProbePath)

	v.SetDefault("webserver.listen", d.WebServer.Listen)

	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)

	v.SetDefault("sentry.enabled", d.Sentry.Enabled)
	v.SetDefault("sentry.dsn", d.Sentry.DSN)
}

// WriteDefault writes the default settings as YAML to path. An existing file is
// left untouched and reported as an error.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Location resolves Main.TimeZone, returning nil for the local zone.
func (s *Settings) Location() (*time.Location, error) {
	if s.Main.TimeZone == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(s.Main.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid main.timezone %q: %w", s.Main.TimeZone, err)
	}
	return loc, nil
}
