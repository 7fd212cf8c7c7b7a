// Package config loads client and server configuration with viper.
//
// Values come from, in increasing precedence: defaults set here, an optional
// YAML config file, and PRESHIFT_-prefixed environment variables where dots
// become underscores (store.path -> PRESHIFT_STORE_PATH).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fieldops/preshift/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PRESHIFT"

// ClientConfig configures the field client.
type ClientConfig struct {
	Server       ClientServerConfig `mapstructure:"server"`
	Store        StoreConfig        `mapstructure:"store"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Inbox        InboxConfig        `mapstructure:"inbox"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
	Reporter     ReporterConfig     `mapstructure:"reporter"`
	Log          logging.Config     `mapstructure:"log"`
}

type ClientServerConfig struct {
	URL string `mapstructure:"url"`
}

type StoreConfig struct {
	Path        string        `mapstructure:"path"`
	InitTimeout time.Duration `mapstructure:"init_timeout"`
}

type SyncConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryCount     int           `mapstructure:"retry_count"`
	RetryWait      time.Duration `mapstructure:"retry_wait"`
	RetryMaxWait   time.Duration `mapstructure:"retry_max_wait"`
}

type ConnectivityConfig struct {
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	RecheckInterval  time.Duration `mapstructure:"recheck_interval"`
	AutoSyncInterval time.Duration `mapstructure:"autosync_interval"`
	// InterfacePoll is how often network interfaces are checked for changes.
	InterfacePoll time.Duration `mapstructure:"interface_poll"`
}

type InboxConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type DashboardConfig struct {
	// Port 0 disables the dashboard.
	Port int `mapstructure:"port"`
}

// ReporterConfig seeds the operator identity when the store has none.
type ReporterConfig struct {
	Name   string `mapstructure:"name"`
	UserID string `mapstructure:"user_id"`
}

// ServerConfig configures the checklist server.
type ServerConfig struct {
	Server    HTTPConfig      `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       logging.Config  `mapstructure:"log"`
}

type HTTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
}

// Addr is the listen address.
func (h HTTPConfig) Addr() string {
	return h.Host + ":" + h.Port
}

type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the libpq-style connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoadClient reads the client configuration. An empty path searches for
// preshift.yaml in the working directory and ~/.preshift.
func LoadClient(path string) (*ClientConfig, error) {
	v, err := newViper(path, "preshift", setClientDefaults)
	if err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("server.url is required")
	}
	return &cfg, nil
}

// LoadServer reads the server configuration. An empty path searches for
// preshift-server.yaml in the working directory and ~/.preshift.
func LoadServer(path string) (*ServerConfig, error) {
	v, err := newViper(path, "preshift-server", setServerDefaults)
	if err != nil {
		return nil, err
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	switch cfg.Storage.Driver {
	case "memory", "postgres":
	default:
		return nil, fmt.Errorf("storage.driver must be memory or postgres (got %q)", cfg.Storage.Driver)
	}
	return &cfg, nil
}

func newViper(path, name string, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".preshift"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

func setClientDefaults(v *viper.Viper) {
	storePath := filepath.Join(".preshift", "local.db")
	inboxDir := filepath.Join(".preshift", "inbox")
	if home, err := os.UserHomeDir(); err == nil {
		storePath = filepath.Join(home, ".preshift", "local.db")
		inboxDir = filepath.Join(home, ".preshift", "inbox")
	}

	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("store.path", storePath)
	v.SetDefault("store.init_timeout", 5*time.Second)
	v.SetDefault("sync.request_timeout", 15*time.Second)
	v.SetDefault("sync.retry_count", 3)
	v.SetDefault("sync.retry_wait", 500*time.Millisecond)
	v.SetDefault("sync.retry_max_wait", 5*time.Second)
	v.SetDefault("connectivity.probe_timeout", 3*time.Second)
	v.SetDefault("connectivity.recheck_interval", 10*time.Second)
	v.SetDefault("connectivity.autosync_interval", 2*time.Minute)
	v.SetDefault("connectivity.interface_poll", 5*time.Second)
	v.SetDefault("inbox.dir", inboxDir)
	v.SetDefault("inbox.debounce", 250*time.Millisecond)
	v.SetDefault("dashboard.port", 0)
	v.SetDefault("reporter.name", "")
	v.SetDefault("reporter.user_id", "")
	setLogDefaults(v)
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "preshift")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "preshift")
	v.SetDefault("database.sslmode", "disable")
	// A full sync costs one request per asset; the burst lets a fleet of a
	// few hundred assets refresh without throttling.
	v.SetDefault("rate_limit.rps", 100.0)
	v.SetDefault("rate_limit.burst", 400)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	setLogDefaults(v)
}

func setLogDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}
