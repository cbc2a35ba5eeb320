package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// appDirName is the directory created under the per-user config root.
const appDirName = "ClashXW"

// DefaultFileName is the configuration file looked up in the data directory
// when no path is given.
const DefaultFileName = "clashxw.yaml"

// Config is the root configuration structure for ClashXW.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
}

// AppConfig contains application-wide filesystem settings.
type AppConfig struct {
	// DataDir is the per-user application-data root holding Config/ and state.json.
	// Default: <user config dir>/ClashXW
	DataDir string `yaml:"data_dir"`
}

// EngineConfig contains settings for the supervised proxy engine.
type EngineConfig struct {
	// Binary is the path to the engine executable.
	// Default: <data_dir>/bin/mihomo (mihomo.exe on Windows)
	Binary string `yaml:"binary"`

	// AllowListEnv is the environment variable the engine reads its
	// permitted configuration directories from.
	// Default: "SAFE_PATHS"
	AllowListEnv string `yaml:"allow_list_env"`

	// StopTimeout bounds how long Stop waits for the killed engine to be reaped.
	// Default: 5s
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// ReadyTimeout is how long to wait for the control-plane port after a start.
	// Zero disables the readiness wait.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	// Autostart starts the engine with the current profile when `run` begins.
	// Default: true
	Autostart bool `yaml:"autostart"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig contains SQLite settings for the engine journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains settings for the local admin HTTP API served by `run`.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`

	// Listen is the host:port to bind. Keep it on loopback unless Token is set.
	// Default: "127.0.0.1:7891"
	Listen string `yaml:"listen"`

	// Token, when set, is required as a bearer token on every route
	// except /api/v1/health.
	Token string `yaml:"token"`

	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP server timeouts (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Derived defaults (paths under the data directory)
//
// An empty path skips step 2. Environment variables follow the pattern
// CLASHXW_SECTION_KEY, for example CLASHXW_ENGINE_BINARY.
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.applyDerivedDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOptional behaves like Load but treats a missing file as "use defaults".
// Used for the implicit config location, where the file is optional.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Load("")
	}
	return Load(path)
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			AllowListEnv: "SAFE_PATHS",
			StopTimeout:  5 * time.Second,
			ReadyTimeout: 10 * time.Second,
			Autostart:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Database: DatabaseConfig{
			Enabled:     true,
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "clashxw",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Listen: "127.0.0.1:7891",
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 30,
				Idle:  120,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CLASHXW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLASHXW_DATA_DIR"); v != "" {
		cfg.App.DataDir = v
	}

	if v := os.Getenv("CLASHXW_ENGINE_BINARY"); v != "" {
		cfg.Engine.Binary = v
	}

	if v := os.Getenv("CLASHXW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("CLASHXW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("CLASHXW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CLASHXW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CLASHXW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("CLASHXW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("CLASHXW_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
}

// applyDerivedDefaults fills path settings that depend on the data directory.
func (c *Config) applyDerivedDefaults() error {
	if c.App.DataDir == "" {
		root, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolving user config dir: %w", err)
		}
		c.App.DataDir = filepath.Join(root, appDirName)
	}

	if c.Engine.Binary == "" {
		c.Engine.Binary = filepath.Join(c.App.DataDir, "bin", DefaultEngineBinaryName())
	}

	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.App.DataDir, "clashxw.db")
	}

	return nil
}

// DefaultPath returns the implicit configuration file location,
// <user config dir>/ClashXW/clashxw.yaml.
func DefaultPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(root, appDirName, DefaultFileName), nil
}

// DefaultEngineBinaryName returns the engine executable name for this platform.
func DefaultEngineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "mihomo.exe"
	}
	return "mihomo"
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.App.DataDir == "" {
		errs = append(errs, "app.data_dir is required")
	}

	if c.Engine.AllowListEnv == "" {
		errs = append(errs, "engine.allow_list_env is required")
	}
	if c.Engine.StopTimeout < 0 {
		errs = append(errs, "engine.stop_timeout must not be negative")
	}
	if c.Engine.ReadyTimeout < 0 {
		errs = append(errs, "engine.ready_timeout must not be negative")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Enabled {
		if c.API.Listen == "" {
			errs = append(errs, "api.listen is required when the api is enabled")
		}
		if c.API.Timeouts.Read < 0 || c.API.Timeouts.Write < 0 || c.API.Timeouts.Idle < 0 {
			errs = append(errs, "api.timeouts must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
