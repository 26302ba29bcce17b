package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the door controller configuration. It is read from a YAML file,
// then PORTUNUS_* environment variables override individual fields.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Env      string         `yaml:"env"` // "dev" | "prod"
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Sync     SyncConfig     `yaml:"sync"`
	Door     DoorConfig     `yaml:"door"`
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging"`
	Audit    AuditConfig    `yaml:"audit"`
}

type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "flatfile" | "sqlite"
	Path    string `yaml:"path"`    // flat file location, imported into an empty sqlite store

	// Bootstrap administrator created when the store has no such record.
	Admin AdminConfig `yaml:"admin"`
}

type AdminConfig struct {
	Identity  string `yaml:"identity"`
	Password  string `yaml:"password"`
	LastName  string `yaml:"last_name"`
	FirstName string `yaml:"first_name"`
}

// DatabaseConfig is used by the sqlite credential backend and the audit log.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type GatewayConfig struct {
	Addr               string `yaml:"addr"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	IdleTimeoutSeconds int    `yaml:"idle_timeout_seconds"`
	MaxLineBytes       int    `yaml:"max_line_bytes"`
}

type SyncConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	Source          string `yaml:"source"`      // "local" | "remote"
	RemoteAddr      string `yaml:"remote_addr"` // gateway of the door holding the store
	CAFile          string `yaml:"ca_file"`
	// InsecureSkipVerify disables certificate checks for lab setups with
	// self-signed gateway certificates.
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Identity           string `yaml:"identity"`
	Password           string `yaml:"password"`
}

type DoorConfig struct {
	ID             string `yaml:"id"`
	OpenDurationMs int    `yaml:"open_duration_ms"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type MQTTConfig struct {
	Enabled bool             `yaml:"enabled"`
	Broker  MQTTBrokerConfig `yaml:"broker"`
	Auth    MQTTAuthConfig   `yaml:"auth"`
	QoS     int              `yaml:"qos"`
	// TopicPrefix is prepended to every topic, default "portunus".
	TopicPrefix string `yaml:"topic_prefix"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
	Output string `yaml:"output"` // stdout | stderr
	// NotifyLevel is the lowest level forwarded to the notification
	// channel: info | error | fatal | off.
	NotifyLevel  string `yaml:"notify_level"`
	NotifyBuffer int    `yaml:"notify_buffer"`
}

type AuditConfig struct {
	RetentionDays      int `yaml:"retention_days"` // 0 = keep forever
	PruneIntervalHours int `yaml:"prune_interval_hours"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Site: SiteConfig{ID: "home", Name: "Home"},
		Env:  "dev",
		Store: StoreConfig{
			Backend: "flatfile",
			Path:    "./data/credentials.txt",
			Admin:   AdminConfig{Identity: "admin", Password: "admin", LastName: "admin"},
		},
		Database: DatabaseConfig{Path: "./data/portunus.db"},
		Gateway: GatewayConfig{
			Addr:               ":5001",
			CertFile:           "./certs/gateway.pem",
			KeyFile:            "./certs/gateway.key",
			IdleTimeoutSeconds: 300,
			MaxLineBytes:       4096,
		},
		Sync: SyncConfig{
			IntervalSeconds: 28800,
			Source:          "local",
			Identity:        "admin",
			Password:        "admin",
		},
		Door: DoorConfig{ID: "door_main", OpenDurationMs: 5000},
		HTTP: HTTPConfig{Addr: "127.0.0.1:10000"},
		GRPC: GRPCConfig{Addr: "127.0.0.1:10001"},
		MQTT: MQTTConfig{
			Broker:      MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "portunus-controller"},
			QoS:         1,
			TopicPrefix: "portunus",
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			Output:       "stdout",
			NotifyLevel:  "info",
			NotifyBuffer: 64,
		},
		Audit: AuditConfig{RetentionDays: 30, PruneIntervalHours: 6},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Env = strings.ToLower(getenvDefault("PORTUNUS_ENV", cfg.Env))
	cfg.Site.ID = getenvDefault("PORTUNUS_SITE_ID", cfg.Site.ID)

	cfg.Store.Backend = getenvDefault("PORTUNUS_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Path = getenvDefault("PORTUNUS_STORE_PATH", cfg.Store.Path)
	cfg.Store.Admin.Password = getenvDefault("PORTUNUS_ADMIN_PASSWORD", cfg.Store.Admin.Password)
	cfg.Database.Path = getenvDefault("PORTUNUS_DB_PATH", cfg.Database.Path)

	cfg.Gateway.Addr = getenvDefault("PORTUNUS_GATEWAY_ADDR", cfg.Gateway.Addr)
	cfg.Gateway.CertFile = getenvDefault("PORTUNUS_GATEWAY_CERT", cfg.Gateway.CertFile)
	cfg.Gateway.KeyFile = getenvDefault("PORTUNUS_GATEWAY_KEY", cfg.Gateway.KeyFile)
	cfg.Gateway.IdleTimeoutSeconds = getenvInt("PORTUNUS_GATEWAY_IDLE_TIMEOUT", cfg.Gateway.IdleTimeoutSeconds)

	cfg.Sync.IntervalSeconds = getenvInt("PORTUNUS_SYNC_INTERVAL", cfg.Sync.IntervalSeconds)
	cfg.Sync.Source = getenvDefault("PORTUNUS_SYNC_SOURCE", cfg.Sync.Source)
	cfg.Sync.RemoteAddr = getenvDefault("PORTUNUS_SYNC_REMOTE_ADDR", cfg.Sync.RemoteAddr)
	cfg.Sync.Password = getenvDefault("PORTUNUS_SYNC_PASSWORD", cfg.Sync.Password)

	cfg.Door.ID = getenvDefault("PORTUNUS_DOOR_ID", cfg.Door.ID)
	cfg.HTTP.Addr = getenvDefault("PORTUNUS_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.GRPC.Addr = getenvDefault("PORTUNUS_GRPC_ADDR", cfg.GRPC.Addr)

	if v := getenvBool("PORTUNUS_MQTT_ENABLED"); v != nil {
		cfg.MQTT.Enabled = *v
	}
	cfg.MQTT.Broker.Host = getenvDefault("PORTUNUS_MQTT_HOST", cfg.MQTT.Broker.Host)
	cfg.MQTT.Auth.Username = getenvDefault("PORTUNUS_MQTT_USERNAME", cfg.MQTT.Auth.Username)
	cfg.MQTT.Auth.Password = getenvDefault("PORTUNUS_MQTT_PASSWORD", cfg.MQTT.Auth.Password)

	cfg.Logging.Level = getenvDefault("PORTUNUS_LOG_LEVEL", cfg.Logging.Level)

	cfg.Audit.RetentionDays = getenvInt("PORTUNUS_AUDIT_RETENTION_DAYS", cfg.Audit.RetentionDays)
	cfg.Audit.PruneIntervalHours = getenvInt("PORTUNUS_PRUNE_INTERVAL_HOURS", cfg.Audit.PruneIntervalHours)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Env != "dev" && c.Env != "prod" {
		errs = append(errs, "env must be dev or prod")
	}
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Door.ID == "" {
		errs = append(errs, "door.id is required")
	}

	switch c.Store.Backend {
	case "flatfile":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the flatfile backend")
		}
	case "sqlite":
	default:
		errs = append(errs, "store.backend must be flatfile or sqlite")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Gateway.Addr != "" && (c.Gateway.CertFile == "" || c.Gateway.KeyFile == "") {
		errs = append(errs, "gateway.cert_file and gateway.key_file are required")
	}
	if c.Gateway.MaxLineBytes < 64 {
		errs = append(errs, "gateway.max_line_bytes must be at least 64")
	}

	switch c.Sync.Source {
	case "local":
	case "remote":
		if c.Sync.RemoteAddr == "" {
			errs = append(errs, "sync.remote_addr is required when sync.source is remote")
		}
	default:
		errs = append(errs, "sync.source must be local or remote")
	}
	if c.Sync.Identity == "" || c.Sync.Password == "" {
		errs = append(errs, "sync.identity and sync.password are required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && (c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535) {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	switch strings.ToLower(c.Logging.NotifyLevel) {
	case "info", "error", "fatal", "off":
	default:
		errs = append(errs, "logging.notify_level must be info, error, fatal or off")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IdleTimeout is how long a gateway connection may stay silent.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Gateway.IdleTimeoutSeconds) * time.Second
}

// SyncInterval returns the periodic refresh interval; 0 in the file
// disables the timer.
func (c *Config) SyncInterval() time.Duration {
	if c.Sync.IntervalSeconds == 0 {
		return -1
	}
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

func (c *Config) OpenDuration() time.Duration {
	return time.Duration(c.Door.OpenDurationMs) * time.Millisecond
}
