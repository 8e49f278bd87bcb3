package config

import (
	"encoding/base64"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zaqqye/relay/internal/log"
)

// DefaultSecret signs tokens when no secret is configured. It exists so a
// broker and its services can talk out of the box; production deployments
// must set their own.
const DefaultSecret = "changethissecret"

// Database holds the Postgres connection parts. An empty Host selects the
// in-memory store instead.
type Database struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// SeedUser describes a user created at startup if absent.
type SeedUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	FullName string `yaml:"full_name"`
	Role     string `yaml:"role"`
}

type Config struct {
	Listen  string   `yaml:"listen"`  // broker HTTP/websocket listen address
	Connect []string `yaml:"connect"` // broker endpoints clients dial
	Secret  string   `yaml:"secret"`  // base64-encoded shared secret

	LogLevel string `yaml:"log_level"`

	TokenTTLHours         int `yaml:"token_ttl_hours"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	Database Database   `yaml:"database"`
	Admin    SeedUser   `yaml:"admin"`
	Users    []SeedUser `yaml:"users"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:                "127.0.0.1:3333",
		Connect:               []string{"ws://127.0.0.1:3333/ws"},
		LogLevel:              "info",
		TokenTTLHours:         24,
		RequestTimeoutSeconds: 30,
		Database: Database{
			Port:    "5432",
			User:    "postgres",
			Name:    "relay",
			SSLMode: "disable",
		},
		Admin: SeedUser{
			Username: "admin",
			Password: "admin123",
			FullName: "Administrator",
			Role:     "admin",
		},
	}
}

// Load reads configuration with priority: defaults < YAML file < environment.
// A missing file is not an error; flag overrides are applied by the caller.
func Load(path string) *Config {
	logger := log.WithComponent("config")
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("path", path).Msg("config file not read, using defaults")
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("config file not parsed, using defaults")
			} else {
				logger.Debug().Str("path", path).Msg("loaded config file")
			}
		}
	}

	cfg.applyEnv()

	if cfg.Secret == "" {
		logger.Warn().Msg("no shared secret configured, using the built-in development secret")
	}
	return cfg
}

func (c *Config) applyEnv() {
	setenv(&c.Listen, "RELAY_LISTEN")
	if v := os.Getenv("RELAY_CONNECT"); v != "" {
		c.Connect = splitList(v)
	}
	setenv(&c.Secret, "RELAY_SECRET")
	setenv(&c.LogLevel, "RELAY_LOG_LEVEL")
	setint(&c.TokenTTLHours, "RELAY_TOKEN_TTL_HOURS")
	setint(&c.RequestTimeoutSeconds, "RELAY_REQUEST_TIMEOUT_SECONDS")

	setenv(&c.Database.Host, "RELAY_DB_HOST")
	setenv(&c.Database.Port, "RELAY_DB_PORT")
	setenv(&c.Database.User, "RELAY_DB_USER")
	setenv(&c.Database.Password, "RELAY_DB_PASSWORD")
	setenv(&c.Database.Name, "RELAY_DB_NAME")
	setenv(&c.Database.SSLMode, "RELAY_DB_SSLMODE")

	setenv(&c.Admin.Username, "RELAY_ADMIN_USERNAME")
	setenv(&c.Admin.Password, "RELAY_ADMIN_PASSWORD")
	setenv(&c.Admin.FullName, "RELAY_ADMIN_FULL_NAME")
}

// SecretBytes returns the decoded shared secret. The configured value is
// base64; a value that does not decode is used literally.
func (c *Config) SecretBytes() []byte {
	if c.Secret == "" {
		return []byte(DefaultSecret)
	}
	if decoded, err := base64.StdEncoding.DecodeString(c.Secret); err == nil {
		return decoded
	}
	return []byte(c.Secret)
}

// HasDatabase reports whether a Postgres store is configured.
func (c *Config) HasDatabase() bool {
	return c.Database.Host != ""
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func setenv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setint(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
