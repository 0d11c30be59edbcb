package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the signaling/relay server configuration.
type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	LogLevel       slog.Level
	Redis          RedisConfig
}

// RedisConfig locates the presence store. An empty Host selects the
// in-memory store.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Load reads the server configuration from the environment.
func Load() *Config {
	// Parse allowed origins (comma-separated)
	origins := splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	return &Config{
		Port:           getEnv("PORT", "8000"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		LogLevel:       parseLevel(getEnv("LOG_LEVEL", "info")),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
	}
}

// ClientConfig configures the terminal chat client.
type ClientConfig struct {
	Server      string        `yaml:"server"`
	Identity    string        `yaml:"identity"`
	Mode        string        `yaml:"mode"`
	Room        string        `yaml:"room"`
	ICEServers  []string      `yaml:"ice_servers"`
	GraceWindow time.Duration `yaml:"grace_window"`
	LogLevel    string        `yaml:"log_level"`
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Server:      "ws://localhost:8000",
		Mode:        "relay",
		ICEServers:  []string{"stun:stun.l.google.com:19302"},
		GraceWindow: time.Second,
		LogLevel:    "warn",
	}
}

// LoadClient builds the client configuration from defaults, the optional
// YAML file at path, and then the environment.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	cfg.Server = getEnv("DCOM_SERVER", cfg.Server)
	if servers := os.Getenv("DCOM_ICE_SERVERS"); servers != "" {
		cfg.ICEServers = splitList(servers)
	}
	if grace := os.Getenv("DCOM_GRACE_WINDOW"); grace != "" {
		d, err := time.ParseDuration(grace)
		if err != nil {
			return cfg, fmt.Errorf("config: DCOM_GRACE_WINDOW: %w", err)
		}
		cfg.GraceWindow = d
	}
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if cfg.GraceWindow <= 0 {
		return cfg, fmt.Errorf("config: grace window must be positive, got %s", cfg.GraceWindow)
	}
	return cfg, nil
}

// ParseLevel maps a level name onto slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	return parseLevel(name)
}

func parseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
