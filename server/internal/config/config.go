package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/go-containerregistry/pkg/name"

	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// Config holds all configuration for the server
type Config struct {
	// Server settings
	Port        int
	CORSOrigins []string

	// Docker/Container settings
	DockerHost     string
	DockerNetwork  string
	PublishHost    string // when set, endpoints are addressed via published ports on this host
	FleetNameMatch string
	ShellImage     string
	FTPImage       string
	WebImage       string
	StopTimeout    time.Duration

	// Default credentials for container-backed endpoints
	ShellUser     string
	ShellPassword string
	FTPUser       string
	FTPPassword   string

	// Remote protocols
	ConnectTimeout time.Duration
	LocalStoreDir  string

	// Custom endpoint persistence. An empty DSN selects the YAML file store.
	CustomServersFile string
	DatabaseDSN       string
	DatabaseDriver    string // "postgres" or "sqlite", auto-detected from DSN

	// External services
	TelegramBotToken string
	NgrokAuthToken   string
	LocalWebURL      string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string // empty logs to stdout

	// Telemetry
	OTelTraces      bool
	OTelMetrics     bool
	OTelServiceName string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	// Server
	cfg.Port = getEnvInt("PORT", 3000)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"})

	// Container engine
	cfg.DockerHost = getEnv("DOCKER_HOST", "")
	cfg.DockerNetwork = getEnv("DOCKER_NETWORK", "")
	cfg.PublishHost = getEnv("PUBLISH_HOST", "")
	cfg.FleetNameMatch = getEnv("FLEET_NAME_MATCH", "target")
	cfg.ShellImage = getEnv("SHELL_IMAGE", "servermanager-ssh-target")
	cfg.FTPImage = getEnv("FTP_IMAGE", "servermanager-ftp-target")
	cfg.WebImage = getEnv("WEB_IMAGE", "servermanager-web-target")
	cfg.StopTimeout = getEnvDuration("STOP_TIMEOUT", 10*time.Second)

	cfg.ShellUser = getEnv("SHELL_USER", "root")
	cfg.ShellPassword = getEnv("SHELL_PASSWORD", "password")
	cfg.FTPUser = getEnv("FTP_USER", "ftpuser")
	cfg.FTPPassword = getEnv("FTP_PASSWORD", "ftp123")

	// Remote protocols
	cfg.ConnectTimeout = getEnvDuration("CONNECT_TIMEOUT", 5*time.Second)
	cfg.LocalStoreDir = getEnv("LOCAL_STORE_DIR", filepath.Join(os.TempDir(), "fleetdeck"))

	// Persistence
	cfg.CustomServersFile = getEnv("CUSTOM_SERVERS_FILE", filepath.Join(xdg.ConfigHome, "fleetdeck", "servers.yaml"))
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", "")
	if cfg.DatabaseDSN != "" {
		cfg.DatabaseDriver = detectDriver(cfg.DatabaseDSN)
	}

	// External services
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.NgrokAuthToken = getEnv("NGROK_AUTHTOKEN", "")
	cfg.LocalWebURL = getEnv("LOCAL_WEB_URL", "http://localhost:8080")

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "text")
	cfg.LogFile = getEnv("LOG_FILE", "")

	cfg.OTelTraces = getEnvBool("OTEL_TRACES", false)
	cfg.OTelMetrics = getEnvBool("OTEL_METRICS", false)
	cfg.OTelServiceName = getEnv("OTEL_SERVICE_NAME", "fleetdeck")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}

	for _, kind := range []model.Kind{model.KindShell, model.KindFTP, model.KindWeb} {
		image := c.ImageFor(kind)
		if _, err := name.ParseReference(image); err != nil {
			return fmt.Errorf("invalid %s image %q: %w", kind, image, err)
		}
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT must be positive")
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("STOP_TIMEOUT must be positive")
	}
	if c.FleetNameMatch == "" {
		return fmt.Errorf("FLEET_NAME_MATCH must not be empty")
	}
	return nil
}

// ImageFor returns the base image for a container kind, or "" if unknown.
func (c *Config) ImageFor(kind model.Kind) string {
	switch kind {
	case model.KindShell:
		return c.ShellImage
	case model.KindFTP:
		return c.FTPImage
	case model.KindWeb:
		return c.WebImage
	}
	return ""
}

// ControlCredentials returns the shell credentials used for container-backed endpoints.
func (c *Config) ControlCredentials() (user, password string) {
	return c.ShellUser, c.ShellPassword
}

// ServiceCredentials returns the credentials for the primary protocol of a
// container-backed endpoint of the given kind.
func (c *Config) ServiceCredentials(kind model.Kind) (user, password string) {
	if kind == model.KindFTP {
		return c.FTPUser, c.FTPPassword
	}
	return c.ShellUser, c.ShellPassword
}

// detectDriver determines the database driver from DSN
func detectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "sqlite3://") || strings.HasPrefix(dsn, "sqlite://") {
		return "sqlite"
	}
	// Default to sqlite for file paths
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") || dsn == ":memory:" {
		return "sqlite"
	}
	return "postgres"
}

// CleanDSN removes the driver prefix from DSN for database/sql
func (c *Config) CleanDSN() string {
	dsn := c.DatabaseDSN
	dsn = strings.TrimPrefix(dsn, "postgres://")
	dsn = strings.TrimPrefix(dsn, "postgresql://")
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	if c.DatabaseDriver == "postgres" {
		return "postgres://" + dsn
	}
	return dsn
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
