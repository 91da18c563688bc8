package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory and
// then overlaid with environment variables (CHATHUB_*). A .env file in the
// working directory is loaded first if present.
//
// Example (~/.chathub/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8088
// database:
//   driver: sqlite
//   dsn: /home/me/.chathub/chathub.db
// redis:
//   addr: ""
// chat:
//   memory_window: 20
//   title_timeout: 60s
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Security SecurityConfig `yaml:"security"`
	Chat     ChatConfig     `yaml:"chat"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host,omitempty" env:"CHATHUB_HOST"`
	Port int    `yaml:"port,omitempty" env:"CHATHUB_PORT"`
}

type DatabaseConfig struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver string `yaml:"driver" env:"CHATHUB_DB_DRIVER"`
	DSN    string `yaml:"dsn" env:"CHATHUB_DB_DSN"`
}

type RedisConfig struct {
	// Addr empty means chat memory is kept in-process.
	Addr     string `yaml:"addr" env:"CHATHUB_REDIS_ADDR"`
	Password string `yaml:"password" env:"CHATHUB_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"CHATHUB_REDIS_DB"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key" env:"CHATHUB_ENCRYPTION_KEY"`
}

type ChatConfig struct {
	MemoryWindow int           `yaml:"memory_window,omitempty" env:"CHATHUB_MEMORY_WINDOW"`
	TitleTimeout time.Duration `yaml:"title_timeout" env:"CHATHUB_TITLE_TIMEOUT"`
	DefaultUser  string        `yaml:"default_user" env:"CHATHUB_DEFAULT_USER"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"CHATHUB_LOG_LEVEL"`
}

const (
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 8088
	DefaultDriver        = "sqlite"
	DefaultMemoryWindow  = 20
	DefaultTitleTimeout  = 60 * time.Second
	DefaultUser          = "default-user"
	DefaultEncryptionKey = "chathub-local-development-key"
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".chathub")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.chathub/config.yaml and applies the environment overlay.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	// Missing .env is the common case.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, "", fmt.Errorf("read environment overlay: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, "", fmt.Errorf("%w in %s", err, configFile)
	}

	return cfg, configFile, nil
}

func (c *AppConfig) validate() error {
	if port := c.Port(); port < 1 || port > 65535 {
		return fmt.Errorf("invalid server.port %d", port)
	}
	switch c.DatabaseDriver() {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("invalid database.driver %q", c.Database.Driver)
	}
	if c.MemoryWindow() < 1 {
		return fmt.Errorf("invalid chat.memory_window %d", c.MemoryWindow())
	}
	return nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:   ServerConfig{Host: DefaultHost, Port: DefaultPort},
		Database: DatabaseConfig{Driver: DefaultDriver, DSN: filepath.Join(configDir, "chathub.db")},
		Chat:     ChatConfig{MemoryWindow: DefaultMemoryWindow, TitleTimeout: DefaultTitleTimeout},
		Log:      LogConfig{Level: "info"},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == 0 {
		return DefaultPort
	}
	return c.Server.Port
}

func (c *AppConfig) DatabaseDriver() string {
	if c == nil || strings.TrimSpace(c.Database.Driver) == "" {
		return DefaultDriver
	}
	return strings.ToLower(strings.TrimSpace(c.Database.Driver))
}

// DatabaseDSN falls back to a sqlite file next to the config file.
func (c *AppConfig) DatabaseDSN() string {
	if c != nil && strings.TrimSpace(c.Database.DSN) != "" {
		return c.Database.DSN
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "chathub.db"
	}
	return filepath.Join(configDir, "chathub.db")
}

func (c *AppConfig) MemoryWindow() int {
	if c == nil || c.Chat.MemoryWindow == 0 {
		return DefaultMemoryWindow
	}
	return c.Chat.MemoryWindow
}

func (c *AppConfig) TitleTimeout() time.Duration {
	if c == nil || c.Chat.TitleTimeout <= 0 {
		return DefaultTitleTimeout
	}
	return c.Chat.TitleTimeout
}

func (c *AppConfig) DefaultUser() string {
	if c == nil || strings.TrimSpace(c.Chat.DefaultUser) == "" {
		return DefaultUser
	}
	return c.Chat.DefaultUser
}

func (c *AppConfig) EncryptionKey() string {
	if c == nil || c.Security.EncryptionKey == "" {
		return DefaultEncryptionKey
	}
	return c.Security.EncryptionKey
}
