package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr              string        `yaml:"addr"`
	DataDir           string        `yaml:"data_dir"`
	DBPath            string        `yaml:"db_path"`
	DockerSocket      string        `yaml:"docker_socket"`
	DiskPath          string        `yaml:"disk_path"`
	CycleInterval     time.Duration `yaml:"cycle_interval"`
	RetentionWindow   time.Duration `yaml:"retention_window"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ViewerTimeout     time.Duration `yaml:"viewer_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	SampleConcurrency int           `yaml:"sample_concurrency"`
	LogLevel          string        `yaml:"log_level"`
	TelegramBotToken  string        `yaml:"telegram_bot_token"`
	TelegramChatID    string        `yaml:"telegram_chat_id"`
	NotifyCooldown    time.Duration `yaml:"notify_cooldown"`
	ValkeyAddr        string        `yaml:"valkey_addr"`
	ValkeyPassword    string        `yaml:"valkey_password"`
}

func Default() Config {
	return Config{
		Addr:              ":8080",
		DataDir:           "./data",
		DockerSocket:      "/var/run/docker.sock",
		DiskPath:          "/",
		CycleInterval:     3 * time.Second,
		RetentionWindow:   24 * time.Hour,
		WriteTimeout:      5 * time.Second,
		ViewerTimeout:     3 * time.Second,
		IdleTimeout:       60 * time.Second,
		SampleConcurrency: 8,
		LogLevel:          "info",
		NotifyCooldown:    10 * time.Minute,
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty or missing), then APP_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("APP_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}
	cfg.applyEnv()
	if cfg.DBPath == "" {
		cfg.DBPath = cfg.DataDir + "/dockpulse.db"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getenv("APP_ADDR", c.Addr)
	c.DataDir = getenv("APP_DATA_DIR", c.DataDir)
	c.DBPath = getenv("APP_DB_PATH", c.DBPath)
	c.DockerSocket = getenv("DOCKER_SOCKET", c.DockerSocket)
	c.DiskPath = getenv("APP_DISK_PATH", c.DiskPath)
	c.CycleInterval = getenvDuration("APP_CYCLE_INTERVAL", c.CycleInterval)
	c.RetentionWindow = getenvDuration("APP_RETENTION_WINDOW", c.RetentionWindow)
	c.WriteTimeout = getenvDuration("APP_WRITE_TIMEOUT", c.WriteTimeout)
	c.ViewerTimeout = getenvDuration("APP_VIEWER_TIMEOUT", c.ViewerTimeout)
	c.IdleTimeout = getenvDuration("APP_IDLE_TIMEOUT", c.IdleTimeout)
	c.SampleConcurrency = getenvInt("APP_SAMPLE_CONCURRENCY", c.SampleConcurrency)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.TelegramBotToken = getenv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramChatID = getenv("TELEGRAM_CHAT_ID", c.TelegramChatID)
	c.NotifyCooldown = getenvDuration("APP_NOTIFY_COOLDOWN", c.NotifyCooldown)
	c.ValkeyAddr = getenv("VALKEY_ADDR", c.ValkeyAddr)
	c.ValkeyPassword = getenv("VALKEY_PASSWORD", c.ValkeyPassword)
}

func (c Config) Validate() error {
	durations := map[string]time.Duration{
		"cycle_interval":   c.CycleInterval,
		"retention_window": c.RetentionWindow,
		"write_timeout":    c.WriteTimeout,
		"viewer_timeout":   c.ViewerTimeout,
		"idle_timeout":     c.IdleTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	if c.SampleConcurrency <= 0 {
		return fmt.Errorf("config: sample_concurrency must be positive, got %d", c.SampleConcurrency)
	}
	return nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}
