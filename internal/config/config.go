package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerURL    string `toml:"server_url" yaml:"server_url"`
	User         string `toml:"user" yaml:"user"`
	LogLevel     string `toml:"log_level" yaml:"log_level"`
	EventsURL    string `toml:"events_url" yaml:"events_url"`
	WatchdogMS   int    `toml:"watchdog_ms" yaml:"watchdog_ms"`
	ResetDelayMS int    `toml:"reset_delay_ms" yaml:"reset_delay_ms"`
	HistoryDB    string `toml:"history_db" yaml:"history_db"`
	Color        string `toml:"color" yaml:"color"`
}

func (c Config) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogMS) * time.Millisecond
}

func (c Config) ResetDelay() time.Duration {
	return time.Duration(c.ResetDelayMS) * time.Millisecond
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
	configFile string
)

// UseFile layers the TOML or YAML file at path under the environment for
// every later load. An empty path removes the file layer.
func UseFile(path string) error {
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := readFile(path); err != nil {
			return err
		}
	}
	cacheMu.Lock()
	configFile = path
	cacheValid = false
	cacheMu.Unlock()
	return nil
}

func LoadConfig() Config {
	cfg := load()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := load()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func load() Config {
	cfg := Config{}
	cacheMu.RLock()
	path := configFile
	cacheMu.RUnlock()
	if path == "" {
		path = strings.TrimSpace(os.Getenv("TASKDECK_CONFIG"))
	}
	if path == "" {
		path = defaultConfigFile()
	}
	if path != "" {
		// A file that became unreadable after UseFile leaves only env and defaults.
		if fromFile, err := readFile(path); err == nil {
			cfg = fromFile
		}
	}

	cfg.ServerURL = envOr("TASKDECK_SERVER_URL", cfg.ServerURL)
	cfg.User = envOr("TASKDECK_USER", cfg.User)
	cfg.LogLevel = envOr("TASKDECK_LOG_LEVEL", cfg.LogLevel)
	cfg.EventsURL = envOr("TASKDECK_EVENTS_URL", cfg.EventsURL)
	cfg.HistoryDB = envOr("TASKDECK_HISTORY_DB", cfg.HistoryDB)
	cfg.Color = envOr("TASKDECK_COLOR", cfg.Color)
	if v := os.Getenv("TASKDECK_WATCHDOG_MS"); v != "" {
		cfg.WatchdogMS = atoiOrDefault(v, cfg.WatchdogMS)
	}
	if v := os.Getenv("TASKDECK_RESET_DELAY_MS"); v != "" {
		cfg.ResetDelayMS = atoiOrDefault(v, cfg.ResetDelayMS)
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://127.0.0.1:3000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.WatchdogMS < 1 {
		cfg.WatchdogMS = 1000
	}
	if cfg.ResetDelayMS < 1 {
		cfg.ResetDelayMS = 2000
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = defaultHistoryDB()
	}
	if cfg.Color == "" {
		cfg.Color = "auto"
	}
	return cfg
}

func readFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &cfg)
	case ".toml", "":
		err = toml.Unmarshal(raw, &cfg)
	default:
		return Config{}, fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// DefaultConfigDir returns ~/.config/taskdeck unless TASKDECK_CONFIG_DIR
// overrides it.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("TASKDECK_CONFIG_DIR")); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "taskdeck"), nil
}

func defaultHistoryDB() string {
	dir, err := DefaultConfigDir()
	if err != nil {
		return filepath.Clean("taskdeck-history.db")
	}
	return filepath.Join(dir, "history.db")
}

// defaultConfigFile is config.toml in the config dir, when present.
func defaultConfigFile() string {
	dir, err := DefaultConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func atoiOrDefault(v string, fallback int) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
