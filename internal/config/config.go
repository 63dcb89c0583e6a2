// Package config loads bugbox settings from a YAML file, a .env file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported trackers.
const (
	TrackerRedmine = "redmine"
	TrackerTrello  = "trello"
)

type Config struct {
	Tracker string        `yaml:"tracker"` // redmine, trello
	Site    string        `yaml:"site"`    // page URL the widget reports from
	Redmine RedmineConfig `yaml:"redmine"`
	Trello  TrelloConfig  `yaml:"trello"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

type RedmineConfig struct {
	BaseURL string `yaml:"base_url"`
}

type TrelloConfig struct {
	BaseURL      string        `yaml:"base_url"`
	AuthorizeURL string        `yaml:"authorize_url"`
	Key          string        `yaml:"key"`
	AuthTimeout  time.Duration `yaml:"auth_timeout"`
	ScreenWidth  int           `yaml:"screen_width"`
	ScreenHeight int           `yaml:"screen_height"`
}

type StorageConfig struct {
	Dir string `yaml:"dir"` // defaults to <user config dir>/bugbox
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // defaults to <storage dir>/bugbox.log
}

// Load reads configPath (if it exists) over DefaultConfig and applies
// environment overrides. Variables from a .env file in the working directory
// are loaded first and never override the real environment.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if configPath == "" {
		configPath = defaultPath()
	}
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	cfg.overrideFromEnv()
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Tracker: TrackerRedmine,
		Trello: TrelloConfig{
			BaseURL:      "https://api.trello.com/1",
			AuthorizeURL: "https://trello.com/1/authorize",
			AuthTimeout:  5 * time.Minute,
			ScreenWidth:  1920,
			ScreenHeight: 1080,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) overrideFromEnv() {
	if v := os.Getenv("BUGBOX_TRACKER"); v != "" {
		c.Tracker = v
	}
	if v := os.Getenv("BUGBOX_SITE"); v != "" {
		c.Site = v
	}
	if v := os.Getenv("REDMINE_API_URL"); v != "" {
		c.Redmine.BaseURL = v
	}
	if v := os.Getenv("TRELLO_API_URL"); v != "" {
		c.Trello.BaseURL = v
	}
	if v := os.Getenv("TRELLO_AUTHORIZE_URL"); v != "" {
		c.Trello.AuthorizeURL = v
	}
	if v := os.Getenv("TRELLO_KEY"); v != "" {
		c.Trello.Key = v
	}
	if v := os.Getenv("TRELLO_AUTH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Trello.AuthTimeout = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			c.Trello.AuthTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("BUGBOX_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("BUGBOX_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BUGBOX_LOG_FILE"); v != "" {
		c.Log.File = v
	}
}

// Validate checks that the selected tracker is fully configured.
func (c *Config) Validate() error {
	c.Tracker = strings.ToLower(strings.TrimSpace(c.Tracker))

	switch c.Tracker {
	case TrackerRedmine:
		if c.Redmine.BaseURL == "" {
			return errors.New("redmine.base_url is required (or set REDMINE_API_URL)")
		}
	case TrackerTrello:
		if c.Trello.BaseURL == "" {
			return errors.New("trello.base_url is required")
		}
		if c.Trello.AuthorizeURL == "" {
			return errors.New("trello.authorize_url is required")
		}
		if c.Trello.Key == "" {
			return errors.New("trello.key is required (or set TRELLO_KEY)")
		}
	default:
		return fmt.Errorf("unknown tracker %q (want %s or %s)", c.Tracker, TrackerRedmine, TrackerTrello)
	}
	return nil
}

// StorageDir returns the directory holding local token and extension stores.
func (c *Config) StorageDir() string {
	if c.Storage.Dir != "" {
		return c.Storage.Dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "bugbox")
	}
	return ".bugbox"
}

// LocalStorePath is the JSON file backing the local storage tier.
func (c *Config) LocalStorePath() string {
	return filepath.Join(c.StorageDir(), "local.json")
}

// ExtensionStorePath is the SQLite database backing the extension storage tier.
func (c *Config) ExtensionStorePath() string {
	return filepath.Join(c.StorageDir(), "extension.db")
}

// LogFile returns the log destination.
func (c *Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.StorageDir(), "bugbox.log")
}

func defaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "bugbox", "config.yaml")
	}
	return "config.yaml"
}
