// Package config loads the daemon configuration: a YAML file for
// tunables plus environment variables (optionally from a .env file)
// for credentials and API secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Logging  Logging  `yaml:"logging"`
	Storage  Storage  `yaml:"storage"`
	Engine   Engine   `yaml:"engine"`
	Dispatch Dispatch `yaml:"dispatch"`
	Drive    Drive    `yaml:"drive"`

	// Workspace is the local directory project assets are downloaded
	// into before validation and upload.
	Workspace string `yaml:"workspace"`

	// Secrets, populated from the environment only.
	Google    Google    `yaml:"-"`
	TikTok    TikTok    `yaml:"-"`
	Instagram Instagram `yaml:"-"`
}

type Logging struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	File    string `yaml:"file"`
}

type Storage struct {
	Path string `yaml:"path"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `yaml:"busy_timeout"`
}

type Engine struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// DefaultTimeout is a Go duration string. "0s" disables it.
	DefaultTimeout string `yaml:"default_timeout"`
	RetryMax       int    `yaml:"retry_max"`
	HistorySize    int    `yaml:"history_size"`
}

type Dispatch struct {
	// Schedules are cron expressions or daily "HH:MM" times that
	// trigger a bulk dispatch run.
	Schedules []string `yaml:"schedules"`
}

type Drive struct {
	// ProjectsPath is the remote path holding project folders.
	ProjectsPath string `yaml:"projects_path"`
}

type Google struct {
	ClientID     string
	ClientSecret string
}

type TikTok struct {
	AccessToken string
}

type Instagram struct {
	AccessToken string
	UserID      string
}

// Load reads the YAML file at path (missing file means defaults) and
// overlays secrets from the environment. A .env file next to the
// working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults are a valid configuration.
		default:
			return nil, err
		}
	}

	cfg.Google.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.TikTok.AccessToken = os.Getenv("TIKTOK_ACCESS_TOKEN")
	cfg.Instagram.AccessToken = os.Getenv("INSTAGRAM_ACCESS_TOKEN")
	cfg.Instagram.UserID = os.Getenv("INSTAGRAM_USER_ID")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Logging:   Logging{Level: "info", Console: true},
		Storage:   Storage{Path: "./castline.db", BusyTimeout: "5s"},
		Engine:    Engine{Workers: 2, QueueSize: 256, HistorySize: 200},
		Dispatch:  Dispatch{Schedules: []string{"09:00"}},
		Drive:     Drive{ProjectsPath: "projects"},
		Workspace: "./workspace",
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := c.StorageBusyTimeout(); err != nil {
		return err
	}
	if _, err := c.EngineDefaultTimeout(); err != nil {
		return err
	}
	return nil
}

func (c *Config) StorageBusyTimeout() (time.Duration, error) {
	return parseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
}

func (c *Config) EngineDefaultTimeout() (time.Duration, error) {
	return parseDurationField("engine.default_timeout", c.Engine.DefaultTimeout)
}

func parseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
