// Package config loads the single config.yaml the rest of the process
// consumes. Secrets are referenced by env var name and resolved at
// load time, never stored in the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile    = "config.yaml"
	DefaultStoragePath   = ".relaypan/relaypan.db"
	DefaultArtifactDir   = "downloaded_dynamics"
	DefaultDownloadDir   = "temp_downloads"
	DefaultListenAddr    = ":12345"
	DefaultCheckInterval = 60 * time.Second
	DefaultWatchSettle   = 5 * time.Second
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "60s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Feeds         FeedsConfig       `yaml:"feeds"`
	CheckInterval Duration          `yaml:"check_interval"`
	ArtifactDir   string            `yaml:"artifact_dir"`
	Relay         RelayConfig       `yaml:"relay"`
	Destination   DestinationConfig `yaml:"destination"`
	Origin        OriginConfig      `yaml:"origin"`
	Storage       StorageConfig     `yaml:"storage"`
}

type FeedsConfig struct {
	Bilibili BilibiliConfig `yaml:"bilibili"`
	RSS      RSSConfig      `yaml:"rss"`
}

type BilibiliConfig struct {
	UIDs    []int64       `yaml:"uids"`
	Cookies CookiesConfig `yaml:"cookies"`
}

type CookiesConfig struct {
	SessdataEnv string `yaml:"sessdata_env"`
	BiliJctEnv  string `yaml:"bili_jct_env"`
	Buvid3Env   string `yaml:"buvid3_env"`

	// Resolved from env vars at load time.
	Sessdata string `yaml:"-"`
	BiliJct  string `yaml:"-"`
	Buvid3   string `yaml:"-"`
}

type RSSConfig struct {
	Feeds []string `yaml:"feeds"`
}

type RelayConfig struct {
	Listen      string   `yaml:"listen"`
	DownloadDir string   `yaml:"download_dir"`
	WatchDir    string   `yaml:"watch_dir"`
	WatchSettle Duration `yaml:"watch_settle"`
}

type DestinationConfig struct {
	AppIDEnv     string `yaml:"app_id_env"`
	AppSecretEnv string `yaml:"app_secret_env"`
	FolderToken  string `yaml:"folder_token"`

	// Resolved from env vars at load time.
	AppID     string `yaml:"-"`
	AppSecret string `yaml:"-"`
}

type OriginConfig struct {
	// CurrentAccount designates the account used for downloads. When
	// unset, the first account in sorted-key order is used; that
	// fallback is a stated policy, not map-iteration order.
	CurrentAccount string                   `yaml:"current_account"`
	Accounts       map[string]AccountConfig `yaml:"accounts"`
}

type AccountConfig struct {
	BdussEnv  string `yaml:"bduss_env"`
	StokenEnv string `yaml:"stoken_env"`

	// Resolved from env vars at load time.
	Bduss  string `yaml:"-"`
	Stoken string `yaml:"-"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads config.yaml from dir, applies defaults, resolves env
// vars, and validates.
func Load(dir string) (*Config, error) {
	if dir == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.CheckInterval.Duration == 0 {
		cfg.CheckInterval.Duration = DefaultCheckInterval
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = DefaultArtifactDir
	}
	if cfg.Relay.Listen == "" {
		cfg.Relay.Listen = DefaultListenAddr
	}
	if cfg.Relay.DownloadDir == "" {
		cfg.Relay.DownloadDir = DefaultDownloadDir
	}
	if cfg.Relay.WatchSettle.Duration == 0 {
		cfg.Relay.WatchSettle.Duration = DefaultWatchSettle
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
}

func resolveEnv(cfg *Config) {
	cookies := &cfg.Feeds.Bilibili.Cookies
	if cookies.SessdataEnv != "" {
		cookies.Sessdata = os.Getenv(cookies.SessdataEnv)
	}
	if cookies.BiliJctEnv != "" {
		cookies.BiliJct = os.Getenv(cookies.BiliJctEnv)
	}
	if cookies.Buvid3Env != "" {
		cookies.Buvid3 = os.Getenv(cookies.Buvid3Env)
	}

	if cfg.Destination.AppIDEnv != "" {
		cfg.Destination.AppID = os.Getenv(cfg.Destination.AppIDEnv)
	}
	if cfg.Destination.AppSecretEnv != "" {
		cfg.Destination.AppSecret = os.Getenv(cfg.Destination.AppSecretEnv)
	}

	for name, acct := range cfg.Origin.Accounts {
		if acct.BdussEnv != "" {
			acct.Bduss = os.Getenv(acct.BdussEnv)
		}
		if acct.StokenEnv != "" {
			acct.Stoken = os.Getenv(acct.StokenEnv)
		}
		cfg.Origin.Accounts[name] = acct
	}
}

func validate(cfg *Config) error {
	if cfg.CheckInterval.Duration < time.Second {
		return fmt.Errorf("check_interval: %s is below the 1s minimum", cfg.CheckInterval.Duration)
	}

	hasFeeds := len(cfg.Feeds.Bilibili.UIDs) > 0 || len(cfg.Feeds.RSS.Feeds) > 0
	hasRelay := len(cfg.Origin.Accounts) > 0 || cfg.Relay.WatchDir != "" || cfg.Destination.FolderToken != ""
	if !hasFeeds && !hasRelay {
		return errors.New("nothing to relay: configure at least one feed, origin account, or destination")
	}

	if cfg.Origin.CurrentAccount != "" {
		if _, ok := cfg.Origin.Accounts[cfg.Origin.CurrentAccount]; !ok {
			return fmt.Errorf("origin.current_account: unknown account %q", cfg.Origin.CurrentAccount)
		}
	}

	return nil
}
