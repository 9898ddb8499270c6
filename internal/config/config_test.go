package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	t.Run("full config with env resolution", func(t *testing.T) {
		t.Setenv("TEST_SESSDATA", "sess-value")
		t.Setenv("TEST_APP_ID", "cli_123")
		t.Setenv("TEST_APP_SECRET", "secret-value")
		t.Setenv("TEST_BDUSS", "bduss-value")

		dir := writeConfig(t, `
feeds:
  bilibili:
    uids: [208259, 672328094]
    cookies:
      sessdata_env: TEST_SESSDATA
  rss:
    feeds: ["https://blog.example.com/feed.xml"]
check_interval: 30s
destination:
  app_id_env: TEST_APP_ID
  app_secret_env: TEST_APP_SECRET
  folder_token: fldcn123
origin:
  current_account: main
  accounts:
    main:
      bduss_env: TEST_BDUSS
`)
		cfg, err := Load(dir)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}

		if len(cfg.Feeds.Bilibili.UIDs) != 2 {
			t.Errorf("uids = %v", cfg.Feeds.Bilibili.UIDs)
		}
		if cfg.Feeds.Bilibili.Cookies.Sessdata != "sess-value" {
			t.Errorf("sessdata = %q", cfg.Feeds.Bilibili.Cookies.Sessdata)
		}
		if cfg.CheckInterval.Duration != 30*time.Second {
			t.Errorf("check_interval = %s", cfg.CheckInterval.Duration)
		}
		if cfg.Destination.AppID != "cli_123" || cfg.Destination.AppSecret != "secret-value" {
			t.Errorf("destination = %+v", cfg.Destination)
		}
		if cfg.Origin.Accounts["main"].Bduss != "bduss-value" {
			t.Errorf("account = %+v", cfg.Origin.Accounts["main"])
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		dir := writeConfig(t, `
feeds:
  bilibili:
    uids: [1]
`)
		cfg, err := Load(dir)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.CheckInterval.Duration != DefaultCheckInterval {
			t.Errorf("check_interval = %s", cfg.CheckInterval.Duration)
		}
		if cfg.ArtifactDir != DefaultArtifactDir {
			t.Errorf("artifact_dir = %q", cfg.ArtifactDir)
		}
		if cfg.Relay.Listen != DefaultListenAddr {
			t.Errorf("listen = %q", cfg.Relay.Listen)
		}
		if cfg.Relay.DownloadDir != DefaultDownloadDir {
			t.Errorf("download_dir = %q", cfg.Relay.DownloadDir)
		}
		if cfg.Storage.Path != DefaultStoragePath {
			t.Errorf("storage path = %q", cfg.Storage.Path)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(t.TempDir()); err == nil {
			t.Fatal("expected error for missing config.yaml")
		}
	})

	t.Run("empty dir argument", func(t *testing.T) {
		if _, err := Load(""); err == nil {
			t.Fatal("expected error for empty dir")
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		dir := writeConfig(t, "check_interval: soon\n")
		if _, err := Load(dir); err == nil {
			t.Fatal("expected error for unparseable duration")
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		dir := writeConfig(t, "artifact_dir: out\n")
		if _, err := Load(dir); err == nil {
			t.Fatal("expected error when nothing is configured")
		}
	})

	t.Run("interval below minimum", func(t *testing.T) {
		dir := writeConfig(t, `
feeds:
  bilibili:
    uids: [1]
check_interval: 100ms
`)
		if _, err := Load(dir); err == nil {
			t.Fatal("expected error for sub-second interval")
		}
	})

	t.Run("unknown current account", func(t *testing.T) {
		dir := writeConfig(t, `
origin:
  current_account: ghost
  accounts:
    main:
      bduss_env: X
`)
		if _, err := Load(dir); err == nil {
			t.Fatal("expected error for unknown current_account")
		}
	})
}
