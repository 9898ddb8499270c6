package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/relaypan/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config file",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
		return nil
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("write example config: %w", err)
	}
	fmt.Printf("Initialized %s. Fill in your credentials via the referenced env vars.\n", configPath)
	return nil
}

const exampleConfig = `# relaypan configuration
feeds:
  bilibili:
    uids: []            # accounts to watch, e.g. [208259]
    cookies:
      sessdata_env: BILI_SESSDATA   # optional; guest mode when unset
      bili_jct_env: BILI_JCT
      buvid3_env: BILI_BUVID3
  rss:
    feeds: []           # optional RSS/Atom feeds

check_interval: 60s
artifact_dir: downloaded_dynamics

relay:
  listen: ":12345"
  download_dir: temp_downloads
  watch_dir: ""         # optional recording directory to watch
  watch_settle: 5s

destination:
  app_id_env: FEISHU_APP_ID
  app_secret_env: FEISHU_APP_SECRET
  folder_token: ""

origin:
  current_account: ""   # defaults to first account in sorted order
  accounts: {}
  # accounts:
  #   main:
  #     bduss_env: BAIDU_BDUSS
  #     stoken_env: BAIDU_STOKEN

storage:
  path: .relaypan/relaypan.db
`
