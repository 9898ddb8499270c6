package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/relaypan/internal/config"
	"github.com/ppiankov/relaypan/internal/store"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration and reachability of each feed",
	RunE:  checkAction,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func checkAction(cmd *cobra.Command, _ []string) error {
	ok := true

	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("configuration is not usable")
	}
	printCheck(true, "config.yaml (%d bilibili feeds, %d rss feeds, %d origin accounts)",
		len(cfg.Feeds.Bilibili.UIDs), len(cfg.Feeds.RSS.Feeds), len(cfg.Origin.Accounts))

	if cfg.Destination.AppID == "" || cfg.Destination.AppSecret == "" {
		printCheck(false, "destination credentials (set %s and %s)", cfg.Destination.AppIDEnv, cfg.Destination.AppSecretEnv)
		ok = false
	} else {
		printCheck(true, "destination credentials")
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(false, "database: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		printCheck(true, "database %s", cfg.Storage.Path)
	}

	sources, err := buildSources(cfg)
	if err != nil {
		printCheck(false, "sources: %v", err)
		ok = false
	}
	for _, src := range sources {
		items, err := src.Recent(cmd.Context())
		if err != nil {
			printCheck(false, "%s: %v", src.FeedID(), err)
			ok = false
			continue
		}
		printCheck(true, "%s (%d recent items)", src.FeedID(), len(items))
	}

	if cfg.Relay.WatchDir != "" {
		if info, err := os.Stat(cfg.Relay.WatchDir); err != nil || !info.IsDir() {
			printCheck(false, "watch dir %s", cfg.Relay.WatchDir)
			ok = false
		} else {
			printCheck(true, "watch dir %s", cfg.Relay.WatchDir)
		}
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("All checks passed.")
	return nil
}

func printCheck(ok bool, format string, args ...any) {
	mark := "✗"
	if ok {
		mark = "✓"
	}
	fmt.Printf("%s %s\n", mark, fmt.Sprintf(format, args...))
}
