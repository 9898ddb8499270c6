package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/relaypan/internal/config"
	"github.com/ppiankov/relaypan/internal/store"
)

var statsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show rendered artifact count and recent transfers",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().IntVar(&statsLimit, "limit", 20, "number of transfers to show")
	rootCmd.AddCommand(statsCmd)
}

func statsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()

	count, err := db.CountArtifacts(ctx)
	if err != nil {
		return fmt.Errorf("count artifacts: %w", err)
	}
	fmt.Printf("Artifacts rendered: %d\n\n", count)

	transfers, err := db.RecentTransfers(ctx, statsLimit)
	if err != nil {
		return fmt.Errorf("recent transfers: %w", err)
	}
	if len(transfers) == 0 {
		fmt.Println("No transfers recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tDIR\tSTATUS\tREFERENCE")
	for _, t := range transfers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.CompletedAt.Format("2006-01-02 15:04"), t.Direction, t.Status, t.Reference)
	}
	return w.Flush()
}
