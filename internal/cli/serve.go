package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/relaypan/internal/config"
	"github.com/ppiankov/relaypan/internal/dispatch"
	"github.com/ppiankov/relaypan/internal/feed"
	"github.com/ppiankov/relaypan/internal/feishu"
	"github.com/ppiankov/relaypan/internal/monitor"
	"github.com/ppiankov/relaypan/internal/origin"
	"github.com/ppiankov/relaypan/internal/relay"
	"github.com/ppiankov/relaypan/internal/render"
	"github.com/ppiankov/relaypan/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the feed monitor and relay server",
	RunE:  serveAction,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveAction(cmd *cobra.Command, _ []string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	var uploader *feishu.Client
	if cfg.Destination.AppID != "" && cfg.Destination.AppSecret != "" {
		uploader, err = feishu.New(cfg.Destination.AppID, cfg.Destination.AppSecret, log.With().Str("component", "feishu").Logger())
		if err != nil {
			return fmt.Errorf("create destination client: %w", err)
		}
	} else {
		log.Warn().Msg("destination credentials not set, uploads disabled")
	}

	resolver := origin.New(
		originAccounts(cfg),
		cfg.Origin.CurrentAccount,
		cfg.Relay.DownloadDir,
		log.With().Str("component", "origin").Logger(),
	)

	renderer := render.New(cfg.ArtifactDir, log.With().Str("component", "render").Logger())

	var dispatchUploader dispatch.Uploader
	var relayUploader relay.Uploader
	if uploader != nil {
		dispatchUploader = uploader
		relayUploader = uploader
	}

	dispatcher := dispatch.New(renderer, dispatchUploader, cfg.Destination.FolderToken, db,
		log.With().Str("component", "dispatch").Logger())

	mon := monitor.New(dispatcher, cfg.CheckInterval.Duration, log.With().Str("component", "monitor").Logger())
	sources, err := buildSources(cfg)
	if err != nil {
		return err
	}
	for _, src := range sources {
		mon.Register(src)
	}

	server := relay.NewServer(resolver, relayUploader, cfg.Destination.FolderToken, db,
		log.With().Str("component", "relay").Logger())
	httpServer := &http.Server{
		Addr:              cfg.Relay.Listen,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Relay.Listen).Msg("relay server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if len(sources) > 0 {
		g.Go(func() error {
			mon.Start()
			<-ctx.Done()
			mon.Stop()
			return nil
		})
	}

	if cfg.Relay.WatchDir != "" {
		handle := func(path string) {
			uploadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if _, err := server.RelayLocal(uploadCtx, path); err != nil {
				log.Error().Err(err).Str("path", path).Msg("recording upload failed")
			}
		}
		watcher, err := relay.NewWatcher(cfg.Relay.WatchDir, cfg.Relay.WatchSettle.Duration, handle,
			log.With().Str("component", "watcher").Logger())
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		g.Go(func() error {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watcher: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func originAccounts(cfg *config.Config) map[string]origin.Account {
	accounts := make(map[string]origin.Account, len(cfg.Origin.Accounts))
	for name, acct := range cfg.Origin.Accounts {
		accounts[name] = origin.Account{BDUSS: acct.Bduss, STOKEN: acct.Stoken}
	}
	return accounts
}

func buildSources(cfg *config.Config) ([]feed.Source, error) {
	var sources []feed.Source

	var cred *feed.Credential
	if cookies := cfg.Feeds.Bilibili.Cookies; cookies.Sessdata != "" {
		cred = &feed.Credential{
			SESSDATA: cookies.Sessdata,
			BiliJCT:  cookies.BiliJct,
			Buvid3:   cookies.Buvid3,
		}
	}
	for _, uid := range cfg.Feeds.Bilibili.UIDs {
		src, err := feed.NewBilibili(uid, cred)
		if err != nil {
			return nil, fmt.Errorf("create bilibili source: %w", err)
		}
		sources = append(sources, src)
	}

	for _, feedURL := range cfg.Feeds.RSS.Feeds {
		src, err := feed.NewRSS(feedURL)
		if err != nil {
			return nil, fmt.Errorf("create rss source: %w", err)
		}
		sources = append(sources, src)
	}

	return sources, nil
}
