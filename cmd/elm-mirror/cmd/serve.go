package cmd

import (
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bianoble/elm-mirror/internal/config"
	"github.com/bianoble/elm-mirror/pkg/elmmirror"
)

var (
	serveBaseURL      string
	serveHost         string
	servePort         int
	serveSyncInterval time.Duration
	servePackageList  string
	serveWatch        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the mirror over the Elm package server API",
	Long: `Serves the mirror directory over HTTP. Endpoint descriptors point at
--base-url, which must be the URL clients use to reach this server.

With --sync-interval the server also syncs from upstream in the background
and starts answering for new packages once each sync has been saved.
With --watch the served registry is reloaded whenever registry.json changes,
for example after a 'sync' run from cron.

When GATEWAY_INTERFACE is set the command answers a single CGI request.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		cfg, err := loadConfig(func(c *config.Config) {
			if flags.Changed("base-url") {
				c.BaseURL = serveBaseURL
			}
			if flags.Changed("host") {
				c.Listen.Host = serveHost
			}
			if flags.Changed("port") {
				c.Listen.Port = servePort
			}
			if flags.Changed("sync-interval") {
				c.SyncInterval = serveSyncInterval
			}
			if flags.Changed("package-list") {
				c.PackageList = servePackageList
			}
			if flags.Changed("watch") {
				watch := serveWatch
				c.WatchRegistry = &watch
			}
		})
		if err != nil {
			return err
		}
		if cfg.BaseURL == "" {
			return errors.New("base URL is required (--base-url or base_url in config)")
		}

		m, err := openMirror(cfg)
		if err != nil {
			return err
		}
		defer m.Close()

		// stdout is the response body in CGI mode.
		if os.Getenv("GATEWAY_INTERFACE") != "" {
			return m.ServeCGI()
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := net.JoinHostPort(cfg.Listen.Host, strconv.Itoa(cfg.Listen.Port))
		info("Serving %s on http://%s as %s", m.Dir(), addr, cfg.BaseURL)
		if cfg.SyncInterval > 0 {
			detail("background sync every %s", cfg.SyncInterval)
		}
		return m.Serve(ctx, elmmirror.ServeOptions{
			Addr:         addr,
			SyncInterval: cfg.SyncInterval,
			Watch:        cfg.Watch(),
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveBaseURL, "base-url", "", "public URL of this mirror")
	serveCmd.Flags().StringVar(&serveHost, "host", config.DefaultHost, "listen host")
	serveCmd.Flags().IntVar(&servePort, "port", config.DefaultPort, "listen port")
	serveCmd.Flags().DurationVar(&serveSyncInterval, "sync-interval", 0, "background sync interval (0 disables)")
	serveCmd.Flags().StringVar(&servePackageList, "package-list", "", "JSON file listing the packages to download")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload registry.json when it changes on disk")
	rootCmd.AddCommand(serveCmd)
}
