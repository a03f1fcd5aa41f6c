package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bianoble/elm-mirror/internal/config"
)

var syncPackageList string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download new and previously failed packages from upstream",
	Long: `Fetches the list of published packages from upstream, records new ones
in registry.json and downloads every package that is new, failed last time,
or was left pending by an interrupted run. Each archive is checked against
the upstream hash before it is marked successful.

Individual package failures are reported but do not fail the command;
they are retried on the next sync. Interrupting a sync saves progress.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(func(c *config.Config) {
			if cmd.Flags().Changed("package-list") {
				c.PackageList = syncPackageList
			}
		})
		if err != nil {
			return err
		}

		m, err := openMirror(cfg)
		if err != nil {
			return err
		}
		defer m.Close()

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		info("Syncing %s from %s", m.Dir(), cfg.Upstream)
		result, err := m.Sync(ctx)
		if result != nil {
			for _, id := range result.Succeeded {
				detail("✓ %s", id)
			}
			for _, id := range result.Ignored {
				detail("- %s (not in package list)", id)
			}
			for _, f := range result.Failed {
				errorf("%s: %v", f.ID, f.Err)
			}
			info("%s new, %s retried, %s ignored",
				plural(len(result.New), "package"), plural(len(result.Retried), "package"),
				plural(len(result.Ignored), "package"))
			if len(result.Failed) > 0 {
				warn("%d downloaded (%s), %d failed", len(result.Succeeded), humanBytes(result.Bytes), len(result.Failed))
			} else {
				success("%d downloaded (%s)", len(result.Succeeded), humanBytes(result.Bytes))
			}
		}
		return err
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncPackageList, "package-list", "", "JSON file listing the packages to download")
	rootCmd.AddCommand(syncCmd)
}
