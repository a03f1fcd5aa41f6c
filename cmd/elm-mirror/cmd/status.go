package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bianoble/elm-mirror/pkg/elmmirror"
)

var (
	statusFilter string
	statusPURL   bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the packages recorded in the registry",
	Long: `Lists registry entries newest first with their status (success, pending,
failed, ignored), followed by per-status totals. Use --status to show only
one status and --purl to add the package URL of each entry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := elmmirror.Status(statusFilter)
		if statusFilter != "" && !status.Valid() {
			return fmt.Errorf("invalid status %q: must be one of success, pending, failed, ignored", statusFilter)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		m, err := openMirror(cfg)
		if err != nil {
			return err
		}
		defer m.Close()

		report, err := m.Status(elmmirror.StatusOptions{Status: status})
		if err != nil {
			return err
		}

		if report.Total == 0 {
			info("Registry is empty. Run 'elm-mirror sync' to populate it.")
			return nil
		}

		if !quiet {
			if statusPURL {
				fmt.Printf("%-48s %-8s %s\n", "PACKAGE", "STATUS", "PURL")
			} else {
				fmt.Printf("%-48s %s\n", "PACKAGE", "STATUS")
			}
			for _, e := range report.Entries {
				if statusPURL {
					fmt.Printf("%-48s %-8s %s\n", e.ID, e.Status, e.PURL)
				} else {
					fmt.Printf("%-48s %s\n", e.ID, e.Status)
				}
			}
			fmt.Println()
		}

		info("Total: %d", report.Total)
		for _, s := range elmmirror.Statuses {
			info("  %-8s %d", s, report.Counts[s])
		}
		if !report.HasCatalog {
			warn("all-packages is missing; run 'elm-mirror sync'")
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "show only entries with this status")
	statusCmd.Flags().BoolVar(&statusPURL, "purl", false, "show package URLs")
	rootCmd.AddCommand(statusCmd)
}
