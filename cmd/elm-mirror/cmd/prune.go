package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bianoble/elm-mirror/pkg/elmmirror"
)

var pruneDryRun bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove stored packages that are not mirrored",
	Long: `Deletes package directories that have no registry entry, or whose entry
is ignored (for example after narrowing the package list). The registry
itself is not changed. Use --dry-run to list what would be removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		m, err := openMirror(cfg)
		if err != nil {
			return err
		}
		defer m.Close()

		result, err := m.Prune(commandContext(cmd), elmmirror.PruneOptions{DryRun: pruneDryRun})
		if err != nil {
			return err
		}

		verb := "Removed"
		if pruneDryRun {
			verb = "Would remove"
		}
		for _, id := range result.Removed {
			detail("%s %s", verb, id)
		}
		for _, e := range result.Errors {
			errorf("%s: %v", e.ID, e.Err)
		}

		if len(result.Removed) == 0 {
			info("Nothing to prune.")
		} else {
			success("%s %s.", verb, plural(len(result.Removed), "package"))
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("%d package(s) could not be removed", len(result.Errors))
		}
		return nil
	},
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "list packages without removing them")
	rootCmd.AddCommand(pruneCmd)
}
