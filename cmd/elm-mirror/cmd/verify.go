package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check downloaded packages against their recorded hashes",
	Long: `Recomputes the hash of every successfully downloaded archive and compares
it with hash.json, and checks that elm.json is present. Does not contact
upstream or modify the mirror. Exit 0 if every package is intact; exit
non-zero otherwise.`,
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

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
		defer stop()

		result, err := m.Verify(ctx)
		if err != nil {
			return err
		}

		for _, e := range result.Errors {
			errorf("%s: %v", e.ID, e.Err)
		}
		if !result.OK() {
			return fmt.Errorf("%d of %s failed verification", len(result.Errors), plural(result.Checked, "package"))
		}

		success("All %s verified.", plural(result.Checked, "package"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
