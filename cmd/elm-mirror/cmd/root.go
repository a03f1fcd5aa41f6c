package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bianoble/elm-mirror/internal/config"
	"github.com/bianoble/elm-mirror/pkg/elmmirror"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	configPath    string
	mirrorContent string
	logFormat     string
	verbose       bool
	quiet         bool
	noColor       bool
)

var rootCmd = &cobra.Command{
	Use:   "elm-mirror",
	Short: "Mirror and serve the Elm package registry",
	Long: `elm-mirror keeps a local copy of the Elm package server. It downloads
every published package version (or an allow-listed subset), verifies each
archive against its upstream hash, and serves the result over the same HTTP
API the Elm compiler uses.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
		elmmirror.Version = version
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("elm-mirror %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.FileName, "path to config file")
	rootCmd.PersistentFlags().StringVar(&mirrorContent, "mirror-content", "", "mirror directory (overrides mirror_content)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "detailed output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "minimal output (errors only)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		return err
	}
	return nil
}
