package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initForce bool

// initTemplate is the default elm-mirror.yaml scaffold.
const initTemplate = `# elm-mirror configuration
version: 1

# Directory holding registry.json, all-packages and packages/.
# Relative paths are resolved against this file.
mirror_content: ./mirror

# Public URL of this mirror, used in served endpoint.json files.
# base_url: https://elm-mirror.example.com

# upstream: https://package.elm-lang.org

listen:
  host: 127.0.0.1
  port: 8000

# Background sync while serving (0 disables).
# sync_interval: 1h

# Restrict downloads to these packages. Entries are "author/name" or
# "author/name@version". Both lists are combined.
# package_list: ./packages.json
# packages:
#   - elm/core
#   - elm/json

# Reload registry.json when another process updates it.
# watch_registry: true

# timeouts:
#   metadata: 30s
#   archive: 120s
# retries: 3

# log:
#   format: text   # text or json
#   level: info    # debug, info, warn, error
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter elm-mirror.yaml configuration",
	Long: `Creates an elm-mirror.yaml file with every option documented.

Use --force to overwrite an existing configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath := configPath
		if !filepath.IsAbs(outPath) {
			abs, err := filepath.Abs(outPath)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			outPath = abs
		}

		if !initForce {
			if _, err := os.Stat(outPath); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", outPath)
			}
		}

		if err := os.WriteFile(outPath, []byte(initTemplate), 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		success("Created %s", outPath)
		info("")
		info("Next steps:")
		info("  1. Set base_url to the address clients will use")
		info("  2. Run 'elm-mirror sync' to download packages")
		info("  3. Run 'elm-mirror serve' to serve them")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config file")
	rootCmd.AddCommand(initCmd)
}
