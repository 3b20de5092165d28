// SPDX-License-Identifier: MIT

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PoliticalSphere/validate-ci/githubclient"
)

var clearForce bool

func init() {
	rootCmd.AddCommand(clearCmd)
	clearCmd.Flags().
		BoolVarP(&clearForce, "force", "f", false, "delete the cache without confirmation")
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached GitHub responses",
	Long: `Removes the disk cache the remote verifier keeps under the user's
standard cache location (e.g., $XDG_CACHE_HOME/validate-ci on Linux). The
next run re-fetches refs from GitHub. Deletion requires --force.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cachePath, err := githubclient.CacheDir()
		if err != nil {
			return err
		}

		entries, err := os.ReadDir(cachePath)
		switch {
		case os.IsNotExist(err):
			fmt.Printf("No cache directory at %s; nothing to remove.\n", cachePath)
			return nil
		case err != nil:
			return fmt.Errorf("could not inspect cache directory %s: %w", cachePath, err)
		}

		if !clearForce {
			return fmt.Errorf(
				"cache directory %s holds %d entries; pass --force to delete it",
				cachePath, len(entries),
			)
		}

		if err := os.RemoveAll(cachePath); err != nil {
			return fmt.Errorf("could not delete cache directory %s: %w", cachePath, err)
		}
		if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
			return fmt.Errorf("cache directory %s still present after removal", cachePath)
		}

		fmt.Printf("Removed %d cached entries from %s\n", len(entries), cachePath)
		return nil
	},
}
