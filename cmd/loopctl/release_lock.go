package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentloop/loopctl/internal/lockfile"
)

var releaseLockCmd = &cobra.Command{
	Use:   "release-lock",
	Short: "Force-release the lockfile held on this feature's path",
	Long: `Removes the lockfile for the current --project/--feature path regardless
of which process owns it. Use this after a crash left a stale lock behind
that the normal liveness sweep didn't catch (e.g. a PID reused by an
unrelated process).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := featureDir()
		absTarget, err := filepath.Abs(dir)
		if err != nil {
			return err
		}

		locks, err := lockDir()
		if err != nil {
			return err
		}

		entries, err := os.ReadDir(locks)
		if os.IsNotExist(err) {
			fmt.Println("no lockfiles found")
			return nil
		}
		if err != nil {
			return err
		}

		lockName := lockfile.EncodePath(absTarget) + ".lock"
		removed := false
		for _, entry := range entries {
			if entry.IsDir() || entry.Name() != lockName {
				continue
			}
			path := filepath.Join(locks, entry.Name())
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("removing %s: %w", path, err)
			}
			removed = true
			fmt.Println(color.GreenString("released " + path))
		}

		if !removed {
			fmt.Println("no lockfile held on", absTarget)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(releaseLockCmd)
}
