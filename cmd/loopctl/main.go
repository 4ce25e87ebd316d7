// Command loopctl drives an AI coding tool through a backlog of stories one
// story at a time, verifying each claimed completion with configurable
// gates before trusting it (spec.md §1).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentloop/loopctl/internal/config"
)

// Exit codes. 100 is reserved, not assigned: spec.md §9 leaves the
// distinction between it and 0 unresolved, and nothing downstream is
// specified to depend on it, so this implementation collapses every
// successful termination to 0.
const (
	exitOK                 = 0
	exitEnvironment        = 2
	exitConfiguration      = 3
	exitLoopExhaustion     = 4
	_                      = 100 // reserved success code, intentionally unused
)

var (
	projectDir string
	featureKey string
)

var rootCmd = &cobra.Command{
	Use:   "loopctl",
	Short: "Drive an AI coding tool through a backlog, one verified story at a time",
	Long: `loopctl runs an AI coding tool (claude, codex, gemini, or a compatible
alias) in a loop against a project backlog, advancing one story at a time and
only trusting a claimed completion once configured verification gates agree.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", ".", "project root directory")
	rootCmd.PersistentFlags().StringVar(&featureKey, "feature", "default", "feature key under .loopctl/")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "loopctl: %v\n", err)
		os.Exit(exitEnvironment)
	}
}

// featureDir resolves the on-disk directory for the active feature, per the
// layout in SPEC_FULL.md §6.
func featureDir() string {
	return filepath.Join(projectDir, ".loopctl", featureKey)
}

// lockDir resolves the central, per-user lockfile directory.
func lockDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "loopctl", "lockfiles"), nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(projectDir)
}

func fatal(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "loopctl: "+format+"\n", args...)
	os.Exit(code)
}
