package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentloop/loopctl/internal/backlog"
)

var doctorAICommand string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the environment is ready to run loopctl",
	Long: `Run health checks to diagnose common configuration and environment
issues before starting a run.

Exit codes:
  0 - all checks passed
  1 - one or more checks failed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		var failures []string

		check := func(name string, ok bool, detail string) {
			if ok {
				fmt.Printf("%s %s\n", green("✓"), name)
			} else {
				fmt.Printf("%s %s: %s\n", red("✗"), name, detail)
				failures = append(failures, name)
			}
		}

		fmt.Printf("%s\n\n", cyan("loopctl doctor"))

		if _, err := exec.LookPath(doctorAICommand); err != nil {
			check("AI command on PATH", false, fmt.Sprintf("%q not found", doctorAICommand))
		} else {
			check("AI command on PATH", true, "")
		}

		if _, err := exec.LookPath("git"); err != nil {
			check("git on PATH", false, err.Error())
		} else {
			check("git on PATH", true, "")
		}

		if _, err := loadConfig(); err != nil {
			check("configuration loads", false, err.Error())
		} else {
			check("configuration loads", true, "")
		}

		dir := featureDir()
		backlogPath := filepath.Join(dir, "backlog.json")
		if _, err := os.Stat(backlogPath); err != nil {
			check("backlog.json exists", false, backlogPath+" not found")
		} else {
			store, err := backlog.New(dir)
			if err != nil {
				check("backlog.json is valid", false, err.Error())
			} else if b, err := store.Load(); err != nil {
				check("backlog.json is valid", false, err.Error())
			} else if gaps := backlog.CheckSequential(b); len(gaps) > 0 {
				check("backlog sequential completion", false, gaps[0].Error())
			} else {
				check("backlog.json is valid", true, "")
			}
		}

		locks, err := lockDir()
		if err != nil {
			check("lockfile directory resolvable", false, err.Error())
		} else if err := os.MkdirAll(locks, 0o755); err != nil {
			check("lockfile directory writable", false, err.Error())
		} else {
			check("lockfile directory writable", true, "")
		}

		fmt.Println()
		if len(failures) == 0 {
			fmt.Println(green("all checks passed"))
			return nil
		}
		fmt.Printf("%s %d check(s) failed\n", red("✗"), len(failures))
		os.Exit(1)
		return nil
	},
}

func init() {
	doctorCmd.Flags().StringVar(&doctorAICommand, "ai-command", "claude", "AI tool command to check for")
	rootCmd.AddCommand(doctorCmd)
}
