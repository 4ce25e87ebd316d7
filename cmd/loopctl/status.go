package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/agentloop/loopctl/internal/backlog"
	"github.com/agentloop/loopctl/internal/circuitbreaker"
	"github.com/agentloop/loopctl/internal/ratelimit"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backlog progress, rate-limit, and circuit-breaker state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !statusWatch {
			return printStatus()
		}
		return watchStatus()
	},
}

func printStatus() error {
	dir := featureDir()

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("%s\n\n", cyan(fmt.Sprintf("=== loopctl status: %s ===", featureKey)))

	store, err := backlog.New(dir)
	if err != nil {
		return err
	}
	b, err := store.Load()
	if err != nil {
		fmt.Printf("%s no backlog found in %s\n", red("✗"), dir)
		return nil
	}

	passes := backlog.PassesCount(b)
	total := backlog.Total(b)
	fmt.Printf("Backlog: %d/%d stories complete\n", passes, total)
	if gaps := backlog.CheckSequential(b); len(gaps) > 0 {
		fmt.Printf("  %s %s\n", red("gap:"), gaps[0].Error())
	}
	if story := backlog.FirstIncomplete(b); story != nil {
		fmt.Printf("  next: %s %s\n", yellow(story.ID), story.Title)
	}

	limiter := ratelimit.New(filepath.Join(dir, "rate_limiter.state"), 0, time.Second)
	if err := limiter.Load(); err == nil {
		state := limiter.State()
		fmt.Printf("\nRate limit: %d calls this hour, resets at %s\n",
			state.CallCount, limiter.ResetsAt().Format("15:04:05"))
	}

	breaker := circuitbreaker.New(filepath.Join(dir, "circuit_breaker.state"), 0, 0)
	if err := breaker.Load(); err == nil {
		state := breaker.State()
		status := green("healthy")
		if state.NoProgressCount > 0 || state.SameErrorCount > 0 {
			status = yellow(fmt.Sprintf("no_progress=%d same_error=%d", state.NoProgressCount, state.SameErrorCount))
		}
		fmt.Printf("Circuit breaker: %s\n", status)
	}

	return nil
}

// watchStatus reprints the status block every time backlog.json or either
// state file changes, following this project's reference config watcher's
// fsnotify.NewWatcher / Events channel pattern.
func watchStatus() error {
	dir := featureDir()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	if err := printStatus(); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fmt.Print("\033[H\033[2J") // clear screen between redraws
			if err := printStatus(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "re-render on every backlog or state-file change")
	rootCmd.AddCommand(statusCmd)
}
