package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentloop/loopctl/internal/cmdlog"
)

var analyzeCommandsCmd = &cobra.Command{
	Use:   "analyze-commands",
	Short: "Report redundant command executions from the command log",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := featureDir()
		logPath := filepath.Join(dir, "logs", "commands.jsonl")

		entries, err := cmdlog.ReadAll(logPath)
		if err != nil {
			return fmt.Errorf("reading command log: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("no commands logged yet")
			return nil
		}

		ctx := context.Background()
		analyzer, err := cmdlog.Open(ctx, entries)
		if err != nil {
			return err
		}
		defer analyzer.Close()

		total, err := analyzer.TotalDuration(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d commands logged, %dms total\n\n", len(entries), total)

		redundancies, err := analyzer.Redundancies(ctx)
		if err != nil {
			return err
		}
		if len(redundancies) == 0 {
			fmt.Println(color.GreenString("no redundant command executions found"))
			return nil
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		for _, r := range redundancies {
			fmt.Printf("%s iteration %d: %q ran %d times, %dms redundant\n",
				yellow("!"), r.Iteration, r.Command, r.RunCount, r.RedundantMS)
			fmt.Printf("    %s\n\n", r.Suggestion)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCommandsCmd)
}
