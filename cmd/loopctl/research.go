package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentloop/loopctl/internal/invoker"
	"github.com/agentloop/loopctl/internal/research"
)

var researchAICommand string

var researchCmd = &cobra.Command{
	Use:   "research [topic] [prompt]",
	Short: "Spawn a one-off research job and wait for it to finish",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		dir := featureDir()
		outputDir := filepath.Join(dir, "research")

		pool := research.New(cfg.Research.MaxAgents)
		handle, err := pool.Spawn(research.Job{
			Topic:      args[0],
			Prompt:     args[1],
			OutputDir:  outputDir,
			Timeout:    time.Duration(cfg.Research.Timeout) * time.Second,
			Invocation: invoker.Config{Command: researchAICommand, OutputFormat: "json"},
		})
		if err != nil {
			return err
		}

		fmt.Printf("spawned %s -> %s\n", color.YellowString(handle.ID[:8]), handle.OutputFile)

		status, err := pool.WaitAny(context.Background())
		if err != nil {
			return err
		}

		if status.Err != nil {
			return fmt.Errorf("research job failed: %w", status.Err)
		}
		if status.TimedOut {
			fmt.Println(color.RedString("research job timed out"))
		} else {
			fmt.Printf("%s finished with exit code %d\n", color.GreenString("done:"), status.ExitCode)
		}
		fmt.Println("output:", status.OutputFile)
		return nil
	},
}

func init() {
	researchCmd.Flags().StringVar(&researchAICommand, "ai-command", "claude", "AI tool command to invoke")
	rootCmd.AddCommand(researchCmd)
}
