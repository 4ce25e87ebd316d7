package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentloop/loopctl/internal/circuitbreaker"
)

var resetCircuitCmd = &cobra.Command{
	Use:   "reset-circuit",
	Short: "Clear the circuit breaker's no-progress and same-error counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := featureDir()
		breaker := circuitbreaker.New(filepath.Join(dir, "circuit_breaker.state"), 0, 0)
		if err := breaker.Load(); err != nil {
			return fmt.Errorf("loading circuit breaker state: %w", err)
		}
		breaker.Reset()
		if err := breaker.Save(); err != nil {
			return fmt.Errorf("saving circuit breaker state: %w", err)
		}
		fmt.Println(color.GreenString("circuit breaker reset"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCircuitCmd)
}
