package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func cleanupCmd() *cobra.Command {
	var maxAge string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove completed/cancelled operations and resolved conflicts older than max-age",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(maxAge)
		},
	}
	cmd.Flags().StringVar(&maxAge, "max-age", "24h", "age threshold, e.g. 24h, 30m")
	return cmd
}

func runCleanup(maxAgeFlag string) error {
	maxAge, err := time.ParseDuration(maxAgeFlag)
	if err != nil {
		return fmt.Errorf("invalid --max-age: %w", err)
	}

	svc, _, err := openService()
	if err != nil {
		return err
	}
	defer svc.Dispose(context.Background())

	if err := svc.CleanupOld(context.Background(), maxAge); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	color.Green("cleanup complete (max-age=%s)", maxAge)
	return nil
}
