package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/whit3rabbit/specsync/pkg/operation"
)

func enqueueCmd() *cobra.Command {
	var opType, source, priority, params string
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a single operation against a workspace and report detected conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opType, source, priority, params, maxRetries)
		},
	}
	cmd.Flags().StringVar(&opType, "type", "", "operation type, e.g. create_spec, update_requirements (required)")
	cmd.Flags().StringVar(&source, "source", "editor", "source: editor or server")
	cmd.Flags().StringVar(&priority, "priority", "normal", "priority: low, normal, high, urgent")
	cmd.Flags().StringVar(&params, "params", "{}", "operation params as a JSON object")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "max_retries recorded on the operation")
	cmd.MarkFlagRequired("type")
	return cmd
}

func parsePriority(s string) (operation.Priority, error) {
	switch s {
	case "low":
		return operation.PriorityLow, nil
	case "normal":
		return operation.PriorityNormal, nil
	case "high":
		return operation.PriorityHigh, nil
	case "urgent":
		return operation.PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

func runEnqueue(opType, source, priorityFlag, paramsFlag string, maxRetries int) error {
	priority, err := parsePriority(priorityFlag)
	if err != nil {
		return err
	}
	var src operation.Source
	switch source {
	case "editor":
		src = operation.SourceEditor
	case "server":
		src = operation.SourceServer
	default:
		return fmt.Errorf("unknown source %q", source)
	}
	if !json.Valid([]byte(paramsFlag)) {
		return fmt.Errorf("--params is not valid JSON")
	}

	svc, _, err := openService()
	if err != nil {
		return err
	}
	defer svc.Dispose(context.Background())

	op := operation.New(operation.Type(opType), priority, src, json.RawMessage(paramsFlag), maxRetries)
	conflicts, err := svc.Queue(context.Background(), op)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	color.Green("queued operation %s (type=%s, priority=%s)", op.ID, op.Type, priority)
	for _, c := range conflicts {
		color.Yellow("  conflict [%s] %s — %s", c.ID, c.Type, c.Description)
	}
	return nil
}
