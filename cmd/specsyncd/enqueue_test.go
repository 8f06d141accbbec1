package main

import (
	"testing"

	"github.com/whit3rabbit/specsync/pkg/operation"
)

func TestParsePriorityAcceptsAllKnownLevels(t *testing.T) {
	cases := map[string]operation.Priority{
		"low":    operation.PriorityLow,
		"normal": operation.PriorityNormal,
		"high":   operation.PriorityHigh,
		"urgent": operation.PriorityUrgent,
	}
	for s, want := range cases {
		got, err := parsePriority(s)
		if err != nil {
			t.Fatalf("parsePriority(%q) returned error: %v", s, err)
		}
		if got != want {
			t.Errorf("parsePriority(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestParsePriorityRejectsUnknownLevel(t *testing.T) {
	if _, err := parsePriority("critical"); err == nil {
		t.Fatal("expected error for unknown priority, got nil")
	}
}
