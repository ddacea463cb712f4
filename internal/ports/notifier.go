package ports

import (
	"context"
	"time"
)

// RunSummary is the outcome of one engine invocation (decision cycle,
// snapshot sweep or settlement pass).
type RunSummary struct {
	Kind             string        `json:"kind"`
	CohortsProcessed int           `json:"cohorts_processed"`
	AgentsProcessed  int           `json:"agents_processed"`
	Errors           int           `json:"errors"`
	Duration         time.Duration `json:"duration"`
	Notes            []string      `json:"notes,omitempty"`
}

// Notifier reports engine outcomes to a human-facing sink.
type Notifier interface {
	NotifyRun(ctx context.Context, s RunSummary) error
	NotifyLeaderboard(ctx context.Context, rows []LeaderboardRow) error
}
