package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/arena/internal/ports"
)

// Console implements ports.Notifier, writing run summaries and leaderboards
// to a terminal.
type Console struct {
	out io.Writer
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifyRun prints a one-line run summary.
func (c *Console) NotifyRun(_ context.Context, s ports.RunSummary) error {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "[%s] %s: cohorts=%d agents=%d errors=%d took=%s\n",
		now, s.Kind, s.CohortsProcessed, s.AgentsProcessed, s.Errors,
		s.Duration.Round(time.Millisecond))
	for _, note := range s.Notes {
		fmt.Fprintf(c.out, "         %s\n", note)
	}
	return nil
}

// NotifyLeaderboard prints the cohort standings as a table, best P&L first.
func (c *Console) NotifyLeaderboard(_ context.Context, rows []ports.LeaderboardRow) error {
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "no leaderboard data")
		return nil
	}

	fmt.Fprintf(c.out, "\n  COHORT %d LEADERBOARD\n\n", rows[0].CohortNumber)

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Model", "Status", "Cash", "Positions", "Total", "PnL", "PnL%", "Brier", "Bets")

	for i, r := range rows {
		brierLabel := "N/A"
		if r.BrierMean != nil {
			brierLabel = fmt.Sprintf("%.4f", *r.BrierMean)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			r.ModelName,
			r.Status,
			fmt.Sprintf("$%.2f", r.Cash),
			fmt.Sprintf("$%.2f", r.PositionsValue),
			fmt.Sprintf("$%.2f", r.TotalValue),
			fmt.Sprintf("%+.2f", r.TotalPnL),
			fmt.Sprintf("%+.1f%%", r.TotalPnLPercent),
			brierLabel,
			fmt.Sprintf("%d", r.ResolvedBets),
		)
	}
	table.Render()

	fmt.Fprintln(c.out, "  PnL vs initial balance | Brier = mean calibration, lower is better")
	return nil
}
