package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/studiowebux/replay-client/internal/executor"
	"github.com/studiowebux/replay-client/internal/replay"
)

// DefaultHistoryLimit is the number of runs listed when no limit is given
const DefaultHistoryLimit = 20

// HistoryOptions contains options for listing past runs
type HistoryOptions struct {
	DatabasePath string
	Limit        int
	Stdout       io.Writer
}

// History lists persisted runs, most recent first
func History(opts HistoryOptions) error {
	manager, err := replay.NewManager(opts.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer manager.Close()

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	runs, err := manager.ListRuns(limit)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(opts.Stdout, formatHistory(runs))
	return err
}

func formatHistory(runs []*replay.Run) string {
	if len(runs) == 0 {
		return styleSubtle.Render("No replay runs recorded.")
	}

	header := lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	var sb strings.Builder
	sb.WriteString(header.Render(fmt.Sprintf("%-36s  %-19s  %-9s  %-8s  %8s  %8s  %9s  %s",
		"RUN", "STARTED", "STATUS", "MODE", "SESSIONS", "TXNS", "ELAPSED", "DIRECTORY")))
	sb.WriteString("\n")

	for _, run := range runs {
		status := lipgloss.NewStyle().Foreground(colorGreen)
		switch {
		case run.Status == replay.RunStatusFailed:
			status = lipgloss.NewStyle().Foreground(colorRed)
		case run.Status == replay.RunStatusRunning:
			status = lipgloss.NewStyle().Foreground(colorYellow)
		case run.ConnectErrors+run.TransactionErrors+run.VerificationErrors > 0:
			status = lipgloss.NewStyle().Foreground(colorYellow)
		}
		sb.WriteString(fmt.Sprintf("%-36s  %-19s  %s  %-8s  %8d  %8d  %9s  %s\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			status.Render(fmt.Sprintf("%-9s", run.Status)),
			run.Mode,
			run.Sessions,
			run.Transactions,
			executor.FormatDuration(run.ElapsedMs),
			run.Directory))
	}
	return strings.TrimRight(sb.String(), "\n")
}
