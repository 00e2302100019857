package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gowebpki/jcs"
	"github.com/studiowebux/replay-client/internal/config"
	"github.com/studiowebux/replay-client/internal/executor"
	"github.com/studiowebux/replay-client/internal/filter"
	"github.com/studiowebux/replay-client/internal/replay"
)

var (
	colorCyan   = lipgloss.Color("14")
	colorGreen  = lipgloss.Color("10")
	colorYellow = lipgloss.Color("11")
	colorRed    = lipgloss.Color("9")

	styleTitle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleLabel  = lipgloss.NewStyle().Width(22)
	styleSubtle = lipgloss.NewStyle().Faint(true)
	styleBox    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorCyan).
			Padding(0, 1)
)

// RenderReport writes the run report in the requested format. JSON output is
// canonical (RFC 8785) and can be narrowed with a JMESPath or $(shell) query.
func RenderReport(w io.Writer, report *replay.Report, format, query string) error {
	switch format {
	case config.OutputJSON:
		out, err := reportJSON(report, query)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	default:
		_, err := fmt.Fprintln(w, formatReportText(report))
		return err
	}
}

func reportJSON(report *replay.Report, query string) ([]byte, error) {
	raw, err := json.Marshal(report.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize report: %w", err)
	}
	if query == "" {
		return canonical, nil
	}
	out, err := filter.Apply(canonical, query)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func formatReportText(report *replay.Report) string {
	var sb strings.Builder

	sb.WriteString(styleTitle.Render("Replay complete"))
	sb.WriteString("\n")
	sb.WriteString(report.String())
	sb.WriteString("\n\n")

	row := func(label, value string) {
		sb.WriteString(styleLabel.Render(label))
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	row("Transactions:", fmt.Sprintf("%d", report.Transactions))
	row("Sessions:", fmt.Sprintf("%d", report.Sessions))
	row("Reuse:", fmt.Sprintf("%.2f", report.Reuse()))
	row("Elapsed:", executor.FormatDuration(report.ElapsedMs()))
	row("Throughput:", fmt.Sprintf("%.3f / ms", report.Throughput()))
	row("Rate multiplier:", fmt.Sprintf("%g", report.Multiplier))

	if s := report.Stats; s != nil {
		sb.WriteString("\n")
		row("Succeeded:", lipgloss.NewStyle().Foreground(colorGreen).Render(fmt.Sprintf("%d", s.SuccessCount)))
		row("Skipped:", styleSubtle.Render(fmt.Sprintf("%d", s.SkippedCount)))
		row("Connect errors:", countStyle(s.ConnectErrorCount, colorRed).Render(fmt.Sprintf("%d", s.ConnectErrorCount)))
		row("Transaction errors:", countStyle(s.TransactionErrorCount, colorRed).Render(fmt.Sprintf("%d", s.TransactionErrorCount)))
		row("Verification errors:", countStyle(s.VerificationErrorCount, colorYellow).Render(fmt.Sprintf("%d", s.VerificationErrorCount)))
		row("Session duration:", fmt.Sprintf("avg %.1fms  min %dms  max %dms",
			s.AvgDurationMs, s.MinDurationMs, s.MaxDurationMs))
		row("Percentiles:", fmt.Sprintf("p50 %dms  p95 %dms  p99 %dms",
			s.P50DurationMs, s.P95DurationMs, s.P99DurationMs))
	}

	return styleBox.Render(strings.TrimRight(sb.String(), "\n"))
}

// countStyle highlights non-zero error counts
func countStyle(n int, color lipgloss.Color) lipgloss.Style {
	if n == 0 {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true)
}
