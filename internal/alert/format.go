package alert

import (
	"fmt"
	"strings"

	"feedpush/internal/cycle"
)

const maxLogLines = 20

// FormatReport formats a cycle report as a Telegram message.
func FormatReport(rep *cycle.Report) string {
	var b strings.Builder
	status := "ok"
	if !rep.OK {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "[feedpush] cycle %s\n", status)
	fmt.Fprintf(&b, "Run: %s\n", rep.RunID)
	fmt.Fprintf(&b, "At: %s\n", rep.Timestamp.UTC().Format("2006-01-02 15:04 UTC"))
	if rep.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", rep.Error)
	}

	sent, failed := rep.Totals()
	fmt.Fprintf(&b, "\nSent %d, failed %d\n", sent, failed)
	for _, r := range rep.Results {
		fmt.Fprintf(&b, "  %s %s: %d sent, %d failed", r.Category, r.EntityID, r.Sent, r.Failed)
		if n := len(r.InvalidTokens); n > 0 {
			fmt.Fprintf(&b, ", %d invalid", n)
		}
		b.WriteString("\n")
	}

	if len(rep.Log) > 0 {
		b.WriteString("\nLog:\n")
		lines := rep.Log
		if len(lines) > maxLogLines {
			lines = lines[len(lines)-maxLogLines:]
			fmt.Fprintf(&b, "  ... %d earlier lines\n", len(rep.Log)-maxLogLines)
		}
		for _, l := range lines {
			fmt.Fprintf(&b, "  %s\n", l)
		}
	}
	return b.String()
}
