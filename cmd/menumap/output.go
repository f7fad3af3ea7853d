package main

import (
	"fmt"
	"os"

	"github.com/kalambet/menumap/internal/mapper"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// printMatches writes ranked matches to stdout, best first. An unmapped
// result (id -1) is shown in red.
func printMatches(matches []mapper.QueryResult) {
	if len(matches) == 0 {
		fmt.Println("No match above threshold.")
		return
	}
	for i, m := range matches {
		line := fmt.Sprintf("%2d. %-6d %-40s score %.2f  usage %d", i+1, m.ID, m.Name, m.RelevanceScore, m.Usage)
		if m.ID == mapper.UnmappedID {
			line = colorize(colorRed, line)
		} else if i == 0 {
			line = colorize(colorBold, line)
		}
		fmt.Println(line)
	}
}

func printBatch(st batchStatus) {
	printStatus("Batch", "%s (%s, %s)", st.ID, st.Filename, st.Source)
	printStatus("Status", "%s", st.Status)
	printStatus("Rows", "%d/%d processed, %d failed", st.ProcessedRows, st.TotalRows, st.FailedRows)
	acc := st.Accuracy
	if acc.Total > 0 {
		printStatus("Retrieval hit rate", "%d/%d (%.1f%%)", acc.CorrectCurrent, acc.Total, pct(acc.CorrectCurrent, acc.Total))
		printStatus("Prediction accuracy", "%d/%d (%.1f%%)", acc.CorrectPredict, acc.Total, pct(acc.CorrectPredict, acc.Total))
	}
	if acc.Approved+acc.Rejected > 0 {
		printStatus("Reviewed", "%d approved, %d rejected", acc.Approved, acc.Rejected)
	}
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}
