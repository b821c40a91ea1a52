package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

const (
	tablePadding = 2
	maxCellWidth = 48
)

// writeTable prints rows aligned under headers. Cells wider than
// maxCellWidth are truncated.
func writeTable(out io.Writer, headers []string, rows [][]string) error {
	cols := len(headers)
	for _, row := range rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return nil
	}

	cell := func(row []string, i int) string {
		if i >= len(row) {
			return ""
		}
		return runewidth.Truncate(row[i], maxCellWidth, "…")
	}

	widths := make([]int, cols)
	for _, row := range append([][]string{headers}, rows...) {
		for i := 0; i < cols; i++ {
			widths[i] = max(widths[i], runewidth.StringWidth(cell(row, i)))
		}
	}

	w := bufio.NewWriter(out)
	writeRow := func(row []string) {
		for i := 0; i < cols; i++ {
			value := cell(row, i)
			w.WriteString(value)
			if i < cols-1 {
				w.WriteString(strings.Repeat(" ", widths[i]-runewidth.StringWidth(value)+tablePadding))
			}
		}
		w.WriteString("\n")
	}
	if len(headers) > 0 {
		writeRow(headers)
	}
	for _, row := range rows {
		writeRow(row)
	}
	return w.Flush()
}

// writeJSON prints v indented.
func writeJSON(out io.Writer, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Exitf(ExitCodeFailure, "encode output: %v", err)
	}
	_, err = fmt.Fprintln(out, string(payload))
	return err
}

// formatAge renders t relative to now, e.g. "5m ago".
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
