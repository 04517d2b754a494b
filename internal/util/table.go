package util

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

// TableColumn represents a column in a table
type TableColumn struct {
	Header string
	Key    string // key to extract from row map
	Width  int    // calculated width
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// RenderTable writes rows as an aligned table. Column widths are computed
// from the visible width of headers and values, ignoring ANSI color codes.
func RenderTable(w io.Writer, columns []TableColumn, rows []map[string]interface{}) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No data to display")
		return
	}

	for i := range columns {
		columns[i].Width = displayWidth(columns[i].Header)
		for _, row := range rows {
			if value, ok := row[columns[i].Key]; ok {
				if width := displayWidth(fmt.Sprintf("%v", value)); width > columns[i].Width {
					columns[i].Width = width
				}
			}
		}
	}

	headers := make([]string, 0, len(columns))
	separators := make([]string, 0, len(columns))
	for _, col := range columns {
		headers = append(headers, padToWidth(col.Header, col.Width))
		separators = append(separators, strings.Repeat("-", col.Width))
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(headers, " "), " "))
	fmt.Fprintln(w, strings.Join(separators, " "))

	for _, row := range rows {
		parts := make([]string, 0, len(columns))
		for _, col := range columns {
			value := ""
			if v, ok := row[col.Key]; ok {
				value = fmt.Sprintf("%v", v)
			}
			parts = append(parts, padToWidth(value, col.Width))
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, " "), " "))
	}
}

// displayWidth counts runes after stripping ANSI escape codes
func displayWidth(s string) int {
	return len([]rune(ansiPattern.ReplaceAllString(s, "")))
}

func padToWidth(s string, width int) string {
	if w := displayWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
