package answer

import (
	"fmt"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/sandbox"
)

// Preview renders up to limit rows of result as a markdown table.
func Preview(result sandbox.Result, limit int) string {
	if len(result.Rows) == 0 {
		return "(no rows)"
	}
	if limit <= 0 || limit > len(result.Rows) {
		limit = len(result.Rows)
	}

	var b strings.Builder
	b.WriteString("| ")
	for i, column := range result.Columns {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(escapeCell(column))
	}
	b.WriteString(" |\n|")
	for range result.Columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")

	for _, row := range result.Rows[:limit] {
		b.WriteString("| ")
		for i, column := range result.Columns {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(escapeCell(formatValue(row[column])))
		}
		b.WriteString(" |\n")
	}
	if hidden := result.RowCount - limit; hidden > 0 {
		fmt.Fprintf(&b, "\n... %d more row(s) not shown\n", hidden)
	}
	return b.String()
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return typed.Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%g", typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func escapeCell(value string) string {
	value = strings.ReplaceAll(value, "|", `\|`)
	return strings.ReplaceAll(value, "\n", " ")
}
