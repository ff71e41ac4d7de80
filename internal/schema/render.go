package schema

import (
	"strings"
)

type RenderOptions struct {
	IncludeTypes bool
}

// Render produces the prompt form of the descriptor: one block per table,
// one line per column, with key markers.
func Render(desc *Descriptor, opts RenderOptions) string {
	var b strings.Builder
	for i, table := range desc.Tables() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Table: ")
		b.WriteString(table.Name)
		b.WriteString("\n")
		for _, column := range table.Columns {
			b.WriteString("  - ")
			b.WriteString(column.Name)
			if opts.IncludeTypes && column.Type != "" {
				b.WriteString(" ")
				b.WriteString(column.Type)
			}
			var markers []string
			if column.PrimaryKey {
				markers = append(markers, "PK")
			}
			if column.ForeignKey != nil {
				markers = append(markers, "FK -> "+column.ForeignKey.Table+"."+column.ForeignKey.Column)
			}
			if len(markers) > 0 {
				b.WriteString(" (")
				b.WriteString(strings.Join(markers, ", "))
				b.WriteString(")")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
