package generator

import (
	"strings"

	"github.com/askdb/askdb/internal/exemplar"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/validator"
)

// PriorAttempt carries the previous candidate into a repair prompt.
type PriorAttempt struct {
	SQL        string
	Violations []validator.Violation
}

type Request struct {
	Question     string
	Schema       *schema.Descriptor
	Exemplars    []exemplar.Pair
	PriorAttempt *PriorAttempt
}

const preamble = `You are an expert SQL analyst. Translate the user's question into one read-only SQL SELECT statement for the database described below.
Rules:
- Use only the tables and columns listed in the schema.
- Qualify columns with a table alias when more than one table is involved.
- Do not use common table expressions (WITH); use subqueries instead.
- Never modify data or schema.
- Return the statement in a single ` + "```sql" + ` code block.`

// RenderPrompt is a pure function of req. Sections always appear in the same order.
func RenderPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n### Schema\n")
	b.WriteString(schema.Render(req.Schema, schema.RenderOptions{}))

	if len(req.Exemplars) > 0 {
		b.WriteString("\n### Examples\n")
		for i, pair := range req.Exemplars {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("Question: ")
			b.WriteString(pair.Question)
			b.WriteString("\n```sql\n")
			b.WriteString(strings.TrimSpace(pair.SQL))
			b.WriteString("\n```\n")
		}
	}

	b.WriteString("\n### Question\n")
	b.WriteString(strings.TrimSpace(req.Question))
	b.WriteString("\n")

	if prior := req.PriorAttempt; prior != nil {
		b.WriteString("\n### Previous attempt\n")
		b.WriteString("Your previous answer was rejected.\n```sql\n")
		b.WriteString(strings.TrimSpace(prior.SQL))
		b.WriteString("\n```\nProblems found:\n")
		for _, violation := range prior.Violations {
			b.WriteString("- [")
			b.WriteString(string(violation.Kind))
			b.WriteString("] ")
			b.WriteString(violation.Detail)
			b.WriteString("\n")
		}
		b.WriteString("Write a corrected statement that fixes every problem above.\n")
	}
	return b.String()
}
