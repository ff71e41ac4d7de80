package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/repair"
)

type askOptions struct {
	output  string
	maxRows int
}

func registerAskCmd(parent *cobra.Command, sess *session) {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a natural language question against the database",
		Example: `  # Ask a question
  askdb ask "how many albums are there"

  # Full response as JSON
  askdb ask -o json "which genres have the most tracks"`,
		Args: minimumArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(opts.output); err != nil {
				return err
			}
			application, err := sess.application(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := application.Pipeline.AnswerQuestion(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return runAsk(cmd.OutOrStdout(), resp, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", outputTable, "Output format (table, json, yaml)")
	cmd.Flags().IntVar(&opts.maxRows, "rows", 20, "Result rows to print in table output")

	parent.AddCommand(cmd)
}

func runAsk(w io.Writer, resp pipeline.Response, opts *askOptions) error {
	if opts.output == outputTable {
		if err := printAnswer(w, resp, opts.maxRows); err != nil {
			return err
		}
	} else if err := printStructured(w, opts.output, resp); err != nil {
		return err
	}

	if resp.Status != repair.StatusSucceeded {
		return &exitError{code: ExitRejected, msg: fmt.Sprintf("status: %s", resp.Status)}
	}
	return nil
}

func printAnswer(w io.Writer, resp pipeline.Response, maxRows int) error {
	_, _ = fmt.Fprintln(w, resp.Answer)
	_, _ = fmt.Fprintln(w)
	if resp.SQL != nil {
		_, _ = fmt.Fprintf(w, "SQL:      %s\n", *resp.SQL)
	}
	_, _ = fmt.Fprintf(w, "Status:   %s (%d attempt(s), %s)\n", resp.Status, len(resp.Attempts), resp.Duration.Round(time.Millisecond))
	if resp.Clarification != nil {
		for _, c := range resp.Clarification.Clarifications {
			_, _ = fmt.Fprintf(w, "Clarify:  %s\n", c.Question)
		}
	}
	if resp.Result == nil || !resp.Result.OK || len(resp.Result.Rows) == 0 {
		return nil
	}

	result := resp.Result
	suffix := ""
	if result.Truncated {
		suffix = ", truncated"
	}
	_, _ = fmt.Fprintf(w, "Rows:     %d%s\n\n", result.RowCount, suffix)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.ToUpper(strings.Join(result.Columns, "\t")))
	for i, row := range result.Rows {
		if maxRows > 0 && i >= maxRows {
			break
		}
		cells := make([]string, len(result.Columns))
		for j, column := range result.Columns {
			cells[j] = formatCell(row[column])
		}
		_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if maxRows > 0 && len(result.Rows) > maxRows {
		_, _ = fmt.Fprintf(w, "... %d more row(s)\n", len(result.Rows)-maxRows)
	}
	return nil
}

func formatCell(value any) string {
	if value == nil {
		return "NULL"
	}
	text := fmt.Sprint(value)
	text = strings.NewReplacer("\t", " ", "\n", " ").Replace(text)
	if len(text) > 60 {
		text = text[:57] + "..."
	}
	return text
}
