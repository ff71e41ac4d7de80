package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/audit"
	"github.com/askdb/askdb/internal/storage"
	"github.com/askdb/askdb/internal/storage/s3"
)

const dateLayout = "2006-01-02"

type auditListOptions struct {
	output string
	date   string
}

func registerAuditCmd(parent *cobra.Command, sess *session) {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect audit batches archived in the object store",
	}
	registerAuditListCmd(cmd, sess)
	registerAuditShowCmd(cmd, sess)
	parent.AddCommand(cmd)
}

func registerAuditListCmd(parent *cobra.Command, sess *session) {
	opts := &auditListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the audit batches flushed on one day",
		Example: `  # Batches flushed today (UTC)
  askdb audit list

  # A given day as JSON
  askdb audit list --date 2026-02-19 -o json`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(opts.output); err != nil {
				return err
			}
			day := time.Now().UTC()
			if opts.date != "" {
				parsed, err := time.Parse(dateLayout, opts.date)
				if err != nil {
					return &usageError{err: fmt.Errorf("invalid --date %q (want YYYY-MM-DD)", opts.date)}
				}
				day = parsed
			}
			archive, err := sess.archive(cmd.Context())
			if err != nil {
				return err
			}
			batches, err := archive.Batches(cmd.Context(), day)
			if err != nil {
				return err
			}
			return printBatches(cmd.OutOrStdout(), opts.output, batches)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", outputTable, "Output format (table, json, yaml)")
	cmd.Flags().StringVar(&opts.date, "date", "", "UTC day to list, as YYYY-MM-DD (default today)")

	parent.AddCommand(cmd)
}

func registerAuditShowCmd(parent *cobra.Command, sess *session) {
	var output string

	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Print the records of one audit batch",
		Example: `  # Records of one batch listed by "askdb audit list"
  askdb audit show askdb/audit/date=2026-02-19/hour=09/batch-1771494300000-00000.parquet`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			archive, err := sess.archive(cmd.Context())
			if err != nil {
				return err
			}
			records, err := archive.ReadBatch(cmd.Context(), args[0])
			if errors.Is(err, storage.ErrObjectNotFound) {
				return fmt.Errorf("audit batch %q not found", args[0])
			}
			if err != nil {
				return err
			}
			if output != outputTable {
				return printStructured(cmd.OutOrStdout(), output, records)
			}
			return printRecords(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format (table, json, yaml)")

	parent.AddCommand(cmd)
}

// archive opens the object store without building the application, so
// reading history never touches the target database.
func (s *session) archive(ctx context.Context) (*audit.Archive, error) {
	cfg := s.opts.Config
	open := s.opts.OpenObjectStore
	if open == nil {
		open = func(ctx context.Context) (storage.ObjectReader, error) {
			return s3.New(ctx, cfg.ObjectStore)
		}
	}
	store, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	return audit.NewArchive(store, cfg.Service.Name)
}

func printBatches(w io.Writer, output string, batches []storage.ObjectInfo) error {
	if output != outputTable {
		if batches == nil {
			batches = []storage.ObjectInfo{}
		}
		return printStructured(w, output, batches)
	}
	if len(batches) == 0 {
		_, _ = fmt.Fprintln(w, "no audit batches")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
	for _, batch := range batches {
		modified := "-"
		if !batch.LastModified.IsZero() {
			modified = batch.LastModified.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", batch.Key, batch.Size, modified)
	}
	return tw.Flush()
}

func printRecords(w io.Writer, records []audit.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "REQUEST ID\tCREATED\tSTATUS\tATTEMPTS\tROWS\tDURATION\tQUESTION")
	for _, record := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			record.RequestID,
			record.CreatedAt.Format(time.RFC3339),
			record.Status,
			len(record.Attempts),
			record.RowCount,
			record.Duration.Round(time.Millisecond),
			formatCell(strings.TrimSpace(record.Question)),
		)
	}
	return tw.Flush()
}
