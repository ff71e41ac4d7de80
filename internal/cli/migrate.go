package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/app"
	"github.com/askdb/askdb/internal/migrations"
)

type migrateOptions struct {
	steps int
}

func registerMigrateCmd(parent *cobra.Command, sess *session) {
	opts := &migrateOptions{}

	cmd := &cobra.Command{
		Use:       "migrate <up|down|status>",
		Short:     "Manage the query history schema",
		ValidArgs: []string{"up", "down", "status"},
		Example: `  # Apply every pending migration
  askdb migrate up

  # Roll back the latest migration
  askdb migrate down --steps 1`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := args[0]
			if direction != "up" && direction != "down" && direction != "status" {
				return &usageError{err: fmt.Errorf("invalid direction %q (up, down, status)", direction)}
			}

			ctx := cmd.Context()
			db, dialect, err := app.OpenAuditDB(ctx, sess.opts.Config)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			runner := migrations.NewRunner(dialect)
			out := cmd.OutOrStdout()
			switch direction {
			case "up":
				applied, err := runner.Up(ctx, db, opts.steps)
				if err != nil {
					return fmt.Errorf("migration up failed: %w", err)
				}
				_, _ = fmt.Fprintf(out, "applied %d migration(s)\n", applied)
			case "down":
				rolledBack, err := runner.Down(ctx, db, opts.steps)
				if err != nil {
					return fmt.Errorf("migration down failed: %w", err)
				}
				_, _ = fmt.Fprintf(out, "rolled back %d migration(s)\n", rolledBack)
			default:
				statuses, err := runner.Status(ctx, db)
				if err != nil {
					return fmt.Errorf("migration status failed: %w", err)
				}
				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
				for _, status := range statuses {
					_, _ = fmt.Fprintf(tw, "%d\t%s\t%v\n", status.Version, status.Name, status.Applied)
				}
				return tw.Flush()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.steps, "steps", 0, "Number of migrations; 0 means all for up and 1 for down")

	parent.AddCommand(cmd)
}
