package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/schema"
)

type schemaOptions struct {
	output  string
	refresh bool
	types   bool
}

func registerSchemaCmd(parent *cobra.Command, sess *session) {
	opts := &schemaOptions{}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema the model is shown",
		Example: `  # Prompt form
  askdb schema

  # Column metadata as YAML, re-read from the database
  askdb schema --refresh -o yaml`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(opts.output); err != nil {
				return err
			}
			application, err := sess.application(cmd.Context())
			if err != nil {
				return err
			}
			var desc *schema.Descriptor
			if opts.refresh {
				desc, err = application.Catalog.Refresh(cmd.Context())
			} else {
				desc, err = application.Catalog.Describe(cmd.Context())
			}
			if err != nil {
				return err
			}

			if opts.output == outputTable {
				_, err := fmt.Fprint(cmd.OutOrStdout(), schema.Render(desc, schema.RenderOptions{IncludeTypes: opts.types}))
				return err
			}
			return printStructured(cmd.OutOrStdout(), opts.output, desc.Tables())
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", outputTable, "Output format (table, json, yaml)")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "Re-read metadata from the database")
	cmd.Flags().BoolVar(&opts.types, "types", false, "Include column types in the prompt form")

	parent.AddCommand(cmd)
}
