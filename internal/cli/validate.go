package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/sandbox"
	"github.com/askdb/askdb/internal/validator"
)

type validateOptions struct {
	output string
}

func registerValidateCmd(parent *cobra.Command, sess *session) {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate <sql>",
		Short: "Check a SQL statement against the live schema",
		Example: `  askdb validate "SELECT AlbumName FROM Album"`,
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(opts.output); err != nil {
				return err
			}
			application, err := sess.application(cmd.Context())
			if err != nil {
				return err
			}
			desc, err := application.Catalog.Describe(cmd.Context())
			if err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), application.Validator.Validate(args[0], desc), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", outputTable, "Output format (table, json, yaml)")

	parent.AddCommand(cmd)
}

func runValidate(w io.Writer, verdict validator.Verdict, opts *validateOptions) error {
	if opts.output != outputTable {
		if err := printStructured(w, opts.output, verdict); err != nil {
			return err
		}
	} else if verdict.OK {
		_, _ = fmt.Fprintln(w, "ok")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "KIND\tDETAIL")
		for _, violation := range verdict.Violations {
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", violation.Kind, violation.Detail)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if !verdict.OK {
		return &exitError{code: ExitRejected, msg: fmt.Sprintf("%d violation(s)", len(verdict.Violations))}
	}
	return nil
}

type checkResult struct {
	Allowed bool   `json:"allowed"`
	Leading string `json:"leading_keyword,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type checkOptions struct {
	output string
}

func registerCheckCmd(parent *cobra.Command, sess *session) {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check <sql>",
		Short: "Run the execution policy checks without touching the database",
		Example: `  askdb check "DELETE FROM Album"`,
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(opts.output); err != nil {
				return err
			}
			policy := sandbox.PolicyFromConfig(sess.opts.Config.Sandbox)
			result := checkResult{Allowed: true}
			leading, err := policy.Check(args[0])
			if err != nil {
				result = checkResult{Reason: err.Error()}
			} else {
				result.Leading = leading
			}
			return runCheck(cmd.OutOrStdout(), result, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", outputTable, "Output format (table, json, yaml)")

	parent.AddCommand(cmd)
}

func runCheck(w io.Writer, result checkResult, opts *checkOptions) error {
	switch {
	case opts.output != outputTable:
		if err := printStructured(w, opts.output, result); err != nil {
			return err
		}
	case result.Allowed:
		_, _ = fmt.Fprintf(w, "allowed: %s\n", result.Leading)
	default:
		_, _ = fmt.Fprintf(w, "rejected: %s\n", result.Reason)
	}
	if !result.Allowed {
		return &exitError{code: ExitRejected}
	}
	return nil
}
