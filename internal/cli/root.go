// Package cli is the askdb command line surface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/app"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/storage"
)

const (
	ExitOK       = 0
	ExitError    = 1
	ExitUsage    = 2
	ExitRejected = 3
)

type Options struct {
	Config config.Config
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
	// OpenObjectStore replaces the S3 store the audit commands read from.
	OpenObjectStore func(ctx context.Context) (storage.ObjectReader, error)
}

// exitError carries a non-zero exit code for an outcome that is not a
// program error, such as an exhausted repair loop.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

// session lazily builds the application so that commands which only
// need configuration never open a database.
type session struct {
	opts Options
	app  *app.App
}

func (s *session) application(ctx context.Context) (*app.App, error) {
	if s.app != nil {
		return s.app, nil
	}
	built, err := app.Build(ctx, s.opts.Config, s.opts.Logger)
	if err != nil {
		return nil, err
	}
	s.app = built
	return built, nil
}

func (s *session) close(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	return s.app.Close(ctx)
}

func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	sess := &session{opts: opts}
	root := newRootCmd(sess)
	root.SetArgs(args)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	err := root.ExecuteContext(ctx)
	if closeErr := sess.close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
		err = closeErr
	}
	return exitCode(err, opts.Stderr)
}

func newRootCmd(sess *session) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "askdb",
		Short:         "Answer questions about a SQL database in natural language",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	registerAskCmd(rootCmd, sess)
	registerSchemaCmd(rootCmd, sess)
	registerValidateCmd(rootCmd, sess)
	registerCheckCmd(rootCmd, sess)
	registerMigrateCmd(rootCmd, sess)
	registerAuditCmd(rootCmd, sess)

	return rootCmd
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.msg != "" {
			_, _ = fmt.Fprintln(stderr, exitErr.msg)
		}
		return exitErr.code
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) || strings.HasPrefix(err.Error(), "unknown command") {
		_, _ = fmt.Fprintf(stderr, "usage error: %v\n", err)
		return ExitUsage
	}
	_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
	return ExitError
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func minimumArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}
