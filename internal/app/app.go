// Package app assembles the question answering pipeline from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/askdb/askdb/internal/answer"
	"github.com/askdb/askdb/internal/audit"
	"github.com/askdb/askdb/internal/clarify"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/dbconn"
	"github.com/askdb/askdb/internal/exemplar"
	"github.com/askdb/askdb/internal/generator"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/repair"
	"github.com/askdb/askdb/internal/sandbox"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/schema/introspect"
	"github.com/askdb/askdb/internal/storage/s3"
	"github.com/askdb/askdb/internal/validator"
)

type App struct {
	Config    config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Dialect   dbconn.Dialect
	Catalog   *schema.Catalog
	Validator *validator.Validator
	Policy    sandbox.Policy
	Sandbox   *sandbox.Sandbox
	Audit     audit.Sink
	Pipeline  *pipeline.Service
}

// Build opens the target database read-only and wires every pipeline stage.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	logger = observability.Discard(logger)
	dialect, err := dbconn.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	db, err := dbconn.Open(ctx, dbconn.Config{
		Dialect:         dialect,
		DSN:             cfg.Database.DSN,
		ReadOnly:        true,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open target database: %w", err)
	}

	app := &App{Config: cfg, Logger: logger, DB: db, Dialect: dialect}
	if err := app.wire(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config
	introspector, err := introspect.New(a.DB, a.Dialect, "")
	if err != nil {
		return fmt.Errorf("create introspector: %w", err)
	}
	a.Catalog = schema.NewCatalog(introspector, a.Logger)

	completer, err := NewCompleter(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	if completer == nil {
		a.Logger.WarnContext(ctx, "completion_not_configured", slog.String("provider", cfg.LLM.Provider))
	}

	exemplars, err := newExemplarSource(cfg.Exemplars)
	if err != nil {
		return err
	}
	joins, err := newJoinTemplates(cfg.Exemplars)
	if err != nil {
		return err
	}

	a.Validator = validator.New(validator.Options{
		Dialect:           a.Dialect,
		StrictColumns:     cfg.Repair.StrictColumns,
		AllowedStatements: cfg.Sandbox.AllowList,
	})
	gen := generator.New(completer, generator.Options{
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
		Logger:    a.Logger,
	})
	loop := repair.NewLoop(gen, a.Validator, repair.Options{MaxAttempts: cfg.Repair.MaxAttempts, Logger: a.Logger})

	a.Policy = sandbox.PolicyFromConfig(cfg.Sandbox)
	a.Sandbox = sandbox.New(a.DB, sandbox.Options{Dialect: a.Dialect, WrapLimit: cfg.Sandbox.WrapLimit, Logger: a.Logger})

	a.Audit, err = newAuditSink(ctx, cfg, a.Logger)
	if err != nil {
		return err
	}

	a.Pipeline = &pipeline.Service{
		Catalog:       a.Catalog,
		Exemplars:     exemplars,
		ExemplarCount: cfg.Exemplars.Count,
		Loop:          loop,
		Sandbox:       a.Sandbox,
		Policy:        a.Policy,
		Composer: answer.New(completer, answer.Options{
			PreviewRows: cfg.Answer.PreviewRows,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
			Logger:      a.Logger,
		}),
		Audit:  a.Audit,
		Logger: a.Logger,
	}
	if joins != nil {
		a.Pipeline.Exemplars = exemplar.Chain{joins, exemplars}
		a.Pipeline.Joins = joins
	}
	if cfg.Clarify.Enabled {
		a.Pipeline.Clarifier = clarify.NewDetector()
	}
	return nil
}

// Close flushes the audit sink and releases the target database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Audit != nil {
		if err := a.Audit.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close audit sink: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close target database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newExemplarSource(cfg config.ExemplarConfig) (exemplar.Source, error) {
	if cfg.File == "" {
		return exemplar.Default(), nil
	}
	corpus, err := exemplar.LoadFile(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("load exemplars: %w", err)
	}
	return corpus, nil
}

// newJoinTemplates returns nil when join templates are disabled.
func newJoinTemplates(cfg config.ExemplarConfig) (*exemplar.JoinTemplates, error) {
	if !cfg.JoinTemplates {
		return nil, nil
	}
	if cfg.JoinTemplatesFile == "" {
		return exemplar.DefaultJoinTemplates(), nil
	}
	templates, err := exemplar.LoadJoinTemplates(cfg.JoinTemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("load join templates: %w", err)
	}
	return templates, nil
}

func newAuditSink(ctx context.Context, cfg config.Config, logger *slog.Logger) (audit.Sink, error) {
	switch cfg.Audit.Sink {
	case config.AuditSinkSQL:
		dialect, err := dbconn.ParseDialect(cfg.Audit.Driver)
		if err != nil {
			return nil, err
		}
		sink, err := audit.OpenSQLSink(ctx, dbconn.Config{Dialect: dialect, DSN: cfg.Audit.DSN, MaxOpenConns: 4})
		if err != nil {
			return nil, err
		}
		return sink, nil
	case config.AuditSinkObjectStore:
		store, err := s3.New(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("create audit object store: %w", err)
		}
		sink, err := audit.NewObjectSink(store, audit.ObjectSinkOptions{
			Service:   cfg.Service.Name,
			BatchSize: cfg.Audit.BatchSize,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return audit.NopSink{}, nil
	}
}

// OpenAuditDB opens the history database for schema management.
func OpenAuditDB(ctx context.Context, cfg config.Config) (*sql.DB, dbconn.Dialect, error) {
	if cfg.Audit.DSN == "" {
		return nil, "", fmt.Errorf("ASKDB_AUDIT_DSN is required")
	}
	dialect, err := dbconn.ParseDialect(cfg.Audit.Driver)
	if err != nil {
		return nil, "", err
	}
	db, err := dbconn.Open(ctx, dbconn.Config{Dialect: dialect, DSN: cfg.Audit.DSN, MaxOpenConns: 2})
	if err != nil {
		return nil, "", fmt.Errorf("open audit database: %w", err)
	}
	return db, dialect, nil
}
