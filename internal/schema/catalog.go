package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/askdb/askdb/internal/observability"
)

// BuildTimeout bounds one shared introspection run.
const BuildTimeout = 30 * time.Second

// Introspector reads table and column metadata from a live database.
type Introspector interface {
	Introspect(ctx context.Context) ([]Table, error)
}

type CatalogError struct {
	Op  string
	Err error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("schema catalog %s: %v", e.Op, e.Err)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// Catalog caches one Descriptor per process. Refresh publishes a new
// snapshot atomically; readers keep whatever snapshot they already hold.
type Catalog struct {
	introspector Introspector
	logger       *slog.Logger
	current      atomic.Pointer[Descriptor]
	builds       singleflight.Group
}

func NewCatalog(introspector Introspector, logger *slog.Logger) *Catalog {
	return &Catalog{introspector: introspector, logger: observability.Discard(logger)}
}

func (c *Catalog) Describe(ctx context.Context) (*Descriptor, error) {
	if desc := c.current.Load(); desc != nil {
		return desc, nil
	}
	return c.build(ctx, "describe", func(desc *Descriptor) *Descriptor {
		if c.current.CompareAndSwap(nil, desc) {
			return desc
		}
		return c.current.Load()
	})
}

func (c *Catalog) Refresh(ctx context.Context) (*Descriptor, error) {
	return c.build(ctx, "refresh", func(desc *Descriptor) *Descriptor {
		c.current.Store(desc)
		return desc
	})
}

func (c *Catalog) build(ctx context.Context, op string, publish func(*Descriptor) *Descriptor) (*Descriptor, error) {
	if c.introspector == nil {
		return nil, &CatalogError{Op: op, Err: fmt.Errorf("introspector is required")}
	}
	ch := c.builds.DoChan(op, func() (any, error) {
		// The build is shared by every waiting caller, so it must not die
		// with the one that happened to start it.
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), BuildTimeout)
		defer cancel()

		start := time.Now()
		tables, err := c.introspector.Introspect(buildCtx)
		if err != nil {
			observability.IncrementCatalogRefresh("error")
			return nil, err
		}
		desc, err := NewDescriptor(tables)
		if err != nil {
			observability.IncrementCatalogRefresh("error")
			return nil, err
		}
		desc = publish(desc)
		observability.IncrementCatalogRefresh("ok")
		c.logger.InfoContext(buildCtx, "schema_catalog_built",
			slog.String("op", op),
			slog.Int("tables", desc.Len()),
			slog.String("duration", time.Since(start).String()),
		)
		return desc, nil
	})

	select {
	case <-ctx.Done():
		return nil, &CatalogError{Op: op, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			c.logger.ErrorContext(ctx, "schema_catalog_failed", slog.String("op", op), slog.String("error", res.Err.Error()))
			return nil, &CatalogError{Op: op, Err: res.Err}
		}
		return res.Val.(*Descriptor), nil
	}
}
