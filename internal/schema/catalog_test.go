package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeIntrospector struct {
	calls  atomic.Int32
	tables []Table
	err    error
	delay  time.Duration
}

func (f *fakeIntrospector) Introspect(ctx context.Context) ([]Table, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.tables, nil
}

func TestDescribeBuildsLazilyOnce(t *testing.T) {
	intro := &fakeIntrospector{tables: chinookTables()}
	catalog := NewCatalog(intro, nil)
	if intro.calls.Load() != 0 {
		t.Fatal("NewCatalog() should not introspect")
	}

	first, err := catalog.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	second, err := catalog.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if first != second {
		t.Fatal("Describe() should return the cached snapshot")
	}
	if got := intro.calls.Load(); got != 1 {
		t.Fatalf("introspect calls = %d, want 1", got)
	}
}

func TestDescribeConcurrentCallersShareOneBuild(t *testing.T) {
	intro := &fakeIntrospector{tables: chinookTables(), delay: 20 * time.Millisecond}
	catalog := NewCatalog(intro, nil)

	var wg sync.WaitGroup
	results := make([]*Descriptor, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			desc, err := catalog.Describe(context.Background())
			if err != nil {
				t.Errorf("Describe() error = %v", err)
				return
			}
			results[i] = desc
		}(i)
	}
	wg.Wait()

	for _, desc := range results {
		if desc != results[0] {
			t.Fatal("concurrent callers observed different snapshots")
		}
	}
	if got := intro.calls.Load(); got != 1 {
		t.Fatalf("introspect calls = %d, want 1", got)
	}
}

func TestDescribeWaiterSurvivesInitiatorCancellation(t *testing.T) {
	intro := &fakeIntrospector{tables: chinookTables(), delay: 200 * time.Millisecond}
	catalog := NewCatalog(intro, nil)

	initiatorCtx, cancelInitiator := context.WithCancel(context.Background())
	defer cancelInitiator()
	initiatorErr := make(chan error, 1)
	go func() {
		_, err := catalog.Describe(initiatorCtx)
		initiatorErr <- err
	}()
	deadline := time.Now().Add(time.Second)
	for intro.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("build never started")
		}
		time.Sleep(time.Millisecond)
	}

	waiterResult := make(chan error, 1)
	go func() {
		desc, err := catalog.Describe(context.Background())
		if err == nil && desc.Len() == 0 {
			err = errors.New("empty descriptor")
		}
		waiterResult <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancelInitiator()

	if err := <-initiatorErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("initiator Describe() error = %v, want canceled", err)
	}
	if err := <-waiterResult; err != nil {
		t.Fatalf("waiter Describe() error = %v", err)
	}
	if got := intro.calls.Load(); got != 1 {
		t.Fatalf("introspect calls = %d, want 1", got)
	}
}

func TestRefreshPublishesNewSnapshot(t *testing.T) {
	intro := &fakeIntrospector{tables: chinookTables()}
	catalog := NewCatalog(intro, nil)

	old, err := catalog.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	intro.tables = append(chinookTables(), Table{Name: "Artist", Columns: []Column{{Name: "ArtistId"}, {Name: "Name"}}})

	fresh, err := catalog.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if old.HasTable("Artist") {
		t.Fatal("old snapshot must not change")
	}
	if !fresh.HasTable("Artist") {
		t.Fatal("refreshed snapshot should include Artist")
	}
	current, _ := catalog.Describe(context.Background())
	if current != fresh {
		t.Fatal("Describe() should return the refreshed snapshot")
	}
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	intro := &fakeIntrospector{tables: chinookTables()}
	catalog := NewCatalog(intro, nil)
	old, err := catalog.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	intro.err = errors.New("connection lost")
	if _, err := catalog.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	current, err := catalog.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if current != old {
		t.Fatal("failed refresh must keep the previous snapshot")
	}
}

func TestDescribeWrapsIntrospectionFailure(t *testing.T) {
	cause := errors.New("permission denied")
	catalog := NewCatalog(&fakeIntrospector{err: cause}, nil)

	_, err := catalog.Describe(context.Background())
	var catalogErr *CatalogError
	if !errors.As(err, &catalogErr) {
		t.Fatalf("Describe() error = %v, want *CatalogError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("Describe() error = %v, want wrapped cause", err)
	}
	if catalogErr.Op != "describe" {
		t.Fatalf("Op = %q", catalogErr.Op)
	}
}

func TestDescribeHonorsCancellation(t *testing.T) {
	catalog := NewCatalog(&fakeIntrospector{tables: chinookTables(), delay: time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := catalog.Describe(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Describe() error = %v, want deadline exceeded", err)
	}
}
