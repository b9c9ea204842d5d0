package store_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/jacentio/strata/adapters/memory"
	"github.com/jacentio/strata/store"
)

type failAfter struct {
	n    int
	seen int
}

func (f *failAfter) Transform(_ context.Context, docs []store.Entity, _ *store.Query) ([]store.Entity, error) {
	f.seen += len(docs)
	if f.seen > f.n {
		return nil, errors.New("transform failed")
	}
	return docs, nil
}

// brokenCursor yields n entities, then fails the way a dropped connection would.
type brokenCursor struct {
	*store.SliceCursor
	n    int
	seen int
	err  error
}

func (c *brokenCursor) Next(ctx context.Context) bool {
	if c.seen >= c.n {
		c.err = errSourceLost
		return false
	}
	if !c.SliceCursor.Next(ctx) {
		return false
	}
	c.seen++
	return true
}

func (c *brokenCursor) Err() error { return c.err }

var errSourceLost = errors.New("connection reset")

// brokenStreamAdapter serves FindStream from a cursor that fails after n items.
type brokenStreamAdapter struct {
	*memory.Adapter
	n int
}

func (a *brokenStreamAdapter) FindStream(ctx context.Context, q *store.Query) (store.Cursor, error) {
	docs, err := a.Adapter.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	return &brokenCursor{SliceCursor: store.NewSliceCursor(docs), n: a.n}, nil
}

func TestCollect(t *testing.T) {
	cur := store.NewSliceCursor([]store.Entity{{"id": 1}, {"id": 2}})
	docs, err := store.Collect(context.Background(), cur)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(docs, "id"); !reflect.DeepEqual(got, []any{1, 2}) {
		t.Errorf("expected [1 2], got %v", got)
	}
	if cur.Next(context.Background()) {
		t.Error("expected cursor to be closed after Collect")
	}
}

func TestAll_StopsEarly(t *testing.T) {
	cur := store.NewSliceCursor([]store.Entity{{"id": 1}, {"id": 2}, {"id": 3}})
	var seen int
	for _, err := range store.All(context.Background(), cur) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("expected 2 entities, got %d", seen)
	}
}

func TestAll_ReportsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Collect(ctx, store.NewSliceCursor([]store.Entity{{"id": 1}}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMap_StopsOnError(t *testing.T) {
	src := store.NewSliceCursor([]store.Entity{{"n": 1}, {"n": 2}, {"n": 3}})
	cur := store.Map(src, func(_ context.Context, e store.Entity) (store.Entity, error) {
		if e["n"] == 2 {
			return nil, errors.New("bad entity")
		}
		return e, nil
	})

	docs, err := store.Collect(context.Background(), cur)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(docs) != 1 {
		t.Errorf("expected 1 entity before the error, got %d", len(docs))
	}
}

func TestStream_PreservesOrderAndTransforms(t *testing.T) {
	a := memory.New(memory.Config{IDField: "_id"})
	var docs []store.Entity
	for i := 0; i < 25; i++ {
		docs = append(docs, store.Entity{"_id": fmt.Sprintf("e%02d", i), "n": i})
	}
	seed(t, a, docs...)
	s := newTestStore(t, a, func(c *store.Config) {
		c.Primary = store.PrimaryField{Name: "id", Column: "_id"}
	})

	cur, err := s.Stream(context.Background(), store.Params{"sort": "n", "pageSize": 25}, store.CallOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := store.Collect(context.Background(), cur)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 25 {
		t.Fatalf("expected 25 entities, got %d", len(out))
	}
	for i, doc := range out {
		if doc["id"] != fmt.Sprintf("e%02d", i) {
			t.Fatalf("position %d: expected e%02d, got %v", i, i, doc)
		}
	}
}

func TestStream_TransformErrorEndsStream(t *testing.T) {
	a := memory.New(memory.Config{})
	seed(t, a, store.Entity{"id": "1"}, store.Entity{"id": "2"}, store.Entity{"id": "3"})
	s := newTestStore(t, a, func(c *store.Config) { c.Transformer = &failAfter{n: 1} })

	cur, err := s.Stream(context.Background(), nil, store.CallOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := store.Collect(context.Background(), cur)
	if err == nil {
		t.Fatal("expected the transform error to surface")
	}
	if len(out) != 1 {
		t.Errorf("expected 1 entity before the error, got %d", len(out))
	}
}

func TestStream_SkipTransform(t *testing.T) {
	a := memory.New(memory.Config{IDField: "_id"})
	seed(t, a, store.Entity{"_id": "x"})
	s := newTestStore(t, a, func(c *store.Config) {
		c.Primary = store.PrimaryField{Name: "id", Column: "_id"}
	})

	cur, err := s.Stream(context.Background(), nil, store.CallOptions{SkipTransform: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := store.Collect(context.Background(), cur)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0]["_id"] != "x" {
		t.Errorf("expected raw entity, got %v", out)
	}
}

func TestMap_SourceErrorEndsPipeline(t *testing.T) {
	src := &brokenCursor{SliceCursor: store.NewSliceCursor([]store.Entity{{"n": 1}, {"n": 2}, {"n": 3}}), n: 2}
	cur := store.Map(src, func(_ context.Context, e store.Entity) (store.Entity, error) { return e, nil })

	docs, err := store.Collect(context.Background(), cur)
	if !errors.Is(err, errSourceLost) {
		t.Fatalf("expected source error, got %v", err)
	}
	if got := ids(docs, "n"); !reflect.DeepEqual(got, []any{1, 2}) {
		t.Errorf("expected [1 2] before the error, got %v", got)
	}
}

func TestStream_SourceErrorReachesConsumer(t *testing.T) {
	a := &brokenStreamAdapter{Adapter: memory.New(memory.Config{IDField: "_id"}), n: 2}
	seed(t, a, store.Entity{"_id": "1"}, store.Entity{"_id": "2"}, store.Entity{"_id": "3"})
	s := newTestStore(t, a, func(c *store.Config) {
		c.Primary = store.PrimaryField{Name: "id", Column: "_id"}
	})

	cur, err := s.Stream(context.Background(), store.Params{"sort": "_id"}, store.CallOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := store.Collect(context.Background(), cur)
	if !errors.Is(err, errSourceLost) {
		t.Fatalf("expected source error, got %v", err)
	}
	if got := ids(out, "id"); !reflect.DeepEqual(got, []any{"1", "2"}) {
		t.Errorf("expected transformed [1 2] before the error, got %v", got)
	}
}
