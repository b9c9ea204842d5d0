package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacentio/strata/adapters/memory"
	"github.com/jacentio/strata/store"
)

// --- Test Adapters ---

// recordingAdapter wraps the memory adapter and records write calls.
type recordingAdapter struct {
	*memory.Adapter

	mu        sync.Mutex
	calls     []string
	lastPatch store.Entity
	lastID    any
}

func newRecordingAdapter(idField string) *recordingAdapter {
	return &recordingAdapter{Adapter: memory.New(memory.Config{IDField: idField})}
}

func (r *recordingAdapter) record(call string, id any, patch store.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	r.lastID = id
	r.lastPatch = patch.Clone()
}

func (r *recordingAdapter) called(call string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (r *recordingAdapter) Insert(ctx context.Context, e store.Entity) (store.Entity, error) {
	r.record("Insert", nil, e)
	return r.Adapter.Insert(ctx, e)
}

func (r *recordingAdapter) InsertMany(ctx context.Context, es []store.Entity) ([]store.Entity, error) {
	r.record("InsertMany", nil, nil)
	return r.Adapter.InsertMany(ctx, es)
}

func (r *recordingAdapter) UpdateByID(ctx context.Context, id any, patch store.Entity) (store.Entity, error) {
	r.record("UpdateByID", id, patch)
	return r.Adapter.UpdateByID(ctx, id, patch)
}

func (r *recordingAdapter) ReplaceByID(ctx context.Context, id any, e store.Entity) (store.Entity, error) {
	r.record("ReplaceByID", id, e)
	return r.Adapter.ReplaceByID(ctx, id, e)
}

func (r *recordingAdapter) RemoveByID(ctx context.Context, id any) (store.Entity, error) {
	r.record("RemoveByID", id, nil)
	return r.Adapter.RemoveByID(ctx, id)
}

// flakyAdapter fails its first connection attempts and counts lifecycle calls.
type flakyAdapter struct {
	*memory.Adapter

	failures      atomic.Int32
	connects      atomic.Int32
	disconnects   atomic.Int32
	disconnectErr error

	mu      sync.Mutex
	indexes []store.Index
}

func newFlakyAdapter(failures int) *flakyAdapter {
	f := &flakyAdapter{Adapter: memory.New(memory.Config{})}
	f.failures.Store(int32(failures))
	return f
}

func (f *flakyAdapter) Connect(ctx context.Context) error {
	f.connects.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection refused")
	}
	return f.Adapter.Connect(ctx)
}

func (f *flakyAdapter) Disconnect(ctx context.Context) error {
	f.disconnects.Add(1)
	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	return f.Adapter.Disconnect(ctx)
}

func (f *flakyAdapter) CreateIndex(ctx context.Context, idx store.Index) error {
	f.mu.Lock()
	f.indexes = append(f.indexes, idx)
	f.mu.Unlock()
	return f.Adapter.CreateIndex(ctx, idx)
}

// --- Fixtures ---

// rejectField fails validation of payloads carrying the named field.
func rejectField(field string) store.ValidatorFunc {
	return func(_ context.Context, payload store.Entity, _ store.ValidateOptions) (store.Entity, error) {
		if _, ok := payload[field]; ok {
			return nil, &store.ValidationError{Fields: map[string]string{field: "not allowed"}}
		}
		return payload, nil
	}
}

// softDeleteValidator stamps deletedAt on remove payloads.
func softDeleteValidator(_ context.Context, payload store.Entity, opts store.ValidateOptions) (store.Entity, error) {
	if opts.Type == store.ValidateRemove {
		return store.Entity{"deletedAt": time.Now().Unix()}, nil
	}
	return payload, nil
}

// newTestStore builds a store over a single shared adapter.
func newTestStore(t *testing.T, adapter store.Adapter, mutate func(*store.Config)) *store.Store {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.Adapter = func(context.Context, string) (store.Adapter, error) { return adapter, nil }
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := store.New(cfg)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { _ = s.DisconnectAll(context.Background()) })
	return s
}

// seed inserts entities straight into the adapter.
func seed(t *testing.T, a store.Adapter, docs ...store.Entity) {
	t.Helper()
	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := a.InsertMany(ctx, docs); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func ids(docs []store.Entity, field string) []any {
	out := make([]any, len(docs))
	for i, d := range docs {
		out[i] = d[field]
	}
	return out
}
