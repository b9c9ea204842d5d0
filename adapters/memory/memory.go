// Package memory provides an in-memory store.Adapter with optional YAML file
// persistence.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/strata/internal/match"
	"github.com/jacentio/strata/store"
)

// Config holds configuration for the Adapter.
type Config struct {
	// IDField is the storage-level primary field.
	// Default: "id"
	IDField string

	// Path persists the data set as YAML when set. The file is loaded on
	// Connect and rewritten after every mutation.
	Path string

	// Persister overrides the file persistence built from Path.
	Persister Persister
}

// Adapter keeps entities in insertion order, guarded by a RWMutex.
type Adapter struct {
	config Config

	mu        sync.RWMutex
	connected bool
	docs      map[string]store.Entity
	order     []string
	indexes   []store.Index
}

// New creates a new, unconnected Adapter.
func New(config Config) *Adapter {
	if config.IDField == "" {
		config.IDField = "id"
	}
	if config.Persister == nil && config.Path != "" {
		config.Persister = NewFilePersister(config.Path)
	}
	return &Adapter{
		config: config,
		docs:   make(map[string]store.Entity),
	}
}

// Connect loads persisted entities, if any.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.config.Persister != nil {
		docs, err := a.config.Persister.Load(ctx)
		if err != nil {
			return fmt.Errorf("load entities: %w", err)
		}
		a.docs = make(map[string]store.Entity, len(docs))
		a.order = a.order[:0]
		for _, doc := range docs {
			key := keyOf(doc[a.config.IDField])
			if _, dup := a.docs[key]; !dup {
				a.order = append(a.order, key)
			}
			a.docs[key] = doc
		}
	}
	a.connected = true
	return nil
}

// Disconnect implements store.Disconnecter.
func (a *Adapter) Disconnect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// Find returns matching entities, sorted and paginated.
func (a *Adapter) Find(_ context.Context, q *store.Query) ([]store.Entity, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return nil, store.ErrNotConnected
	}
	return a.query(q)
}

// query must be called with a.mu held.
func (a *Adapter) query(q *store.Query) ([]store.Entity, error) {
	var out []store.Entity
	for _, key := range a.order {
		doc := a.docs[key]
		ok, err := a.matches(doc, q.Filter, q.Search, q.SearchFields)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc.Clone())
		}
	}
	match.Sort(out, q.Sort)
	return match.Page(out, q.Offset, q.Limit), nil
}

func (a *Adapter) matches(doc store.Entity, filter store.Filter, search string, fields []string) (bool, error) {
	ok, err := match.Matches(doc, filter)
	if err != nil || !ok {
		return false, err
	}
	return match.Search(doc, search, fields), nil
}

// FindOne returns the first matching entity in insertion order, or nil.
func (a *Adapter) FindOne(_ context.Context, filter store.Filter) (store.Entity, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return nil, store.ErrNotConnected
	}
	for _, key := range a.order {
		doc := a.docs[key]
		ok, err := match.Matches(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			return doc.Clone(), nil
		}
	}
	return nil, nil
}

// FindStream returns a cursor over a snapshot of the matching entities.
func (a *Adapter) FindStream(ctx context.Context, q *store.Query) (store.Cursor, error) {
	docs, err := a.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	return store.NewSliceCursor(docs), nil
}

// Count returns the number of matching entities, ignoring pagination.
func (a *Adapter) Count(_ context.Context, q *store.Query) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return 0, store.ErrNotConnected
	}
	var n int64
	for _, key := range a.order {
		ok, err := a.matches(a.docs[key], q.Filter, q.Search, q.SearchFields)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Insert stores e, generating a UUID when it has no id.
func (a *Adapter) Insert(ctx context.Context, e store.Entity) (store.Entity, error) {
	out, err := a.InsertMany(ctx, []store.Entity{e})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// InsertMany stores every entity or none.
func (a *Adapter) InsertMany(ctx context.Context, es []store.Entity) ([]store.Entity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, store.ErrNotConnected
	}

	docs := make([]store.Entity, 0, len(es))
	batch := make(map[string]bool, len(es))
	for _, e := range es {
		doc := e.Clone()
		if doc == nil {
			doc = store.Entity{}
		}
		if doc[a.config.IDField] == nil {
			doc[a.config.IDField] = uuid.NewString()
		}
		key := keyOf(doc[a.config.IDField])
		if _, exists := a.docs[key]; exists || batch[key] {
			return nil, fmt.Errorf("%w: %v", store.ErrAlreadyExists, doc[a.config.IDField])
		}
		if err := a.checkUnique(doc, key, docs); err != nil {
			return nil, err
		}
		batch[key] = true
		docs = append(docs, doc)
	}

	prevLen := len(a.order)
	out := make([]store.Entity, 0, len(docs))
	for _, doc := range docs {
		key := keyOf(doc[a.config.IDField])
		a.docs[key] = doc
		a.order = append(a.order, key)
		out = append(out, doc.Clone())
	}
	if err := a.persist(ctx); err != nil {
		for _, key := range a.order[prevLen:] {
			delete(a.docs, key)
		}
		a.order = a.order[:prevLen]
		return nil, err
	}
	return out, nil
}

// UpdateByID merges patch into the stored entity.
func (a *Adapter) UpdateByID(ctx context.Context, id any, patch store.Entity) (store.Entity, error) {
	return a.write(ctx, id, func(old store.Entity) store.Entity {
		doc := old.Clone()
		for k, v := range patch {
			doc[k] = v
		}
		return doc
	})
}

// ReplaceByID overwrites the stored entity, keeping its id.
func (a *Adapter) ReplaceByID(ctx context.Context, id any, e store.Entity) (store.Entity, error) {
	return a.write(ctx, id, func(old store.Entity) store.Entity {
		doc := e.Clone()
		if doc == nil {
			doc = store.Entity{}
		}
		doc[a.config.IDField] = old[a.config.IDField]
		return doc
	})
}

func (a *Adapter) write(ctx context.Context, id any, fn func(old store.Entity) store.Entity) (store.Entity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, store.ErrNotConnected
	}

	key := keyOf(id)
	old, ok := a.docs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, id)
	}
	doc := fn(old)
	if err := a.checkUnique(doc, key, nil); err != nil {
		return nil, err
	}
	a.docs[key] = doc
	if err := a.persist(ctx); err != nil {
		a.docs[key] = old
		return nil, err
	}
	return doc.Clone(), nil
}

// RemoveByID deletes the entity and returns it.
func (a *Adapter) RemoveByID(ctx context.Context, id any) (store.Entity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, store.ErrNotConnected
	}

	key := keyOf(id)
	old, ok := a.docs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, id)
	}
	prevOrder := a.order
	delete(a.docs, key)
	a.order = make([]string, 0, len(prevOrder))
	for _, k := range prevOrder {
		if k != key {
			a.order = append(a.order, k)
		}
	}
	if err := a.persist(ctx); err != nil {
		a.docs[key] = old
		a.order = prevOrder
		return nil, err
	}
	return old, nil
}

// Clear removes every entity.
func (a *Adapter) Clear(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return 0, store.ErrNotConnected
	}
	prevDocs, prevOrder := a.docs, a.order
	a.docs = make(map[string]store.Entity)
	a.order = nil
	if err := a.persist(ctx); err != nil {
		a.docs, a.order = prevDocs, prevOrder
		return 0, err
	}
	return int64(len(prevDocs)), nil
}

// CreateIndex records the index. Unique indexes are enforced on writes.
func (a *Adapter) CreateIndex(_ context.Context, idx store.Index) error {
	if len(idx.Fields) == 0 {
		return fmt.Errorf("memory: index %q has no fields", idx.Name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, existing := range a.indexes {
		if indexKey(existing) == indexKey(idx) {
			return nil
		}
	}
	if idx.Unique {
		seen := make(map[string]string)
		for _, key := range a.order {
			sig := uniqueSig(a.docs[key], idx)
			if other, dup := seen[sig]; dup {
				return fmt.Errorf("%w: unique index %s violated by %s and %s",
					store.ErrAlreadyExists, indexKey(idx), other, key)
			}
			seen[sig] = key
		}
	}
	a.indexes = append(a.indexes, idx)
	return nil
}

// checkUnique must be called with a.mu held. pending holds documents of the
// same batch not yet stored.
func (a *Adapter) checkUnique(doc store.Entity, key string, pending []store.Entity) error {
	for _, idx := range a.indexes {
		if !idx.Unique {
			continue
		}
		sig := uniqueSig(doc, idx)
		for k, other := range a.docs {
			if k != key && uniqueSig(other, idx) == sig {
				return fmt.Errorf("%w: unique index %s", store.ErrAlreadyExists, indexKey(idx))
			}
		}
		for _, other := range pending {
			if uniqueSig(other, idx) == sig {
				return fmt.Errorf("%w: unique index %s", store.ErrAlreadyExists, indexKey(idx))
			}
		}
	}
	return nil
}

// persist must be called with a.mu held.
func (a *Adapter) persist(ctx context.Context) error {
	if a.config.Persister == nil {
		return nil
	}
	docs := make([]store.Entity, 0, len(a.order))
	for _, key := range a.order {
		docs = append(docs, a.docs[key])
	}
	if err := a.config.Persister.Save(ctx, docs); err != nil {
		return fmt.Errorf("save entities: %w", err)
	}
	return nil
}

func keyOf(id any) string {
	return fmt.Sprint(id)
}

func indexKey(idx store.Index) string {
	if idx.Name != "" {
		return idx.Name
	}
	return strings.Join(idx.Fields, "_")
}

func uniqueSig(doc store.Entity, idx store.Index) string {
	parts := make([]string, len(idx.Fields))
	for i, f := range idx.Fields {
		v, _ := match.Lookup(doc, strings.TrimPrefix(f, "-"))
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x00")
}
