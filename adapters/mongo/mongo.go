// Package mongo provides a store.Adapter over a MongoDB collection.
//
// Filters use the MongoDB operator grammar directly. Values of the primary
// field that are 24-character hex strings are converted to ObjectIDs on the
// way in, and ObjectIDs are returned as hex strings on the way out.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/jacentio/strata/internal/match"
	"github.com/jacentio/strata/store"
)

// Config holds configuration for the Adapter.
type Config struct {
	URI        string
	Database   string
	Collection string

	// IDField is the document key.
	// Default: "_id"
	IDField string

	// Client shares an existing connection. The adapter does not
	// disconnect a client it did not create.
	Client *mongodriver.Client
}

// Adapter implements store.Adapter over one collection.
type Adapter struct {
	config Config

	mu         sync.RWMutex
	client     *mongodriver.Client
	owned      bool
	collection *mongodriver.Collection
}

// New creates a new, unconnected Adapter.
func New(config Config) *Adapter {
	if config.IDField == "" {
		config.IDField = "_id"
	}
	return &Adapter{config: config}
}

// Connect dials the server, unless a client was supplied, and pings the
// primary.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.collection != nil {
		return nil
	}

	client, owned := a.config.Client, false
	if client == nil {
		var err error
		client, err = mongodriver.Connect(options.Client().ApplyURI(a.config.URI))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		owned = true
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		if owned {
			_ = client.Disconnect(ctx)
		}
		return fmt.Errorf("ping mongo: %w", err)
	}

	a.client, a.owned = client, owned
	a.collection = client.Database(a.config.Database).Collection(a.config.Collection)
	return nil
}

// Disconnect closes the client if the adapter created it.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.collection == nil {
		return nil
	}
	a.collection = nil
	if !a.owned {
		return nil
	}
	return a.client.Disconnect(ctx)
}

func (a *Adapter) coll() (*mongodriver.Collection, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.collection == nil {
		return nil, store.ErrNotConnected
	}
	return a.collection, nil
}

// Find returns the documents matching q.
func (a *Adapter) Find(ctx context.Context, q *store.Query) ([]store.Entity, error) {
	cur, err := a.FindStream(ctx, q)
	if err != nil {
		return nil, err
	}
	return store.Collect(ctx, cur)
}

// FindOne returns the first matching document, or nil.
func (a *Adapter) FindOne(ctx context.Context, filter store.Filter) (store.Entity, error) {
	coll, err := a.coll()
	if err != nil {
		return nil, err
	}
	var raw bson.M
	err = coll.FindOne(ctx, a.filter(filter)).Decode(&raw)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find one: %w", err)
	}
	return normalizeDoc(raw), nil
}

// FindStream returns a cursor over the server-side result set. A search
// without fields is evaluated client-side, so its page is cut locally.
func (a *Adapter) FindStream(ctx context.Context, q *store.Query) (store.Cursor, error) {
	coll, err := a.coll()
	if err != nil {
		return nil, err
	}
	filter := a.searchFilter(a.filter(q.Filter), q)
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(sortDoc(q.Sort))
	}

	local := q.Search != "" && len(q.SearchFields) == 0
	if !local {
		if q.Offset > 0 {
			opts.SetSkip(int64(q.Offset))
		}
		if q.Limit > 0 {
			opts.SetLimit(int64(q.Limit))
		}
	}

	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	if !local {
		return &cursor{cur: cur}, nil
	}

	docs, err := store.Collect(ctx, &cursor{cur: cur})
	if err != nil {
		return nil, err
	}
	kept := docs[:0]
	for _, d := range docs {
		if match.Search(d, q.Search, nil) {
			kept = append(kept, d)
		}
	}
	return store.NewSliceCursor(match.Page(kept, q.Offset, q.Limit)), nil
}

// Count returns the number of documents matching q.
func (a *Adapter) Count(ctx context.Context, q *store.Query) (int64, error) {
	if q.Search != "" && len(q.SearchFields) == 0 {
		docs, err := a.Find(ctx, &store.Query{Filter: q.Filter, Search: q.Search})
		return int64(len(docs)), err
	}
	coll, err := a.coll()
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, a.searchFilter(a.filter(q.Filter), q))
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Insert stores e, generating an ObjectID when the key is missing.
func (a *Adapter) Insert(ctx context.Context, e store.Entity) (store.Entity, error) {
	docs, err := a.InsertMany(ctx, []store.Entity{e})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

// InsertMany stores es with an ordered insert. MongoDB keeps the documents
// written before a failure.
func (a *Adapter) InsertMany(ctx context.Context, es []store.Entity) ([]store.Entity, error) {
	coll, err := a.coll()
	if err != nil {
		return nil, err
	}
	docs := make([]any, len(es))
	for i, e := range es {
		doc := a.document(e)
		if id, ok := doc[a.config.IDField]; !ok || id == nil || id == "" {
			doc[a.config.IDField] = bson.NewObjectID()
		}
		docs[i] = doc
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %v", store.ErrAlreadyExists, err)
		}
		return nil, fmt.Errorf("insert: %w", err)
	}
	out := make([]store.Entity, len(docs))
	for i, d := range docs {
		out[i] = normalizeDoc(d.(bson.M))
	}
	return out, nil
}

// UpdateByID applies patch with $set and returns the updated document.
func (a *Adapter) UpdateByID(ctx context.Context, id any, patch store.Entity) (store.Entity, error) {
	coll, err := a.coll()
	if err != nil {
		return nil, err
	}
	set := a.document(patch)
	delete(set, a.config.IDField)
	if len(set) == 0 {
		doc, err := a.FindOne(ctx, store.Filter{a.config.IDField: id})
		if err == nil && doc == nil {
			err = fmt.Errorf("%w: %v", store.ErrNotFound, id)
		}
		return doc, err
	}
	res := coll.FindOneAndUpdate(ctx, a.byID(id), bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After))
	return a.decodeResult(res, id)
}

// ReplaceByID overwrites the document, keeping its key.
func (a *Adapter) ReplaceByID(ctx context.Context, id any, e store.Entity) (store.Entity, error) {
	coll, err := a.coll()
	if err != nil {
		return nil, err
	}
	doc := a.document(e)
	delete(doc, a.config.IDField)
	res := coll.FindOneAndReplace(ctx, a.byID(id), doc,
		options.FindOneAndReplace().SetReturnDocument(options.After))
	return a.decodeResult(res, id)
}

// RemoveByID deletes the document and returns its last state.
func (a *Adapter) RemoveByID(ctx context.Context, id any) (store.Entity, error) {
	coll, err := a.coll()
	if err != nil {
		return nil, err
	}
	return a.decodeResult(coll.FindOneAndDelete(ctx, a.byID(id)), id)
}

// Clear deletes every document in the collection.
func (a *Adapter) Clear(ctx context.Context) (int64, error) {
	coll, err := a.coll()
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("delete many: %w", err)
	}
	return res.DeletedCount, nil
}

// CreateIndex creates an ascending index. Creating an identical index
// again is a no-op on the server.
func (a *Adapter) CreateIndex(ctx context.Context, idx store.Index) error {
	coll, err := a.coll()
	if err != nil {
		return err
	}
	if len(idx.Fields) == 0 {
		return fmt.Errorf("%w: index has no fields", store.ErrInvalidParams)
	}
	opts := options.Index().SetUnique(idx.Unique)
	if idx.Name != "" {
		opts.SetName(idx.Name)
	}
	keys := bson.D{}
	for _, f := range idx.Fields {
		dir := 1
		if strings.HasPrefix(f, "-") {
			dir = -1
			f = strings.TrimPrefix(f, "-")
		}
		keys = append(keys, bson.E{Key: f, Value: dir})
	}
	if _, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{Keys: keys, Options: opts}); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (a *Adapter) decodeResult(res *mongodriver.SingleResult, id any) (store.Entity, error) {
	var raw bson.M
	err := res.Decode(&raw)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return normalizeDoc(raw), nil
}

func (a *Adapter) byID(id any) bson.M {
	return bson.M{a.config.IDField: toObjectID(id)}
}

// document converts an entity for writing, restoring the key's ObjectID.
func (a *Adapter) document(e store.Entity) bson.M {
	doc := bson.M{}
	for k, v := range e {
		doc[k] = v
	}
	if id, ok := doc[a.config.IDField]; ok {
		doc[a.config.IDField] = toObjectID(id)
	}
	return doc
}

// filter converts a store filter, mapping key values to ObjectIDs.
func (a *Adapter) filter(f store.Filter) bson.M {
	out := bson.M{}
	for k, v := range f {
		switch {
		case k == a.config.IDField:
			out[k] = idCondition(v)
		case k == "$and" || k == "$or" || k == "$nor":
			list, ok := v.([]any)
			if !ok {
				out[k] = v
				continue
			}
			subs := bson.A{}
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					subs = append(subs, a.filter(m))
				} else {
					subs = append(subs, item)
				}
			}
			out[k] = subs
		default:
			out[k] = v
		}
	}
	return out
}

// searchFilter adds a case-insensitive regex over the search fields.
func (a *Adapter) searchFilter(filter bson.M, q *store.Query) bson.M {
	if q.Search == "" || len(q.SearchFields) == 0 {
		return filter
	}
	pattern := regexp.QuoteMeta(q.Search)
	or := bson.A{}
	for _, f := range q.SearchFields {
		or = append(or, bson.M{f: bson.M{"$regex": pattern, "$options": "i"}})
	}
	if len(filter) == 0 {
		return bson.M{"$or": or}
	}
	return bson.M{"$and": bson.A{filter, bson.M{"$or": or}}}
}

func idCondition(v any) any {
	ops, ok := v.(map[string]any)
	if !ok {
		return toObjectID(v)
	}
	out := bson.M{}
	for op, arg := range ops {
		switch list := arg.(type) {
		case []any:
			ids := make(bson.A, len(list))
			for i, item := range list {
				ids[i] = toObjectID(item)
			}
			out[op] = ids
		case []string:
			ids := make(bson.A, len(list))
			for i, item := range list {
				ids[i] = toObjectID(item)
			}
			out[op] = ids
		default:
			out[op] = toObjectID(arg)
		}
	}
	return out
}

// toObjectID converts 24-character hex strings; other values pass through.
func toObjectID(v any) any {
	s, ok := v.(string)
	if !ok || len(s) != 24 {
		return v
	}
	oid, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return v
	}
	return oid
}

func sortDoc(fields []string) bson.D {
	doc := bson.D{}
	for _, f := range fields {
		dir := 1
		if strings.HasPrefix(f, "-") {
			dir = -1
			f = strings.TrimPrefix(f, "-")
		}
		doc = append(doc, bson.E{Key: f, Value: dir})
	}
	return doc
}

// normalizeDoc converts driver types to plain Go values.
func normalizeDoc(m bson.M) store.Entity {
	out := make(store.Entity, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch val := v.(type) {
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC()
	case bson.D:
		out := make(map[string]any, len(val))
		for _, elem := range val {
			out[elem.Key] = normalize(elem.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}

// cursor adapts a driver cursor to store.Cursor.
type cursor struct {
	cur     *mongodriver.Cursor
	current store.Entity
	err     error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.cur.Next(ctx) {
		if c.err == nil {
			c.err = c.cur.Err()
		}
		return false
	}
	var raw bson.M
	if err := c.cur.Decode(&raw); err != nil {
		c.err = fmt.Errorf("decode: %w", err)
		return false
	}
	c.current = normalizeDoc(raw)
	return true
}

func (c *cursor) Entity() store.Entity { return c.current }

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
