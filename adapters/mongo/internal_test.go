package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jacentio/strata/store"
)

const hexID = "65a1f0c2e4b0a1b2c3d4e5f6"

func TestToObjectID(t *testing.T) {
	oid, ok := toObjectID(hexID).(bson.ObjectID)
	require.True(t, ok)
	assert.Equal(t, hexID, oid.Hex())

	assert.Equal(t, "short", toObjectID("short"))
	assert.Equal(t, "zzzzzzzzzzzzzzzzzzzzzzzz", toObjectID("zzzzzzzzzzzzzzzzzzzzzzzz"))
	assert.Equal(t, 42, toObjectID(42))
}

func TestFilterConvertsKeys(t *testing.T) {
	a := New(Config{})
	oid, _ := bson.ObjectIDFromHex(hexID)

	got := a.filter(store.Filter{
		"_id":    map[string]any{"$in": []any{hexID, "plain"}},
		"status": "active",
		"$or": []any{
			map[string]any{"_id": hexID},
			map[string]any{"age": map[string]any{"$gt": 3}},
		},
	})

	assert.Equal(t, bson.M{"$in": bson.A{oid, "plain"}}, got["_id"])
	assert.Equal(t, "active", got["status"])
	assert.Equal(t, bson.A{
		bson.M{"_id": oid},
		bson.M{"age": map[string]any{"$gt": 3}},
	}, got["$or"])
}

func TestDocumentRestoresObjectID(t *testing.T) {
	a := New(Config{})
	oid, _ := bson.ObjectIDFromHex(hexID)

	doc := a.document(store.Entity{"_id": hexID, "name": "x"})
	assert.Equal(t, oid, doc["_id"])
	assert.Equal(t, "x", doc["name"])
}

func TestSearchFilter(t *testing.T) {
	a := New(Config{})

	assert.Equal(t, bson.M{"a": 1}, a.searchFilter(bson.M{"a": 1}, &store.Query{}))

	got := a.searchFilter(bson.M{}, &store.Query{Search: "a.b", SearchFields: []string{"title"}})
	assert.Equal(t, bson.M{"$or": bson.A{bson.M{"title": bson.M{"$regex": `a\.b`, "$options": "i"}}}}, got)

	got = a.searchFilter(bson.M{"a": 1}, &store.Query{Search: "x", SearchFields: []string{"t"}})
	assert.Contains(t, got, "$and")
}

func TestSortDoc(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "name", Value: 1}, {Key: "age", Value: -1}}, sortDoc([]string{"name", "-age"}))
}

func TestNormalizeDoc(t *testing.T) {
	oid, _ := bson.ObjectIDFromHex(hexID)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	got := normalizeDoc(bson.M{
		"_id":     oid,
		"created": bson.NewDateTimeFromTime(at),
		"meta":    bson.D{{Key: "owner", Value: oid}},
		"tags":    bson.A{"a", bson.D{{Key: "k", Value: int32(1)}}},
	})

	assert.Equal(t, store.Entity{
		"_id":     hexID,
		"created": at,
		"meta":    map[string]any{"owner": hexID},
		"tags":    []any{"a", map[string]any{"k": int32(1)}},
	}, got)
}

func TestNotConnected(t *testing.T) {
	a := New(Config{})
	_, err := a.Count(context.Background(), &store.Query{})
	assert.ErrorIs(t, err, store.ErrNotConnected)
	assert.NoError(t, a.Disconnect(context.Background()))
}
