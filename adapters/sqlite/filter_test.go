package sqlite

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/strata/store"
)

func TestTranslatorWhere(t *testing.T) {
	tr := translator{idField: "id"}
	tests := []struct {
		name   string
		filter store.Filter
		sql    string
		args   []any
	}{
		{"empty", store.Filter{}, "", nil},
		{"equality", store.Filter{"name": "ada"}, "json_extract(doc, '$.name') = ?", []any{"ada"}},
		{"nested path", store.Filter{"meta.level": 3}, "json_extract(doc, '$.meta.level') = ?", []any{3}},
		{"null", store.Filter{"deletedAt": nil}, "json_extract(doc, '$.deletedAt') IS NULL", nil},
		{"id column", store.Filter{"id": map[string]any{"$in": []any{1, "b"}}}, "id IN (?, ?)", []any{"1", "b"}},
		{
			"range",
			store.Filter{"age": map[string]any{"$gte": 18, "$lt": 65}},
			"json_extract(doc, '$.age') >= ? AND json_extract(doc, '$.age') < ?",
			[]any{18, 65},
		},
		{
			"ne",
			store.Filter{"status": map[string]any{"$ne": "archived"}},
			"(json_extract(doc, '$.status') IS NULL OR json_extract(doc, '$.status') <> ?)",
			[]any{"archived"},
		},
		{"exists", store.Filter{"email": map[string]any{"$exists": true}}, "json_extract(doc, '$.email') IS NOT NULL", nil},
		{"empty in", store.Filter{"x": map[string]any{"$in": []any{}}}, "1 = 0", nil},
		{"regex", store.Filter{"name": map[string]any{"$regex": "^a"}}, "json_extract(doc, '$.name') REGEXP ?", []any{"^a"}},
		{"object equality", store.Filter{"tags": []any{"a"}}, "json_extract(doc, '$.tags') = json(?)", []any{`["a"]`}},
		{
			"or",
			store.Filter{"$or": []any{map[string]any{"a": 1}, map[string]any{"b": 2}}},
			"((json_extract(doc, '$.a') = ?) OR (json_extract(doc, '$.b') = ?))",
			[]any{1, 2},
		},
		{
			"sorted keys",
			store.Filter{"b": 2, "a": 1},
			"json_extract(doc, '$.a') = ? AND json_extract(doc, '$.b') = ?",
			[]any{1, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tr.where(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestTranslatorRejectsBadInput(t *testing.T) {
	tr := translator{idField: "id"}
	for _, f := range []store.Filter{
		{"x'; DROP TABLE entities; --": 1},
		{"a": map[string]any{"$near": 1}},
		{"a": map[string]any{"$in": 3}},
		{"a": map[string]any{"$regex": "("}},
		{"$or": "nope"},
	} {
		_, _, err := tr.where(f)
		assert.True(t, errors.Is(err, store.ErrInvalidParams), "filter %v: got %v", f, err)
	}
}

func TestTranslatorSearchAndOrder(t *testing.T) {
	tr := translator{idField: "id"}

	sql, args, err := tr.search("50%", []string{"title", "body"})
	require.NoError(t, err)
	assert.Equal(t, `(json_extract(doc, '$.title') LIKE ? ESCAPE '\' OR json_extract(doc, '$.body') LIKE ? ESCAPE '\')`, sql)
	assert.Equal(t, []any{`%50\%%`, `%50\%%`}, args)

	order, err := tr.orderBy([]string{"name", "-age"})
	require.NoError(t, err)
	assert.Equal(t, "json_extract(doc, '$.name') ASC, json_extract(doc, '$.age') DESC, rowid ASC", order)
}
