package store

import (
	"context"
	"fmt"
	"reflect"
)

// Resolve looks entities up by the primary field in params. A slice id
// resolves many entities; a scalar resolves one. With mapping requested the
// result is keyed by id.
func (s *Store) Resolve(ctx context.Context, params Params, opts CallOptions) (*Resolved, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}

	origID, ok := params[s.config.Primary.Name]
	if !ok || origID == nil {
		return nil, &MissingIDError{Field: s.config.Primary.Name, Params: params}
	}

	ids, multi := idList(origID)
	q, err := s.Sanitize(params, true, false)
	if err != nil {
		return nil, err
	}
	if err := s.applyScopes(ctx, q); err != nil {
		return nil, err
	}

	// 1. Decode ids and target the primary column
	var raw []Entity
	if multi {
		decoded := make([]any, 0, len(ids))
		for _, id := range ids {
			d, err := s.sanitizeID(id, opts)
			if err != nil {
				return nil, err
			}
			decoded = append(decoded, d)
		}
		q.Filter = deepCopyFilter(q.Filter)
		q.Filter[s.config.Primary.Column] = map[string]any{"$in": decoded}
		if raw, err = adapter.Find(ctx, q); err != nil {
			return nil, err
		}
	} else {
		decoded, err := s.sanitizeID(origID, opts)
		if err != nil {
			return nil, err
		}
		q.Filter = deepCopyFilter(q.Filter)
		q.Filter[s.config.Primary.Column] = decoded
		one, err := adapter.FindOne(ctx, q.Filter)
		if err != nil {
			return nil, err
		}
		if one != nil {
			raw = []Entity{one}
		}
	}

	if len(raw) == 0 && opts.ThrowIfNotExist {
		return nil, &NotFoundError{ID: origID}
	}

	// 2. Transform, keeping raw aligned for id extraction
	transformed, err := s.transform(ctx, raw, q, opts)
	if err != nil {
		return nil, err
	}

	res := &Resolved{Multi: multi}
	switch {
	case q.Mapping:
		res.Mapping = make(map[string]Entity, len(raw))
		for i, doc := range raw {
			id, ok := s.rawID(doc)
			if !ok {
				continue
			}
			// Only the mapping keys are re-encoded; plain results rely on the
			// transformer for that.
			key, err := s.encodeID(id, opts)
			if err != nil {
				return nil, err
			}
			if i < len(transformed) {
				res.Mapping[fmt.Sprint(key)] = transformed[i]
			}
		}
	case !multi:
		if len(transformed) > 0 {
			res.Entity = transformed[0]
		}
	default:
		res.Entities = transformed
	}
	return res, nil
}

// rawID reads the storage-level id of an untransformed entity.
func (s *Store) rawID(doc Entity) (any, bool) {
	if v, ok := doc[s.config.Primary.Column]; ok {
		return v, true
	}
	v, ok := doc[s.config.Primary.Name]
	return v, ok
}

// idList flattens a slice-typed id into its elements.
func idList(id any) ([]any, bool) {
	switch v := id.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(id)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// existing resolves the stored entity for an id-targeted mutation.
func (s *Store) existing(ctx context.Context, id any, opts CallOptions) (Entity, error) {
	res, err := s.Resolve(ctx, Params{s.config.Primary.Name: id}, CallOptions{
		SkipTransform:   true,
		ThrowIfNotExist: true,
		SecureID:        opts.SecureID,
	})
	if err != nil {
		return nil, err
	}
	if res.Entity == nil {
		return nil, &NotFoundError{ID: id}
	}
	return res.Entity, nil
}
