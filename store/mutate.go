package store

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// rawKey marks an update payload as adapter-ready, skipping validation.
const rawKey = "$raw"

// Create validates payload, inserts it and reports the change.
func (s *Store) Create(ctx context.Context, payload Entity, opts CallOptions) (Entity, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := s.config.Validator.Validate(ctx, payload.Clone(), ValidateOptions{Type: ValidateCreate})
	if err != nil {
		return nil, err
	}
	created, err := adapter.Insert(ctx, doc)
	if err != nil {
		return nil, err
	}

	result, err := s.transformOne(ctx, created, nil, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Notify(ctx, ChangeEvent{Type: ChangeCreate, Data: result}); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateMany validates every payload in parallel, then inserts them in one
// adapter call. Nothing is inserted if any payload fails validation.
func (s *Store) CreateMany(ctx context.Context, payloads []Entity, opts CallOptions) ([]Entity, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}

	docs := make([]Entity, len(payloads))
	g, gctx := errgroup.WithContext(ctx)
	for i, payload := range payloads {
		g.Go(func() error {
			doc, err := s.config.Validator.Validate(gctx, payload.Clone(), ValidateOptions{Type: ValidateCreate})
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	created, err := adapter.InsertMany(ctx, docs)
	if err != nil {
		return nil, err
	}

	result, err := s.transform(ctx, created, nil, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Notify(ctx, ChangeEvent{Type: ChangeCreate, Batch: true, Data: result}); err != nil {
		return nil, err
	}
	return result, nil
}

// Update patches the entity identified by the primary field in params with the
// remaining params. Setting "$raw" to true skips validation.
func (s *Store) Update(ctx context.Context, params Params, opts CallOptions) (Entity, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.idParam(params)
	if err != nil {
		return nil, err
	}

	// 1. Existence check precedes validation
	old, err := s.existing(ctx, id, opts)
	if err != nil {
		return nil, err
	}

	// 2. Validate unless the caller asserts the payload is adapter-ready
	payload := Entity(deepCopyMap(params))
	var doc Entity
	if raw, _ := payload[rawKey].(bool); raw {
		delete(payload, rawKey)
		doc = payload
	} else {
		delete(payload, rawKey)
		doc, err = s.config.Validator.Validate(ctx, payload, ValidateOptions{Type: ValidateUpdate, OldEntity: old})
		if err != nil {
			return nil, err
		}
	}
	s.stripPrimary(doc)

	// 3. Write by the decoded id
	rawID, err := s.sanitizeID(id, opts)
	if err != nil {
		return nil, err
	}
	updated, err := adapter.UpdateByID(ctx, rawID, doc)
	if err != nil {
		return nil, err
	}

	result, err := s.transformOne(ctx, updated, nil, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Notify(ctx, ChangeEvent{Type: ChangeUpdate, Data: result}); err != nil {
		return nil, err
	}
	return result, nil
}

// Replace overwrites the entity identified by the primary field in params.
func (s *Store) Replace(ctx context.Context, params Params, opts CallOptions) (Entity, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.idParam(params)
	if err != nil {
		return nil, err
	}

	old, err := s.existing(ctx, id, opts)
	if err != nil {
		return nil, err
	}

	doc, err := s.config.Validator.Validate(ctx, Entity(deepCopyMap(params)), ValidateOptions{Type: ValidateReplace, OldEntity: old})
	if err != nil {
		return nil, err
	}
	s.stripPrimary(doc)

	rawID, err := s.sanitizeID(id, opts)
	if err != nil {
		return nil, err
	}
	replaced, err := adapter.ReplaceByID(ctx, rawID, doc)
	if err != nil {
		return nil, err
	}

	result, err := s.transformOne(ctx, replaced, nil, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Notify(ctx, ChangeEvent{Type: ChangeReplace, Data: result}); err != nil {
		return nil, err
	}
	return result, nil
}

// Remove deletes the entity identified by the primary field in params and
// returns the id exactly as supplied. With SoftDelete configured the entity is
// updated with the validated remove payload instead.
func (s *Store) Remove(ctx context.Context, params Params, opts CallOptions) (any, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	id, err := s.idParam(params)
	if err != nil {
		return nil, err
	}

	old, err := s.existing(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	rawID, err := s.sanitizeID(id, opts)
	if err != nil {
		return nil, err
	}

	var removed Entity
	if s.config.SoftDelete {
		payload := Entity(deepCopyMap(params))
		doc, err := s.config.Validator.Validate(ctx, payload, ValidateOptions{Type: ValidateRemove, OldEntity: old})
		if err != nil {
			return nil, err
		}
		s.stripPrimary(doc)
		if removed, err = adapter.UpdateByID(ctx, rawID, doc); err != nil {
			return nil, err
		}
	} else {
		if removed, err = adapter.RemoveByID(ctx, rawID); err != nil {
			return nil, err
		}
	}
	if removed == nil {
		removed = old
	}

	result, err := s.transformOne(ctx, removed, nil, opts)
	if err != nil {
		return nil, err
	}
	ev := ChangeEvent{Type: ChangeRemove, SoftDelete: s.config.SoftDelete, Data: result}
	if err := s.Notify(ctx, ev); err != nil {
		return nil, err
	}
	return id, nil
}

func (s *Store) idParam(params Params) (any, error) {
	id, ok := params[s.config.Primary.Name]
	if !ok || id == nil {
		return nil, &MissingIDError{Field: s.config.Primary.Name, Params: params}
	}
	return id, nil
}

// stripPrimary keeps a payload from changing the primary key.
func (s *Store) stripPrimary(doc Entity) {
	delete(doc, s.config.Primary.Name)
	delete(doc, s.config.Primary.Column)
}
