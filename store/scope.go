package store

import "context"

// Scope folds a named, reusable fragment into a query filter.
type Scope interface {
	Apply(ctx context.Context, filter Filter) (Filter, error)
}

// ScopeFunc adapts a function to the Scope interface.
type ScopeFunc func(ctx context.Context, filter Filter) (Filter, error)

// Apply implements Scope.
func (f ScopeFunc) Apply(ctx context.Context, filter Filter) (Filter, error) {
	return f(ctx, filter)
}

// FilterScope is a static fragment. Values already present in the filter win.
type FilterScope Filter

// Apply implements Scope.
func (s FilterScope) Apply(_ context.Context, filter Filter) (Filter, error) {
	return Filter(mergeDefaults(filter, s)), nil
}

// mergeDefaults copies every key of defaults missing from dst, recursing into
// maps present on both sides.
func mergeDefaults(dst, defaults map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, dv := range defaults {
		cur, ok := dst[k]
		if !ok {
			dst[k] = deepCopyValue(dv)
			continue
		}
		curMap, curIsMap := asMap(cur)
		defMap, defIsMap := asMap(dv)
		if curIsMap && defIsMap {
			dst[k] = mergeDefaults(curMap, defMap)
		}
	}
	return dst
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Filter:
		return m, true
	case FilterScope:
		return m, true
	default:
		return nil, false
	}
}

// applyScopes replaces q.Filter with the filter folded through the active scopes.
func (s *Store) applyScopes(ctx context.Context, q *Query) error {
	names := q.Scopes
	if len(names) == 0 {
		if q.NoScope {
			return nil
		}
		names = s.config.DefaultScopes
	}
	if len(names) == 0 {
		return nil
	}

	filter := deepCopyFilter(q.Filter)
	for _, name := range names {
		scope, ok := s.config.Scopes[name]
		if !ok || scope == nil {
			s.logger.Debug("skipping unknown scope", "scope", name)
			continue
		}
		next, err := scope.Apply(ctx, filter)
		if err != nil {
			return err
		}
		if next == nil {
			next = Filter{}
		}
		filter = next
	}
	q.Filter = filter
	return nil
}
