package store

import (
	"context"
	"strings"
)

// DefaultTransformer exposes the primary field under its logical name,
// encodes secure ids and applies the query's field projection.
type DefaultTransformer struct {
	Primary PrimaryField
	Codec   IDCodec
}

// Transform implements Transformer.
func (t *DefaultTransformer) Transform(_ context.Context, entities []Entity, q *Query) ([]Entity, error) {
	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e == nil {
			out = append(out, nil)
			continue
		}
		doc := e.Clone()

		if t.Primary.Column != t.Primary.Name {
			if v, ok := doc[t.Primary.Column]; ok {
				doc[t.Primary.Name] = v
				delete(doc, t.Primary.Column)
			}
		}
		if t.Primary.Secure && t.Codec != nil {
			if v, ok := doc[t.Primary.Name]; ok && v != nil {
				enc, err := t.Codec.EncodeID(v)
				if err != nil {
					return nil, err
				}
				doc[t.Primary.Name] = enc
			}
		}
		if q != nil && len(q.Fields) > 0 {
			doc = project(doc, q.Fields)
		}
		out = append(out, doc)
	}
	return out, nil
}

// project keeps only the listed fields. Dotted paths select nested values.
func project(doc Entity, fields []string) Entity {
	out := Entity{}
	for _, f := range fields {
		parts := strings.Split(f, ".")
		v, ok := lookupPath(doc, parts)
		if !ok {
			continue
		}
		setPath(out, parts, v)
	}
	return out
}

func lookupPath(m map[string]any, parts []string) (any, bool) {
	v, ok := m[parts[0]]
	if !ok || len(parts) == 1 {
		return v, ok
	}
	next, isMap := asMap(v)
	if !isMap {
		if e, isEntity := v.(Entity); isEntity {
			next, isMap = e, true
		}
	}
	if !isMap {
		return nil, false
	}
	return lookupPath(next, parts[1:])
}

func setPath(m map[string]any, parts []string, v any) {
	if len(parts) == 1 {
		m[parts[0]] = v
		return
	}
	child, ok := m[parts[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[parts[0]] = child
	}
	setPath(child, parts[1:], v)
}
