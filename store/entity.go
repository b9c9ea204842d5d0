package store

import "context"

// Entity is a record produced or consumed by an adapter, keyed by field name.
type Entity map[string]any

// Filter is a structured query filter. Values are matched by equality unless
// they are maps of operators such as "$in", "$ne", "$gt", "$gte", "$lt", "$lte",
// "$nin" and "$exists".
type Filter map[string]any

// Params holds raw caller parameters, possibly string-encoded by a transport.
type Params map[string]any

// PrimaryField describes the logical id field of the entities.
type PrimaryField struct {
	// Name is the caller-facing field name (e.g., "id").
	Name string

	// Column is the storage-level field name (e.g., "_id").
	// Default: same as Name
	Column string

	// Secure marks ids as encoded at the caller boundary and decoded before
	// reaching an adapter.
	Secure bool
}

// Query is the canonical query plan produced by Sanitize.
// Zero integer fields mean the value was not supplied.
type Query struct {
	Filter       Filter
	Sort         []string
	Fields       []string
	Populate     []string
	SearchFields []string
	Search       string

	Limit    int
	Offset   int
	Page     int
	PageSize int

	// Scopes lists explicitly requested scope names.
	Scopes []string

	// NoScope disables the configured default scopes.
	NoScope bool

	// Mapping requests an id-keyed result from Resolve.
	Mapping bool
}

// Clone returns a copy of q with a deep-copied filter.
func (q *Query) Clone() *Query {
	c := *q
	c.Filter = deepCopyFilter(q.Filter)
	c.Sort = append([]string(nil), q.Sort...)
	c.Fields = append([]string(nil), q.Fields...)
	c.Populate = append([]string(nil), q.Populate...)
	c.SearchFields = append([]string(nil), q.SearchFields...)
	c.Scopes = append([]string(nil), q.Scopes...)
	return &c
}

// Index describes a secondary index an adapter should create.
type Index struct {
	// Name is optional; adapters derive one from Fields when empty.
	Name string

	// Fields lists indexed fields in order. A "-" prefix requests descending order
	// where the backend supports it.
	Fields []string

	Unique bool
}

// ChangeType identifies the kind of mutation reported to the change notifier.
type ChangeType string

const (
	ChangeCreate  ChangeType = "create"
	ChangeUpdate  ChangeType = "update"
	ChangeReplace ChangeType = "replace"
	ChangeRemove  ChangeType = "remove"
)

// ChangeEvent is passed to the change hook after every mutating operation.
type ChangeEvent struct {
	Type       ChangeType
	Batch      bool
	SoftDelete bool

	// Data is an Entity, or a []Entity when Batch is set.
	Data any

	// Tenant is the tenant key the mutation ran against.
	Tenant string
}

// ChangeHook reacts to entity changes. It runs after the caller-facing transform.
type ChangeHook func(ctx context.Context, ev ChangeEvent) error

// ValidationType names the operation a payload is validated for.
type ValidationType string

const (
	ValidateCreate  ValidationType = "create"
	ValidateUpdate  ValidationType = "update"
	ValidateReplace ValidationType = "replace"
	ValidateRemove  ValidationType = "remove"
)

// ValidateOptions is passed to a Validator.
type ValidateOptions struct {
	Type ValidationType

	// OldEntity is the stored entity for update, replace and remove.
	OldEntity Entity
}

// Validator checks and coerces payloads before they reach an adapter.
// Failures should wrap ErrValidationFailed.
type Validator interface {
	Validate(ctx context.Context, payload Entity, opts ValidateOptions) (Entity, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, payload Entity, opts ValidateOptions) (Entity, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, payload Entity, opts ValidateOptions) (Entity, error) {
	return f(ctx, payload, opts)
}

// Transformer turns adapter results into the caller-facing shape.
type Transformer interface {
	Transform(ctx context.Context, entities []Entity, q *Query) ([]Entity, error)
}

// CallOptions tunes a single orchestrator call.
type CallOptions struct {
	// SkipTransform returns adapter results untransformed.
	SkipTransform bool

	// ThrowIfNotExist makes Resolve fail with a NotFoundError on empty results.
	ThrowIfNotExist bool

	// SecureID overrides PrimaryField.Secure for this call when non-nil.
	SecureID *bool
}

// Bool returns a pointer to b, for CallOptions.SecureID.
func Bool(b bool) *bool { return &b }

// Resolved is the result of Resolve.
type Resolved struct {
	Multi bool

	// Entity is set for single-id lookups; nil when absent.
	Entity Entity

	// Entities is set for multi-id lookups.
	Entities []Entity

	// Mapping is set when the query requested mapping, keyed by the
	// string form of each id.
	Mapping map[string]Entity
}

func deepCopyFilter(f Filter) Filter {
	if f == nil {
		return Filter{}
	}
	return Filter(deepCopyMap(f))
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case Filter:
		return Filter(deepCopyMap(val))
	case Entity:
		return Entity(deepCopyMap(val))
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// Clone returns a deep copy of e.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	return Entity(deepCopyMap(e))
}
