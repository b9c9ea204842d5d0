package store

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// SanitizeOptions selects the pagination post-processing of Sanitize.
// RemoveLimit and List are mutually exclusive; RemoveLimit wins.
type SanitizeOptions struct {
	// RemoveLimit strips every pagination field.
	RemoveLimit bool

	// List derives Limit and Offset from Page and PageSize.
	List bool

	DefaultPageSize int

	// MaxLimit clamps PageSize and Limit. 0 means unlimited.
	MaxLimit int
}

var fieldSeparator = regexp.MustCompile(`[,\s]+`)

// Sanitize normalizes raw parameters into a Query. It performs no I/O.
func Sanitize(params Params, opts SanitizeOptions) (*Query, error) {
	q := &Query{}
	var err error

	for key, dst := range map[string]*int{
		"limit":    &q.Limit,
		"offset":   &q.Offset,
		"page":     &q.Page,
		"pageSize": &q.PageSize,
	} {
		if *dst, err = toInt(params[key]); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, key, err)
		}
		if *dst < 0 {
			*dst = 0
		}
	}

	if q.Filter, err = toFilter(params["query"]); err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrInvalidParams, err)
	}

	for key, dst := range map[string]*[]string{
		"sort":         &q.Sort,
		"fields":       &q.Fields,
		"populate":     &q.Populate,
		"searchFields": &q.SearchFields,
	} {
		if *dst, err = toFieldList(params[key]); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, key, err)
		}
	}

	if q.Scopes, q.NoScope, err = toScopes(params["scope"]); err != nil {
		return nil, fmt.Errorf("%w: scope: %v", ErrInvalidParams, err)
	}

	q.Mapping = toBool(params["mapping"])
	if s, ok := params["search"].(string); ok {
		q.Search = s
	}

	switch {
	case opts.RemoveLimit:
		q.Limit, q.Offset, q.Page, q.PageSize = 0, 0, 0, 0
	case opts.List:
		if q.PageSize == 0 {
			q.PageSize = opts.DefaultPageSize
		}
		if q.Page == 0 {
			q.Page = 1
		}
		if opts.MaxLimit > 0 && q.PageSize > opts.MaxLimit {
			q.PageSize = opts.MaxLimit
		}
		q.Limit = q.PageSize
		q.Offset = (q.Page - 1) * q.PageSize
	default:
		if opts.MaxLimit > 0 && q.Limit > opts.MaxLimit {
			q.Limit = opts.MaxLimit
		}
	}
	return q, nil
}

// Sanitize normalizes params with the store's page size and limit settings.
func (s *Store) Sanitize(params Params, removeLimit, list bool) (*Query, error) {
	return Sanitize(params, SanitizeOptions{
		RemoveLimit:     removeLimit,
		List:            list,
		DefaultPageSize: s.config.DefaultPageSize,
		MaxLimit:        s.config.MaxLimit,
	})
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		return parseIntString(string(n))
	case string:
		return parseIntString(n)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func parseIntString(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return floatToInt(f)
}

func floatToInt(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", f)
	}
	return int(f), nil
}

// toFilter returns a filter the caller does not own. A nil map or a JSON
// "null" yields an empty filter.
func toFilter(v any) (Filter, error) {
	switch f := v.(type) {
	case nil:
		return Filter{}, nil
	case Filter:
		return deepCopyFilter(f), nil
	case map[string]any:
		return deepCopyFilter(f), nil
	case string:
		if strings.TrimSpace(f) == "" {
			return Filter{}, nil
		}
		var out Filter
		if err := json.Unmarshal([]byte(f), &out); err != nil {
			return nil, err
		}
		if out == nil {
			out = Filter{}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func toFieldList(v any) ([]string, error) {
	switch f := v.(type) {
	case nil:
		return nil, nil
	case string:
		return splitFields(f), nil
	case []string:
		return compact(f), nil
	case []any:
		out := make([]string, 0, len(f))
		for _, item := range f {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("unsupported element type %T", item)
			}
			out = append(out, s)
		}
		return compact(out), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func splitFields(s string) []string {
	return compact(fieldSeparator.Split(s, -1))
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// toScopes reports the explicit scope names and whether scopes are disabled.
func toScopes(v any) ([]string, bool, error) {
	switch s := v.(type) {
	case nil:
		return nil, false, nil
	case bool:
		return nil, !s, nil
	case string:
		if s == "false" {
			return nil, true, nil
		}
		if s == "true" {
			return nil, false, nil
		}
		return splitFields(s), false, nil
	default:
		names, err := toFieldList(v)
		return names, false, err
	}
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(b)
		return ok
	default:
		return false
	}
}
