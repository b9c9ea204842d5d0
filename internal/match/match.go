// Package match evaluates filters, searches and sort orders against in-memory
// documents.
package match

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Matches reports whether doc satisfies every clause of filter.
//
// Supported operators: $in, $nin, $ne, $gt, $gte, $lt, $lte, $exists, $regex,
// and the top-level combinators $and and $or. A nil value matches a missing
// field.
func Matches(doc, filter map[string]any) (bool, error) {
	for key, cond := range filter {
		var (
			ok  bool
			err error
		)
		switch key {
		case "$and":
			ok, err = matchAll(doc, cond, true)
		case "$or":
			ok, err = matchAll(doc, cond, false)
		default:
			v, exists := Lookup(doc, key)
			ok, err = matchValue(v, exists, cond)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchAll(doc map[string]any, cond any, all bool) (bool, error) {
	clauses, ok := toSlice(cond)
	if !ok {
		return false, fmt.Errorf("match: combinator expects a list, got %T", cond)
	}
	for _, c := range clauses {
		sub, ok := toMap(c)
		if !ok {
			return false, fmt.Errorf("match: combinator clause must be a map, got %T", c)
		}
		m, err := Matches(doc, sub)
		if err != nil {
			return false, err
		}
		if all && !m {
			return false, nil
		}
		if !all && m {
			return true, nil
		}
	}
	return all, nil
}

func matchValue(v any, exists bool, cond any) (bool, error) {
	ops, ok := toMap(cond)
	if !ok || !isOperatorMap(ops) {
		if cond == nil {
			return !exists || v == nil, nil
		}
		return exists && Equal(v, cond), nil
	}

	for op, arg := range ops {
		var ok bool
		switch op {
		case "$in", "$nin":
			list, isList := toSlice(arg)
			if !isList {
				return false, fmt.Errorf("match: %s expects a list, got %T", op, arg)
			}
			ok = exists && contains(list, v)
			if op == "$nin" {
				ok = !ok
			}
		case "$ne":
			if arg == nil {
				ok = exists && v != nil
			} else {
				ok = !exists || !Equal(v, arg)
			}
		case "$gt":
			ok = exists && Compare(v, arg) > 0
		case "$gte":
			ok = exists && Compare(v, arg) >= 0
		case "$lt":
			ok = exists && Compare(v, arg) < 0
		case "$lte":
			ok = exists && Compare(v, arg) <= 0
		case "$exists":
			want, _ := arg.(bool)
			ok = (exists && v != nil) == want
		case "$regex":
			pattern, isString := arg.(string)
			if !isString {
				return false, fmt.Errorf("match: $regex expects a string, got %T", arg)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return false, fmt.Errorf("match: $regex: %w", err)
			}
			s, isString := v.(string)
			ok = exists && isString && re.MatchString(s)
		default:
			return false, fmt.Errorf("match: unsupported operator %q", op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func contains(list []any, v any) bool {
	for _, item := range list {
		if Equal(item, v) {
			return true
		}
	}
	return false
}

// Search reports whether any of fields (all string fields when empty)
// contains text, ignoring case. An empty text matches everything.
func Search(doc map[string]any, text string, fields []string) bool {
	if text == "" {
		return true
	}
	needle := strings.ToLower(text)
	if len(fields) == 0 {
		for _, v := range doc {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
				return true
			}
		}
		return false
	}
	for _, f := range fields {
		if v, ok := Lookup(doc, f); ok {
			if strings.Contains(strings.ToLower(fmt.Sprint(v)), needle) {
				return true
			}
		}
	}
	return false
}

// Lookup resolves a dotted path inside doc.
func Lookup(doc map[string]any, path string) (any, bool) {
	cur := any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := toMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Sort orders docs by fields. A "-" prefix sorts descending. The sort is
// stable, so equal documents keep their order.
func Sort[T ~map[string]any](docs []T, fields []string) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			desc := strings.HasPrefix(f, "-")
			name := strings.TrimPrefix(f, "-")
			vi, _ := Lookup(docs[i], name)
			vj, _ := Lookup(docs[j], name)
			c := Compare(vi, vj)
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Page returns the window [offset, offset+limit) of docs. limit 0 means no limit.
func Page[T any](docs []T, offset, limit int) []T {
	if offset >= len(docs) {
		return nil
	}
	if offset > 0 {
		docs = docs[offset:]
	}
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// Equal compares values, treating all numeric kinds as numbers.
func Equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two values: nil first, then numbers, times, strings and
// booleans by their natural order. Mixed kinds compare by their string form.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toString(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func toSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
