package sqlite

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/jacentio/strata/store"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// translator turns store filters into SQL over the JSON document column.
type translator struct {
	idField string
}

// field returns the SQL expression reading a dotted field. The primary
// field maps to the key column.
func (t translator) field(name string) (string, bool, error) {
	if !fieldPattern.MatchString(name) {
		return "", false, fmt.Errorf("%w: invalid field %q", store.ErrInvalidParams, name)
	}
	if name == t.idField {
		return "id", true, nil
	}
	return fmt.Sprintf("json_extract(doc, '$.%s')", name), false, nil
}

// where builds a WHERE clause body and its arguments. An empty filter
// yields an empty clause.
func (t translator) where(filter store.Filter) (string, []any, error) {
	return t.all(filter, " AND ")
}

func (t translator) all(filter map[string]any, sep string) (string, []any, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		clauses []string
		args    []any
	)
	for _, key := range keys {
		var (
			clause string
			a      []any
			err    error
		)
		switch key {
		case "$and", "$or":
			clause, a, err = t.logical(key, filter[key])
		default:
			clause, a, err = t.condition(key, filter[key])
		}
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, a...)
	}
	return strings.Join(clauses, sep), args, nil
}

func (t translator) logical(op string, v any) (string, []any, error) {
	list, ok := toSlice(v)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s expects a list", store.ErrInvalidParams, op)
	}
	sep := " AND "
	if op == "$or" {
		sep = " OR "
	}
	var (
		clauses []string
		args    []any
	)
	for _, item := range list {
		sub, ok := toMap(item)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s expects filters", store.ErrInvalidParams, op)
		}
		clause, a, err := t.all(sub, " AND ")
		if err != nil {
			return "", nil, err
		}
		if clause == "" {
			clause = "1 = 1"
		}
		clauses = append(clauses, "("+clause+")")
		args = append(args, a...)
	}
	if len(clauses) == 0 {
		if op == "$or" {
			return "1 = 0", nil, nil
		}
		return "1 = 1", nil, nil
	}
	return "(" + strings.Join(clauses, sep) + ")", args, nil
}

func (t translator) condition(name string, cond any) (string, []any, error) {
	expr, isKey, err := t.field(name)
	if err != nil {
		return "", nil, err
	}
	bind := func(v any) (string, any) { return t.bind(v, isKey) }

	ops, ok := toMap(cond)
	if !ok || !isOperatorMap(ops) {
		if cond == nil {
			return expr + " IS NULL", nil, nil
		}
		ph, arg := bind(cond)
		return fmt.Sprintf("%s = %s", expr, ph), []any{arg}, nil
	}

	opNames := make([]string, 0, len(ops))
	for op := range ops {
		opNames = append(opNames, op)
	}
	sort.Strings(opNames)

	var (
		clauses []string
		args    []any
	)
	for _, op := range opNames {
		arg := ops[op]
		switch op {
		case "$in", "$nin":
			list, ok := toSlice(arg)
			if !ok {
				return "", nil, fmt.Errorf("%w: %s expects a list", store.ErrInvalidParams, op)
			}
			if len(list) == 0 {
				if op == "$in" {
					clauses = append(clauses, "1 = 0")
				}
				continue
			}
			phs := make([]string, len(list))
			for i, v := range list {
				var a any
				phs[i], a = bind(v)
				args = append(args, a)
			}
			if op == "$in" {
				clauses = append(clauses, fmt.Sprintf("%s IN (%s)", expr, strings.Join(phs, ", ")))
			} else {
				clauses = append(clauses, fmt.Sprintf("(%s IS NULL OR %s NOT IN (%s))", expr, expr, strings.Join(phs, ", ")))
			}
		case "$ne":
			if arg == nil {
				clauses = append(clauses, expr+" IS NOT NULL")
				continue
			}
			ph, a := bind(arg)
			clauses = append(clauses, fmt.Sprintf("(%s IS NULL OR %s <> %s)", expr, expr, ph))
			args = append(args, a)
		case "$gt", "$gte", "$lt", "$lte":
			ph, a := bind(arg)
			clauses = append(clauses, fmt.Sprintf("%s %s %s", expr, comparison[op], ph))
			args = append(args, a)
		case "$exists":
			if want, _ := arg.(bool); want {
				clauses = append(clauses, expr+" IS NOT NULL")
			} else {
				clauses = append(clauses, expr+" IS NULL")
			}
		case "$regex":
			pattern, ok := arg.(string)
			if !ok {
				return "", nil, fmt.Errorf("%w: $regex expects a string", store.ErrInvalidParams)
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return "", nil, fmt.Errorf("%w: $regex: %v", store.ErrInvalidParams, err)
			}
			clauses = append(clauses, expr+" REGEXP ?")
			args = append(args, pattern)
		default:
			return "", nil, fmt.Errorf("%w: unsupported operator %q", store.ErrInvalidParams, op)
		}
	}
	if len(clauses) == 0 {
		return "1 = 1", args, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

var comparison = map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}

// bind returns the placeholder and argument for v. Key column values are
// compared as text; structured values are compared as canonical JSON.
func (t translator) bind(v any, isKey bool) (string, any) {
	if isKey {
		return "?", fmt.Sprint(v)
	}
	switch v.(type) {
	case map[string]any, []any, store.Entity, store.Filter:
		b, _ := json.Marshal(v)
		return "json(?)", string(b)
	}
	return "?", v
}

// search builds a case-insensitive substring clause over fields, or over
// every top-level string when fields is empty.
func (t translator) search(text string, fields []string) (string, []any, error) {
	if text == "" {
		return "", nil, nil
	}
	like := "%" + strings.ReplaceAll(strings.ReplaceAll(text, `\`, `\\`), "%", `\%`) + "%"
	if len(fields) == 0 {
		return `EXISTS (SELECT 1 FROM json_each(doc) WHERE json_each.type = 'text' AND json_each.value LIKE ? ESCAPE '\')`, []any{like}, nil
	}
	clauses := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		expr, _, err := t.field(f)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, expr+` LIKE ? ESCAPE '\'`)
		args = append(args, like)
	}
	return "(" + strings.Join(clauses, " OR ") + ")", args, nil
}

// orderBy builds an ORDER BY body. rowid keeps insertion order for ties.
func (t translator) orderBy(fields []string) (string, error) {
	clauses := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		dir := "ASC"
		if strings.HasPrefix(f, "-") {
			dir = "DESC"
			f = strings.TrimPrefix(f, "-")
		}
		expr, _, err := t.field(f)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, expr+" "+dir)
	}
	clauses = append(clauses, "rowid ASC")
	return strings.Join(clauses, ", "), nil
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

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case store.Filter:
		return m, true
	case store.Entity:
		return m, true
	}
	return nil, false
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
