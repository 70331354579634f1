// Package schema compiles JSON-Schema-like tool input descriptions into
// validators. Only a closed set of kinds is understood: string, integer,
// number, boolean, object, array and null. Anything else in a schema,
// including an unrecognised type, is carried for display but not enforced.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind is one of the primitive schema kinds.
type Kind string

const (
	KindAny     Kind = ""
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindNull    Kind = "null"
)

// Reason classifies a validation failure.
type Reason string

const (
	MissingRequired Reason = "missing_required"
	TypeMismatch    Reason = "type_mismatch"
)

// ValidationError reports the first argument that failed validation.
type ValidationError struct {
	Reason Reason
	// Field is a dotted path to the offending argument, e.g. "filter.limit"
	// or "tags[2]".
	Field    string
	Expected string
	Actual   string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case MissingRequired:
		return fmt.Sprintf("missing required field %q", e.Field)
	case TypeMismatch:
		return fmt.Sprintf("field %q: expected %s, got %s", e.Field, e.Expected, e.Actual)
	default:
		return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
	}
}

type node struct {
	kinds      []Kind
	properties map[string]*node
	required   []string
	items      *node
}

// Validator checks tool arguments against a compiled schema.
type Validator struct {
	root *node
}

// Compile builds a Validator from a JSON-Schema-like object. A nil or
// empty schema yields a validator that accepts any object.
func Compile(schema map[string]any) (*Validator, error) {
	root, err := compileNode(schema, "")
	if err != nil {
		return nil, err
	}
	if len(root.kinds) == 0 {
		root.kinds = []Kind{KindObject}
	}
	if !root.allows(KindObject) {
		return nil, fmt.Errorf("schema root must be an object, got %v", root.kinds)
	}
	return &Validator{root: root}, nil
}

func compileNode(schema map[string]any, path string) (*node, error) {
	n := &node{}
	if schema == nil {
		return n, nil
	}

	// Kinds outside the closed set are not enforced. A type naming only
	// such kinds accepts any value.
	switch t := schema["type"].(type) {
	case nil:
	case string:
		if known(Kind(t)) {
			n.kinds = []Kind{Kind(t)}
		}
	case []any:
		for _, v := range t {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: type list must contain strings", describe(path))
			}
			if known(Kind(s)) {
				n.kinds = append(n.kinds, Kind(s))
			}
		}
	default:
		return nil, fmt.Errorf("%s: type must be a string or list, got %T", describe(path), t)
	}

	if raw, ok := schema["properties"]; ok && raw != nil {
		props, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: properties must be an object, got %T", describe(path), raw)
		}
		n.properties = make(map[string]*node, len(props))
		for name, p := range props {
			sub, _ := p.(map[string]any)
			child, err := compileNode(sub, join(path, name))
			if err != nil {
				return nil, err
			}
			n.properties[name] = child
		}
	}

	if raw, ok := schema["required"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			if strs, isStrs := raw.([]string); isStrs {
				n.required = append(n.required, strs...)
			} else {
				return nil, fmt.Errorf("%s: required must be a list, got %T", describe(path), raw)
			}
		}
		for _, r := range list {
			s, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("%s: required entries must be strings", describe(path))
			}
			n.required = append(n.required, s)
		}
	}

	if raw, ok := schema["items"].(map[string]any); ok {
		items, err := compileNode(raw, path+"[]")
		if err != nil {
			return nil, err
		}
		n.items = items
	}
	return n, nil
}

// Validate checks args and returns the typed arguments with any fields
// unknown to the schema dropped. When the schema declares no properties
// at all, args are passed through unchanged.
func (v *Validator) Validate(args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	out, err := v.root.validate(args, "")
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// Required returns the top-level required field names, sorted.
func (v *Validator) Required() []string {
	out := append([]string(nil), v.root.required...)
	sort.Strings(out)
	return out
}

func known(k Kind) bool {
	switch k {
	case KindString, KindInteger, KindNumber, KindBoolean, KindObject, KindArray, KindNull:
		return true
	}
	return false
}

func (n *node) allows(k Kind) bool {
	if len(n.kinds) == 0 {
		return true
	}
	for _, want := range n.kinds {
		if want == k || (want == KindNumber && k == KindInteger) {
			return true
		}
	}
	return false
}

func (n *node) validate(value any, path string) (any, error) {
	actual := kindOf(value)
	if !n.allows(actual) {
		return nil, &ValidationError{
			Reason:   TypeMismatch,
			Field:    fieldName(path),
			Expected: n.expected(),
			Actual:   string(actual),
		}
	}

	switch actual {
	case KindObject:
		obj := value.(map[string]any)
		for _, name := range n.required {
			if _, ok := obj[name]; !ok {
				return nil, &ValidationError{Reason: MissingRequired, Field: join(path, name)}
			}
		}
		if n.properties == nil {
			return obj, nil
		}
		out := make(map[string]any, len(n.properties))
		for name, child := range n.properties {
			v, ok := obj[name]
			if !ok {
				continue
			}
			checked, err := child.validate(v, join(path, name))
			if err != nil {
				return nil, err
			}
			out[name] = checked
		}
		return out, nil

	case KindArray:
		list := value.([]any)
		if n.items == nil {
			return list, nil
		}
		out := make([]any, len(list))
		for i, item := range list {
			checked, err := n.items.validate(item, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = checked
		}
		return out, nil
	}
	return value, nil
}

func (n *node) expected() string {
	if len(n.kinds) == 1 {
		return string(n.kinds[0])
	}
	s := ""
	for i, k := range n.kinds {
		if i > 0 {
			s += "|"
		}
		s += string(k)
	}
	return s
}

// kindOf classifies a decoded JSON value. Integers are reported as
// KindInteger so that they satisfy both integer and number.
func kindOf(v any) Kind {
	switch t := v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool:
		return KindBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInteger
	case float32:
		return floatKind(float64(t))
	case float64:
		return floatKind(t)
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return KindInteger
		}
		return KindNumber
	case map[string]any:
		return KindObject
	case []any:
		return KindArray
	default:
		return Kind(fmt.Sprintf("%T", v))
	}
}

func floatKind(f float64) Kind {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return KindInteger
	}
	return KindNumber
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func fieldName(path string) string {
	if path == "" {
		return "(arguments)"
	}
	return path
}

func describe(path string) string {
	if path == "" {
		return "schema"
	}
	return "schema property " + strconv.Quote(path)
}
