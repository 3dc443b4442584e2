package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/token"
)

var (
	// ErrPathNotFound is returned when a dotted path does not resolve to a concrete value.
	ErrPathNotFound = errors.New("configuration path not found")

	// ErrWrongType is returned when a value cannot be extracted as the requested type.
	ErrWrongType = errors.New("configuration value has wrong type")
)

// ListSeparator joins list elements when a list is flattened into a single setting.
const ListSeparator = ";"

// Source is an immutable hierarchical configuration tree addressed by dotted paths.
// Path segments are taken literally, so keys such as "mini-batch" or
// "maxParallelism" need no quoting.
type Source struct {
	value  cue.Value
	origin string
}

// Empty returns a Source with no keys.
func Empty() *Source {
	return &Source{value: compileString("{}", "empty"), origin: "empty"}
}

// newSource wraps a CUE value.
func newSource(v cue.Value, origin string) *Source {
	return &Source{value: v, origin: origin}
}

// Origin describes where the configuration was loaded from.
func (s *Source) Origin() string {
	return s.origin
}

// Value returns the underlying CUE value.
func (s *Source) Value() cue.Value {
	return s.value
}

// HasPath reports whether path resolves to a concrete, non-null value.
func (s *Source) HasPath(path string) bool {
	v, ok := s.lookup(path)
	return ok && v.Kind() != cue.NullKind
}

// GetString returns the value at path as a string. Numbers and booleans are formatted.
func (s *Source) GetString(path string) (string, error) {
	v, err := s.mustLookup(path)
	if err != nil {
		return "", err
	}
	str, err := scalarString(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrWrongType, path, err)
	}
	return str, nil
}

// GetInt64 returns the value at path as an integer. Strings holding integers are parsed.
func (s *Source) GetInt64(path string) (int64, error) {
	v, err := s.mustLookup(path)
	if err != nil {
		return 0, err
	}

	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrWrongType, path, err)
		}
		return n, nil
	case cue.StringKind:
		str, _ := v.String()
		n, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %q is not an integer", ErrWrongType, path, str)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s: expected integer, got %s", ErrWrongType, path, v.Kind())
	}
}

// GetBool returns the value at path as a boolean.
func (s *Source) GetBool(path string) (bool, error) {
	v, err := s.mustLookup(path)
	if err != nil {
		return false, err
	}

	switch v.Kind() {
	case cue.BoolKind:
		return v.Bool()
	case cue.StringKind:
		str, _ := v.String()
		b, err := strconv.ParseBool(strings.TrimSpace(str))
		if err != nil {
			return false, fmt.Errorf("%w: %s: %q is not a boolean", ErrWrongType, path, str)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: %s: expected boolean, got %s", ErrWrongType, path, v.Kind())
	}
}

// GetMap returns the sub-tree at path as a generic structure.
func (s *Source) GetMap(path string) (map[string]any, error) {
	v, err := s.mustLookup(path)
	if err != nil {
		return nil, err
	}
	if v.Kind() != cue.StructKind {
		return nil, fmt.Errorf("%w: %s: expected struct, got %s", ErrWrongType, path, v.Kind())
	}

	var out map[string]any
	if err := v.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return out, nil
}

// Sub returns the sub-tree at path as its own Source.
func (s *Source) Sub(path string) (*Source, error) {
	v, err := s.mustLookup(path)
	if err != nil {
		return nil, err
	}
	if v.Kind() != cue.StructKind {
		return nil, fmt.Errorf("%w: %s: expected struct, got %s", ErrWrongType, path, v.Kind())
	}
	return newSource(v, s.origin+"#"+path), nil
}

// Keys returns the sorted top-level field names.
func (s *Source) Keys() []string {
	iter, err := s.value.Fields()
	if err != nil {
		return nil
	}

	var keys []string
	for iter.Next() {
		keys = append(keys, iter.Selector().Unquoted())
	}
	sort.Strings(keys)
	return keys
}

// Flatten returns every leaf under path keyed by its dotted path relative to path.
// The empty path flattens the whole tree. Lists of scalars are joined with
// ListSeparator. A null or non-concrete leaf is reported as ErrPathNotFound.
func (s *Source) Flatten(path string) (map[string]string, error) {
	root := s.value
	if path != "" {
		v, err := s.mustLookup(path)
		if err != nil {
			return nil, err
		}
		root = v
	}
	if root.Kind() != cue.StructKind {
		return nil, fmt.Errorf("%w: %s: expected struct, got %s", ErrWrongType, path, root.Kind())
	}

	out := make(map[string]string)
	if err := flattenInto(out, "", path, root); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out map[string]string, prefix, base string, v cue.Value) error {
	iter, err := v.Fields()
	if err != nil {
		return fmt.Errorf("failed to iterate %s: %w", joinPath(base, prefix), err)
	}

	for iter.Next() {
		key := iter.Selector().Unquoted()
		if prefix != "" {
			key = prefix + "." + key
		}
		child := iter.Value()

		switch child.Kind() {
		case cue.StructKind:
			if err := flattenInto(out, key, base, child); err != nil {
				return err
			}
		case cue.ListKind:
			joined, err := joinList(child)
			if err != nil {
				return fmt.Errorf("%s: %w", joinPath(base, key), err)
			}
			out[key] = joined
		case cue.NullKind, cue.BottomKind:
			return fmt.Errorf("%w: %s", ErrPathNotFound, joinPath(base, key))
		default:
			if !child.IsConcrete() {
				return fmt.Errorf("%w: %s", ErrPathNotFound, joinPath(base, key))
			}
			str, err := scalarString(child)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrWrongType, joinPath(base, key), err)
			}
			out[key] = str
		}
	}
	return nil
}

func joinList(v cue.Value) (string, error) {
	iter, err := v.List()
	if err != nil {
		return "", err
	}

	var parts []string
	for iter.Next() {
		str, err := scalarString(iter.Value())
		if err != nil {
			return "", fmt.Errorf("%w: list elements must be scalars", ErrWrongType)
		}
		parts = append(parts, str)
	}
	return strings.Join(parts, ListSeparator), nil
}

func scalarString(v cue.Value) (string, error) {
	switch v.Kind() {
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		n, err := v.Int(nil)
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case cue.FloatKind:
		// CUE documents keep the literal as written, e.g. "1.0" or "1e30".
		if lit := floatLiteral(v); lit != "" {
			return lit, nil
		}
		f, err := v.Float64()
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case cue.BytesKind:
		b, err := v.Bytes()
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("expected scalar, got %s", v.Kind())
	}
}

func floatLiteral(v cue.Value) string {
	src := v.Source()
	if f, ok := src.(*ast.Field); ok {
		src = f.Value
	}
	lit, ok := src.(*ast.BasicLit)
	if !ok || lit.Kind != token.FLOAT {
		return ""
	}
	if _, err := strconv.ParseFloat(lit.Value, 64); err != nil {
		return ""
	}
	return lit.Value
}

func (s *Source) lookup(path string) (cue.Value, bool) {
	v := s.value.LookupPath(makePath(path))
	if !v.Exists() || !v.IsConcrete() {
		return cue.Value{}, false
	}
	return v, true
}

func (s *Source) mustLookup(path string) (cue.Value, error) {
	v, ok := s.lookup(path)
	if !ok || v.Kind() == cue.NullKind {
		return cue.Value{}, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	return v, nil
}

// makePath splits a dotted path into literal string selectors.
func makePath(path string) cue.Path {
	parts := strings.Split(path, ".")
	sels := make([]cue.Selector, 0, len(parts))
	for _, p := range parts {
		sels = append(sels, cue.Str(p))
	}
	return cue.MakePath(sels...)
}

func joinPath(base, key string) string {
	switch {
	case base == "":
		return key
	case key == "":
		return base
	default:
		return base + "." + key
	}
}
