package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvBlock is the top-level key of a job document holding the runtime
// environment configuration.
const EnvBlock = "env"

// All CUE values of this package share one runtime so they can be unified.
var (
	cueMu  sync.Mutex
	cueCtx = cuecontext.New()
)

// Loader reads job documents and validates them against the built-in schema.
type Loader struct {
	schemas *SchemaRegistry
	scripts *ScriptEvaluator
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithScriptEvaluator sets the evaluator used for Starlark job documents.
func WithScriptEvaluator(e *ScriptEvaluator) LoaderOption {
	return func(l *Loader) {
		l.scripts = e
	}
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		schemas: NewSchemaRegistry(),
		scripts: NewScriptEvaluator(0, nil),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadJobFile loads and validates the job document at path.
func (l *Loader) LoadJobFile(ctx context.Context, path string) (*JobDocument, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load job file canceled: %w", ctx.Err())
	default:
	}

	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	return l.load(ctx, data, format, path)
}

// LoadJobString loads and validates an inline job document.
func (l *Loader) LoadJobString(content string, format Format) (*JobDocument, error) {
	return l.load(context.Background(), []byte(content), format, "inline")
}

func (l *Loader) load(ctx context.Context, data []byte, format Format, origin string) (*JobDocument, error) {
	var (
		root *Source
		err  error
	)
	if format == FormatStarlark {
		root, err = l.scripts.Load(ctx, data, origin)
	} else {
		root, err = parse(data, format, origin)
	}
	if err != nil {
		return nil, err
	}

	verrs, err := l.schemas.ValidateSource(SchemaJob, root)
	if err != nil {
		return nil, err
	}
	if len(verrs) > 0 {
		return nil, &LoadError{Source: origin, Errors: verrs}
	}

	env := Empty()
	if root.HasPath(EnvBlock) {
		env, err = root.Sub(EnvBlock)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", origin, err)
		}
	}

	return &JobDocument{
		Path:     origin,
		Format:   format,
		Root:     root,
		Env:      env,
		LoadedAt: time.Now(),
	}, nil
}

// LoadFile parses the document at path as a plain Source, without schema validation.
func LoadFile(path string) (*Source, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parse(data, format, path)
}

// LoadString parses inline content as a plain Source, without schema validation.
func LoadString(content string, format Format) (*Source, error) {
	return parse([]byte(content), format, "inline")
}

// FromMap builds a Source from a generic structure. Dotted keys are expanded
// into nested structs, so {"job.name": "x"} and {"job": {"name": "x"}} are equal.
func FromMap(m map[string]any) (*Source, error) {
	return encode(m, "map")
}

// MustFromMap is FromMap for literals in tests and examples; it panics on error.
func MustFromMap(m map[string]any) *Source {
	src, err := FromMap(m)
	if err != nil {
		panic(err)
	}
	return src
}

func parse(data []byte, format Format, origin string) (*Source, error) {
	switch format {
	case FormatCUE:
		v := compileBytes(data, origin)
		if err := v.Err(); err != nil {
			return nil, &LoadError{Source: origin, Errors: convertCUEErrors(err)}
		}
		return newSource(v, origin), nil

	case FormatYAML:
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, &LoadError{Source: origin, Errors: []ValidationError{{
				File: origin, Message: err.Error(), Severity: "error",
			}}}
		}
		return encode(m, origin)

	case FormatJSON:
		var m map[string]any
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&m); err != nil {
			return nil, &LoadError{Source: origin, Errors: []ValidationError{{
				File: origin, Message: err.Error(), Severity: "error",
			}}}
		}
		return encode(m, origin)

	case FormatTOML:
		var m map[string]any
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, &LoadError{Source: origin, Errors: []ValidationError{{
				File: origin, Message: err.Error(), Severity: "error",
			}}}
		}
		return encode(m, origin)

	case FormatStarlark:
		return NewScriptEvaluator(0, nil).Load(context.Background(), data, origin)

	default:
		return nil, fmt.Errorf("unsupported config format: %q", format)
	}
}

func encode(m map[string]any, origin string) (*Source, error) {
	if m == nil {
		m = map[string]any{}
	}
	normalized, err := normalizeMap(m, "")
	if err != nil {
		return nil, &LoadError{Source: origin, Errors: []ValidationError{{
			File: origin, Message: err.Error(), Severity: "error",
		}}}
	}

	cueMu.Lock()
	v := cueCtx.Encode(normalized)
	cueMu.Unlock()

	if err := v.Err(); err != nil {
		return nil, &LoadError{Source: origin, Errors: convertCUEErrors(err)}
	}
	return newSource(v, origin), nil
}

// normalizeMap expands dotted keys and converts decoder-specific scalar types
// into the plain types the CUE encoder understands.
func normalizeMap(m map[string]any, prefix string) (map[string]any, error) {
	out := make(map[string]any, len(m))

	// Sorted so conflicts are reported deterministically.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := normalizeValue(m[k], joinPath(prefix, k))
		if err != nil {
			return nil, err
		}
		if err := insertDotted(out, strings.Split(k, "."), v, joinPath(prefix, k)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func insertDotted(dst map[string]any, parts []string, v any, full string) error {
	if len(parts) == 1 {
		existing, ok := dst[parts[0]]
		if !ok {
			dst[parts[0]] = v
			return nil
		}
		a, aok := existing.(map[string]any)
		b, bok := v.(map[string]any)
		if !aok || !bok {
			return fmt.Errorf("conflicting values for key %q", full)
		}
		for k, bv := range b {
			if err := insertDotted(a, []string{k}, bv, full+"."+k); err != nil {
				return err
			}
		}
		return nil
	}

	child, ok := dst[parts[0]]
	if !ok {
		child = make(map[string]any)
		dst[parts[0]] = child
	}
	childMap, ok := child.(map[string]any)
	if !ok {
		return fmt.Errorf("conflicting values for key %q", full)
	}
	return insertDotted(childMap, parts[1:], v, full)
}

func normalizeValue(v any, path string) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return normalizeMap(t, path)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = val
		}
		return normalizeMap(m, path)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := normalizeValue(e, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		if n, ok := new(big.Int).SetString(t.String(), 10); ok {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%s: invalid number %q", path, t.String())
		}
		return f, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint64:
		// Values above MaxInt64 keep their magnitude as a big integer.
		return new(big.Int).SetUint64(t), nil
	case time.Time:
		return t.Format(time.RFC3339), nil
	case toml.LocalDate, toml.LocalTime, toml.LocalDateTime:
		return fmt.Sprint(t), nil
	default:
		return v, nil
	}
}

func compileString(src, filename string) cue.Value {
	cueMu.Lock()
	defer cueMu.Unlock()
	return cueCtx.CompileString(src, cue.Filename(filename))
}

func compileBytes(src []byte, filename string) cue.Value {
	cueMu.Lock()
	defer cueMu.Unlock()
	return cueCtx.CompileBytes(src, cue.Filename(filename))
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}
