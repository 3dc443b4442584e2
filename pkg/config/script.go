package config

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultScriptTimeout bounds the evaluation of a Starlark job document.
const DefaultScriptTimeout = 30 * time.Second

// ScriptEvaluator runs Starlark job documents. A script's exported top-level
// globals become the document, so
//
//	env = {"job.name": "orders-" + vars["region"], "engine": {"pipeline.maxParallelism": 128}}
//
// is equivalent to the same env block written in YAML. Globals starting with
// an underscore, functions and modules are not exported.
type ScriptEvaluator struct {
	timeout time.Duration
	vars    map[string]any
}

// NewScriptEvaluator creates an evaluator. vars is exposed to scripts as the
// predeclared dict "vars"; it may be nil.
func NewScriptEvaluator(timeout time.Duration, vars map[string]any) *ScriptEvaluator {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	return &ScriptEvaluator{timeout: timeout, vars: vars}
}

// Load evaluates script and converts its exported globals into a Source.
func (se *ScriptEvaluator) Load(ctx context.Context, script []byte, origin string) (*Source, error) {
	globals, err := se.Evaluate(ctx, script, origin)
	if err != nil {
		return nil, &LoadError{Source: origin, Errors: []ValidationError{{
			File: origin, Message: err.Error(), Severity: "error",
		}}}
	}
	return encode(globals, origin)
}

// Evaluate runs script and returns its exported globals as Go values.
func (se *ScriptEvaluator) Evaluate(ctx context.Context, script []byte, origin string) (map[string]any, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  origin,
		Print: func(*starlark.Thread, string) {},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel(evalCtx.Err().Error())
		case <-done:
		}
	}()

	vars, err := toStarlarkValue(orEmpty(se.vars))
	if err != nil {
		return nil, fmt.Errorf("failed to convert script vars: %w", err)
	}
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"vars":   vars,
	}

	globals, err := starlark.ExecFile(thread, origin, script, predeclared)
	if err != nil {
		if ctxErr := evalCtx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("script evaluation aborted after %v: %w", se.timeout, ctxErr)
		}
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}

	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any, len(names))
	for _, name := range names {
		if name[0] == '_' {
			continue
		}
		switch globals[name].(type) {
		case *starlark.Function, *starlark.Builtin:
			continue
		}
		v, err := fromStarlarkValue(globals[name])
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func toStarlarkValue(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return val.BigInt(), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			gv, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = gv
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			gv, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			out[name] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Iterable, n int) ([]any, error) {
	out := make([]any, 0, n)
	iter := it.Iterate()
	defer iter.Done()

	var x starlark.Value
	for iter.Next(&x) {
		gv, err := fromStarlarkValue(x)
		if err != nil {
			return nil, err
		}
		out = append(out, gv)
	}
	return out, nil
}
