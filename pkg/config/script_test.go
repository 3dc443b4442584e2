package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestScriptEvaluator_Load(t *testing.T) {
	se := NewScriptEvaluator(time.Second, map[string]any{"region": "eu"})

	script := `
_retention = 60

def name(prefix):
    return prefix + "-" + vars["region"]

env = {
    "job.name": name("orders"),
    "state": {"retention": {"min": 5, "max": _retention}},
    "engine": {"pipeline.maxParallelism": 64 * 2, "hosts": ["a", "b"]},
}
sink = struct(topic = "out")
`

	src, err := se.Load(context.Background(), []byte(script), "job.star")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := src.Keys(); strings.Join(got, ",") != "env,sink" {
		t.Errorf("Expected only exported globals, got %v", got)
	}

	env, err := src.Sub(EnvBlock)
	if err != nil {
		t.Fatalf("Sub(env) error = %v", err)
	}
	if name, _ := env.GetString(KeyJobName); name != "orders-eu" {
		t.Errorf("job.name = %q", name)
	}
	if max, _ := env.GetInt64(KeyMaxStateRetention); max != 60 {
		t.Errorf("max retention = %d", max)
	}

	flat, err := env.Flatten(KeyEngineOverrides)
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	if flat["pipeline.maxParallelism"] != "128" || flat["hosts"] != "a;b" {
		t.Errorf("Unexpected overrides: %v", flat)
	}

	if topic, _ := src.GetString("sink.topic"); topic != "out" {
		t.Errorf("sink.topic = %q", topic)
	}
}

func TestScriptEvaluator_Errors(t *testing.T) {
	se := NewScriptEvaluator(time.Second, nil)

	_, err := se.Load(context.Background(), []byte("env = undefined_name"), "bad.star")
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Expected *LoadError, got %v", err)
	}

	_, err = se.Evaluate(context.Background(), []byte("env = set([1])"), "set.star")
	if err == nil {
		t.Error("Expected unsupported type error")
	}
}

func TestScriptEvaluator_Timeout(t *testing.T) {
	se := NewScriptEvaluator(50*time.Millisecond, nil)

	script := `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n

env = {"x": spin()}
`
	_, err := se.Evaluate(context.Background(), []byte(script), "spin.star")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func TestLoader_StarlarkJobFile(t *testing.T) {
	loader := NewLoader(WithScriptEvaluator(NewScriptEvaluator(time.Second, map[string]any{"mode": "STREAMING"})))

	doc, err := loader.LoadJobString(`env = {"job": {"mode": vars["mode"]}}`, FormatStarlark)
	if err != nil {
		t.Fatalf("LoadJobString() error = %v", err)
	}
	if mode, _ := doc.Env.GetString(KeyJobMode); mode != "STREAMING" {
		t.Errorf("job.mode = %q", mode)
	}

	_, err = loader.LoadJobString(`env = {"job": {"mode": "HOURLY"}}`, FormatStarlark)
	if err == nil {
		t.Error("Expected schema violation from script output")
	}
}
