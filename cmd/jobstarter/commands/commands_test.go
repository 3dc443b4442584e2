package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jobstarter/jobstarter/pkg/config"
	"github.com/jobstarter/jobstarter/pkg/engine"
	"github.com/jobstarter/jobstarter/pkg/runtime"
	"github.com/jobstarter/jobstarter/pkg/stores"
)

const retentionJob = `env:
  job:
    name: orders
  state:
    retention:
      min: 5
      max: 60
  engine:
    foo.bar: baz
`

const partialRetentionJob = `env:
  job:
    name: orders
  state:
    retention:
      min: 5
`

// testEnv isolates the history database and quiets logging.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("JOBSTARTER_STORE_PATH", filepath.Join(dir, "history.db"))
	t.Setenv("JOBSTARTER_LOG_LEVEL", "error")
	t.Setenv("JOBSTARTER_POLICY_PATHS", "")
	t.Setenv("JOBSTARTER_ENGINE_FAMILY", "")
	return dir
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "unknown")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeys(t *testing.T) {
	testEnv(t)

	out, err := runCommand(t, "keys")
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	for _, want := range []string{config.KeyMinStateRetention, config.KeyMaxStateRetention, config.KeyEngineOverrides} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to list %s, got:\n%s", want, out)
		}
	}

	out, err = runCommand(t, "keys", "--json")
	if err != nil {
		t.Fatalf("keys --json failed: %v", err)
	}
	var specs []config.KeySpec
	if err := json.Unmarshal([]byte(out), &specs); err != nil {
		t.Fatalf("Failed to decode keys: %v", err)
	}
	if len(specs) != len(config.Keys.All()) {
		t.Errorf("Expected %d keys, got %d", len(config.Keys.All()), len(specs))
	}
}

func TestPrepare_RecordsHistory(t *testing.T) {
	dir := testEnv(t)
	job := writeFile(t, filepath.Join(dir, "job.yaml"), retentionJob)

	out, err := runCommand(t, "prepare", "--mode", "streaming", job)
	if err != nil {
		t.Fatalf("prepare failed: %v\n%s", err, out)
	}
	for _, want := range []string{"prepared", "STREAMING", "(5s, 1m0s)", "foo.bar", "baz"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected summary to contain %q, got:\n%s", want, out)
		}
	}

	out, err = runCommand(t, "history", "--json")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var envs []stores.Environment
	if err := json.Unmarshal([]byte(out), &envs); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(envs) != 1 {
		t.Fatalf("Expected 1 recorded environment, got %d", len(envs))
	}
	if envs[0].JobName != "orders" || envs[0].Status != stores.EnvironmentStatusPrepared {
		t.Errorf("Unexpected record: %+v", envs[0])
	}
	if envs[0].Settings["foo.bar"] != "baz" {
		t.Errorf("Expected pass-through settings to be recorded, got %v", envs[0].Settings)
	}
}

func TestPrepare_MissingRetentionWarns(t *testing.T) {
	dir := testEnv(t)
	job := writeFile(t, filepath.Join(dir, "job.yaml"), partialRetentionJob)

	out, err := runCommand(t, "prepare", "--json", job)
	if err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	var summary runtime.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if summary.Retention != nil {
		t.Errorf("Expected no retention window, got %v", summary.Retention)
	}
	if len(summary.Warnings) != 1 || summary.Warnings[0] != config.KeyMaxStateRetention {
		t.Errorf("Expected a warning for %s, got %v", config.KeyMaxStateRetention, summary.Warnings)
	}

	out, err = runCommand(t, "history", "--json", summary.ID)
	if err != nil {
		t.Fatalf("history %s failed: %v", summary.ID, err)
	}
	var record struct {
		ID       string           `json:"id"`
		Warnings []stores.Warning `json:"warnings"`
	}
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("Failed to decode record: %v", err)
	}
	if record.ID != summary.ID {
		t.Errorf("Expected record %s, got %s", summary.ID, record.ID)
	}
	if len(record.Warnings) != 1 || record.Warnings[0].Kind != stores.WarningKindMissingKey {
		t.Errorf("Expected one missing-key warning, got %+v", record.Warnings)
	}
}

func TestPrepare_NoRecord(t *testing.T) {
	dir := testEnv(t)
	job := writeFile(t, filepath.Join(dir, "job.yaml"), retentionJob)

	if _, err := runCommand(t, "prepare", "--no-record", job); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	out, err := runCommand(t, "history", "--json")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var envs []stores.Environment
	if err := json.Unmarshal([]byte(out), &envs); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(envs) != 0 {
		t.Errorf("Expected no recorded environments, got %d", len(envs))
	}
}

func TestPrepare_InvalidFlags(t *testing.T) {
	dir := testEnv(t)
	job := writeFile(t, filepath.Join(dir, "job.yaml"), retentionJob)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown mode", []string{"prepare", "--mode", "sometimes", job}},
		{"unknown family", []string{"prepare", "--family", "graph", job}},
		{"missing file", []string{"prepare", filepath.Join(dir, "absent.yaml")}},
		{"unsupported extension", []string{"prepare", writeFile(t, filepath.Join(dir, "job.ini"), "x=1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCommand(t, tt.args...); err == nil {
				t.Errorf("Expected %v to fail", tt.args)
			}
		})
	}
}

func TestPrepare_PolicyViolationIsRecorded(t *testing.T) {
	dir := testEnv(t)
	job := writeFile(t, filepath.Join(dir, "job.yaml"), `env:
  engine:
    execution.runtime-mode: BATCH
`)

	out, err := runCommand(t, "prepare", job)
	if err == nil {
		t.Fatal("Expected reserved engine override to fail prepare")
	}
	if !strings.Contains(out, "reserved-settings") {
		t.Errorf("Expected the violation in the summary, got:\n%s", out)
	}

	out, err = runCommand(t, "history", "--json", "--status", "failed")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var envs []stores.Environment
	if err := json.Unmarshal([]byte(out), &envs); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(envs) != 1 || envs[0].Error == nil {
		t.Errorf("Expected one failed environment with an error, got %+v", envs)
	}
}

func TestValidate(t *testing.T) {
	dir := testEnv(t)

	tests := []struct {
		name    string
		content string
		args    []string
		wantErr bool
		want    string
	}{
		{
			name:    "valid batch job",
			content: retentionJob,
			want:    "valid (BATCH, table)",
		},
		{
			name:    "valid session job",
			content: retentionJob,
			args:    []string{"--family", "session", "--mode", "streaming"},
			want:    "valid (STREAMING, session)",
		},
		{
			name:    "missing bound is reported",
			content: partialRetentionJob,
			want:    "missing: " + config.KeyMaxStateRetention,
		},
		{
			name: "schema violation",
			content: `env:
  state:
    retention:
      min: -1
`,
			wantErr: true,
			want:    "invalid",
		},
		{
			name: "inverted retention",
			content: `env:
  state:
    retention:
      min: 60
      max: 5
`,
			wantErr: true,
			want:    "invalid",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := writeFile(t, filepath.Join(dir, "job"+string(rune('a'+i))+".yaml"), tt.content)
			args := append([]string{"validate"}, tt.args...)
			out, err := runCommand(t, append(args, job)...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate error = %v, wantErr %v\n%s", err, tt.wantErr, out)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("Expected output to contain %q, got:\n%s", tt.want, out)
			}
		})
	}

	out, err := runCommand(t, "history", "--json")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var envs []stores.Environment
	if err := json.Unmarshal([]byte(out), &envs); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(envs) != 0 {
		t.Errorf("Expected validate not to record, got %d environments", len(envs))
	}
}

func TestValidate_UserPolicies(t *testing.T) {
	dir := testEnv(t)

	policyDir := filepath.Join(dir, "policies")
	if err := os.Mkdir(policyDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(policyDir, "naming.rego"), `# Streaming jobs must be named.
# severity: error
package acme.naming

import rego.v1

deny contains "streaming jobs must be named" if {
	input.mode == "STREAMING"
	not input.job_name
}
`)
	settings := writeFile(t, filepath.Join(dir, "jobstarter.yaml"), "policy:\n  paths:\n    - "+policyDir+"\n")

	job := writeFile(t, filepath.Join(dir, "job.yaml"), "env:\n  job:\n    mode: streaming\n")

	out, err := runCommand(t, "--config", settings, "validate", job)
	if err == nil {
		t.Fatalf("Expected unnamed streaming job to be rejected, got:\n%s", out)
	}
	if !strings.Contains(out, "streaming jobs must be named") {
		t.Errorf("Expected the user policy message, got:\n%s", out)
	}

	named := writeFile(t, filepath.Join(dir, "named.yaml"), "env:\n  job:\n    mode: streaming\n    name: clicks\n")
	if out, err := runCommand(t, "--config", settings, "validate", named); err != nil {
		t.Errorf("Expected named streaming job to pass, got %v\n%s", err, out)
	}
}

func TestLoadSettings(t *testing.T) {
	dir := testEnv(t)

	path := writeFile(t, filepath.Join(dir, "jobstarter.toml"), `[log]
level = "debug"

[engine]
family = "session"

[trace]
exporter = "stdout"
`)

	s, err := loadSettings(path)
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}
	if s.Engine.Family != "session" {
		t.Errorf("Expected family from file, got %s", s.Engine.Family)
	}
	if s.Trace.Exporter != "stdout" {
		t.Errorf("Expected stdout exporter, got %s", s.Trace.Exporter)
	}
	// The environment wins over the file.
	if s.Log.Level != "error" {
		t.Errorf("Expected log level from environment, got %s", s.Log.Level)
	}
	if s.Store.Path != filepath.Join(dir, "history.db") {
		t.Errorf("Expected store path from environment, got %s", s.Store.Path)
	}

	t.Setenv("JOBSTARTER_ENGINE_FAMILY", "graph")
	if _, err := loadSettings(path); err == nil {
		t.Error("Expected an unknown family to be rejected")
	}

	t.Setenv("JOBSTARTER_ENGINE_FAMILY", "table")
	t.Setenv("JOBSTARTER_TRACE_EXPORTER", "otlp")
	if _, err := loadSettings(path); err == nil {
		t.Error("Expected otlp without an endpoint to be rejected")
	}

	if _, err := loadSettings(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Error("Expected a missing settings file to fail")
	}
}

func TestSetup_StopsTelemetryWhenMetricsServerFails(t *testing.T) {
	dir := testEnv(t)
	logPath := filepath.Join(dir, "cli.log")
	t.Setenv("JOBSTARTER_LOG_LEVEL", "debug")
	t.Setenv("JOBSTARTER_LOG_OUTPUT", logPath)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	defer busy.Close()
	t.Setenv("JOBSTARTER_METRICS_ADDR", busy.Addr().String())

	_, err = runCommand(t, "history")
	if err == nil || !strings.Contains(err.Error(), "failed to start metrics server") {
		t.Fatalf("Expected metrics server failure, got %v", err)
	}

	logs, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log output: %v", err)
	}
	if !strings.Contains(string(logs), "Telemetry stopped") {
		t.Errorf("Expected telemetry to be shut down, got logs:\n%s", logs)
	}
}

func TestHistory_UnopenableStore(t *testing.T) {
	dir := testEnv(t)
	// A directory cannot be opened as a database.
	t.Setenv("JOBSTARTER_STORE_PATH", dir)

	if _, err := runCommand(t, "history"); err == nil {
		t.Fatal("Expected history to fail on an unopenable store")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: ExitOK},
		{name: "plain", err: errors.New("boom"), want: ExitFailure},
		{name: "interrupted", err: fmt.Errorf("prepare: %w", context.Canceled), want: ExitInterrupted},
		{name: "load error", err: &config.LoadError{Source: "job.yaml"}, want: ExitInvalidJob},
		{name: "missing key", err: engine.NewMissingKeyError(config.KeyEngineOverrides), want: ExitInvalidJob},
		{name: "invalid value", err: engine.NewConfigError(config.KeyMinStateRetention, errors.New("negative")), want: ExitInvalidJob},
		{
			name: "policy",
			err:  engine.NewPermanentError("rejected", nil).WithCode(engine.ErrCodePolicyViolation),
			want: ExitPolicy,
		},
		{name: "transient", err: engine.NewTransientError("evaluation failed", nil), want: ExitTransient},
		{name: "construction", err: engine.NewConstructionError(engine.StageExecution, errors.New("x")), want: ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestPrepare_PolicyViolationExitCode(t *testing.T) {
	dir := testEnv(t)
	job := writeFile(t, filepath.Join(dir, "job.yaml"), "env:\n  engine:\n    execution.runtime-mode: BATCH\n")

	_, err := runCommand(t, "prepare", "--no-record", job)
	if got := ExitCode(err); got != ExitPolicy {
		t.Errorf("ExitCode(%v) = %d, want %d", err, got, ExitPolicy)
	}
}
