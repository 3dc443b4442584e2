package config

import (
	"fmt"
	"strings"
	"time"
)

// Format identifies the syntax of a job document.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"

	// FormatStarlark documents are scripts whose top-level globals form the document.
	FormatStarlark Format = "star"
)

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) (Format, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".cue"):
		return FormatCUE, nil
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return FormatYAML, nil
	case strings.HasSuffix(lower, ".json"):
		return FormatJSON, nil
	case strings.HasSuffix(lower, ".toml"):
		return FormatTOML, nil
	case strings.HasSuffix(lower, ".star"):
		return FormatStarlark, nil
	default:
		return "", fmt.Errorf("unsupported config file extension: %s", path)
	}
}

// JobDocument is a loaded job definition.
type JobDocument struct {
	// Path is the file the document was loaded from, or "inline".
	Path string `json:"path"`

	// Format is the syntax the document was written in.
	Format Format `json:"format"`

	// Root is the whole document.
	Root *Source `json:"-"`

	// Env is the env block consumed by the runtime environment. It is empty,
	// never nil, when the document has no env block.
	Env *Source `json:"-"`

	// LoadedAt is when the document was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "env.state.retention.min").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// String renders the error as file:line:col: path: message.
func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// LoadError is returned when a document cannot be parsed or violates the schema.
type LoadError struct {
	Source string
	Errors []ValidationError
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("failed to load %s", e.Source)
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.String())
	}
	return fmt.Sprintf("failed to load %s: %s", e.Source, strings.Join(msgs, "; "))
}
