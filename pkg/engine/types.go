package engine

import (
	"fmt"
	"strings"
	"time"
)

// JobMode selects whether a job runs as a one-shot batch computation or as a
// continuously running stream.
type JobMode string

const (
	// JobModeBatch runs the job once over bounded input. It is the default.
	JobModeBatch JobMode = "BATCH"

	// JobModeStreaming runs the job continuously over unbounded input.
	JobModeStreaming JobMode = "STREAMING"
)

// ParseJobMode parses a configured job mode. Matching is case-insensitive and
// accepts STREAM as an alias of STREAMING. The empty string yields JobModeBatch.
func ParseJobMode(s string) (JobMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(JobModeBatch):
		return JobModeBatch, nil
	case string(JobModeStreaming), "STREAM":
		return JobModeStreaming, nil
	default:
		return "", fmt.Errorf("unknown job mode %q (expected BATCH or STREAMING)", s)
	}
}

// IsStreaming reports whether m requires streaming execution semantics.
// The zero value is not streaming.
func (m JobMode) IsStreaming() bool {
	return m == JobModeStreaming
}

// String returns the canonical job mode name, mapping the zero value to BATCH.
func (m JobMode) String() string {
	if m == "" {
		return string(JobModeBatch)
	}
	return string(m)
}

// Family identifies a supported engine family. Each family has its own
// runtime environment variant and derived-context type.
type Family string

const (
	// FamilyTable builds a stream execution context with a table context layered on it.
	FamilyTable Family = "table"

	// FamilySession builds an execution context with a SQL session layered on it,
	// plus a micro-batch streaming context in streaming mode.
	FamilySession Family = "session"
)

// ParseFamily parses an engine family name. The empty string yields FamilyTable.
func ParseFamily(s string) (Family, error) {
	switch Family(strings.ToLower(strings.TrimSpace(s))) {
	case "", FamilyTable:
		return FamilyTable, nil
	case FamilySession:
		return FamilySession, nil
	default:
		return "", fmt.Errorf("unknown engine family %q (expected table or session)", s)
	}
}

// RetentionWindow bounds how long idle streaming state is retained before it
// becomes eligible for cleanup.
type RetentionWindow struct {
	// Min is the minimum idle time before state may be cleaned up.
	Min time.Duration `json:"min"`

	// Max is the idle time after which state is always cleaned up.
	Max time.Duration `json:"max"`
}

// IsZero reports whether no retention has been configured.
func (w RetentionWindow) IsZero() bool {
	return w.Min == 0 && w.Max == 0
}

// String renders the window as "(min, max)".
func (w RetentionWindow) String() string {
	return fmt.Sprintf("(%s, %s)", w.Min, w.Max)
}
