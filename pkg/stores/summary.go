package stores

import (
	"fmt"
	"time"

	"github.com/jobstarter/jobstarter/pkg/runtime"
)

// FromSummary converts a runtime environment summary into a record and its
// warnings: one per missing configuration key, one per policy violation.
func FromSummary(s runtime.Summary) (*Environment, []Warning) {
	env := &Environment{
		ID:         s.ID,
		JobName:    s.JobName,
		Mode:       s.Mode.String(),
		Family:     string(s.Family),
		SourcePath: s.Source,
		Settings:   s.Settings,
		Status:     EnvironmentStatus(s.Status),
		DurationMs: s.Duration.Milliseconds(),
		CreatedAt:  s.CreatedAt,
	}
	if s.Retention != nil {
		minSecs := int64(s.Retention.Min / time.Second)
		maxSecs := int64(s.Retention.Max / time.Second)
		env.RetentionMinSeconds = &minSecs
		env.RetentionMaxSeconds = &maxSecs
	}
	if s.Error != "" {
		msg := s.Error
		env.Error = &msg
	}
	if !s.PreparedAt.IsZero() {
		at := s.PreparedAt
		env.PreparedAt = &at
	}

	warnings := make([]Warning, 0, len(s.Warnings)+len(s.Violations))
	for _, key := range s.Warnings {
		warnings = append(warnings, Warning{
			EnvironmentID: s.ID,
			Kind:          WarningKindMissingKey,
			Key:           key,
			Message:       "configuration item not set",
		})
	}
	for _, v := range s.Violations {
		warnings = append(warnings, Warning{
			EnvironmentID: s.ID,
			Kind:          WarningKindPolicy,
			Key:           v.Key,
			Message:       fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message),
			CreatedAt:     v.DetectedAt,
		})
	}
	return env, warnings
}
