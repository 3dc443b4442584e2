package config

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jobstarter/jobstarter/pkg/engine"
	"github.com/rs/zerolog"
)

// WarningRecorder is notified whenever an expected-but-optional key is absent.
type WarningRecorder interface {
	MissingOptionalKey(key string)
}

// Applier translates configuration paths into engine values. It holds no
// state besides its logger and recorder; every method is a pure read of src.
type Applier struct {
	logger   zerolog.Logger
	recorder WarningRecorder
}

// NewApplier creates an applier. recorder may be nil.
func NewApplier(logger zerolog.Logger, recorder WarningRecorder) *Applier {
	return &Applier{
		logger:   logger.With().Str("component", "config-applier").Logger(),
		recorder: recorder,
	}
}

// HasPathAndWarn reports whether key is present, logging one warning when it is not.
func (a *Applier) HasPathAndWarn(src *Source, key string) bool {
	if src.HasPath(key) {
		return true
	}

	a.logger.Warn().Str("key", key).Msg("Configuration item not set")
	if a.recorder != nil {
		a.recorder.MissingOptionalKey(key)
	}
	return false
}

// RetentionWindow reads the paired retention bounds. Both keys are checked and
// each missing one is warned about; the window is returned only when both are
// present. Bounds are integral seconds.
func (a *Applier) RetentionWindow(src *Source) (engine.RetentionWindow, bool, error) {
	hasMax := a.HasPathAndWarn(src, KeyMaxStateRetention)
	hasMin := a.HasPathAndWarn(src, KeyMinStateRetention)
	if !hasMax || !hasMin {
		return engine.RetentionWindow{}, false, nil
	}

	maxSecs, err := src.GetInt64(KeyMaxStateRetention)
	if err != nil {
		return engine.RetentionWindow{}, false, engine.NewConfigError(KeyMaxStateRetention, err)
	}
	minSecs, err := src.GetInt64(KeyMinStateRetention)
	if err != nil {
		return engine.RetentionWindow{}, false, engine.NewConfigError(KeyMinStateRetention, err)
	}

	if minSecs < 0 || maxSecs < 0 {
		return engine.RetentionWindow{}, false, engine.NewConfigError(KeyMinStateRetention,
			fmt.Errorf("%w: bounds must not be negative (min=%d, max=%d)", engine.ErrInvalidRetention, minSecs, maxSecs))
	}
	if minSecs > maxSecs {
		return engine.RetentionWindow{}, false, engine.NewConfigError(KeyMinStateRetention,
			fmt.Errorf("%w: min %ds exceeds max %ds", engine.ErrInvalidRetention, minSecs, maxSecs))
	}

	return engine.RetentionWindow{
		Min: time.Duration(minSecs) * time.Second,
		Max: time.Duration(maxSecs) * time.Second,
	}, true, nil
}

// PassThrough copies every leaf of the engine override sub-tree into target,
// keyed by its dotted path relative to the sub-tree. It returns the number of
// settings applied. An absent sub-tree applies nothing.
func (a *Applier) PassThrough(src *Source, target *engine.Settings) (int, error) {
	if !src.HasPath(KeyEngineOverrides) {
		return 0, nil
	}

	flat, err := src.Flatten(KeyEngineOverrides)
	if err != nil {
		if errors.Is(err, ErrPathNotFound) {
			missing := engine.NewMissingKeyError(KeyEngineOverrides)
			missing.Err = err
			return 0, missing
		}
		return 0, engine.NewConfigError(KeyEngineOverrides, err)
	}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		target.Set(k, flat[k])
		a.logger.Debug().Str("key", k).Msg("Applied engine setting")
	}
	return len(keys), nil
}

// JobMode returns the configured job mode, BATCH when absent.
func (a *Applier) JobMode(src *Source) (engine.JobMode, error) {
	if !src.HasPath(KeyJobMode) {
		return engine.JobModeBatch, nil
	}
	raw, err := src.GetString(KeyJobMode)
	if err != nil {
		return "", engine.NewConfigError(KeyJobMode, err)
	}
	mode, err := engine.ParseJobMode(raw)
	if err != nil {
		return "", engine.NewConfigError(KeyJobMode, err)
	}
	return mode, nil
}

// JobName returns the configured job name. ok is false when the key is absent.
func (a *Applier) JobName(src *Source) (name string, ok bool, err error) {
	if !src.HasPath(KeyJobName) {
		return "", false, nil
	}
	name, err = src.GetString(KeyJobName)
	if err != nil {
		return "", false, engine.NewConfigError(KeyJobName, err)
	}
	return name, true, nil
}

// ExecutionOptions resolves the stage-1 inputs for mode.
func (a *Applier) ExecutionOptions(src *Source, mode engine.JobMode) (engine.ExecutionOptions, error) {
	opts := engine.ExecutionOptions{Mode: mode}

	if src.HasPath(KeyParallelism) {
		n, err := src.GetInt64(KeyParallelism)
		if err != nil {
			return opts, engine.NewConfigError(KeyParallelism, err)
		}
		if n <= 0 {
			return opts, engine.NewConfigError(KeyParallelism, fmt.Errorf("must be positive, got %d", n))
		}
		opts.Parallelism = int(n)
	}

	if mode.IsStreaming() && src.HasPath(KeyCheckpointInterval) {
		ms, err := src.GetInt64(KeyCheckpointInterval)
		if err != nil {
			return opts, engine.NewConfigError(KeyCheckpointInterval, err)
		}
		if ms < 0 {
			return opts, engine.NewConfigError(KeyCheckpointInterval, fmt.Errorf("must not be negative, got %d", ms))
		}
		opts.CheckpointInterval = time.Duration(ms) * time.Millisecond
	}

	return opts, nil
}

// BatchDuration returns the session micro-batch interval, zero when absent.
func (a *Applier) BatchDuration(src *Source) (time.Duration, error) {
	if !src.HasPath(KeyBatchDuration) {
		return 0, nil
	}
	secs, err := src.GetInt64(KeyBatchDuration)
	if err != nil {
		return 0, engine.NewConfigError(KeyBatchDuration, err)
	}
	if secs < 0 {
		return 0, engine.NewConfigError(KeyBatchDuration, fmt.Errorf("must not be negative, got %d", secs))
	}
	return time.Duration(secs) * time.Second, nil
}
