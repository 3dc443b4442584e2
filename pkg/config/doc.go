// Package config loads job documents and translates their env block into
// engine settings.
//
// # Overview
//
// A job document has an env block consumed by the runtime environment plus
// source, transform and sink blocks owned by downstream components:
//
//	env: {
//	    job: {name: "orders-enrichment", mode: "STREAMING"}
//	    state: retention: {min: 5, max: 60}
//	    execution: {parallelism: 4, checkpoint: interval: 10000}
//	    engine: {
//	        "table.exec.mini-batch.enabled": true
//	        pipeline: maxParallelism: 128
//	    }
//	}
//
// Documents may be written in CUE, YAML, JSON or TOML. Every format is
// normalized into a CUE value and validated against the embedded #Job schema.
// In YAML, JSON and TOML, dotted keys such as "job.name" are expanded into
// nested blocks.
//
// # Components
//
// Source: the immutable configuration tree. Dotted paths are split into literal
// selectors, so "table.exec.mini-batch.enabled" needs no quoting.
//
// Registry (Keys): the catalog of well-known paths the bootstrap layer interprets.
//
// Applier: translation functions from a Source to engine values. Two patterns:
//
//   - Paired keys with existence check: both retention bounds must be present for a
//     RetentionWindow to be returned. Each missing bound logs one warning and the
//     window is skipped; a single bound is never applied.
//   - Pass-through: every leaf under "engine" is copied verbatim into the engine's
//     settings object, without the key being registered anywhere.
//
// # Errors
//
// Missing optional keys are warnings, never errors. Malformed values and null
// leaves in the pass-through sub-tree are permanent *engine.EngineError values.
package config
