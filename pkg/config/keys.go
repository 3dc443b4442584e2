package config

import "sort"

// Well-known paths inside the env block.
const (
	KeyJobName            = "job.name"
	KeyJobMode            = "job.mode"
	KeyMinStateRetention  = "state.retention.min"
	KeyMaxStateRetention  = "state.retention.max"
	KeyParallelism        = "execution.parallelism"
	KeyCheckpointInterval = "execution.checkpoint.interval"
	KeyBatchDuration      = "session.batch.duration"
	KeyEngineOverrides    = "engine"
)

// KeyKind describes the value type expected at a well-known path.
type KeyKind string

const (
	KindString  KeyKind = "string"
	KindInt     KeyKind = "int"
	KindSubtree KeyKind = "subtree"
)

// KeySpec documents one well-known configuration path.
type KeySpec struct {
	Path        string  `json:"path"`
	Kind        KeyKind `json:"kind"`
	Unit        string  `json:"unit,omitempty"`
	Default     string  `json:"default,omitempty"`
	Description string  `json:"description"`
}

// Registry is the fixed catalog of configuration paths the bootstrap layer interprets.
type Registry struct {
	specs map[string]KeySpec
}

// Keys is the catalog used by the runtime environments.
var Keys = NewRegistry(
	KeySpec{Path: KeyJobName, Kind: KindString,
		Description: "Job name; left unset when absent"},
	KeySpec{Path: KeyJobMode, Kind: KindString, Default: "BATCH",
		Description: "BATCH or STREAMING; selects the derived context semantics"},
	KeySpec{Path: KeyMinStateRetention, Kind: KindInt, Unit: "s",
		Description: "Minimum idle state retention; applied only together with the maximum"},
	KeySpec{Path: KeyMaxStateRetention, Kind: KindInt, Unit: "s",
		Description: "Maximum idle state retention; applied only together with the minimum"},
	KeySpec{Path: KeyParallelism, Kind: KindInt, Default: "1",
		Description: "Default operator parallelism of the execution context"},
	KeySpec{Path: KeyCheckpointInterval, Kind: KindInt, Unit: "ms",
		Description: "Checkpoint interval; streaming jobs only"},
	KeySpec{Path: KeyBatchDuration, Kind: KindInt, Unit: "s", Default: "5",
		Description: "Micro-batch interval of the session family in streaming mode"},
	KeySpec{Path: KeyEngineOverrides, Kind: KindSubtree,
		Description: "Arbitrary engine settings passed through verbatim"},
)

// NewRegistry builds a registry from specs.
func NewRegistry(specs ...KeySpec) *Registry {
	r := &Registry{specs: make(map[string]KeySpec, len(specs))}
	for _, s := range specs {
		r.specs[s.Path] = s
	}
	return r
}

// Lookup returns the spec registered for path.
func (r *Registry) Lookup(path string) (KeySpec, bool) {
	s, ok := r.specs[path]
	return s, ok
}

// IsKnown reports whether path is a registered key.
func (r *Registry) IsKnown(path string) bool {
	_, ok := r.specs[path]
	return ok
}

// All returns every spec ordered by path.
func (r *Registry) All() []KeySpec {
	out := make([]KeySpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
