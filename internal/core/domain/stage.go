package domain

import "time"

// Stage names one phase of the synthesis pipeline.
type Stage string

const (
	StageInitial Stage = "initial"
	StageMeta    Stage = "meta"
	StageHyper   Stage = "hyper"
	StageUltra   Stage = "ultra"
)

// StageResult maps provider to response text for one settled stage.
// A provider that failed is simply absent. Immutable once the stage settles.
type StageResult map[ProviderID]string

// Clone returns an independent copy so a later stage cannot mutate a
// settled one.
func (r StageResult) Clone() StageResult {
	out := make(StageResult, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// PatternConfig shapes one pipeline run.
type PatternConfig struct {
	// MetaProviders is the subset fanned out to in the Meta stage.
	// Empty means the configured default.
	MetaProviders []ProviderID

	// HyperPriority orders candidates for the Hyper synthesis call.
	HyperPriority []ProviderID

	// UltraPriority orders candidates for the final synthesis call.
	// May differ from HyperPriority.
	UltraPriority []ProviderID
}

// PipelineResult is the outcome of one full run.
type PipelineResult struct {
	Initial StageResult
	Meta    StageResult
	Hyper   string
	Ultra   string

	// HyperProvider and UltraProvider record which backend produced the
	// synthesis outputs, empty when the stage degraded.
	HyperProvider ProviderID
	UltraProvider ProviderID

	// Degraded lists stages that fell back to an earlier stage's output.
	Degraded []Stage

	Elapsed time.Duration
}

// Best returns the most refined answer the run produced: Ultra, then Hyper,
// then the first Meta or Initial answer in provider order.
func (r *PipelineResult) Best() string {
	if r.Ultra != "" {
		return r.Ultra
	}
	if r.Hyper != "" {
		return r.Hyper
	}
	for _, set := range []StageResult{r.Meta, r.Initial} {
		best := ""
		var bestProv ProviderID
		for p, v := range set {
			if best == "" || p < bestProv {
				best, bestProv = v, p
			}
		}
		if best != "" {
			return best
		}
	}
	return ""
}

// StageDegraded reports whether the named stage fell back.
func (r *PipelineResult) StageDegraded(s Stage) bool {
	for _, d := range r.Degraded {
		if d == s {
			return true
		}
	}
	return false
}
