// Package filters provides value filters: hooks that transparently rewrite
// params and values on the wire between solver and problem. A filter sees a
// trial on its way to evaluation (FilterAsk) and the resulting observation
// on its way back to the solver (FilterTell). Filters return new values; the
// pipeline threads them through.
package filters

import (
	"math"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/rng"
)

// Spec describes a filter.
type Spec struct {
	Name string `json:"name"`
}

// Filter rewrites trials and observations between solver and problem.
// Filters are pure with respect to trial IDs: per-trial bookkeeping is keyed
// by ID and cleared on tell.
type Filter interface {
	Specification() Spec
	FilterAsk(r *rng.Rng, trial kurobako.NextTrial) (kurobako.NextTrial, error)
	FilterTell(r *rng.Rng, trial kurobako.EvaluatedTrial) (kurobako.EvaluatedTrial, error)
}

// GaussianNoise perturbs each observed objective value with N(0, width*level)
// where width is the observed min/max spread of that objective so far.
type GaussianNoise struct {
	level   float64
	domains []minMax
}

type minMax struct {
	min float64
	max float64
}

// NewGaussianNoise makes a noise filter with the given level. A level of 0.1
// adds noise with a standard deviation of a tenth of the observed spread.
func NewGaussianNoise(level float64) *GaussianNoise {
	return &GaussianNoise{level: level}
}

var _ Filter = (*GaussianNoise)(nil)

// Specification returns the filter spec.
func (f *GaussianNoise) Specification() Spec {
	return Spec{Name: "gaussian-noise"}
}

// FilterAsk passes trials through untouched.
func (f *GaussianNoise) FilterAsk(_ *rng.Rng, trial kurobako.NextTrial) (kurobako.NextTrial, error) {
	return trial, nil
}

// FilterTell perturbs the observation. The first observation initializes the
// per-objective domains and passes through unchanged.
func (f *GaussianNoise) FilterTell(r *rng.Rng, trial kurobako.EvaluatedTrial) (kurobako.EvaluatedTrial, error) {
	if trial.IsUnevaluable() {
		return trial, nil
	}

	if f.domains == nil {
		f.domains = make([]minMax, len(trial.Values))
		for i, v := range trial.Values {
			f.domains[i] = minMax{min: v, max: v}
		}
		return trial, nil
	}
	if len(trial.Values) != len(f.domains) {
		return trial, kurobako.NewErrorf(kurobako.InvalidInput,
			"gaussian-noise: expected %d objective values, got %d", len(f.domains), len(trial.Values))
	}

	noised := make(kurobako.Values, len(trial.Values))
	for i, v := range trial.Values {
		d := &f.domains[i]
		if v < d.min {
			d.min = v
		}
		if v > d.max {
			d.max = v
		}
		sd := (d.max - d.min) * f.level
		noised[i] = v + r.NormFloat64()*sd
	}

	out := trial
	out.Values = noised
	return out, nil
}

// DiscreteToContinuous relaxes discrete parameters so solvers without
// discrete support can drive the problem: proposed values are floored before
// evaluation, and the solver-side originals are kept in a trial-id keyed side
// map until the tell for that trial clears them. The originals are not
// written back into any trial or observation.
type DiscreteToContinuous struct {
	domain  kurobako.Domain
	relaxed map[uint64]kurobako.Params
}

// NewDiscreteToContinuous makes a relaxation filter for the given params
// domain.
func NewDiscreteToContinuous(paramsDomain kurobako.Domain) *DiscreteToContinuous {
	return &DiscreteToContinuous{
		domain:  paramsDomain,
		relaxed: map[uint64]kurobako.Params{},
	}
}

var _ Filter = (*DiscreteToContinuous)(nil)

// Specification returns the filter spec.
func (f *DiscreteToContinuous) Specification() Spec {
	return Spec{Name: "discrete-to-continuous"}
}

// FilterAsk floors the proposed values of discrete variables, remembering
// the originals for this trial ID.
func (f *DiscreteToContinuous) FilterAsk(_ *rng.Rng, trial kurobako.NextTrial) (kurobako.NextTrial, error) {
	variables := f.domain.Variables()
	if len(trial.Params) != len(variables) {
		return trial, kurobako.NewErrorf(kurobako.InvalidInput,
			"discrete-to-continuous: expected %d params, got %d", len(variables), len(trial.Params))
	}

	floored := make(kurobako.Params, len(trial.Params))
	copy(floored, trial.Params)
	touched := false
	for i, v := range variables {
		if !v.Range.IsDiscrete() {
			continue
		}
		if val, ok := trial.Params.Get(i); ok {
			floored[i] = math.Floor(val)
			touched = true
		}
	}
	if touched {
		f.relaxed[trial.ID] = trial.Params
	}

	out := trial
	out.Params = floored
	return out, nil
}

// FilterTell clears this trial's side-map entry; the observation itself
// passes through unchanged.
func (f *DiscreteToContinuous) FilterTell(_ *rng.Rng, trial kurobako.EvaluatedTrial) (kurobako.EvaluatedTrial, error) {
	delete(f.relaxed, trial.ID)
	return trial, nil
}
