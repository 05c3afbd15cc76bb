// Package study defines recipes: the JSON documents that describe which
// solver to run against which problem and under what budget. Recipes print
// canonically from the CLI and stream into the run command one per line.
package study

import (
	"encoding/json"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/epi"
	"github.com/HideakiImamura/kurobako/problems/sphere"
	"github.com/HideakiImamura/kurobako/solvers/randomsearch"
)

// SolverRecipe is a tagged union over the known solver kinds. Exactly one
// field must be set; the JSON form is e.g. {"random": {}} or
// {"command": {"path": "./my-solver"}}.
type SolverRecipe struct {
	Random  *randomsearch.Recipe     `json:"random,omitempty"`
	Command *epi.CommandSolverRecipe `json:"command,omitempty"`
}

// CreateFactory builds the solver factory the recipe describes.
func (r *SolverRecipe) CreateFactory() (kurobako.SolverFactory, error) {
	switch {
	case r.Random != nil && r.Command == nil:
		return r.Random.CreateFactory()
	case r.Command != nil && r.Random == nil:
		return r.Command.CreateFactory()
	default:
		return nil, kurobako.NewError(kurobako.InvalidInput, "solver recipe must have exactly one variant")
	}
}

// ProblemRecipe is a tagged union over the known problem kinds.
type ProblemRecipe struct {
	Sphere  *sphere.Recipe            `json:"sphere,omitempty"`
	Command *epi.CommandProblemRecipe `json:"command,omitempty"`
}

// CreateFactory builds the problem factory the recipe describes.
func (r *ProblemRecipe) CreateFactory() (kurobako.ProblemFactory, error) {
	switch {
	case r.Sphere != nil && r.Command == nil:
		return r.Sphere.CreateFactory()
	case r.Command != nil && r.Sphere == nil:
		return r.Command.CreateFactory()
	default:
		return nil, kurobako.NewError(kurobako.InvalidInput, "problem recipe must have exactly one variant")
	}
}

// StudyRecipe pairs one solver with one problem under a budget.
type StudyRecipe struct {
	Solver  SolverRecipe  `json:"solver"`
	Problem ProblemRecipe `json:"problem"`

	// Budget is the number of complete evaluations. Zero means the run
	// command's configured default budget.
	Budget uint64 `json:"budget,omitempty"`

	// Concurrency is echoed into the trace; the core runner is sequential
	// within a study.
	Concurrency int `json:"concurrency,omitempty"`

	// Seed pins the study's random seed. Nil derives one per study.
	Seed *uint64 `json:"random_seed,omitempty"`
}

// Validate checks the recipe without building factories.
func (r *StudyRecipe) Validate() error {
	if r.Solver.Random == nil && r.Solver.Command == nil {
		return kurobako.NewError(kurobako.InvalidInput, "study recipe has no solver")
	}
	if r.Problem.Sphere == nil && r.Problem.Command == nil {
		return kurobako.NewError(kurobako.InvalidInput, "study recipe has no problem")
	}
	if r.Concurrency < 0 {
		return kurobako.NewError(kurobako.InvalidInput, "study concurrency must be positive")
	}
	return nil
}

// SolverJSON returns the canonical JSON of the solver recipe.
func (r *StudyRecipe) SolverJSON() (json.RawMessage, error) {
	return json.Marshal(r.Solver)
}

// ProblemJSON returns the canonical JSON of the problem recipe.
func (r *StudyRecipe) ProblemJSON() (json.RawMessage, error) {
	return json.Marshal(r.Problem)
}

// StudiesRecipe is the cross product of solvers and problems, repeated with
// distinct seeds. It expands into the individual studies to run.
type StudiesRecipe struct {
	Solvers  []SolverRecipe  `json:"solvers"`
	Problems []ProblemRecipe `json:"problems"`

	// Budget applies to every expanded study.
	Budget uint64 `json:"budget,omitempty"`

	// Repeats is the number of seeds per solver/problem pair. Zero means
	// one.
	Repeats int `json:"repeats,omitempty"`

	// Seed is the base seed; repeat i of pair j runs with Seed+i. Nil
	// leaves the studies unseeded.
	Seed *uint64 `json:"random_seed,omitempty"`
}

// Studies expands the recipe into concrete studies.
func (r *StudiesRecipe) Studies() []StudyRecipe {
	repeats := r.Repeats
	if repeats <= 0 {
		repeats = 1
	}

	var studies []StudyRecipe
	for _, solver := range r.Solvers {
		for _, problem := range r.Problems {
			for i := 0; i < repeats; i++ {
				s := StudyRecipe{
					Solver:  solver,
					Problem: problem,
					Budget:  r.Budget,
				}
				if r.Seed != nil {
					seed := *r.Seed + uint64(i)
					s.Seed = &seed
				}
				studies = append(studies, s)
			}
		}
	}
	return studies
}
