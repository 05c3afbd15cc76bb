package kurobako

import (
	"github.com/HideakiImamura/kurobako/rng"
)

// SolverSpec describes a solver: its name, free-form attributes, and the
// capabilities it can service.
type SolverSpec struct {
	Name         string            `json:"name"`
	Attrs        map[string]string `json:"attrs"`
	Capabilities Capabilities      `json:"capabilities"`
}

// NewSolverSpec returns a spec with the given name, no attributes, and every
// capability.
func NewSolverSpec(name string) SolverSpec {
	return SolverSpec{
		Name:         name,
		Attrs:        map[string]string{},
		Capabilities: AllCapabilities,
	}
}

// Solver proposes trials and integrates their outcomes.
//
// Ask must return a trial whose params satisfy the problem's domain and whose
// active conditional subset is consistent. The solver may mint a fresh ID via
// idg or reuse an ID from an earlier Ask to request further fidelity on an
// already-started trial.
//
// Implementations backed by external processes should also implement
// io.Closer for teardown.
type Solver interface {
	Ask(r *rng.Rng, idg *TrialIDGenerator) (NextTrial, error)
	Tell(trial EvaluatedTrial) error
}

// SolverFactory builds solver instances for studies.
type SolverFactory interface {
	// Specification returns the solver's spec. The result is cacheable.
	Specification() (*SolverSpec, error)

	// CreateSolver builds a solver for the given problem, seeded from r.
	// Construction fails with CapabilityMismatch when the factory cannot
	// service the problem's requirements.
	CreateSolver(r *rng.Rng, problem *ProblemSpec) (Solver, error)
}
