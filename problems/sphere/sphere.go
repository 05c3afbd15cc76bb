// Package sphere provides the sphere benchmark function: the sum of squared
// coordinates over a continuous box. It is the simplest built-in problem and
// the usual smoke test for a new solver.
package sphere

import (
	"fmt"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/rng"
)

// Recipe configures a sphere problem.
type Recipe struct {
	// Dims is the number of input dimensions. Defaults to 2.
	Dims int `json:"dims,omitempty"`
}

// CreateFactory builds the problem factory.
func (r *Recipe) CreateFactory() (*Factory, error) {
	dims := r.Dims
	if dims == 0 {
		dims = 2
	}
	if dims < 0 {
		return nil, kurobako.NewErrorf(kurobako.InvalidInput, "sphere: dims must be positive, got %d", dims)
	}

	builder := kurobako.NewProblemSpecBuilder("sphere").
		Attr("github", "https://github.com/HideakiImamura/kurobako").
		Value(kurobako.Var("Sphere").Continuous(0, 1e100))
	for i := 0; i < dims; i++ {
		builder.Param(kurobako.Var(fmt.Sprintf("x%d", i)).Continuous(-5.12, 5.12))
	}
	spec, err := builder.Finish()
	if err != nil {
		return nil, err
	}
	return &Factory{spec: spec}, nil
}

// Factory builds sphere problem instances.
type Factory struct {
	spec *kurobako.ProblemSpec
}

var _ kurobako.ProblemFactory = (*Factory)(nil)

// Specification returns the problem spec.
func (f *Factory) Specification() (*kurobako.ProblemSpec, error) {
	spec := *f.spec
	return &spec, nil
}

// CreateProblem builds a problem instance. The sphere function is
// deterministic, so the seed is unused.
func (f *Factory) CreateProblem(_ *rng.Rng) (kurobako.Problem, error) {
	return &problem{}, nil
}

type problem struct{}

func (p *problem) CreateEvaluator(params kurobako.Params) (kurobako.Evaluator, error) {
	for i := range params {
		if _, ok := params.Get(i); !ok {
			return nil, kurobako.NewErrorf(kurobako.InvalidInput, "sphere: parameter %d is missing", i)
		}
	}
	return &evaluator{params: params}, nil
}

type evaluator struct {
	params kurobako.Params
}

// Evaluate computes the objective. The function is analytic, so the
// evaluation completes at step 1 regardless of the requested fidelity.
func (e *evaluator) Evaluate(_ uint64) (uint64, kurobako.Values, error) {
	var sum float64
	for _, x := range e.params {
		sum += x * x
	}
	return 1, kurobako.Values{sum}, nil
}
