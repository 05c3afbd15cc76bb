// Package runner drives a study to completion: it verifies solver/problem
// compatibility, runs the budgeted ask/tell loop, accounts fidelity steps,
// and assembles the study trace.
package runner

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/filters"
	"github.com/HideakiImamura/kurobako/logger"
	"github.com/HideakiImamura/kurobako/record"
	"github.com/HideakiImamura/kurobako/rng"
)

// defaultRetryCap bounds consecutive unevaluable rounds before the study is
// considered stuck.
const defaultRetryCap = 16

// Options configure a study.
type Options struct {
	// Budget is the number of complete evaluations the study may spend,
	// charged in fidelity steps: the step budget is
	// Budget * problem.EvaluationSteps. Required.
	Budget uint64

	// Concurrency is recorded in the trace for reproducibility. The core
	// runner drives trials sequentially; parallelism shards over studies,
	// never over the trial sequence of one study.
	Concurrency int

	// Seed threads the study: one seeded generator is shared by the solver
	// and problem sides, and external peers receive seeds derived from it.
	Seed uint64

	// Filters rewrite trials and observations between solver and problem,
	// in order.
	Filters []filters.Filter

	// SolverRecipe and ProblemRecipe are echoed into the study record.
	SolverRecipe  json.RawMessage
	ProblemRecipe json.RawMessage

	// RetryCap bounds consecutive unevaluable rounds. Zero means the
	// default.
	RetryCap int

	// TracerProvider emits ask/evaluate/tell spans. Nil means the global
	// provider.
	TracerProvider oteltrace.TracerProvider

	// Logger receives progress output. Nil means discard.
	Logger logger.Logger
}

// StudyRunner runs one study.
type StudyRunner struct {
	solverFactory  kurobako.SolverFactory
	problemFactory kurobako.ProblemFactory
	opts           Options
	tracer         oteltrace.Tracer
	log            logger.Logger
}

// NewStudyRunner validates opts and builds a runner.
func NewStudyRunner(solverFactory kurobako.SolverFactory, problemFactory kurobako.ProblemFactory, opts Options) (*StudyRunner, error) {
	if opts.Budget == 0 {
		return nil, kurobako.NewError(kurobako.InvalidInput, "study budget must be positive")
	}
	if opts.Concurrency < 0 {
		return nil, kurobako.NewError(kurobako.InvalidInput, "study concurrency must be positive")
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 1
	}
	if opts.RetryCap == 0 {
		opts.RetryCap = defaultRetryCap
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	return &StudyRunner{
		solverFactory:  solverFactory,
		problemFactory: problemFactory,
		opts:           opts,
		tracer:         tp.Tracer("kurobako.runner"),
		log:            log,
	}, nil
}

// trialState is the runner's bookkeeping for one in-flight trial. A nil
// evaluator marks a trial already evaluated to completion.
type trialState struct {
	evaluator kurobako.Evaluator
	lastStep  uint64
}

// Run drives the study until its budget is exhausted and returns the trace.
func (r *StudyRunner) Run(ctx context.Context) (*record.StudyRecord, error) {
	solverSpec, err := r.solverFactory.Specification()
	if err != nil {
		return nil, kurobako.Wrap(err, "solver specification")
	}
	problemSpec, err := r.problemFactory.Specification()
	if err != nil {
		return nil, kurobako.Wrap(err, "problem specification")
	}

	if requirements := problemSpec.Requirements(); !solverSpec.Capabilities.Contains(requirements) {
		return nil, kurobako.NewErrorf(kurobako.CapabilityMismatch,
			"solver %q cannot service problem %q: have %s, need %s",
			solverSpec.Name, problemSpec.Name, solverSpec.Capabilities, requirements)
	}

	shared := rng.New(r.opts.Seed)
	solver, err := r.solverFactory.CreateSolver(shared, problemSpec)
	if err != nil {
		return nil, kurobako.Wrap(err, "create solver")
	}
	problem, err := r.problemFactory.CreateProblem(shared)
	if err != nil {
		closeQuietly(solver)
		return nil, kurobako.Wrap(err, "create problem")
	}

	study := &record.StudyRecord{
		ID:      uuid.NewString(),
		Solver:  record.SolverEntry{Recipe: r.opts.SolverRecipe, Spec: *solverSpec},
		Problem: record.ProblemEntry{Recipe: r.opts.ProblemRecipe, Spec: *problemSpec},
		Runner: record.RunnerOptions{
			Budget:      r.opts.Budget,
			Concurrency: r.opts.Concurrency,
			RandomSeed:  r.opts.Seed,
		},
		StartTime: time.Now().UTC(),
	}

	ctx, studySpan := r.tracer.Start(ctx, "study",
		oteltrace.WithAttributes(
			attribute.String("kurobako.solver", solverSpec.Name),
			attribute.String("kurobako.problem", problemSpec.Name),
			attribute.String("kurobako.study_id", study.ID),
		))
	defer studySpan.End()

	trials := map[uint64]*trialState{}
	idg := &kurobako.TrialIDGenerator{}
	runErr := r.loop(ctx, shared, solver, problem, problemSpec, idg, trials, study)

	// Teardown, best effort: evaluators first, then solver and problem.
	for _, state := range trials {
		closeQuietly(state.evaluator)
	}
	closeQuietly(solver)
	closeQuietly(problem)

	study.EndTime = time.Now().UTC()
	if runErr != nil {
		studySpan.SetStatus(codes.Error, runErr.Error())
		return study, runErr
	}
	r.log.Info("study finished",
		"study", study.ID, "trials", len(study.Trials), "unevaluable", study.UnevaluableTrials)
	return study, nil
}

func (r *StudyRunner) loop(
	ctx context.Context,
	shared *rng.Rng,
	solver kurobako.Solver,
	problem kurobako.Problem,
	problemSpec *kurobako.ProblemSpec,
	idg *kurobako.TrialIDGenerator,
	trials map[uint64]*trialState,
	study *record.StudyRecord,
) error {
	budget := r.opts.Budget * problemSpec.EvaluationSteps
	consumed := uint64(0)
	consecutiveUnevaluable := 0

	for consumed < budget {
		if err := ctx.Err(); err != nil {
			return kurobako.WrapError(kurobako.Other, err, "study canceled")
		}

		round, err := r.runRound(ctx, shared, solver, problem, problemSpec, idg, trials, study)
		if err != nil {
			if kurobako.KindOf(err) == kurobako.Unevaluable {
				// The solver has nothing left to propose.
				r.log.Info("solver exhausted, ending study", "study", study.ID)
				return nil
			}
			return err
		}

		if round.unevaluable {
			study.UnevaluableTrials++
			consecutiveUnevaluable++
			if consecutiveUnevaluable > r.opts.RetryCap {
				return kurobako.NewErrorf(kurobako.Unevaluable,
					"%d consecutive unevaluable trials, giving up", consecutiveUnevaluable)
			}
			continue
		}
		consecutiveUnevaluable = 0
		consumed += round.delta
	}

	return nil
}

// roundResult summarizes one ask/evaluate/tell round.
type roundResult struct {
	delta       uint64
	unevaluable bool
}

func (r *StudyRunner) runRound(
	ctx context.Context,
	shared *rng.Rng,
	solver kurobako.Solver,
	problem kurobako.Problem,
	problemSpec *kurobako.ProblemSpec,
	idg *kurobako.TrialIDGenerator,
	trials map[uint64]*trialState,
	study *record.StudyRecord,
) (roundResult, error) {
	ctx, span := r.tracer.Start(ctx, "trial")
	defer span.End()

	// Ask.
	askStart := time.Now()
	trial, err := r.ask(ctx, shared, solver, idg)
	if err != nil {
		recordSpanError(span, err)
		return roundResult{}, err
	}
	askElapsed := time.Since(askStart)
	span.SetAttributes(attribute.Int64("kurobako.trial_id", int64(trial.ID)))
	setJSONAttr(span, "kurobako.params", trial.Params)

	// Bind or fetch the trial's evaluator. A failed bind (e.g. an
	// infeasible conditional branch) makes the trial unevaluable, not the
	// study.
	state, ok := trials[trial.ID]
	if !ok {
		evaluator, err := r.createEvaluator(ctx, problem, trial.Params)
		if err != nil {
			if isTrialError(err) {
				r.log.Debug("unevaluable params", "trial", trial.ID, "err", err)
				return r.finishUnevaluable(ctx, shared, solver, trial.ID, 0, trial.Params, askElapsed, study, span)
			}
			recordSpanError(span, err)
			return roundResult{}, err
		}
		state = &trialState{evaluator: evaluator}
		trials[trial.ID] = state
	}
	if state.evaluator == nil {
		// The trial already ran to completion; a re-ask cannot progress.
		r.log.Debug("trial re-asked after completion", "trial", trial.ID)
		return r.finishUnevaluable(ctx, shared, solver, trial.ID, state.lastStep, trial.Params, askElapsed, study, span)
	}

	// Evaluate up to the requested fidelity; nil means run to completion.
	target := trial.TargetStep(problemSpec.EvaluationSteps)
	if target > problemSpec.EvaluationSteps {
		target = problemSpec.EvaluationSteps
	}
	evalStart := time.Now()
	currentStep, values, err := r.evaluate(ctx, state.evaluator, target)
	evalElapsed := time.Since(evalStart)
	if err != nil {
		if isTrialError(err) {
			r.log.Debug("unevaluable trial", "trial", trial.ID, "err", err)
			res, ferr := r.finishUnevaluable(ctx, shared, solver, trial.ID, state.lastStep, trial.Params, askElapsed, study, span)
			r.dropTrial(trials, trial.ID)
			return res, ferr
		}
		recordSpanError(span, err)
		return roundResult{}, err
	}

	if currentStep < state.lastStep {
		return roundResult{}, kurobako.NewErrorf(kurobako.Bug,
			"trial %d stepped backwards: %d -> %d", trial.ID, state.lastStep, currentStep)
	}
	if currentStep > problemSpec.EvaluationSteps {
		return roundResult{}, kurobako.NewErrorf(kurobako.ProtocolViolation,
			"trial %d reached step %d beyond the evaluation steps %d",
			trial.ID, currentStep, problemSpec.EvaluationSteps)
	}
	if currentStep == state.lastStep {
		// No progress: the evaluator is stuck, abandon the trial.
		r.log.Debug("trial made no progress", "trial", trial.ID, "step", currentStep)
		res, ferr := r.finishUnevaluable(ctx, shared, solver, trial.ID, state.lastStep, trial.Params, askElapsed, study, span)
		r.dropTrial(trials, trial.ID)
		return res, ferr
	}

	delta := currentStep - state.lastStep
	state.lastStep = currentStep

	// Tell.
	evaluated := kurobako.EvaluatedTrial{ID: trial.ID, Values: values, CurrentStep: currentStep}
	tellStart := time.Now()
	evaluated, err = r.tell(ctx, shared, solver, evaluated)
	tellElapsed := time.Since(tellStart)
	if err != nil {
		recordSpanError(span, err)
		return roundResult{}, err
	}
	setJSONAttr(span, "kurobako.values", values)
	span.SetAttributes(attribute.Int64("kurobako.current_step", int64(currentStep)))

	r.recordStep(study, trial.ID, trial.Params, record.StepRecord{
		CurrentStep: currentStep,
		Values:      values,
		AskElapsed:  askElapsed.Seconds(),
		EvalElapsed: evalElapsed.Seconds(),
		TellElapsed: tellElapsed.Seconds(),
	})

	// A trial evaluated to completion will not be asked again; release its
	// evaluator eagerly but remember the final step.
	if currentStep >= problemSpec.EvaluationSteps {
		closeQuietly(state.evaluator)
		state.evaluator = nil
	}

	return roundResult{delta: delta}, nil
}

// ask runs the solver ask and the filter chain's ask hooks.
func (r *StudyRunner) ask(ctx context.Context, shared *rng.Rng, solver kurobako.Solver, idg *kurobako.TrialIDGenerator) (kurobako.NextTrial, error) {
	_, span := r.tracer.Start(ctx, "ask")
	defer span.End()

	trial, err := solver.Ask(shared, idg)
	if err != nil {
		recordSpanError(span, err)
		return kurobako.NextTrial{}, err
	}
	for _, f := range r.opts.Filters {
		trial, err = f.FilterAsk(shared, trial)
		if err != nil {
			recordSpanError(span, err)
			return kurobako.NextTrial{}, kurobako.Wrapf(err, "filter %q", f.Specification().Name)
		}
	}
	return trial, nil
}

func (r *StudyRunner) createEvaluator(ctx context.Context, problem kurobako.Problem, params kurobako.Params) (kurobako.Evaluator, error) {
	_, span := r.tracer.Start(ctx, "create_evaluator")
	defer span.End()

	evaluator, err := problem.CreateEvaluator(params)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return evaluator, nil
}

func (r *StudyRunner) evaluate(ctx context.Context, evaluator kurobako.Evaluator, target uint64) (uint64, kurobako.Values, error) {
	_, span := r.tracer.Start(ctx, "evaluate",
		oteltrace.WithAttributes(attribute.Int64("kurobako.next_step", int64(target))))
	defer span.End()

	currentStep, values, err := evaluator.Evaluate(target)
	if err != nil {
		recordSpanError(span, err)
		return 0, nil, err
	}
	return currentStep, values, nil
}

// tell runs the filter chain's tell hooks and the solver tell.
func (r *StudyRunner) tell(ctx context.Context, shared *rng.Rng, solver kurobako.Solver, evaluated kurobako.EvaluatedTrial) (kurobako.EvaluatedTrial, error) {
	_, span := r.tracer.Start(ctx, "tell")
	defer span.End()

	var err error
	for _, f := range r.opts.Filters {
		evaluated, err = f.FilterTell(shared, evaluated)
		if err != nil {
			recordSpanError(span, err)
			return evaluated, kurobako.Wrapf(err, "filter %q", f.Specification().Name)
		}
	}
	if err := solver.Tell(evaluated); err != nil {
		recordSpanError(span, err)
		return evaluated, err
	}
	return evaluated, nil
}

// finishUnevaluable reports an unevaluable round to the solver and the
// trace. The budget is not charged.
func (r *StudyRunner) finishUnevaluable(
	ctx context.Context,
	shared *rng.Rng,
	solver kurobako.Solver,
	trialID uint64,
	lastStep uint64,
	params kurobako.Params,
	askElapsed time.Duration,
	study *record.StudyRecord,
	span oteltrace.Span,
) (roundResult, error) {
	evaluated := kurobako.EvaluatedTrial{ID: trialID, Values: nil, CurrentStep: lastStep}
	tellStart := time.Now()
	if _, err := r.tell(ctx, shared, solver, evaluated); err != nil {
		recordSpanError(span, err)
		return roundResult{}, err
	}
	tellElapsed := time.Since(tellStart)

	span.SetStatus(codes.Error, "unevaluable trial")
	r.recordStep(study, trialID, params, record.StepRecord{
		CurrentStep: lastStep,
		Values:      nil,
		AskElapsed:  askElapsed.Seconds(),
		TellElapsed: tellElapsed.Seconds(),
	})
	return roundResult{unevaluable: true}, nil
}

// dropTrial releases a trial's evaluator and forgets its state.
func (r *StudyRunner) dropTrial(trials map[uint64]*trialState, trialID uint64) {
	if state, ok := trials[trialID]; ok {
		closeQuietly(state.evaluator)
		delete(trials, trialID)
	}
}

// recordStep appends a step to the trial's record, creating the record on
// first sight of the trial ID.
func (r *StudyRunner) recordStep(study *record.StudyRecord, trialID uint64, params kurobako.Params, step record.StepRecord) {
	idx := -1
	for i := range study.Trials {
		if study.Trials[i].TrialID == trialID {
			idx = i
			break
		}
	}
	if idx < 0 {
		study.Trials = append(study.Trials, record.TrialRecord{TrialID: trialID, Params: params})
		idx = len(study.Trials) - 1
	}
	study.Trials[idx].Steps = append(study.Trials[idx].Steps, step)
}

// isTrialError reports whether err dooms only the trial, not the study.
func isTrialError(err error) bool {
	switch kurobako.KindOf(err) {
	case kurobako.Unevaluable, kurobako.InvalidInput:
		return true
	default:
		return false
	}
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		c.Close()
	}
}

func setJSONAttr(span oteltrace.Span, key string, value any) {
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	span.SetAttributes(attribute.String(key, string(b)))
}

func recordSpanError(span oteltrace.Span, err error) {
	span.AddEvent("exception", oteltrace.WithAttributes(
		attribute.String("exception.type", kurobako.KindOf(err).String()),
		attribute.String("exception.message", err.Error()),
	))
	span.SetStatus(codes.Error, err.Error())
}
